package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"dydx-breakout-bot-go/internal/bot"
	"dydx-breakout-bot-go/internal/config"
	"dydx-breakout-bot-go/internal/logger"
	"dydx-breakout-bot-go/internal/marketdata"
	"dydx-breakout-bot-go/internal/models"
	"dydx-breakout-bot-go/internal/order"
	"dydx-breakout-bot-go/internal/persistence"
	"dydx-breakout-bot-go/internal/position"
	"dydx-breakout-bot-go/internal/reporter"
	"dydx-breakout-bot-go/internal/risk"
	"dydx-breakout-bot-go/internal/strategy"
	"dydx-breakout-bot-go/internal/tradestore"
	"dydx-breakout-bot-go/internal/venue"

	"github.com/AlecAivazis/survey/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// 进程退出码约定
const (
	exitOK            = 0 // 正常停机
	exitConfigError   = 1 // 配置错误
	exitConnectivity  = 2 // 交易所连接初始化失败
	exitCircuitBroken = 3 // 启动时熔断器已触发
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "dydx-breakout-bot",
		Short: "dYdX v4 阻力位突破交易机器人",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "配置文件路径")
	rootCmd.AddCommand(newStartCmd(), newStatusCmd(), newSetupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitConfigError)
	}
}

// loadConfig 加载.env与JSON配置，并用默认日志配置提前初始化logger
func loadConfig() *models.Config {
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.S().Errorf("无法加载配置文件: %v", err)
		os.Exit(exitConfigError)
	}
	return cfg
}

// credentialsFromEnv 从环境变量读取dYdX凭证
func credentialsFromEnv() venue.Credentials {
	sub, _ := strconv.Atoi(os.Getenv("DYDX_SUBACCOUNT"))
	return venue.Credentials{
		Address:    os.Getenv("DYDX_ADDRESS"),
		Subaccount: sub,
		APIKey:     os.Getenv("DYDX_API_KEY"),
		APISecret:  os.Getenv("DYDX_API_SECRET"),
	}
}

// buildVenue 根据配置构造实盘或模拟交易所客户端
func buildVenue(cfg *models.Config) venue.Client {
	indexer := venue.NewIndexer(cfg.IndexerRESTURL, cfg.IndexerWSURL, credentialsFromEnv(), logger.S())
	if cfg.SimulationMode {
		logger.S().Info("模拟模式：订单不会被发送到交易所。")
		return venue.NewSim(indexer, cfg.InitialEquityUSD, cfg.MaxLeverage)
	}
	return indexer
}

func newStartCmd() *cobra.Command {
	var (
		instrument     string
		timeframe      string
		volumeFactor   float64
		resistance     int
		riskReward     float64
		positionSize   float64
		simulation     bool
		live           bool
		updateInterval int
		keepPosition   bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "启动交易机器人",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()

			// 命令行参数覆盖配置文件
			if cmd.Flags().Changed("instrument") {
				cfg.Instrument = instrument
			}
			if cmd.Flags().Changed("timeframe") {
				cfg.Timeframe = models.Timeframe(timeframe)
			}
			if cmd.Flags().Changed("volume-factor") {
				cfg.VolumeFactor = volumeFactor
			}
			if cmd.Flags().Changed("resistance-periods") {
				cfg.ResistancePeriods = resistance
			}
			if cmd.Flags().Changed("risk-reward") {
				cfg.RiskRewardRatio = riskReward
			}
			if cmd.Flags().Changed("position-size") {
				cfg.PositionSizeUSD = positionSize
			}
			if cmd.Flags().Changed("update-interval") {
				cfg.UpdateIntervalS = updateInterval
			}
			if simulation {
				cfg.SimulationMode = true
			}
			if live {
				cfg.SimulationMode = false
			}
			if keepPosition {
				cfg.KeepPositionOnExit = true
			}

			if err := cfg.Validate(); err != nil {
				logger.S().Errorf("配置校验失败: %v", err)
				os.Exit(exitConfigError)
			}

			// 使用文件中的配置重新初始化日志
			logger.InitLogger(cfg.LogConfig)

			code := runBot(cfg)
			logger.S().Sync() // os.Exit不执行defer，先刷新日志
			os.Exit(code)
		},
	}

	cmd.Flags().StringVar(&instrument, "instrument", "ETH-USD", "交易市场")
	cmd.Flags().StringVar(&timeframe, "timeframe", "5m", "K线粒度 (1m,5m,15m,30m,1h,4h,1d)")
	cmd.Flags().Float64Var(&volumeFactor, "volume-factor", 2.0, "突破确认的成交量倍数")
	cmd.Flags().IntVar(&resistance, "resistance-periods", 24, "阻力位回看K线数")
	cmd.Flags().Float64Var(&riskReward, "risk-reward", 3.0, "盈亏比")
	cmd.Flags().Float64Var(&positionSize, "position-size", 100, "每笔名义仓位 (USD)")
	cmd.Flags().BoolVar(&simulation, "simulation", false, "强制模拟模式")
	cmd.Flags().BoolVar(&live, "live", false, "强制实盘模式")
	cmd.Flags().IntVar(&updateInterval, "update-interval", 30, "控制循环周期（秒）")
	cmd.Flags().BoolVar(&keepPosition, "keep-position", false, "停机时保留仓位而不是平仓")
	cmd.MarkFlagsMutuallyExclusive("simulation", "live")
	return cmd
}

// runBot 组装所有组件并运行直到收到停机信号
func runBot(cfg *models.Config) int {
	client := buildVenue(cfg)
	clock := venue.RealClock{}

	trades, err := tradestore.Open(cfg.TradesPath, cfg.PerformancePath)
	if err != nil {
		logger.S().Errorf("打开交易日志失败: %v", err)
		return exitConfigError
	}
	defer trades.Close()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Errorf("打开状态数据库失败: %v", err)
		return exitConfigError
	}
	defer repo.Close()

	market := marketdata.New(cfg, client, clock, logger.S())
	strat := strategy.NewBreakout(cfg, logger.S())
	riskMgr := risk.NewManager(cfg, client, clock, logger.S())
	positions := position.NewManager()
	orders := order.NewManager(cfg, client, clock, riskMgr, positions, trades, logger.S())

	b := bot.New(cfg, client, clock, market, strat, riskMgr, positions, orders, trades, repo, logger.S())
	if err := b.Start(); err != nil {
		logger.S().Errorf("机器人启动失败: %v", err)
		if err == bot.ErrCircuitBrokenAtStart {
			return exitCircuitBroken
		}
		return exitConnectivity
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	b.Stop()
	reporter.PrintPerformance(trades.Metrics())
	logger.S().Info("机器人已成功停止。")
	return exitOK
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "打印账户快照与当前持仓",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			client := buildVenue(cfg)
			clock := venue.RealClock{}

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.QueryTimeoutS)*time.Second)
			defer cancel()

			account, err := client.GetAccount(ctx)
			if err != nil {
				logger.S().Errorf("获取账户信息失败: %v", err)
				os.Exit(exitConnectivity)
			}

			var pos *models.Position
			if repo, err := persistence.NewBadgerRepository(cfg.DBPath); err == nil {
				if state, err := repo.LoadState(); err == nil && state != nil {
					pos = state.OpenPosition
				}
				repo.Close()
			}

			riskMgr := risk.NewManager(cfg, client, clock, logger.S())
			if trades, err := tradestore.Open(cfg.TradesPath, cfg.PerformancePath); err == nil {
				riskMgr.Rehydrate(trades.LoadAll())
				trades.Close()
			}

			reporter.PrintStatus(account, pos, riskMgr.GetSummary())
		},
	}
}

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "交互式录入dYdX凭证并写入 .env 文件",
		Run: func(cmd *cobra.Command, args []string) {
			answers := struct {
				Address    string
				Subaccount int
				APIKey     string
				APISecret  string
			}{}

			questions := []*survey.Question{
				{
					Name:     "address",
					Prompt:   &survey.Input{Message: "dYdX链上地址:"},
					Validate: survey.Required,
				},
				{
					Name:   "subaccount",
					Prompt: &survey.Input{Message: "子账户编号:", Default: "0"},
				},
				{
					Name:     "apikey",
					Prompt:   &survey.Password{Message: "API Key:"},
					Validate: survey.Required,
				},
				{
					Name:     "apisecret",
					Prompt:   &survey.Password{Message: "API Secret:"},
					Validate: survey.Required,
				},
			}
			if err := survey.Ask(questions, &answers); err != nil {
				logger.S().Errorf("凭证录入中断: %v", err)
				os.Exit(exitConfigError)
			}

			content := fmt.Sprintf("DYDX_ADDRESS=%s\nDYDX_SUBACCOUNT=%d\nDYDX_API_KEY=%s\nDYDX_API_SECRET=%s\n",
				answers.Address, answers.Subaccount, answers.APIKey, answers.APISecret)
			if err := os.WriteFile(".env", []byte(content), 0600); err != nil {
				logger.S().Errorf("写入 .env 失败: %v", err)
				os.Exit(exitConfigError)
			}
			fmt.Println("凭证已保存到 .env")
		},
	}
}
