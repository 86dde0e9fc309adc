package config

import (
	"dydx-breakout-bot-go/internal/models"
	"encoding/json"
	"os"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 文件中缺失的字段保留编译期默认值。
func LoadConfig(path string) (*models.Config, error) {
	cfg := models.DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// 允许无配置文件启动，全部使用默认值和命令行覆盖
			return cfg, nil
		}
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
