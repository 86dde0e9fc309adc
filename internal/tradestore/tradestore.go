package tradestore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"dydx-breakout-bot-go/internal/models"
)

// Store is an append-only log of closed trades persisted as newline-delimited
// JSON. Each append is flushed to disk before returning; after every append
// the latest metrics snapshot is rewritten to the performance file.
// Readers tolerate a truncated last record, which is dropped silently.
type Store struct {
	mu              sync.Mutex
	tradesPath      string
	performancePath string
	file            *os.File
	trades          []models.Trade
}

// Open loads all existing trade records and opens the log for appending.
func Open(tradesPath, performancePath string) (*Store, error) {
	s := &Store{
		tradesPath:      tradesPath,
		performancePath: performancePath,
	}

	trades, err := readAll(tradesPath)
	if err != nil {
		return nil, err
	}
	s.trades = trades

	file, err := os.OpenFile(tradesPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade log: %w", err)
	}
	s.file = file
	return s, nil
}

// readAll parses the jsonl file. Unparseable lines (a truncated tail from a
// crash mid-write) are skipped.
func readAll(path string) ([]models.Trade, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read trade log: %w", err)
	}
	defer file.Close()

	var trades []models.Trade
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t models.Trade
		if err := json.Unmarshal(line, &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trade log: %w", err)
	}
	return trades, nil
}

// Append writes one trade record followed by a flush, then rewrites the
// performance snapshot. The in-memory series is updated even when the disk
// write fails, so metrics stay correct for the running process.
func (s *Store) Append(trade models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, trade)

	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append trade: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to flush trade log: %w", err)
	}

	return s.writePerformanceLocked()
}

// writePerformanceLocked overwrites the performance file with current metrics.
func (s *Store) writePerformanceLocked() error {
	metrics := computeMetrics(s.trades)
	if math.IsInf(metrics.ProfitFactor, 1) {
		// JSON cannot represent +Inf
		metrics.ProfitFactor = math.MaxFloat64
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.performancePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write performance snapshot: %w", err)
	}
	return nil
}

// LoadAll returns a copy of all recorded trades in append order.
func (s *Store) LoadAll() []models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Metrics computes the aggregate performance of the recorded trades.
func (s *Store) Metrics() models.PerformanceMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return computeMetrics(s.trades)
}

// Close flushes and closes the underlying log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

func computeMetrics(trades []models.Trade) models.PerformanceMetrics {
	m := models.PerformanceMetrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var wins, losses int
	var grossProfit, grossLoss float64
	for _, t := range trades {
		m.TotalPnl += t.PnlUSD
		if t.PnlUSD > 0 {
			wins++
			grossProfit += t.PnlUSD
		} else {
			losses++
			grossLoss += t.PnlUSD
		}
	}

	m.WinRate = float64(wins) / float64(len(trades)) * 100
	if wins > 0 {
		m.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = grossLoss / float64(losses)
	}

	switch {
	case grossLoss == 0 && grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	case grossLoss == 0:
		m.ProfitFactor = 0
	default:
		m.ProfitFactor = grossProfit / math.Abs(grossLoss)
	}

	m.MaxDrawdown = maxDrawdown(trades)
	return m
}

// maxDrawdown is the maximum peak-to-trough decline of the cumulative PnL
// series, in USD.
func maxDrawdown(trades []models.Trade) float64 {
	var cum, peak, maxDD float64
	for _, t := range trades {
		cum += t.PnlUSD
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
