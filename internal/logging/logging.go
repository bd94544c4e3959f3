// Package logging sets up the three line-oriented log streams required by
// spec §6 (general, errors, trade records) as named zap cores, mirroring the
// teacher's split between log.Printf status lines and fmt.Printf
// user-facing summaries but replacing both with structured fields.
package logging

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Streams bundles the three independent loggers the engine writes to.
type Streams struct {
	General *zap.Logger
	Errors  *zap.Logger
	Trades  *zap.Logger
}

// NewStreams builds general/error/trade loggers writing to the given paths.
// An empty path falls back to stdout so the engine is usable without
// any filesystem setup.
func NewStreams(generalPath, errorPath, tradePath string) (*Streams, error) {
	general, err := buildLogger(generalPath, zapcore.InfoLevel)
	if err != nil {
		return nil, fmt.Errorf("general logger: %w", err)
	}
	errs, err := buildLogger(errorPath, zapcore.ErrorLevel)
	if err != nil {
		return nil, fmt.Errorf("error logger: %w", err)
	}
	trades, err := buildLogger(tradePath, zapcore.InfoLevel)
	if err != nil {
		return nil, fmt.Errorf("trade logger: %w", err)
	}

	return &Streams{
		General: general.Named("general"),
		Errors:  errs.Named("errors"),
		Trades:  trades.Named("trades"),
	}, nil
}

func buildLogger(path string, level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "json"
	if path == "" {
		cfg.OutputPaths = []string{"stdout"}
	} else {
		cfg.OutputPaths = []string{path}
	}
	return cfg.Build()
}

// TradeFields builds the structured fields every trade record log line must
// carry per spec §6: opportunity kind, asset pair, expected profit USD, gas
// used, net USD, and transaction identifier.
func TradeFields(strategyKind, pair string, expectedProfitUSD float64, gasUsed uint64, netUSD float64, txHash string) []zap.Field {
	return []zap.Field{
		zap.String("strategy_kind", strategyKind),
		zap.String("pair", pair),
		zap.Float64("expected_profit_usd", expectedProfitUSD),
		zap.Uint64("gas_used", gasUsed),
		zap.Float64("net_usd", netUSD),
		zap.String("tx_hash", txHash),
	}
}

// BigIntField renders a *big.Int as its base-10 string for structured logs,
// since zap has no native arbitrary-precision integer field.
func BigIntField(key string, v *big.Int) zap.Field {
	if v == nil {
		return zap.String(key, "0")
	}
	return zap.String(key, v.String())
}

// Sync flushes all three streams; call on shutdown.
func (s *Streams) Sync() {
	_ = s.General.Sync()
	_ = s.Errors.Sync()
	_ = s.Trades.Sync()
}
