// Package ledger persists settled trades to MySQL via GORM, adapted from
// the teacher's internal/db.MySQLRecorder (which recorded CurrentAssetSnapshot
// rows) into a record-of-trades table keyed by opportunity rather than a
// periodic portfolio snapshot.
package ledger

import (
	"fmt"
	"math/big"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/basearb/engine/internal/execution"
	"github.com/basearb/engine/internal/model"
)

// TradeLedgerRecord is the database model for one settled trade.
type TradeLedgerRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	OpportunityID  string    `gorm:"type:varchar(64);index;not null"`
	StrategyKind   string    `gorm:"type:varchar(32);not null"`
	FinalState     string    `gorm:"type:varchar(32);not null"`
	BorrowAsset    string    `gorm:"type:varchar(42);not null"`
	BorrowAmount   string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	NetProfitWei   string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	GasCostWei     string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	ProfitUsd      float64   `gorm:"not null"`
	NetProfitUsd   float64   `gorm:"not null"`
	TxHash         string    `gorm:"type:varchar(66)"`
	SettledAt      time.Time `gorm:"index;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (TradeLedgerRecord) TableName() string {
	return "trade_ledger"
}

// Recorder is the C10-adjacent persistence layer: every terminal execution
// result is appended here for after-the-fact analytics and audit, separate
// from the in-memory ring the risk controller keeps for live decisions.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder opens a MySQL connection via dsn ("user:pass@tcp(host:port)/db
// ?parseTime=True") and migrates the schema.
func NewRecorder(dsn string) (*Recorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL: %w", err)
	}
	if err := db.AutoMigrate(&TradeLedgerRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// NewRecorderWithDB wraps an already-open GORM connection, migrating the
// schema on it, for callers sharing one connection pool across recorders.
func NewRecorderWithDB(db *gorm.DB) (*Recorder, error) {
	if err := db.AutoMigrate(&TradeLedgerRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// RecordTrade appends one settled opportunity's outcome to the ledger.
func (r *Recorder) RecordTrade(opp *model.ArbOpportunity, result execution.Result) error {
	record := TradeLedgerRecord{
		OpportunityID: opp.ID,
		StrategyKind:  string(opp.StrategyKind),
		FinalState:    string(result.FinalState),
		BorrowAsset:   opp.BorrowAsset.Hex(),
		BorrowAmount:  bigIntToString(opp.BorrowAmount),
		NetProfitWei:  bigIntToString(result.NetProfit),
		GasCostWei:    bigIntToString(result.GasCostWei),
		ProfitUsd:     opp.ProfitUsd,
		NetProfitUsd:  opp.NetProfitUsd,
		TxHash:        result.TxHash.Hex(),
		SettledAt:     time.Now(),
	}

	if err := r.db.Create(&record).Error; err != nil {
		return fmt.Errorf("record trade %s: %w", opp.ID, err)
	}
	return nil
}

// Recent returns the most recently settled trades, newest first.
func (r *Recorder) Recent(limit int) ([]TradeLedgerRecord, error) {
	var records []TradeLedgerRecord
	if err := r.db.Order("settled_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	return records, nil
}

// CumulativeNetProfitUsd sums NetProfitUsd across every confirmed trade.
func (r *Recorder) CumulativeNetProfitUsd() (float64, error) {
	var total float64
	err := r.db.Model(&TradeLedgerRecord{}).
		Where("final_state = ?", "CONFIRMED").
		Select("COALESCE(SUM(net_profit_usd), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum net profit: %w", err)
	}
	return total, nil
}

// Close releases the underlying connection pool.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying db: %w", err)
	}
	return sqlDB.Close()
}

func bigIntToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
