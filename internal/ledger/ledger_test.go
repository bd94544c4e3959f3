package ledger

import (
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/basearb/engine/internal/execution"
	"github.com/basearb/engine/internal/model"
)

func newMockRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &Recorder{db: gormDB}, mock
}

func TestRecordTradeInsertsOneRow(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `trade_ledger`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	opp := &model.ArbOpportunity{
		ID:           "opp-1",
		StrategyKind: model.DirectArb,
		BorrowAsset:  common.HexToAddress("0x4200000000000000000000000000000000000006"),
		BorrowAmount: big.NewInt(1_000_000_000_000_000_000),
		ProfitUsd:    12.5,
		NetProfitUsd: 11.9,
	}
	result := execution.Result{
		OpportunityID: "opp-1",
		FinalState:    execution.StateConfirmed,
		Confirmed:     true,
		TxHash:        common.HexToHash("0xdead"),
		NetProfit:     big.NewInt(1_000),
		GasCostWei:    big.NewInt(500),
	}

	err := r.RecordTrade(opp, result)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBigIntToString(t *testing.T) {
	cases := []struct {
		name     string
		input    *big.Int
		expected string
	}{
		{"nil value", nil, "0"},
		{"zero value", big.NewInt(0), "0"},
		{"positive value", big.NewInt(123456789), "123456789"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, bigIntToString(tc.input))
		})
	}
}

func TestTradeLedgerRecordTableName(t *testing.T) {
	require.Equal(t, "trade_ledger", TradeLedgerRecord{}.TableName())
}

func TestCumulativeNetProfitUsdSumsConfirmedOnly(t *testing.T) {
	r, mock := newMockRecorder(t)

	rows := sqlmock.NewRows([]string{"coalesce(sum(net_profit_usd), 0)"}).AddRow(42.5)
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(rows)

	total, err := r.CumulativeNetProfitUsd()
	require.NoError(t, err)
	require.Equal(t, 42.5, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
