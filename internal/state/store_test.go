package state

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"swingshort/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm over sqlmock: %v", err)
	}
	return &Store{db: gormDB}, mock
}

func TestSavePositionInsertsRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `open_positions`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	s.SavePosition(models.Position{
		Symbol:     "NIFTY25000CE",
		OptionType: models.CE,
		Strike:     25000,
		EntryPrice: decimal.RequireFromString("100"),
		SLPrice:    decimal.RequireFromString("110"),
		Quantity:   75,
		EntryTime:  time.Now(),
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAppendClosedTradeInsertsRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `closed_trades`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	s.AppendClosedTrade(models.Position{
		Symbol:     "NIFTY25000CE",
		OptionType: models.CE,
		EntryPrice: decimal.RequireFromString("100"),
		SLPrice:    decimal.RequireFromString("110"),
		Quantity:   75,
		EntryTime:  time.Now(),
		ExitPrice:  decimal.RequireFromString("95"),
		ExitTime:   time.Now(),
		ExitReason: models.ExitReasonTargetR,
		RealizedR:  decimal.RequireFromString("0.5"),
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestLoadOpenPositionsMapsRows(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "symbol", "option_type", "strike", "entry_price", "sl_price", "quantity", "r_actual", "entry_time", "current_price", "unrealized_pl", "unrealized_r", "candidate_swing_low", "candidate_vwap", "updated_at"}).
		AddRow(1, "NIFTY25000CE", "CE", 25000, "100", "110", 75, "750", time.Now(), "100", "0", "0", "90", "90", time.Now())
	mock.ExpectQuery("SELECT \\* FROM `open_positions`").WillReturnRows(rows)

	positions, err := s.LoadOpenPositions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 || positions[0].Symbol != "NIFTY25000CE" {
		t.Fatalf("expected one NIFTY25000CE position, got %v", positions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTableNames(t *testing.T) {
	cases := []struct {
		table interface{ TableName() string }
		want  string
	}{
		{OpenPosition{}, "open_positions"},
		{ClosedTrade{}, "closed_trades"},
		{PendingEntryOrder{}, "pending_entry_orders"},
		{ActiveSLOrder{}, "active_sl_orders"},
		{DailyState{}, "daily_state"},
		{SwingLogEntry{}, "all_swings_log"},
		{SwingCandidate{}, "swing_candidates"},
		{LatestBar{}, "latest_bars"},
		{BestStrike{}, "best_strikes"},
		{OrderTriggerLogEntry{}, "order_trigger_log"},
		{OperationalState{}, "operational_state"},
	}
	for _, c := range cases {
		if got := c.table.TableName(); got != c.want {
			t.Errorf("TableName() = %q, want %q", got, c.want)
		}
	}
}
