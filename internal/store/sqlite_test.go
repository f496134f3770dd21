package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tradefloor/internal/config"
)

func testConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()

	return config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "store_test.db"),
		BusyTimeout:  2 * time.Second,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}
}

func TestNewSQLite_SchemaSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)

	st, err := NewSQLite(cfg)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}

	if _, err := st.DB().Exec(
		`INSERT INTO pending_trades (trader_name, symbol, quantity, rationale, created_at)
		 VALUES ('alice', 'AAPL', 10, '', '2026-01-01T00:00:00Z')`,
	); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// 重新打开同一文件：建表幂等，数据保留。
	st, err = NewSQLite(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st.Close()

	var status string
	row := st.DB().QueryRow(`SELECT status FROM pending_trades WHERE trader_name = 'alice'`)
	if err := row.Scan(&status); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if status != "pending" {
		t.Errorf("default status: got %q, want pending", status)
	}
}

func TestNewSQLite_InMemorySharesSchemaAcrossCalls(t *testing.T) {
	// 内存库场景下，即使配置了更大的连接池，
	// 所有操作也必须落在同一个持有 schema 的连接上。
	st, err := NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		BusyTimeout:  2 * time.Second,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	})
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := st.DB().ExecContext(ctx,
			`INSERT INTO logs (name, timestamp, type, message) VALUES ('alice', '2026-01-01T00:00:00Z', 'decision', 'x')`,
		); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	var count int
	if err := st.DB().QueryRow(`SELECT COUNT(*) FROM logs`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 10 {
		t.Errorf("count: got %d, want 10", count)
	}

	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO accounts (name, balance, holdings, history) VALUES ('alice', '10000', '{}', '[]')`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	st, err := NewSQLite(testConfig(t))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer st.Close()

	boom := errors.New("boom")
	ctx := context.Background()

	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO logs (name, timestamp, type, message) VALUES ('alice', '2026-01-01T00:00:00Z', 'decision', 'x')`,
		); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int
	if err := st.DB().QueryRow(`SELECT COUNT(*) FROM logs`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("insert survived rollback: %d rows", count)
	}
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	st, err := NewSQLite(testConfig(t))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer st.Close()

	err = st.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO accounts (name, balance, holdings, history) VALUES ('alice', '10000', '{}', '[]')`,
		)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	var balance string
	if err := st.DB().QueryRow(`SELECT balance FROM accounts WHERE name = 'alice'`).Scan(&balance); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if balance != "10000" {
		t.Errorf("balance: got %q, want 10000", balance)
	}
}
