package auditlog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"tradefloor/internal/config"
	"tradefloor/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "auditlog_test.db"),
		BusyTimeout:  2 * time.Second,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	})
	if err != nil {
		t.Fatalf("初始化测试存储失败: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, nil)
	if err != nil {
		t.Fatalf("初始化审计日志服务失败: %v", err)
	}

	return svc
}

func TestAppendAndRecent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		if err := svc.Append(ctx, "Alice", TypeDecision, fmt.Sprintf("entry-%d", i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := svc.Append(ctx, "bob", TypeError, "other trader"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := svc.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}

	// 取最近10条，按时间正序返回：entry-5 .. entry-14。
	for i, entry := range entries {
		want := fmt.Sprintf("entry-%d", i+5)
		if entry.Message != want {
			t.Errorf("entry %d: got %q, want %q", i, entry.Message, want)
		}
		if entry.Name != "alice" {
			t.Errorf("entry %d: name leak across traders: %q", i, entry.Name)
		}
		if entry.Type != TypeDecision {
			t.Errorf("entry %d: type mismatch: %q", i, entry.Type)
		}
	}
}

func TestAppend_RequiresNameAndType(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Append(ctx, "  ", TypeDecision, "msg"); err == nil {
		t.Error("empty name accepted")
	}
	if err := svc.Append(ctx, "alice", "", "msg"); err == nil {
		t.Error("empty type accepted")
	}
}

func TestRecent_DefaultsLimitAndhandlesEmpty(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entries, err := svc.Recent(ctx, "ghost", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}
