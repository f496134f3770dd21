// Package auditlog 提供按参与者归档的只追加事件日志。
package auditlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradefloor/internal/store"
)

// 常用事件类别。
const (
	TypeDecision  = "decision"
	TypeFeedback  = "feedback"
	TypeExecution = "execution"
	TypeError     = "error"
)

// Entry 为一条日志记录，写入后不再修改或删除。
type Entry struct {
	Name      string
	Timestamp time.Time
	Type      string
	Message   string
}

// Service 负责 logs 表的读写。
type Service struct {
	store  *store.Store
	logger *zap.Logger
}

// NewService 创建审计日志服务。
func NewService(st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("auditlog: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:  st,
		logger: logger,
	}, nil
}

// Append 追加一条日志。name 统一转为小写以便与账户名对齐。
func (s *Service) Append(ctx context.Context, name, entryType, message string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errors.New("auditlog: name 不能为空")
	}
	if entryType == "" {
		return errors.New("auditlog: type 不能为空")
	}

	return store.Retry(ctx, s.logger, "auditlog_append", func() error {
		_, err := s.store.DB().ExecContext(ctx,
			`INSERT INTO logs (name, timestamp, type, message) VALUES (?, ?, ?, ?)`,
			name, time.Now().UTC().Format(time.RFC3339Nano), entryType, message,
		)
		if err != nil {
			return fmt.Errorf("auditlog: 写入日志失败: %w", err)
		}
		return nil
	})
}

// Recent 返回指定名称最近 n 条日志，按时间正序排列。
func (s *Service) Recent(ctx context.Context, name string, n int) ([]Entry, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if n <= 0 {
		n = 10
	}

	var entries []Entry

	err := store.Retry(ctx, s.logger, "auditlog_recent", func() error {
		rows, err := s.store.DB().QueryContext(ctx,
			`SELECT name, timestamp, type, message FROM logs
			 WHERE name = ? ORDER BY id DESC LIMIT ?`,
			name, n,
		)
		if err != nil {
			return fmt.Errorf("auditlog: 查询日志失败: %w", err)
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			var (
				entry Entry
				ts    string
			)
			if scanErr := rows.Scan(&entry.Name, &ts, &entry.Type, &entry.Message); scanErr != nil {
				return fmt.Errorf("auditlog: 解析日志失败: %w", scanErr)
			}
			parsed, parseErr := time.Parse(time.RFC3339Nano, ts)
			if parseErr != nil {
				parsed = time.Now().UTC()
			}
			entry.Timestamp = parsed
			entries = append(entries, entry)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("auditlog: 读取日志失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 查询为倒序取最近N条，这里翻转回时间正序。
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}
