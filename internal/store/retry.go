package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrContended 表示锁竞争在允许的重试窗口内仍未缓解，调用方可稍后重试。
	ErrContended = errors.New("store busy")
)

const (
	retryMaxAttempts = 5
	retryMinDelay    = 50 * time.Millisecond
	retryMaxDelay    = 1 * time.Second
)

// IsBusy 判断错误是否为 SQLite 锁竞争导致的瞬时错误。
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContended) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		}
	}

	return false
}

// Retry 对瞬时锁竞争错误做指数退避重试，非瞬时错误立即返回。
func Retry(ctx context.Context, logger *zap.Logger, operation string, fn func() error) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := retryMinDelay
	attempt := 0

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("存储调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		if !IsBusy(err) {
			return err
		}

		if attempt >= retryMaxAttempts {
			logger.Error("存储持续繁忙，放弃重试",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %s: %v", ErrContended, operation, err)
		}

		logger.Warn("存储繁忙，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
