// Package queue 维护待审交易队列及其状态机。
// 状态只允许 pending → approved / rejected 单向迁移，
// SetStatus 以条件更新实现 compare-and-set，防止多个 supervisor 重复结算。
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradefloor/internal/store"
)

// Status 表示待审交易的状态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var (
	// ErrInvalidArgument 表示入参不合法。
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound 表示交易记录不存在。
	ErrNotFound = errors.New("trade not found")
	// ErrInvalidTransition 表示交易已被结算，状态不可再次迁移。
	ErrInvalidTransition = errors.New("invalid status transition")
)

// PendingTrade 为一条持久化的交易提案记录，结算后仍保留作为审计痕迹。
type PendingTrade struct {
	ID                 int64
	TraderName         string
	Symbol             string
	Quantity           int64 // 正数买入，负数卖出
	Rationale          string
	CreatedAt          time.Time
	Status             Status
	SupervisorFeedback string
}

// Service 封装 pending_trades 表的全部操作。
type Service struct {
	store  *store.Store
	logger *zap.Logger
}

// NewService 创建队列服务。
func NewService(st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("queue: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:  st,
		logger: logger,
	}, nil
}

// Propose 插入一条状态为 pending 的交易提案，返回分配的 ID。
func (s *Service) Propose(ctx context.Context, traderName, symbol string, quantity int64, rationale string) (int64, error) {
	traderName = strings.ToLower(strings.TrimSpace(traderName))
	if traderName == "" {
		return 0, fmt.Errorf("%w: trader_name 不能为空", ErrInvalidArgument)
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("%w: symbol 不能为空", ErrInvalidArgument)
	}
	if quantity == 0 {
		return 0, fmt.Errorf("%w: quantity 不能为0", ErrInvalidArgument)
	}

	var id int64

	err := store.Retry(ctx, s.logger, "queue_propose", func() error {
		result, err := s.store.DB().ExecContext(ctx,
			`INSERT INTO pending_trades (trader_name, symbol, quantity, rationale, created_at, status)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			traderName, symbol, quantity, rationale, time.Now().UTC().Format(time.RFC3339), string(StatusPending),
		)
		if err != nil {
			return fmt.Errorf("queue: 写入交易提案失败: %w", err)
		}

		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("queue: 读取提案ID失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("收到交易提案",
		zap.Int64("trade_id", id),
		zap.String("trader", traderName),
		zap.String("symbol", symbol),
		zap.Int64("quantity", quantity),
	)

	return id, nil
}

// ListPending 返回全部 pending 状态的提案，按创建顺序排列。
// 读取不加锁，多个 supervisor 可能取到同一批提案，结算由 SetStatus 的 CAS 保证唯一。
func (s *Service) ListPending(ctx context.Context) ([]PendingTrade, error) {
	var trades []PendingTrade

	err := store.Retry(ctx, s.logger, "queue_list_pending", func() error {
		rows, err := s.store.DB().QueryContext(ctx,
			`SELECT id, trader_name, symbol, quantity, rationale, created_at, status, supervisor_feedback
			 FROM pending_trades WHERE status = ? ORDER BY id ASC`,
			string(StatusPending),
		)
		if err != nil {
			return fmt.Errorf("queue: 查询待审提案失败: %w", err)
		}
		defer rows.Close()

		trades = trades[:0]
		for rows.Next() {
			trade, err := scanTrade(rows.Scan)
			if err != nil {
				return err
			}
			trades = append(trades, trade)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("queue: 读取待审提案失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return trades, nil
}

// Get 按 ID 读取单条提案。
func (s *Service) Get(ctx context.Context, id int64) (PendingTrade, error) {
	var trade PendingTrade

	err := store.Retry(ctx, s.logger, "queue_get", func() error {
		row := s.store.DB().QueryRowContext(ctx,
			`SELECT id, trader_name, symbol, quantity, rationale, created_at, status, supervisor_feedback
			 FROM pending_trades WHERE id = ?`, id)

		var scanErr error
		trade, scanErr = scanTrade(row.Scan)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("%w: id=%d", ErrNotFound, id)
		}
		return scanErr
	})
	if err != nil {
		return PendingTrade{}, err
	}

	return trade, nil
}

// SetStatus 以 compare-and-set 方式把提案从 pending 迁移到终态。
// 仅当前状态仍为 pending 时生效；并发竞争下恰好一个调用方成功，
// 其余得到 ErrInvalidTransition。
func (s *Service) SetStatus(ctx context.Context, id int64, status Status, feedback string) error {
	if status != StatusApproved && status != StatusRejected {
		return fmt.Errorf("%w: status 取值非法: %s", ErrInvalidArgument, status)
	}

	return store.Retry(ctx, s.logger, "queue_set_status", func() error {
		result, err := s.store.DB().ExecContext(ctx,
			`UPDATE pending_trades SET status = ?, supervisor_feedback = ?
			 WHERE id = ? AND status = ?`,
			string(status), feedback, id, string(StatusPending),
		)
		if err != nil {
			return fmt.Errorf("queue: 更新提案状态失败: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("queue: 读取更新行数失败: %w", err)
		}
		if affected == 1 {
			s.logger.Info("提案状态已迁移",
				zap.Int64("trade_id", id),
				zap.String("status", string(status)),
			)
			return nil
		}

		// CAS 落空：区分记录不存在与已被结算。
		var current string
		row := s.store.DB().QueryRowContext(ctx, `SELECT status FROM pending_trades WHERE id = ?`, id)
		switch scanErr := row.Scan(&current); {
		case errors.Is(scanErr, sql.ErrNoRows):
			return fmt.Errorf("%w: id=%d", ErrNotFound, id)
		case scanErr != nil:
			return fmt.Errorf("queue: 查询提案状态失败: %w", scanErr)
		}

		return fmt.Errorf("%w: id=%d 当前状态 %s", ErrInvalidTransition, id, current)
	})
}

// SetFeedback 覆写已结算提案的反馈文本，不触碰状态。
// 用于审批通过后执行失败的场景：终态保持不变，但反馈要反映执行结果。
func (s *Service) SetFeedback(ctx context.Context, id int64, feedback string) error {
	return store.Retry(ctx, s.logger, "queue_set_feedback", func() error {
		result, err := s.store.DB().ExecContext(ctx,
			`UPDATE pending_trades SET supervisor_feedback = ? WHERE id = ?`,
			feedback, id,
		)
		if err != nil {
			return fmt.Errorf("queue: 更新提案反馈失败: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("queue: 读取更新行数失败: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: id=%d", ErrNotFound, id)
		}
		return nil
	})
}

func scanTrade(scan func(dest ...interface{}) error) (PendingTrade, error) {
	var (
		trade     PendingTrade
		createdAt string
		status    string
		feedback  sql.NullString
	)

	if err := scan(&trade.ID, &trade.TraderName, &trade.Symbol, &trade.Quantity,
		&trade.Rationale, &createdAt, &status, &feedback); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingTrade{}, err
		}
		return PendingTrade{}, fmt.Errorf("queue: 解析提案记录失败: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return PendingTrade{}, fmt.Errorf("queue: 解析创建时间失败: %w", err)
	}

	trade.CreatedAt = ts
	trade.Status = Status(status)
	if feedback.Valid {
		trade.SupervisorFeedback = feedback.String
	}

	return trade, nil
}
