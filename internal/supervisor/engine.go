// Package supervisor 实现结算引擎：轮询待审队列、征询审批结论，
// 并把结论原子地落入台账与队列。
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradefloor/internal/auditlog"
	"tradefloor/internal/config"
	"tradefloor/internal/ledger"
	"tradefloor/internal/market"
	"tradefloor/internal/oracle"
	"tradefloor/internal/queue"
)

// Engine 驱动 pending → approved/rejected 的结算流水线。
// 正确性核心在 settle 的先后次序：先用队列状态的 compare-and-set 占位，
// 占位成功才执行台账变更。即使进程在两步之间崩溃，重启后的轮询
// 也不会再看到该提案，台账变更至多发生一次。
type Engine struct {
	queue  *queue.Service
	ledger *ledger.Service
	audit  *auditlog.Service
	oracle oracle.Oracle
	market market.Source
	cfg    config.SupervisorConfig
	logger *zap.Logger
}

// NewEngine 创建结算引擎。
func NewEngine(q *queue.Service, l *ledger.Service, a *auditlog.Service,
	o oracle.Oracle, m market.Source, cfg config.SupervisorConfig, logger *zap.Logger) (*Engine, error) {
	if q == nil || l == nil || a == nil {
		return nil, errors.New("supervisor: queue/ledger/auditlog 不能为空")
	}
	if o == nil {
		return nil, errors.New("supervisor: oracle 不能为空")
	}
	if m == nil {
		return nil, errors.New("supervisor: market 不能为空")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		queue:  q,
		ledger: l,
		audit:  a,
		oracle: o,
		market: m,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run 持续轮询直至 ctx 取消。单个周期内的任何错误只记录不退出。
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("结算引擎已启动",
		zap.Duration("poll_interval", e.cfg.PollInterval),
		zap.Duration("poll_jitter", e.cfg.PollJitter),
	)

	for {
		processed, err := e.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.logger.Info("结算引擎收到退出信号，正在停止")
				return nil
			}
			e.logger.Error("结算周期失败", zap.Error(err))
		}

		// 本周期有提案进入终态时立即再次轮询，避免积压；
		// 空转或整批失败（例如审批来源不可用）时按带抖动的间隔休眠，
		// 既降低多实例对存储的争抢，也避免对故障依赖的紧循环重试。
		if processed > 0 && err == nil {
			continue
		}

		timer := time.NewTimer(e.sleepInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("结算引擎收到退出信号，正在停止")
			return nil
		case <-timer.C:
		}
	}
}

// Cycle 处理一批待审提案，返回进入终态的提案数量。
// 单条提案的失败被隔离：记录后继续处理同批其余提案；
// 失败的提案保持 pending，不计入返回值，留待下个轮询间隔重试。
func (e *Engine) Cycle(ctx context.Context) (int, error) {
	trades, err := e.queue.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("supervisor: 拉取待审提案失败: %w", err)
	}

	if len(trades) == 0 {
		return 0, nil
	}

	e.logger.Info("开始审查待审提案", zap.Int("count", len(trades)))

	settled := 0
	for _, trade := range trades {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}

		done, err := e.process(ctx, trade)
		if err != nil {
			e.logger.Error("处理提案失败",
				zap.Int64("trade_id", trade.ID),
				zap.String("trader", trade.TraderName),
				zap.Error(err),
			)
			if logErr := e.audit.Append(ctx, trade.TraderName, auditlog.TypeError,
				fmt.Sprintf("处理提案 %d 失败: %v", trade.ID, err)); logErr != nil {
				e.logger.Warn("写入审计日志失败", zap.Error(logErr))
			}
			continue
		}
		if done {
			settled++
		}
	}

	return settled, nil
}

// process 审查并结算单条提案，返回提案是否已离开 pending 状态。
func (e *Engine) process(ctx context.Context, trade queue.PendingTrade) (bool, error) {
	var (
		snapshot ledger.Snapshot
		price    decimal.Decimal
		priceErr error
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		var err error
		snapshot, err = e.ledger.Report(groupCtx, trade.TraderName)
		if err != nil {
			return fmt.Errorf("获取账户快照失败: %w", err)
		}
		return nil
	})

	// 价格不可得不是流程错误：按政策拒绝该提案，因此单独暂存。
	group.Go(func() error {
		var err error
		price, err = e.market.Price(groupCtx, trade.Symbol)
		if err != nil {
			if errors.Is(err, market.ErrSymbolNotFound) || errors.Is(err, market.ErrUnavailable) {
				priceErr = err
				return nil
			}
			return fmt.Errorf("获取参考价格失败: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return false, err
	}

	var decision oracle.Decision

	if priceErr != nil {
		decision = oracle.Decision{
			Verdict:  oracle.VerdictReject,
			Feedback: fmt.Sprintf("无法获取 %s 的参考价格，提案被拒绝: %v", trade.Symbol, priceErr),
		}
	} else {
		var err error
		decision, err = e.oracle.Decide(ctx, oracle.ReviewRequest{
			Trade:    trade,
			Account:  snapshot,
			Strategy: snapshot.Strategy,
			Price:    price,
		})
		if err != nil {
			// 审批来源暂时不可用，提案保持 pending 留待下个周期。
			return false, fmt.Errorf("审批决策失败: %w", err)
		}
		decision = decision.Normalize()
		if err := decision.Validate(); err != nil {
			decision = oracle.Decision{
				Verdict:  oracle.VerdictReject,
				Feedback: fmt.Sprintf("审批结论非法，按拒绝处理: %v", err),
			}
		}
	}

	if err := e.settle(ctx, trade, price, decision); err != nil {
		return false, err
	}
	return true, nil
}

// settle 应用审批结论。次序是本引擎的正确性关键：
// 先 CAS 占据队列状态，占位成功才允许台账变更，保证至多执行一次。
func (e *Engine) settle(ctx context.Context, trade queue.PendingTrade, price decimal.Decimal, decision oracle.Decision) error {
	status := queue.StatusRejected
	if decision.Verdict == oracle.VerdictApprove {
		status = queue.StatusApproved
	}

	if err := e.queue.SetStatus(ctx, trade.ID, status, decision.Feedback); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			// 另一个 supervisor 实例已抢先结算，放弃本次处理。
			e.logger.Info("提案已被其他实例结算，跳过",
				zap.Int64("trade_id", trade.ID),
			)
			return nil
		}
		return fmt.Errorf("迁移提案状态失败: %w", err)
	}

	e.appendAudit(ctx, trade.TraderName, auditlog.TypeDecision,
		fmt.Sprintf("Supervisor: %s - %s (提案 %d: %s %d)", decision.Verdict, decision.Feedback, trade.ID, trade.Symbol, trade.Quantity))

	if status != queue.StatusApproved {
		e.logger.Info("提案已拒绝",
			zap.Int64("trade_id", trade.ID),
			zap.String("trader", trade.TraderName),
		)
		return nil
	}

	// CAS 已赢，此后的结算不可中断，否则至多一次的保证会退化成零次。
	execCtx := context.WithoutCancel(ctx)

	quantity := trade.Quantity
	rationale := fmt.Sprintf("(经监督员批准) %s", trade.Rationale)

	var (
		fill ledger.FillResult
		err  error
	)
	if quantity > 0 {
		fill, err = e.ledger.Buy(execCtx, trade.TraderName, trade.Symbol, quantity, price, rationale)
	} else {
		fill, err = e.ledger.Sell(execCtx, trade.TraderName, trade.Symbol, -quantity, price, rationale)
	}

	if err != nil {
		// 审批通过但台账拒绝（资金或持仓不足）。状态保持终态 approved，
		// 用反馈与审计记录说明执行结果，提案不会滞留在 pending。
		feedback := fmt.Sprintf("已批准但执行失败: %v", err)
		if fbErr := e.queue.SetFeedback(execCtx, trade.ID, feedback); fbErr != nil {
			e.logger.Warn("更新提案反馈失败", zap.Int64("trade_id", trade.ID), zap.Error(fbErr))
		}
		e.appendAudit(execCtx, trade.TraderName, auditlog.TypeError,
			fmt.Sprintf("提案 %d 执行失败: %v", trade.ID, err))
		e.logger.Error("已批准的提案执行失败",
			zap.Int64("trade_id", trade.ID),
			zap.String("trader", trade.TraderName),
			zap.Error(err),
		)
		return nil
	}

	e.appendAudit(execCtx, trade.TraderName, auditlog.TypeExecution,
		fmt.Sprintf("提案 %d 已成交: %s %d %s @ %s, 新余额 %s",
			trade.ID, fill.Side, fill.Quantity, fill.Symbol, fill.Price, fill.NewBalance))

	e.logger.Info("提案已批准并成交",
		zap.Int64("trade_id", trade.ID),
		zap.String("trader", trade.TraderName),
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Int64("quantity", fill.Quantity),
	)

	return nil
}

func (e *Engine) appendAudit(ctx context.Context, name, entryType, message string) {
	if err := e.audit.Append(ctx, name, entryType, message); err != nil {
		e.logger.Warn("写入审计日志失败",
			zap.String("name", name),
			zap.String("type", entryType),
			zap.Error(err),
		)
	}
}

func (e *Engine) sleepInterval() time.Duration {
	interval := e.cfg.PollInterval
	if e.cfg.PollJitter > 0 {
		interval += time.Duration(rand.Int63n(int64(e.cfg.PollJitter)))
	}
	return interval
}
