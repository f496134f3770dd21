package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradefloor/internal/config"
	"tradefloor/internal/store"
)

// Service 管理账户台账：余额、持仓、策略与成交历史。
// 所有校验与变更都在同一个存储事务内完成，保证不会出现部分生效。
type Service struct {
	store  *store.Store
	cfg    config.LedgerConfig
	logger *zap.Logger
}

// NewService 创建台账服务。
func NewService(st *store.Store, cfg config.LedgerConfig, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("ledger: store 不能为空")
	}
	if cfg.InitialBalance <= 0 {
		return nil, errors.New("ledger: initial_balance 必须大于0")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:  st,
		cfg:    cfg,
		logger: logger,
	}, nil
}

type accountRecord struct {
	Balance  decimal.Decimal
	Holdings map[string]int64
	Strategy string
	History  []Transaction
}

// GetBalance 读取现金余额，账户未初始化时返回 ErrNotFound。
func (s *Service) GetBalance(ctx context.Context, name string) (decimal.Decimal, error) {
	var balance decimal.Decimal

	err := store.Retry(ctx, s.logger, "ledger_get_balance", func() error {
		rec, err := s.readAccount(ctx, name)
		if err != nil {
			return err
		}
		balance = rec.Balance
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	return balance, nil
}

// GetHoldings 返回当前持仓快照。
func (s *Service) GetHoldings(ctx context.Context, name string) (map[string]int64, error) {
	var holdings map[string]int64

	err := store.Retry(ctx, s.logger, "ledger_get_holdings", func() error {
		rec, err := s.readAccount(ctx, name)
		if err != nil {
			return err
		}
		holdings = rec.Holdings
		return nil
	})
	if err != nil {
		return nil, err
	}

	return holdings, nil
}

// GetStrategy 读取策略文本，账户不存在时自动初始化。
func (s *Service) GetStrategy(ctx context.Context, name string) (string, error) {
	canonical, err := canonicalName(name)
	if err != nil {
		return "", err
	}

	var strategy string

	err = store.Retry(ctx, s.logger, "ledger_get_strategy", func() error {
		return s.store.WithTx(ctx, func(tx *sql.Tx) error {
			rec, err := s.ensureAccountTx(tx, canonical)
			if err != nil {
				return err
			}
			strategy = rec.Strategy
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	return strategy, nil
}

// ChangeStrategy 覆写策略文本，账户不存在时自动初始化。
func (s *Service) ChangeStrategy(ctx context.Context, name, strategy string) error {
	canonical, err := canonicalName(name)
	if err != nil {
		return err
	}

	return store.Retry(ctx, s.logger, "ledger_change_strategy", func() error {
		return s.store.WithTx(ctx, func(tx *sql.Tx) error {
			rec, err := s.ensureAccountTx(tx, canonical)
			if err != nil {
				return err
			}
			rec.Strategy = strategy
			return s.writeAccountTx(tx, canonical, rec)
		})
	})
}

// Buy 以参考价立即成交买入：校验资金、扣减余额、增加持仓并追加交易记录。
func (s *Service) Buy(ctx context.Context, name, symbol string, quantity int64, price decimal.Decimal, rationale string) (FillResult, error) {
	return s.execute(ctx, name, symbol, SideBuy, quantity, price, rationale)
}

// Sell 以参考价立即成交卖出：校验持仓、增加余额、减少持仓并追加交易记录。
func (s *Service) Sell(ctx context.Context, name, symbol string, quantity int64, price decimal.Decimal, rationale string) (FillResult, error) {
	return s.execute(ctx, name, symbol, SideSell, quantity, price, rationale)
}

func (s *Service) execute(ctx context.Context, name, symbol string, side Side, quantity int64, price decimal.Decimal, rationale string) (FillResult, error) {
	canonical, err := canonicalName(name)
	if err != nil {
		return FillResult{}, err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return FillResult{}, fmt.Errorf("%w: symbol 不能为空", ErrInvalidArgument)
	}
	if quantity <= 0 {
		return FillResult{}, fmt.Errorf("%w: quantity 必须大于0, 当前 %d", ErrInvalidArgument, quantity)
	}
	if !price.IsPositive() {
		return FillResult{}, fmt.Errorf("%w: price 必须大于0, 当前 %s", ErrInvalidArgument, price)
	}

	var result FillResult

	err = store.Retry(ctx, s.logger, "ledger_"+string(side), func() error {
		return s.store.WithTx(ctx, func(tx *sql.Tx) error {
			rec, err := s.ensureAccountTx(tx, canonical)
			if err != nil {
				return err
			}

			total := price.Mul(decimal.NewFromInt(quantity))

			switch side {
			case SideBuy:
				if total.GreaterThan(rec.Balance) {
					return fmt.Errorf("%w: 需要 %s, 余额 %s", ErrInsufficientFunds, total, rec.Balance)
				}
				rec.Balance = rec.Balance.Sub(total)
				rec.Holdings[symbol] += quantity
			case SideSell:
				held := rec.Holdings[symbol]
				if quantity > held {
					return fmt.Errorf("%w: 卖出 %d, 持有 %d (%s)", ErrInsufficientShares, quantity, held, symbol)
				}
				rec.Balance = rec.Balance.Add(total)
				if held == quantity {
					delete(rec.Holdings, symbol)
				} else {
					rec.Holdings[symbol] = held - quantity
				}
			default:
				return fmt.Errorf("%w: side 取值非法: %s", ErrInvalidArgument, side)
			}

			rec.History = append(rec.History, Transaction{
				Timestamp: time.Now().UTC(),
				Symbol:    symbol,
				Side:      side,
				Quantity:  quantity,
				Price:     price,
				Total:     total,
				Rationale: rationale,
			})

			if err := s.writeAccountTx(tx, canonical, rec); err != nil {
				return err
			}

			result = FillResult{
				Symbol:     symbol,
				Side:       side,
				Quantity:   quantity,
				Price:      price,
				Total:      total,
				NewBalance: rec.Balance,
			}
			return nil
		})
	})
	if err != nil {
		return FillResult{}, err
	}

	s.logger.Info("台账成交",
		zap.String("account", canonical),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Int64("quantity", quantity),
		zap.String("price", price.String()),
		zap.String("new_balance", result.NewBalance.String()),
	)

	return result, nil
}

// Report 生成账户报告：余额、持仓、组合总值与最近成交。
// 组合估值使用各标的最近一次成交价，不依赖外部行情。
func (s *Service) Report(ctx context.Context, name string) (Snapshot, error) {
	canonical, err := canonicalName(name)
	if err != nil {
		return Snapshot{}, err
	}

	var snapshot Snapshot

	err = store.Retry(ctx, s.logger, "ledger_report", func() error {
		return s.store.WithTx(ctx, func(tx *sql.Tx) error {
			rec, err := s.ensureAccountTx(tx, canonical)
			if err != nil {
				return err
			}

			value := rec.Balance
			for symbol, qty := range rec.Holdings {
				if last, ok := lastTradedPrice(rec.History, symbol); ok {
					value = value.Add(last.Mul(decimal.NewFromInt(qty)))
				}
			}

			recent := rec.History
			if len(recent) > s.cfg.HistoryLimit {
				recent = recent[len(recent)-s.cfg.HistoryLimit:]
			}

			snapshot = Snapshot{
				Name:           canonical,
				Balance:        rec.Balance,
				Holdings:       rec.Holdings,
				Strategy:       rec.Strategy,
				PortfolioValue: value,
				Transactions:   append([]Transaction(nil), recent...),
			}
			return nil
		})
	})
	if err != nil {
		return Snapshot{}, err
	}

	return snapshot, nil
}

func (s *Service) readAccount(ctx context.Context, name string) (*accountRecord, error) {
	canonical, err := canonicalName(name)
	if err != nil {
		return nil, err
	}

	row := s.store.DB().QueryRowContext(ctx,
		`SELECT balance, holdings, strategy, history FROM accounts WHERE name = ?`, canonical)

	return scanAccount(row)
}

func (s *Service) ensureAccountTx(tx *sql.Tx, name string) (*accountRecord, error) {
	row := tx.QueryRow(`SELECT balance, holdings, strategy, history FROM accounts WHERE name = ?`, name)

	rec, err := scanAccount(row)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	// 首次引用即建户，种子资金来自配置。
	rec = &accountRecord{
		Balance:  decimal.NewFromFloat(s.cfg.InitialBalance),
		Holdings: map[string]int64{},
		History:  []Transaction{},
	}
	if err := s.insertAccountTx(tx, name, rec); err != nil {
		return nil, err
	}

	s.logger.Info("新账户已初始化",
		zap.String("account", name),
		zap.String("initial_balance", rec.Balance.String()),
	)

	return rec, nil
}

func (s *Service) insertAccountTx(tx *sql.Tx, name string, rec *accountRecord) error {
	holdingsJSON, historyJSON, err := marshalAccount(rec)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO accounts (name, balance, holdings, strategy, history) VALUES (?, ?, ?, ?, ?)`,
		name, rec.Balance.String(), holdingsJSON, rec.Strategy, historyJSON,
	); err != nil {
		return fmt.Errorf("ledger: 初始化账户失败: %w", err)
	}

	return nil
}

func (s *Service) writeAccountTx(tx *sql.Tx, name string, rec *accountRecord) error {
	holdingsJSON, historyJSON, err := marshalAccount(rec)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`UPDATE accounts SET balance = ?, holdings = ?, strategy = ?, history = ? WHERE name = ?`,
		rec.Balance.String(), holdingsJSON, rec.Strategy, historyJSON, name,
	); err != nil {
		return fmt.Errorf("ledger: 写入账户失败: %w", err)
	}

	return nil
}

func marshalAccount(rec *accountRecord) (string, string, error) {
	holdingsJSON, err := json.Marshal(rec.Holdings)
	if err != nil {
		return "", "", fmt.Errorf("ledger: 序列化持仓失败: %w", err)
	}
	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return "", "", fmt.Errorf("ledger: 序列化成交历史失败: %w", err)
	}
	return string(holdingsJSON), string(historyJSON), nil
}

func scanAccount(row *sql.Row) (*accountRecord, error) {
	var (
		balanceStr   string
		holdingsJSON string
		strategy     string
		historyJSON  string
	)

	switch err := row.Scan(&balanceStr, &holdingsJSON, &strategy, &historyJSON); {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("ledger: 查询账户失败: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("ledger: 解析余额失败: %w", err)
	}

	rec := &accountRecord{
		Balance:  balance,
		Strategy: strategy,
	}
	if err := json.Unmarshal([]byte(holdingsJSON), &rec.Holdings); err != nil {
		return nil, fmt.Errorf("ledger: 解析持仓失败: %w", err)
	}
	if rec.Holdings == nil {
		rec.Holdings = map[string]int64{}
	}
	if err := json.Unmarshal([]byte(historyJSON), &rec.History); err != nil {
		return nil, fmt.Errorf("ledger: 解析成交历史失败: %w", err)
	}

	return rec, nil
}

func lastTradedPrice(history []Transaction, symbol string) (decimal.Decimal, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Symbol == symbol {
			return history[i].Price, true
		}
	}
	return decimal.Decimal{}, false
}

func canonicalName(name string) (string, error) {
	canonical := strings.ToLower(strings.TrimSpace(name))
	if canonical == "" {
		return "", fmt.Errorf("%w: name 不能为空", ErrInvalidArgument)
	}
	return canonical, nil
}
