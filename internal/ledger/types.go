package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示成交方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Transaction 表示一笔已成交的交易记录，追加后不可修改。
type Transaction struct {
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Rationale string          `json:"rationale"`
}

// FillResult 描述一次买入或卖出的成交结果。
type FillResult struct {
	Symbol     string
	Side       Side
	Quantity   int64
	Price      decimal.Decimal
	Total      decimal.Decimal
	NewBalance decimal.Decimal
}

// Snapshot 为账户当前状态的只读视图。
type Snapshot struct {
	Name           string           `json:"name"`
	Balance        decimal.Decimal  `json:"balance"`
	Holdings       map[string]int64 `json:"holdings"`
	Strategy       string           `json:"strategy"`
	PortfolioValue decimal.Decimal  `json:"total_portfolio_value"`
	Transactions   []Transaction    `json:"recent_transactions"`
}
