package ledger

import "errors"

var (
	// ErrNotFound 表示账户从未被初始化。
	ErrNotFound = errors.New("account not found")
	// ErrInsufficientFunds 表示买入金额超过账户现金余额。
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares 表示卖出数量超过当前持仓。
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrInvalidArgument 表示入参不合法。
	ErrInvalidArgument = errors.New("invalid argument")
)
