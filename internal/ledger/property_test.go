package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

var propAccountSeq int64

// 随机操作序列下，台账余额与持仓必须始终与内存模型一致，
// 且任何被拒绝的操作不得留下部分效果。
func TestLedger_RandomOperations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	symbols := []string{"AAPL", "TSLA", "NVDA"}

	rapid.Check(t, func(rt *rapid.T) {
		name := fmt.Sprintf("prop%d", atomic.AddInt64(&propAccountSeq, 1))

		// 先成交一笔，确保账户已落库。
		if _, err := svc.Buy(ctx, name, "AAPL", 1, decimal.NewFromInt(1), ""); err != nil {
			rt.Fatalf("seed buy failed: %v", err)
		}
		balance := decimal.NewFromInt(9999)
		holdings := map[string]int64{"AAPL": 1}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			symbol := rapid.SampledFrom(symbols).Draw(rt, "symbol")
			quantity := int64(rapid.IntRange(1, 30).Draw(rt, "quantity"))
			price := decimal.NewFromInt(int64(rapid.IntRange(1, 500).Draw(rt, "price")))
			total := price.Mul(decimal.NewFromInt(quantity))

			if rapid.Bool().Draw(rt, "isBuy") {
				_, err := svc.Buy(ctx, name, symbol, quantity, price, "")
				if balance.Cmp(total) >= 0 {
					if err != nil {
						rt.Fatalf("buy unexpectedly rejected: %v", err)
					}
					balance = balance.Sub(total)
					holdings[symbol] += quantity
				} else if !errors.Is(err, ErrInsufficientFunds) {
					rt.Fatalf("expected ErrInsufficientFunds, got %v", err)
				}
			} else {
				_, err := svc.Sell(ctx, name, symbol, quantity, price, "")
				if holdings[symbol] >= quantity {
					if err != nil {
						rt.Fatalf("sell unexpectedly rejected: %v", err)
					}
					balance = balance.Add(total)
					holdings[symbol] -= quantity
					if holdings[symbol] == 0 {
						delete(holdings, symbol)
					}
				} else if !errors.Is(err, ErrInsufficientShares) {
					rt.Fatalf("expected ErrInsufficientShares, got %v", err)
				}
			}
		}

		got, err := svc.GetBalance(ctx, name)
		if err != nil {
			rt.Fatalf("GetBalance failed: %v", err)
		}
		if !got.Equal(balance) {
			rt.Fatalf("balance diverged from model: got %s, want %s", got, balance)
		}
		if got.IsNegative() {
			rt.Fatalf("balance went negative: %s", got)
		}

		gotHoldings, err := svc.GetHoldings(ctx, name)
		if err != nil {
			rt.Fatalf("GetHoldings failed: %v", err)
		}
		if len(gotHoldings) != len(holdings) {
			rt.Fatalf("holdings diverged from model: got %v, want %v", gotHoldings, holdings)
		}
		for symbol, want := range holdings {
			if gotHoldings[symbol] != want {
				rt.Fatalf("holdings diverged on %s: got %d, want %d", symbol, gotHoldings[symbol], want)
			}
		}
	})
}
