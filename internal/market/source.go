// Package market 提供结算时使用的参考价格。
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrSymbolNotFound 表示标的不存在或无法识别。
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrUnavailable 表示价格源暂时不可用。
	ErrUnavailable = errors.New("price unavailable")
)

// Source 抽象参考价格来源，方便在真实行情与静态报价之间切换。
type Source interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StaticSource 使用配置内置的报价表，适合测试与离线运行。
type StaticSource struct {
	prices map[string]decimal.Decimal
}

// NewStaticSource 从 symbol→price 表构造静态价格源。
func NewStaticSource(prices map[string]float64) *StaticSource {
	table := make(map[string]decimal.Decimal, len(prices))
	for symbol, price := range prices {
		table[strings.ToUpper(strings.TrimSpace(symbol))] = decimal.NewFromFloat(price)
	}
	return &StaticSource{prices: table}
}

// Price 返回内置报价，未配置的标的视为不存在。
func (s *StaticSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Decimal{}, err
	}

	price, ok := s.prices[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	return price, nil
}

var _ Source = (*StaticSource)(nil)
