package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradefloor/internal/config"
)

// CCXTSource 通过交易所行情获取参考价格，内置重试机制。
type CCXTSource struct {
	cfg      config.MarketConfig
	logger   *zap.Logger
	exchange *ccxt.Binance

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewCCXTSource 构造基于 ccxt 的价格源，目前仅支持 binance 行情。
func NewCCXTSource(cfg config.MarketConfig, logger *zap.Logger) (*CCXTSource, error) {
	if !strings.EqualFold(cfg.Exchange, "binance") {
		return nil, fmt.Errorf("market: 暂不支持交易所 %q", cfg.Exchange)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	ex := ccxt.NewBinance(userConfig)

	return &CCXTSource{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Price 取最近一根1分钟K线的收盘价作为参考价。
func (c *CCXTSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: 空标的", ErrSymbolNotFound)
	}

	pair := symbol + c.cfg.QuoteSuffix

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, "fetch_reference_price", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.exchange.FetchOHLCV(
			pair,
			ccxt.WithFetchOHLCVTimeframe("1m"),
			ccxt.WithFetchOHLCVLimit(1),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	if len(raw) == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %s 无可用K线", ErrUnavailable, pair)
	}

	return decimal.NewFromFloat(raw[len(raw)-1].Close), nil
}

func (c *CCXTSource) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.exchange.LoadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Exchange))
	return nil
}

func (c *CCXTSource) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if !retry || attempt >= maxAttempts {
			c.logger.Error("行情调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		c.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return fmt.Errorf("%w: %v", ErrUnavailable, err), true
		case ccxt.BadSymbolErrType:
			return fmt.Errorf("%w: %s", ErrSymbolNotFound, strings.TrimSpace(ccxtErr.Message)), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err), true
	}

	return err, false
}

var _ Source = (*CCXTSource)(nil)
