package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tradefloor/internal/auditlog"
	"tradefloor/internal/config"
	"tradefloor/internal/ledger"
	"tradefloor/internal/market"
	"tradefloor/internal/oracle"
	"tradefloor/internal/queue"
	"tradefloor/internal/store"
	"tradefloor/internal/supervisor"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 按配置装配各服务并驱动结算引擎，阻塞直至 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易监督系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("oracle", a.cfg.Supervisor.Oracle),
		zap.String("market_source", a.cfg.Market.Source),
	)

	ledgerSvc, err := ledger.NewService(a.store, a.cfg.Ledger, a.logger)
	if err != nil {
		return fmt.Errorf("初始化台账服务失败: %w", err)
	}

	queueSvc, err := queue.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化队列服务失败: %w", err)
	}

	auditSvc, err := auditlog.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化审计日志失败: %w", err)
	}

	marketSrc, err := a.newMarketSource()
	if err != nil {
		return err
	}

	decisionOracle, err := a.newOracle()
	if err != nil {
		return err
	}

	engine, err := supervisor.NewEngine(queueSvc, ledgerSvc, auditSvc, decisionOracle, marketSrc, a.cfg.Supervisor, a.logger)
	if err != nil {
		return fmt.Errorf("初始化结算引擎失败: %w", err)
	}

	return engine.Run(ctx)
}

func (a *App) newMarketSource() (market.Source, error) {
	switch strings.ToLower(a.cfg.Market.Source) {
	case "static":
		return market.NewStaticSource(a.cfg.Market.StaticPrices), nil
	case "ccxt":
		src, err := market.NewCCXTSource(a.cfg.Market, a.logger)
		if err != nil {
			return nil, fmt.Errorf("初始化行情价格源失败: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("market.source 取值非法: %s", a.cfg.Market.Source)
	}
}

func (a *App) newOracle() (oracle.Oracle, error) {
	switch strings.ToLower(a.cfg.Supervisor.Oracle) {
	case "rules":
		o, err := oracle.NewRuleOracle(a.cfg.Supervisor.MaxTradeFraction, a.logger)
		if err != nil {
			return nil, fmt.Errorf("初始化规则审批器失败: %w", err)
		}
		return o, nil
	case "openai":
		o, err := oracle.NewAIOracle(a.cfg.OpenAI, a.logger)
		if err != nil {
			return nil, fmt.Errorf("初始化模型审批器失败: %w", err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("supervisor.oracle 取值非法: %s", a.cfg.Supervisor.Oracle)
	}
}
