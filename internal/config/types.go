package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Market     MarketConfig     `mapstructure:"market"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MarketConfig 描述参考价格来源。
type MarketConfig struct {
	// Source 取值 static 或 ccxt。
	Source       string             `mapstructure:"source"`
	StaticPrices map[string]float64 `mapstructure:"static_prices"`
	Exchange     string             `mapstructure:"exchange"`
	QuoteSuffix  string             `mapstructure:"quote_suffix"`
	Retry        RetryConfig        `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LedgerConfig 管理账户台账参数。
type LedgerConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
	HistoryLimit   int     `mapstructure:"history_limit"`
}

// SupervisorConfig 控制结算主循环节奏与审批策略。
type SupervisorConfig struct {
	// Oracle 取值 rules 或 openai。
	Oracle           string        `mapstructure:"oracle"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PollJitter       time.Duration `mapstructure:"poll_jitter"`
	MaxTradeFraction float64       `mapstructure:"max_trade_fraction"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.BusyTimeout <= 0 {
		err = multierr.Append(err, errors.New("database.busy_timeout 必须大于0"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	switch strings.ToLower(c.Supervisor.Oracle) {
	case "rules":
	case "openai":
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空 (supervisor.oracle=openai)"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("supervisor.oracle 取值非法: %s", c.Supervisor.Oracle))
	}

	switch strings.ToLower(c.Market.Source) {
	case "static":
		if len(c.Market.StaticPrices) == 0 {
			err = multierr.Append(err, errors.New("market.static_prices 至少包含一个报价 (market.source=static)"))
		}
	case "ccxt":
		if c.Market.Exchange == "" {
			err = multierr.Append(err, errors.New("market.exchange 不能为空 (market.source=ccxt)"))
		}
		if c.Market.Retry.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("market.retry.max_attempts 必须大于0"))
		}
		if c.Market.Retry.MinDelay <= 0 || c.Market.Retry.MaxDelay <= 0 {
			err = multierr.Append(err, errors.New("market.retry.delay 必须为正"))
		}
		if c.Market.Retry.MinDelay > c.Market.Retry.MaxDelay {
			err = multierr.Append(err, errors.New("market.retry.min_delay 不能大于 max_delay"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("market.source 取值非法: %s", c.Market.Source))
	}

	if c.Ledger.InitialBalance <= 0 {
		err = multierr.Append(err, errors.New("ledger.initial_balance 必须大于0"))
	}
	if c.Ledger.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("ledger.history_limit 必须大于0"))
	}
	if c.Supervisor.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("supervisor.poll_interval 必须大于0"))
	}
	if c.Supervisor.PollJitter < 0 {
		err = multierr.Append(err, errors.New("supervisor.poll_jitter 不能为负"))
	}
	if c.Supervisor.PollJitter >= c.Supervisor.PollInterval {
		err = multierr.Append(err, errors.New("supervisor.poll_jitter 必须小于 poll_interval"))
	}
	if c.Supervisor.MaxTradeFraction <= 0 || c.Supervisor.MaxTradeFraction > 1 {
		err = multierr.Append(err, errors.New("supervisor.max_trade_fraction 必须位于(0,1]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
