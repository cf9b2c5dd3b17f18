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
	App       AppConfig       `mapstructure:"app"`
	Solana    SolanaConfig    `mapstructure:"solana"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Jupiter   JupiterConfig   `mapstructure:"jupiter"`
	Trade     TradeConfig     `mapstructure:"trade"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// SolanaConfig 描述链上 RPC 连接信息。
type SolanaConfig struct {
	RPCURL     string        `mapstructure:"rpc_url"`
	WSURL      string        `mapstructure:"ws_url"`
	Commitment string        `mapstructure:"commitment"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retry      RetryConfig   `mapstructure:"retry"`
}

// WalletConfig 描述签名钱包来源。
type WalletConfig struct {
	PrivateKey       string `mapstructure:"private_key"`
	EncryptedKeyPath string `mapstructure:"encrypted_key_path"`
	KeyPassword      string `mapstructure:"key_password"`
}

// JupiterConfig 描述聚合器与价格接口。
type JupiterConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	PriceURL string        `mapstructure:"price_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ExitRuleConfig 描述单条止盈止损规则，数值均为百分比。
type ExitRuleConfig struct {
	TriggerAt  float64 `mapstructure:"trigger_at"`
	Allocation float64 `mapstructure:"allocation"`
}

// TradeConfig 控制下单与费用递增策略。
type TradeConfig struct {
	BuyAmountSOL        float64          `mapstructure:"buy_amount_sol"`
	SlippagePercent     float64          `mapstructure:"slippage_percent"`
	PriorityFeeSOL      float64          `mapstructure:"priority_fee_sol"`
	FeeIncrementSOL     float64          `mapstructure:"fee_increment_sol"`
	MaxFeeSOL           float64          `mapstructure:"max_fee_sol"`
	MaxFeeRetries       int              `mapstructure:"max_fee_retries"`
	ResendCount         int              `mapstructure:"resend_count"`
	ConfirmTimeout      time.Duration    `mapstructure:"confirm_timeout"`
	ConfirmPollInterval time.Duration    `mapstructure:"confirm_poll_interval"`
	ConfirmCallTimeout  time.Duration    `mapstructure:"confirm_call_timeout"`
	SwapResultTimeout   time.Duration    `mapstructure:"swap_result_timeout"`
	ExitRules           []ExitRuleConfig `mapstructure:"exit_rules"`
}

// MonitorConfig 控制持仓监控节奏。
type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	PriceTimeout time.Duration `mapstructure:"price_timeout"`
}

// StrategyConfig 汇总策略参数。
type StrategyConfig struct {
	DipBuy DipBuyConfig `mapstructure:"dip_buy"`
}

// DipBuyConfig 控制回调买入策略。
type DipBuyConfig struct {
	DipPercent float64 `mapstructure:"dip_percent"`
	EMAPeriod  int     `mapstructure:"ema_period"`
}

// ReferenceConfig 描述 SOL/USD 参考价格来源。
type ReferenceConfig struct {
	Exchange string      `mapstructure:"exchange"`
	Symbol   string      `mapstructure:"symbol"`
	Retry    RetryConfig `mapstructure:"retry"`
}

// CacheConfig 控制 Redis 价格缓存。
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PriceTTL time.Duration `mapstructure:"price_ttl"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
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

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// ServerConfig 控制查询接口。
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Solana.RPCURL == "" {
		err = multierr.Append(err, errors.New("solana.rpc_url 不能为空"))
	}
	switch strings.ToLower(c.Solana.Commitment) {
	case "processed", "confirmed", "finalized":
	default:
		err = multierr.Append(err, fmt.Errorf("solana.commitment 不支持 %q", c.Solana.Commitment))
	}
	if c.Solana.Timeout <= 0 {
		err = multierr.Append(err, errors.New("solana.timeout 必须大于0"))
	}
	if c.Solana.Retry.MaxAttempts < 0 {
		err = multierr.Append(err, errors.New("solana.retry.max_attempts 不能为负"))
	}
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		err = multierr.Append(err, errors.New("wallet.private_key 与 wallet.encrypted_key_path 至少配置一个"))
	}
	if c.Jupiter.BaseURL == "" {
		err = multierr.Append(err, errors.New("jupiter.base_url 不能为空"))
	}
	if c.Jupiter.PriceURL == "" {
		err = multierr.Append(err, errors.New("jupiter.price_url 不能为空"))
	}
	if c.Jupiter.Timeout <= 0 {
		err = multierr.Append(err, errors.New("jupiter.timeout 必须大于0"))
	}
	err = multierr.Append(err, c.Trade.validate())
	if c.Monitor.Interval <= 0 {
		err = multierr.Append(err, errors.New("monitor.interval 必须大于0"))
	}
	if c.Monitor.PriceTimeout <= 0 {
		err = multierr.Append(err, errors.New("monitor.price_timeout 必须大于0"))
	}
	if c.Strategy.DipBuy.DipPercent <= 0 || c.Strategy.DipBuy.DipPercent >= 100 {
		err = multierr.Append(err, errors.New("strategy.dip_buy.dip_percent 必须位于(0,100)"))
	}
	if c.Strategy.DipBuy.EMAPeriod < 2 {
		err = multierr.Append(err, errors.New("strategy.dip_buy.ema_period 至少为2"))
	}
	if c.Reference.Symbol == "" {
		err = multierr.Append(err, errors.New("reference.symbol 不能为空"))
	}
	if c.Reference.Retry.MinDelay > c.Reference.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("reference.retry.min_delay 不能大于 max_delay"))
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		err = multierr.Append(err, errors.New("cache.addr 不能为空"))
	}
	if c.Cache.Enabled && c.Cache.PriceTTL <= 0 {
		err = multierr.Append(err, errors.New("cache.price_ttl 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
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
	if c.Scheduler.StatusInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.status_interval 必须大于0"))
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		err = multierr.Append(err, errors.New("server.port 无效"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (t TradeConfig) validate() error {
	var err error

	if t.BuyAmountSOL <= 0 {
		err = multierr.Append(err, errors.New("trade.buy_amount_sol 必须大于0"))
	}
	if t.SlippagePercent <= 0 || t.SlippagePercent > 100 {
		err = multierr.Append(err, errors.New("trade.slippage_percent 必须位于(0,100]"))
	}
	if t.PriorityFeeSOL < 0 || t.FeeIncrementSOL < 0 {
		err = multierr.Append(err, errors.New("trade 费用参数不能为负"))
	}
	if t.MaxFeeSOL < t.PriorityFeeSOL {
		err = multierr.Append(err, errors.New("trade.max_fee_sol 不能小于 priority_fee_sol"))
	}
	if t.MaxFeeRetries < 0 {
		err = multierr.Append(err, errors.New("trade.max_fee_retries 不能为负"))
	}
	if t.ResendCount < 1 {
		err = multierr.Append(err, errors.New("trade.resend_count 至少为1"))
	}
	if t.ConfirmTimeout <= 0 || t.ConfirmPollInterval <= 0 || t.ConfirmCallTimeout <= 0 {
		err = multierr.Append(err, errors.New("trade 确认相关时长必须大于0"))
	}
	if t.ConfirmPollInterval >= t.ConfirmTimeout {
		err = multierr.Append(err, errors.New("trade.confirm_poll_interval 必须小于 confirm_timeout"))
	}
	if t.SwapResultTimeout <= 0 {
		err = multierr.Append(err, errors.New("trade.swap_result_timeout 必须大于0"))
	}

	var profit, loss float64
	for i, rule := range t.ExitRules {
		if rule.Allocation <= 0 || rule.Allocation > 100 {
			err = multierr.Append(err, fmt.Errorf("trade.exit_rules[%d].allocation 必须位于(0,100]", i))
		}
		if rule.TriggerAt >= 0 {
			profit += rule.Allocation
		} else {
			loss += rule.Allocation
		}
	}
	if profit > 100 {
		err = multierr.Append(err, fmt.Errorf("trade.exit_rules 止盈分配合计 %.2f%% 超过 100%%", profit))
	}
	if loss > 100 {
		err = multierr.Append(err, fmt.Errorf("trade.exit_rules 止损分配合计 %.2f%% 超过 100%%", loss))
	}

	return err
}
