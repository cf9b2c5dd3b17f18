package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
	envPrefix         = "soltrader"
)

// Load 读取配置文件并结合 .env 与环境变量返回 Config。
func Load(path string) (*Config, error) {
	if err := loadDotEnv(defaultEnvFile); err != nil {
		return nil, err
	}

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv 加载可选的 .env，已存在的环境变量优先。
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("检查 %s 失败: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("加载 %s 失败: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.ws_url", "")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.timeout", "10s")
	v.SetDefault("solana.retry.max_attempts", 3)
	v.SetDefault("solana.retry.min_delay", "500ms")
	v.SetDefault("solana.retry.max_delay", "5s")

	v.SetDefault("wallet.private_key", "")
	v.SetDefault("wallet.encrypted_key_path", "")
	v.SetDefault("wallet.key_password", "")

	v.SetDefault("jupiter.base_url", "https://quote-api.jup.ag/v6")
	v.SetDefault("jupiter.price_url", "https://api.jup.ag/price/v2")
	v.SetDefault("jupiter.timeout", "30s")

	v.SetDefault("trade.buy_amount_sol", 0.0001)
	v.SetDefault("trade.slippage_percent", 13)
	v.SetDefault("trade.priority_fee_sol", 0.0001)
	v.SetDefault("trade.fee_increment_sol", 0.0001)
	v.SetDefault("trade.max_fee_sol", 0.005)
	v.SetDefault("trade.max_fee_retries", 5)
	v.SetDefault("trade.resend_count", 5)
	v.SetDefault("trade.confirm_timeout", "35s")
	v.SetDefault("trade.confirm_poll_interval", "1s")
	v.SetDefault("trade.confirm_call_timeout", "3s")
	v.SetDefault("trade.swap_result_timeout", "30s")

	v.SetDefault("monitor.interval", "1s")
	v.SetDefault("monitor.price_timeout", "5s")

	v.SetDefault("strategy.dip_buy.dip_percent", 10)
	v.SetDefault("strategy.dip_buy.ema_period", 20)

	v.SetDefault("reference.exchange", "binanceusdm")
	v.SetDefault("reference.symbol", "SOL/USDT:USDT")
	v.SetDefault("reference.retry.max_attempts", 3)
	v.SetDefault("reference.retry.min_delay", "500ms")
	v.SetDefault("reference.retry.max_delay", "5s")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.price_ttl", "2s")

	v.SetDefault("database.path", "data/sol_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.status_interval", "1m")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
