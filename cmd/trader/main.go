package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sol-trader/internal/app"
	"sol-trader/internal/config"
	"sol-trader/internal/log"
	"sol-trader/internal/store"
	"sol-trader/internal/wallet"
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && (args[0] == "run" || args[0] == "encrypt-key") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "encrypt-key":
		err = encryptKey(args)
	default:
		err = run(args)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "配置文件路径，默认使用 configs/config.yaml")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging, cfg.App.Environment)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		return err
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	tradingApp := app.New(cfg, logger, sqliteStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tradingApp.Run(ctx); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		return err
	}

	logger.Info("系统已安全退出")
	return nil
}

// encryptKey 将 base58 私钥加密为密钥文件，私钥与口令从环境变量读取。
func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	out := fs.String("out", "wallet.json", "输出的加密密钥文件")
	keyEnv := fs.String("key-env", "SOLTRADER_WALLET_PRIVATE_KEY", "保存 base58 私钥的环境变量")
	passEnv := fs.String("password-env", "SOLTRADER_WALLET_KEY_PASSWORD", "保存口令的环境变量")
	_ = fs.Parse(args)

	secret := os.Getenv(*keyEnv)
	password := os.Getenv(*passEnv)
	if secret == "" || password == "" {
		return fmt.Errorf("需要设置环境变量 %s 与 %s", *keyEnv, *passEnv)
	}

	kp, err := wallet.FromBase58(secret)
	if err != nil {
		return err
	}
	data, err := wallet.EncryptKey(kp, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("写入密钥文件失败: %w", err)
	}
	fmt.Printf("已写入 %s，公钥 %s\n", *out, kp.PublicKey())
	return nil
}
