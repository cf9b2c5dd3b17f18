package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sol-trader/internal/config"
	"sol-trader/internal/store"
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

// Run 启动持仓监控、查询接口与状态循环，直到 ctx 取消后等待持仓循环退出。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("rpc", a.cfg.Solana.RPCURL),
		zap.String("commitment", a.cfg.Solana.Commitment),
	)

	orch, err := newOrchestrator(ctx, a.cfg, a.logger, a.store)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := orch.Close(); closeErr != nil {
			a.logger.Warn("等待持仓监控退出失败", zap.Error(closeErr))
		}
	}()

	if err = orch.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("钱包已加载", zap.String("owner", orch.executor.Owner()))

	if a.cfg.Server.Enabled {
		startServer(ctx, &server{
			executor:  orch.executor,
			positions: orch.monitor,
			events:    orch.journal,
			balances:  orch.balances,
			prices:    orch.prices,
			trade:     a.cfg.Trade,
			strategy:  a.cfg.Strategy,
			logger:    a.logger,
		}, a.cfg.Server.Port, a.logger)
	}

	interval := a.cfg.Scheduler.StatusInterval
	if interval <= 0 {
		interval = time.Minute
	}

	if err = orch.Tick(ctx); err != nil {
		a.logger.Error("首次状态汇总失败", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err = orch.Tick(ctx); err != nil {
				a.logger.Error("状态汇总失败", zap.Error(err))
			}
		}
	}
}
