package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sol-trader/internal/account"
	"sol-trader/internal/cache"
	"sol-trader/internal/config"
	"sol-trader/internal/confirm"
	"sol-trader/internal/exchange"
	"sol-trader/internal/execution"
	"sol-trader/internal/journal"
	"sol-trader/internal/jupiter"
	"sol-trader/internal/position"
	"sol-trader/internal/solana"
	"sol-trader/internal/store"
	"sol-trader/internal/wallet"
)

type referencePrice interface {
	LastPrice(ctx context.Context) (decimal.Decimal, error)
}

// orchestrator 持有全部运行组件，并周期性汇总账户状态。
type orchestrator struct {
	executor  *execution.Executor
	monitor   *position.Monitor
	balances  *account.Cache
	journal   *journal.Service
	prices    position.PriceSource
	reference referencePrice
	redis     *redis.Client
	logger    *zap.Logger
}

func newOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	journalSvc, err := journal.NewService(ctx, st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化事件日志失败: %w", err)
	}

	keypair, err := wallet.LoadKeypair(cfg.Wallet)
	if err != nil {
		return nil, fmt.Errorf("加载钱包失败: %w", err)
	}

	rpc := solana.NewHTTPClient(cfg.Solana.RPCURL,
		solana.WithTimeout(cfg.Solana.Timeout),
		solana.WithRetry(cfg.Solana.Retry.MaxAttempts, cfg.Solana.Retry.MinDelay, cfg.Solana.Retry.MaxDelay),
		solana.WithCommitment(cfg.Solana.Commitment),
		solana.WithLogger(logger),
	)

	confirmer := confirm.New(rpc, confirm.Options{
		PollInterval: cfg.Trade.ConfirmPollInterval,
		CallTimeout:  cfg.Trade.ConfirmCallTimeout,
		Commitment:   cfg.Solana.Commitment,
	}, logger)
	if cfg.Solana.WSURL != "" {
		confirmer.WithSubscriber(solana.NewWSClient(cfg.Solana.WSURL, cfg.Solana.Commitment, logger))
	}

	var prices position.PriceSource = jupiter.NewPriceClient(cfg.Jupiter, solana.NativeMint, logger)
	var rdb *redis.Client
	if cfg.Cache.Enabled {
		rdb, err = cache.NewRedisClient(ctx, cfg.Cache)
		if err != nil {
			logger.Warn("Redis 不可用，价格不走缓存", zap.String("addr", cfg.Cache.Addr), zap.Error(err))
		} else {
			prices = cache.NewPriceCache(rdb, prices, cfg.Cache.PriceTTL, logger)
		}
	}

	balances := account.NewCache(rpc, keypair.PublicKey(), logger)

	executor, err := execution.NewExecutor(execution.Deps{
		Quotes:    jupiter.NewClient(cfg.Jupiter, logger),
		Chain:     rpc,
		Signer:    keypair,
		Confirmer: confirmer,
		Balances:  balances,
		Recorder:  journalSvc,
	}, execution.OptionsFromConfig(cfg.Trade), logger)
	if err != nil {
		return nil, fmt.Errorf("初始化执行器失败: %w", err)
	}

	positionStore, err := position.NewSQLiteStore(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("初始化持仓存储失败: %w", err)
	}

	monitor, err := position.NewMonitor(position.Deps{
		Executor: executor,
		Prices:   prices,
		Balances: balances,
		Store:    positionStore,
		Journal:  journalSvc,
	}, position.OptionsFromConfig(cfg.Monitor, cfg.Strategy), logger)
	if err != nil {
		return nil, fmt.Errorf("初始化持仓监控失败: %w", err)
	}
	executor.SetLauncher(monitor)

	var reference referencePrice
	refClient, err := exchange.NewClient(cfg.Reference, logger)
	if err != nil {
		logger.Warn("参考价格不可用，状态汇总不计算美元估值", zap.Error(err))
	} else {
		reference = refClient
	}

	return &orchestrator{
		executor:  executor,
		monitor:   monitor,
		balances:  balances,
		journal:   journalSvc,
		prices:    prices,
		reference: reference,
		redis:     rdb,
		logger:    logger,
	}, nil
}

// Start 启动持仓监控并恢复未平仓持仓，同时扫描钱包已有代币。
func (o *orchestrator) Start(ctx context.Context) error {
	o.monitor.Start(ctx)
	if _, err := o.monitor.Restore(ctx); err != nil {
		return fmt.Errorf("恢复持仓失败: %w", err)
	}
	holdings, err := o.balances.Scan(ctx)
	if err != nil {
		o.journal.RecordError(ctx, "扫描钱包失败", err, nil)
		return nil
	}
	o.logger.Info("钱包代币扫描完成", zap.Int("tokens", len(holdings)))
	return nil
}

// Tick 刷新余额并记录一次账户状态。
func (o *orchestrator) Tick(ctx context.Context) error {
	holdings, err := o.balances.RefreshAll(ctx)
	if err != nil {
		o.journal.RecordError(ctx, "刷新余额失败", err, nil)
		return err
	}

	status := journal.StatusPayload{Holdings: holdings}
	solBalance := decimal.Zero
	for _, h := range holdings {
		if h.Token == o.balances.Owner() {
			solBalance = h.Balance.UI()
		}
	}
	status.SOLBalance = solBalance.String()

	now := time.Now().UTC()
	equitySOL := solBalance
	positions := o.monitor.OpenPositions()
	status.OpenPositions = make([]position.Summary, 0, len(positions))
	for _, p := range positions {
		last := o.lastPrice(ctx, p.TokenAddress)
		status.OpenPositions = append(status.OpenPositions, position.Summarize(p, last, now))
		equitySOL = equitySOL.Add(p.RemainingQuantity.UI().Mul(last))
	}

	if o.reference != nil {
		solUSD, err := o.reference.LastPrice(ctx)
		if err != nil {
			o.logger.Warn("获取 SOL/USD 参考价格失败", zap.Error(err))
		} else {
			status.SOLPriceUSD = solUSD.String()
			status.EquityUSD = equitySOL.Mul(solUSD).Round(2).String()
		}
	}

	o.journal.RecordStatus(ctx, status)
	o.logger.Info("账户状态",
		zap.String("sol", status.SOLBalance),
		zap.String("equity_usd", status.EquityUSD),
		zap.Int("positions", len(positions)),
	)
	return nil
}

func (o *orchestrator) lastPrice(ctx context.Context, token string) decimal.Decimal {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	price, ok, err := o.prices.GetPrice(callCtx, token)
	if err != nil || !ok {
		return decimal.Zero
	}
	return price
}

// Close 等待持仓循环退出并释放外部连接。
func (o *orchestrator) Close() error {
	err := o.monitor.Wait()
	if o.redis != nil {
		if closeErr := o.redis.Close(); closeErr != nil {
			o.logger.Warn("关闭 Redis 失败", zap.Error(closeErr))
		}
	}
	return err
}
