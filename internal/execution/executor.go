package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sol-trader/internal/amount"
	"sol-trader/internal/config"
	"sol-trader/internal/confirm"
	"sol-trader/internal/jupiter"
	"sol-trader/internal/solana"
)

// ErrNotExecuted 表示重试结束后没有得到可用签名。
var ErrNotExecuted = errors.New("execution: 未获得成交签名")

// QuoteProvider 根据兑换参数返回未签名交易，无路由时返回 nil。
type QuoteProvider interface {
	GetSwapTransaction(ctx context.Context, req jupiter.SwapRequest) ([]byte, error)
}

// ChainClient 为执行器所需的链上接口。
type ChainClient interface {
	SendTransaction(ctx context.Context, signed []byte) (string, error)
	GetTransaction(ctx context.Context, signature string) (*solana.TransactionDetail, error)
}

// Signer 对未签名交易签名。
type Signer interface {
	PublicKey() string
	SignTransaction(unsigned []byte) ([]byte, string, error)
}

// Confirmer 等待签名确认。
type Confirmer interface {
	Await(ctx context.Context, signature string, timeout time.Duration) confirm.Result
}

// BalanceRefresher 在成交后刷新余额缓存。
type BalanceRefresher interface {
	Refresh(ctx context.Context, key string) (amount.Amount, error)
}

// Recorder 记录每次执行的结果。
type Recorder interface {
	RecordExecution(ctx context.Context, report Report) error
}

// StrategyLauncher 接管策略订单与带止盈止损的买入。
type StrategyLauncher interface {
	Launch(ctx context.Context, order Order) error
	Open(ctx context.Context, order Order, signature string) error
}

// Deps 汇总执行器依赖，Balances、Recorder 可为空。
type Deps struct {
	Quotes    QuoteProvider
	Chain     ChainClient
	Signer    Signer
	Confirmer Confirmer
	Balances  BalanceRefresher
	Recorder  Recorder
}

// Options 控制费用递增与确认参数，构造后不可修改。
type Options struct {
	DefaultFee        amount.Amount
	FeeIncrement      amount.Amount
	MaxFee            amount.Amount
	MaxRetries        int
	ResendCount       int
	ConfirmTimeout    time.Duration
	SwapResultTimeout time.Duration
	SwapResultPoll    time.Duration
	NativeMint        string
}

// OptionsFromConfig 由交易配置生成执行参数。
func OptionsFromConfig(cfg config.TradeConfig) Options {
	return Options{
		DefaultFee:        amount.NativeFromFloat(cfg.PriorityFeeSOL),
		FeeIncrement:      amount.NativeFromFloat(cfg.FeeIncrementSOL),
		MaxFee:            amount.NativeFromFloat(cfg.MaxFeeSOL),
		MaxRetries:        cfg.MaxFeeRetries,
		ResendCount:       cfg.ResendCount,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		SwapResultTimeout: cfg.SwapResultTimeout,
		SwapResultPoll:    cfg.ConfirmPollInterval,
		NativeMint:        solana.NativeMint,
	}
}

// Executor 负责报价、签名、发送与确认，并按费用递增策略重试。
type Executor struct {
	deps     Deps
	opts     Options
	launcher StrategyLauncher
	logger   *zap.Logger
}

// NewExecutor 创建执行器。
func NewExecutor(deps Deps, opts Options, logger *zap.Logger) (*Executor, error) {
	if deps.Quotes == nil || deps.Chain == nil || deps.Signer == nil || deps.Confirmer == nil {
		return nil, errors.New("execution: 缺少必要依赖")
	}
	for name, a := range map[string]amount.Amount{
		"default_fee":   opts.DefaultFee,
		"fee_increment": opts.FeeIncrement,
		"max_fee":       opts.MaxFee,
	} {
		if a.Kind() != amount.KindNative {
			return nil, fmt.Errorf("execution: %s 必须为 SOL 数量: %w", name, amount.ErrKindMismatch)
		}
	}
	if opts.MaxRetries < 0 {
		return nil, errors.New("execution: max_retries 不能为负")
	}
	if opts.ResendCount < 1 {
		opts.ResendCount = 1
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 35 * time.Second
	}
	if opts.SwapResultTimeout <= 0 {
		opts.SwapResultTimeout = 30 * time.Second
	}
	if opts.SwapResultPoll <= 0 {
		opts.SwapResultPoll = time.Second
	}
	if opts.NativeMint == "" {
		opts.NativeMint = solana.NativeMint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{deps: deps, opts: opts, logger: logger}, nil
}

// SetLauncher 注入策略监控器。两者互相引用，因此在构造后设置。
func (e *Executor) SetLauncher(l StrategyLauncher) {
	e.launcher = l
}

// Owner 返回签名钱包地址。
func (e *Executor) Owner() string {
	return e.deps.Signer.PublicKey()
}

// Options 返回执行参数副本。
func (e *Executor) Options() Options {
	return e.opts
}

type attemptResult struct {
	outcome   Outcome
	signature string
	reason    string
}

// Execute 执行订单并返回成交签名。策略订单交给监控器后立即返回空签名。
// 失败时返回 ErrNotExecuted，不会返回未确认的签名。
func (e *Executor) Execute(ctx context.Context, order Order, retryUntilSuccessful bool) (string, error) {
	if err := order.Validate(); err != nil {
		return "", err
	}

	if order.Type.IsStrategy() {
		if e.launcher == nil {
			return "", ErrNoLauncher
		}
		if err := e.launcher.Launch(ctx, order); err != nil {
			return "", fmt.Errorf("execution: 启动策略失败: %w", err)
		}
		e.logger.Info("策略订单已登记",
			zap.String("type", order.Type.String()),
			zap.String("token", order.TokenAddress),
		)
		return "", nil
	}

	inputMint, outputMint := e.opts.NativeMint, order.TokenAddress
	if order.Type == OrderSell {
		inputMint, outputMint = order.TokenAddress, e.opts.NativeMint
	}

	scaledAmount, err := order.Amount.ScaledUint64()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	slippageBps, err := order.Slippage.ScaledUint64()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	startFee := e.opts.DefaultFee
	if order.PriorityFee != nil {
		startFee = *order.PriorityFee
	}
	fee, err := startFee.Min(e.opts.MaxFee)
	if err != nil {
		return "", err
	}

	report := Report{Order: order, Started: time.Now().UTC()}
	logger := e.logger.With(
		zap.String("type", order.Type.String()),
		zap.String("token", order.TokenAddress),
		zap.String("amount", order.Amount.String()),
	)

	var res attemptResult
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			res = attemptResult{outcome: OutcomeCancelled, reason: ctx.Err().Error()}
			break
		}

		report.Attempts = attempt
		report.FinalFee = fee
		res = e.attempt(ctx, jupiter.SwapRequest{
			User:        e.deps.Signer.PublicKey(),
			InputMint:   inputMint,
			OutputMint:  outputMint,
			Amount:      scaledAmount,
			SlippageBps: slippageBps,
		}, fee, order)
		if res.outcome.Success() {
			break
		}

		logger.Warn("交易尝试失败",
			zap.Int("attempt", attempt),
			zap.String("fee", fee.String()),
			zap.String("outcome", string(res.outcome)),
			zap.String("reason", res.reason),
		)

		if !retryUntilSuccessful {
			break
		}
		next, stop, err := nextFee(fee, e.opts.FeeIncrement, e.opts.MaxFee, attempt, e.opts.MaxRetries)
		if err != nil {
			return "", err
		}
		if stop != "" {
			if stop == OutcomeFeeCapExceeded {
				res.reason = fmt.Sprintf("%s; 费用已达上限 %s", res.reason, e.opts.MaxFee)
			} else {
				res.reason = fmt.Sprintf("%s; 已重试 %d 次", res.reason, e.opts.MaxRetries)
			}
			res.outcome = stop
			break
		}
		fee = next
	}

	report.Outcome = res.outcome
	report.Signature = res.signature
	report.Reason = res.reason
	report.Finished = time.Now().UTC()

	if !res.outcome.Success() {
		logger.Error("订单执行失败",
			zap.Int("attempts", report.Attempts),
			zap.String("outcome", string(res.outcome)),
			zap.String("reason", res.reason),
		)
		e.record(ctx, report)
		return "", fmt.Errorf("%w: %s", ErrNotExecuted, res.reason)
	}

	logger.Info("订单执行成功",
		zap.String("signature", res.signature),
		zap.Int("attempts", report.Attempts),
		zap.String("fee", report.FinalFee.String()),
		zap.String("outcome", string(res.outcome)),
	)
	e.refreshBalances(ctx, order.TokenAddress)
	e.record(ctx, report)

	if order.Type == OrderBuy && len(order.ExitRules) > 0 {
		if err := e.openPosition(ctx, order, res.signature); err != nil {
			return res.signature, err
		}
	}
	return res.signature, nil
}

func (e *Executor) attempt(ctx context.Context, req jupiter.SwapRequest, fee amount.Amount, order Order) attemptResult {
	lamports, err := fee.ScaledUint64()
	if err != nil {
		return attemptResult{outcome: OutcomeQuoteUnavailable, reason: err.Error()}
	}
	req.PriorityFeeLamports = lamports

	unsigned, err := e.deps.Quotes.GetSwapTransaction(ctx, req)
	if err != nil {
		return attemptResult{outcome: OutcomeQuoteUnavailable, reason: fmt.Sprintf("获取报价失败: %v", err)}
	}
	if unsigned == nil {
		return attemptResult{outcome: OutcomeQuoteUnavailable, reason: "无可用路由"}
	}

	signed, signature, err := e.deps.Signer.SignTransaction(unsigned)
	if err != nil {
		return attemptResult{outcome: OutcomeSignFailed, reason: fmt.Sprintf("签名失败: %v", err)}
	}

	acks := e.send(ctx, signed, signature)
	if acks == 0 {
		return attemptResult{outcome: OutcomeTransportError, reason: "交易发送全部失败"}
	}
	if order.OnSubmitted != nil {
		order.OnSubmitted(signature)
	}
	if !order.Confirm {
		return attemptResult{outcome: OutcomeSubmitted, signature: signature}
	}

	res := e.deps.Confirmer.Await(ctx, signature, e.opts.ConfirmTimeout)
	switch res.Status {
	case confirm.StatusConfirmed:
		return attemptResult{outcome: OutcomeConfirmed, signature: signature}
	case confirm.StatusFailed:
		return attemptResult{outcome: OutcomeOnChainFailure, reason: fmt.Sprintf("链上执行失败: %s", res.Reason)}
	default:
		return attemptResult{outcome: OutcomeConfirmationTimeout, reason: fmt.Sprintf("确认超时: %s", res.Reason)}
	}
}

// send 将同一笔已签名交易重复发送，返回节点接受的次数。
func (e *Executor) send(ctx context.Context, signed []byte, signature string) int {
	acks := 0
	for i := 0; i < e.opts.ResendCount; i++ {
		if ctx.Err() != nil {
			break
		}
		got, err := e.deps.Chain.SendTransaction(ctx, signed)
		if err != nil {
			e.logger.Debug("交易发送失败",
				zap.String("signature", signature),
				zap.Int("send", i+1),
				zap.Error(err),
			)
			continue
		}
		if got != "" && got != signature {
			e.logger.Warn("节点返回的签名与本地不一致",
				zap.String("local", signature),
				zap.String("remote", got),
			)
		}
		acks++
	}
	return acks
}

func (e *Executor) refreshBalances(ctx context.Context, token string) {
	if e.deps.Balances == nil {
		return
	}
	for _, key := range []string{e.deps.Signer.PublicKey(), token} {
		if _, err := e.deps.Balances.Refresh(ctx, key); err != nil {
			e.logger.Warn("刷新余额失败", zap.String("key", key), zap.Error(err))
		}
	}
}

func (e *Executor) record(ctx context.Context, report Report) {
	if e.deps.Recorder == nil {
		return
	}
	// 取消后仍需落盘
	if err := e.deps.Recorder.RecordExecution(context.WithoutCancel(ctx), report); err != nil {
		e.logger.Warn("记录执行结果失败", zap.Error(err))
	}
}

// openPosition 将已确认的买入签名交给监控器，成交解析在监控循环内完成。
func (e *Executor) openPosition(ctx context.Context, order Order, signature string) error {
	if e.launcher == nil {
		return ErrNoLauncher
	}
	if err := e.launcher.Open(ctx, order, signature); err != nil {
		e.logger.Error("移交持仓监控失败", zap.String("signature", signature), zap.Error(err))
		return fmt.Errorf("execution: 建立持仓失败: %w", err)
	}
	return nil
}
