package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sol-trader/internal/amount"
	"sol-trader/internal/config"
	"sol-trader/internal/execution"
)

// ErrNotStarted 表示监控器尚未启动。
var ErrNotStarted = errors.New("position: 监控器未启动")

// Event 为持仓生命周期事件。
type Event string

const (
	EventOpened         Event = "position_opened"
	EventExitFired      Event = "exit_fired"
	EventClosed         Event = "position_closed"
	EventStrategyFailed Event = "strategy_failed"
	EventEntryPending   Event = "entry_pending"
	EventReconciled     Event = "position_reconciled"
)

// Executor 为监控器下单所需的执行接口。
type Executor interface {
	Execute(ctx context.Context, order execution.Order, retryUntilSuccessful bool) (string, error)
	FetchSwapResult(ctx context.Context, signature, mint string) (execution.SwapResult, error)
}

// PriceSource 返回代币以 SOL 计价的当前价格，ok=false 表示暂无报价。
type PriceSource interface {
	GetPrice(ctx context.Context, mint string) (decimal.Decimal, bool, error)
}

// Balances 返回刷新后的钱包余额。
type Balances interface {
	Balance(ctx context.Context, key string) (amount.Amount, error)
}

// Store 持久化持仓。
type Store interface {
	Save(ctx context.Context, p Position) error
	LoadOpen(ctx context.Context) ([]Position, error)
}

// Journal 记录持仓事件。
type Journal interface {
	RecordPosition(ctx context.Context, event Event, p Position, note string) error
}

// Deps 汇总监控器依赖，Balances、Store、Journal 可为空。
type Deps struct {
	Executor Executor
	Prices   PriceSource
	Balances Balances
	Store    Store
	Journal  Journal
}

// Options 控制监控节奏。
type Options struct {
	Interval     time.Duration
	PriceTimeout time.Duration
	EMAPeriod    int
}

// OptionsFromConfig 由配置生成监控参数。
func OptionsFromConfig(mon config.MonitorConfig, strategy config.StrategyConfig) Options {
	return Options{
		Interval:     mon.Interval,
		PriceTimeout: mon.PriceTimeout,
		EMAPeriod:    strategy.DipBuy.EMAPeriod,
	}
}

// Monitor 为每个持仓运行独立的价格监控循环。
type Monitor struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	positions map[string]*Position
	ctx       context.Context
	group     *errgroup.Group
}

// NewMonitor 创建持仓监控器。
func NewMonitor(deps Deps, opts Options, logger *zap.Logger) (*Monitor, error) {
	if deps.Executor == nil || deps.Prices == nil {
		return nil, errors.New("position: 缺少执行器或价格源")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.PriceTimeout <= 0 {
		opts.PriceTimeout = 5 * time.Second
	}
	if opts.EMAPeriod < 2 {
		opts.EMAPeriod = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		deps:      deps,
		opts:      opts,
		logger:    logger,
		positions: make(map[string]*Position),
	}, nil
}

// Start 设置所有监控循环共享的生命周期，ctx 取消后循环退出。
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
	m.group = &errgroup.Group{}
}

// Wait 等待所有监控循环退出。
func (m *Monitor) Wait() error {
	m.mu.Lock()
	g := m.group
	m.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Launch 为策略订单启动监控，入场买入在循环内完成。
func (m *Monitor) Launch(_ context.Context, order execution.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	var s Strategy
	switch order.Type {
	case execution.OrderLimitStop:
		s = newLimitStop(m, order, nil)
	case execution.OrderDipBuy:
		s = newDipBuy(m, order)
	default:
		return fmt.Errorf("%w: %s 不是策略订单", execution.ErrInvalidOrder, order.Type)
	}
	return m.spawn(s)
}

// Open 接管已确认的买入，成交解析与建仓在监控循环内完成，失败时按轮重试而不会再次买入。
func (m *Monitor) Open(_ context.Context, order execution.Order, signature string) error {
	if !m.started() {
		return ErrNotStarted
	}
	if signature == "" {
		return errors.New("position: 缺少入场签名")
	}
	if err := execution.ValidateExitRules(order.ExitRules); err != nil {
		return err
	}
	s := newLimitStop(m, order, nil)
	s.entrySig = signature
	return m.spawn(s)
}

// Register 接管一个已有持仓，例如从存储中恢复的持仓。
func (m *Monitor) Register(p Position) error {
	if !m.started() {
		return ErrNotStarted
	}
	if p.Status == StatusClosed {
		return fmt.Errorf("position: 持仓 %s 已关闭", p.ID)
	}
	c := p.Clone()
	m.mu.Lock()
	if _, ok := m.positions[c.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("position: 持仓 %s 已在监控中", c.ID)
	}
	m.positions[c.ID] = &c
	m.mu.Unlock()

	order := execution.Order{
		Type:         execution.OrderLimitStop,
		TokenAddress: c.TokenAddress,
		Slippage:     c.Slippage,
		PriorityFee:  c.PriorityFee,
		Confirm:      true,
	}
	return m.spawn(newLimitStop(m, order, &c))
}

// Restore 从存储加载未关闭的持仓并恢复监控。
func (m *Monitor) Restore(ctx context.Context) (int, error) {
	if m.deps.Store == nil {
		return 0, nil
	}
	positions, err := m.deps.Store.LoadOpen(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range positions {
		if err := m.Register(p); err != nil {
			m.logger.Warn("恢复持仓失败", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		m.logger.Info("已恢复持仓监控", zap.Int("count", n))
	}
	return n, nil
}

// OpenPositions 返回当前受监控持仓的快照。
func (m *Monitor) OpenPositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Position 按 ID 返回持仓快照。
func (m *Monitor) Position(id string) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return Position{}, ErrPositionNotFound
	}
	return p.Clone(), nil
}

func (m *Monitor) started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.group != nil
}

func (m *Monitor) spawn(s Strategy) error {
	m.mu.Lock()
	ctx, g := m.ctx, m.group
	m.mu.Unlock()
	if g == nil {
		return ErrNotStarted
	}
	g.Go(func() error {
		m.run(ctx, s)
		return nil
	})
	return nil
}

func (m *Monitor) run(ctx context.Context, s Strategy) {
	logger := m.logger.With(zap.String("token", s.Token()))

	if err := s.Start(ctx); err != nil {
		if ctx.Err() == nil {
			logger.Error("策略启动失败", zap.Error(err))
			m.journal(ctx, EventStrategyFailed, Position{TokenAddress: s.Token()}, err.Error())
		}
		return
	}

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("持仓监控退出")
			return
		case <-ticker.C:
		}

		price, ok := m.price(ctx, s.Token())
		if !ok {
			continue
		}
		done, err := s.OnPriceSample(ctx, price)
		if err != nil {
			logger.Warn("处理价格采样失败", zap.String("price", price.String()), zap.Error(err))
		}
		if done {
			if err != nil && ctx.Err() == nil {
				m.journal(ctx, EventStrategyFailed, Position{TokenAddress: s.Token()}, err.Error())
			}
			return
		}
	}
}

func (m *Monitor) price(ctx context.Context, token string) (decimal.Decimal, bool) {
	callCtx, cancel := context.WithTimeout(ctx, m.opts.PriceTimeout)
	defer cancel()

	price, ok, err := m.deps.Prices.GetPrice(callCtx, token)
	if err != nil {
		m.logger.Debug("获取价格失败，跳过本轮", zap.String("token", token), zap.Error(err))
		return decimal.Zero, false
	}
	if !ok || price.Sign() <= 0 {
		return decimal.Zero, false
	}
	return price, true
}

// open 创建持仓并登记，返回监控器内部持有的指针。
func (m *Monitor) open(ctx context.Context, order execution.Order, result execution.SwapResult) (*Position, error) {
	p, err := NewPosition(order, result)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.positions[p.ID] = p
	snapshot := p.Clone()
	m.mu.Unlock()

	m.logger.Info("建立持仓",
		zap.String("id", p.ID),
		zap.String("token", p.TokenAddress),
		zap.String("entry_price", p.EntryPrice.String()),
		zap.String("quantity", p.EntryQuantity.String()),
	)
	m.commit(ctx, snapshot, EventOpened, result.Signature)
	return p, nil
}

// applyExit 在锁内更新持仓，保证卖出确认与规则失效一起生效。
func (m *Monitor) applyExit(ctx context.Context, p *Position, rule int, qty amount.Amount, signature string) (Position, error) {
	m.mu.Lock()
	if err := p.ApplyExit(rule, qty, signature, time.Now()); err != nil {
		m.mu.Unlock()
		return Position{}, err
	}
	snapshot := p.Clone()
	if p.Status == StatusClosed {
		delete(m.positions, p.ID)
	}
	m.mu.Unlock()

	m.commit(ctx, snapshot, EventExitFired, signature)
	if snapshot.Status == StatusClosed {
		m.logger.Info("持仓已清空", zap.String("id", snapshot.ID), zap.String("token", snapshot.TokenAddress))
		m.commit(ctx, snapshot, EventClosed, "")
	}
	return snapshot, nil
}

// reconcileWallet 用钱包余额扣除同币种其他持仓后的可用数量与本持仓对账，
// 可用数量低于剩余数量时核减持仓并返回 true。
func (m *Monitor) reconcileWallet(ctx context.Context, p *Position, wallet amount.Amount) (bool, error) {
	m.mu.Lock()
	available := wallet
	for _, other := range m.positions {
		if other == p || other.TokenAddress != p.TokenAddress {
			continue
		}
		next, err := available.Sub(other.RemainingQuantity)
		if err != nil {
			m.mu.Unlock()
			return false, err
		}
		available = next
	}
	if available.Sign() <= 0 {
		m.mu.Unlock()
		return false, fmt.Errorf("position: 钱包余额 %s 已被同币种其他持仓占用", wallet)
	}
	c, err := available.Cmp(p.RemainingQuantity)
	if err != nil || c >= 0 {
		m.mu.Unlock()
		return false, err
	}
	shortfall, err := p.Reconcile(available, time.Now())
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	snapshot := p.Clone()
	m.mu.Unlock()

	m.logger.Warn("钱包余额低于持仓剩余数量，核减持仓",
		zap.String("id", snapshot.ID),
		zap.String("remaining", snapshot.RemainingQuantity.String()),
		zap.String("written_off", shortfall.String()),
	)
	m.commit(ctx, snapshot, EventReconciled, "核减 "+shortfall.String())
	return true, nil
}

// markPending 记录已发送的卖出签名并落盘。
func (m *Monitor) markPending(ctx context.Context, p *Position, rule int, signature string) {
	m.mu.Lock()
	p.Rules[rule].PendingSignatures = append(p.Rules[rule].PendingSignatures, signature)
	snapshot := p.Clone()
	m.mu.Unlock()
	m.save(ctx, snapshot)
}

// clearPending 清除规则的在途签名。
func (m *Monitor) clearPending(ctx context.Context, p *Position, rule int) {
	m.mu.Lock()
	if len(p.Rules[rule].PendingSignatures) == 0 {
		m.mu.Unlock()
		return
	}
	p.Rules[rule].PendingSignatures = nil
	snapshot := p.Clone()
	m.mu.Unlock()
	m.save(ctx, snapshot)
}

func (m *Monitor) commit(ctx context.Context, p Position, event Event, note string) {
	m.save(ctx, p)
	m.journal(context.WithoutCancel(ctx), event, p, note)
}

func (m *Monitor) save(ctx context.Context, p Position) {
	if m.deps.Store == nil {
		return
	}
	// 卖出已经上链，取消信号不能阻止落盘
	if err := m.deps.Store.Save(context.WithoutCancel(ctx), p); err != nil {
		m.logger.Error("保存持仓失败", zap.String("id", p.ID), zap.Error(err))
	}
}

func (m *Monitor) journal(ctx context.Context, event Event, p Position, note string) {
	if m.deps.Journal == nil {
		return
	}
	if err := m.deps.Journal.RecordPosition(ctx, event, p, note); err != nil {
		m.logger.Warn("记录持仓事件失败", zap.String("event", string(event)), zap.Error(err))
	}
}

func (m *Monitor) snapshot(p *Position) Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return p.Clone()
}
