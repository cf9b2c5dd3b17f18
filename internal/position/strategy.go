package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sol-trader/internal/amount"
	"sol-trader/internal/execution"
	"sol-trader/internal/indicator"
)

// errEntryPending 表示入场买入已确认，但成交明细暂时无法获取。
var errEntryPending = errors.New("position: 入场成交尚未解析")

// Strategy 为单个持仓的监控逻辑。OnPriceSample 返回 true 表示监控结束。
type Strategy interface {
	Token() string
	Start(ctx context.Context) error
	OnPriceSample(ctx context.Context, price decimal.Decimal) (bool, error)
}

// limitStop 按盈亏百分比依次执行止盈止损规则。
// entrySig 非空后不会再次买入，只重试解析成交直到建仓。
type limitStop struct {
	m        *Monitor
	order    execution.Order
	pos      *Position
	entrySig string
	noted    bool
	logger   *zap.Logger
}

func newLimitStop(m *Monitor, order execution.Order, pos *Position) *limitStop {
	return &limitStop{
		m:      m,
		order:  order,
		pos:    pos,
		logger: m.logger.With(zap.String("strategy", "limit_stop"), zap.String("token", order.TokenAddress)),
	}
}

func (s *limitStop) Token() string {
	return s.order.TokenAddress
}

// Start 在没有持仓时先完成入场买入；接管已有持仓时先核对在途卖出。
func (s *limitStop) Start(ctx context.Context) error {
	if s.pos != nil {
		s.settleExits(ctx)
		return nil
	}
	if s.entrySig == "" {
		if err := s.buyEntry(ctx); err != nil {
			return err
		}
	}
	err := s.settle(ctx)
	if errors.Is(err, errEntryPending) {
		s.logger.Warn("入场成交暂未解析，下一轮重试", zap.String("signature", s.entrySig), zap.Error(err))
		return nil
	}
	return err
}

func (s *limitStop) OnPriceSample(ctx context.Context, price decimal.Decimal) (bool, error) {
	if s.pos == nil {
		if err := s.settle(ctx); err != nil {
			return !errors.Is(err, errEntryPending), err
		}
	}

	view := s.m.snapshot(s.pos)
	if view.Status == StatusClosed {
		return true, nil
	}
	pnl := view.PnL(price)

	// 同一轮内按添加顺序依次执行，每条规则基于前一条执行后的剩余数量
	for i, r := range view.Rules {
		if !r.Armed || !r.Rule.Fires(pnl) {
			continue
		}
		closed, err := s.fire(ctx, i, pnl)
		if err != nil {
			return false, err
		}
		if closed {
			return true, nil
		}
	}
	return false, nil
}

func (s *limitStop) fire(ctx context.Context, rule int, pnl decimal.Decimal) (bool, error) {
	s.m.mu.Lock()
	qty, err := s.pos.ExitQuantity(rule)
	view := s.pos.Clone()
	s.m.mu.Unlock()
	if err != nil {
		return false, err
	}
	qty = s.capToWallet(ctx, rule, qty)
	if qty.Sign() <= 0 {
		return false, fmt.Errorf("position: 规则 %d 卖出数量为0", rule)
	}

	r := view.Rules[rule].Rule
	kind := "止盈"
	if !r.IsProfit() {
		kind = "止损"
	}
	s.logger.Info("触发"+kind,
		zap.String("id", view.ID),
		zap.Int("rule", rule),
		zap.String("pnl", pnl.StringFixed(2)),
		zap.String("trigger", r.TriggerAt.String()),
		zap.String("quantity", qty.String()),
	)

	sig, err := s.m.deps.Executor.Execute(ctx, execution.Order{
		Type:         execution.OrderSell,
		TokenAddress: view.TokenAddress,
		Amount:       qty,
		Slippage:     view.Slippage,
		PriorityFee:  view.PriorityFee,
		Confirm:      true,
		OnSubmitted: func(signature string) {
			s.m.markPending(ctx, s.pos, rule, signature)
		},
	}, true)
	if err != nil {
		// 退出时确认被打断，交易可能仍会上链，保留在途签名供恢复时核对
		if ctx.Err() == nil {
			s.m.clearPending(ctx, s.pos, rule)
		}
		return false, fmt.Errorf("position: %s卖出失败，下一轮重试: %w", kind, err)
	}

	snapshot, err := s.m.applyExit(ctx, s.pos, rule, qty, sig)
	if err != nil {
		return false, err
	}
	return snapshot.Status == StatusClosed, nil
}

// capToWallet 按钱包余额核对卖出数量。
// 余额为0、查询失败或无法对账时视为未知，按持仓数量卖出；
// 余额为正但低于剩余数量时先核减持仓，再按核减后的剩余数量计算。
func (s *limitStop) capToWallet(ctx context.Context, rule int, qty amount.Amount) amount.Amount {
	if s.m.deps.Balances == nil {
		return qty
	}
	bal, err := s.m.deps.Balances.Balance(ctx, s.order.TokenAddress)
	if err != nil {
		s.logger.Warn("查询钱包余额失败，按持仓数量卖出", zap.Error(err))
		return qty
	}
	if bal.Sign() <= 0 {
		s.logger.Warn("钱包余额为0，可能尚未同步，按持仓数量卖出", zap.String("quantity", qty.String()))
		return qty
	}
	reconciled, err := s.m.reconcileWallet(ctx, s.pos, bal)
	if err != nil {
		s.logger.Warn("钱包余额无法与持仓对账，按持仓数量卖出",
			zap.String("balance", bal.String()),
			zap.Error(err),
		)
		return qty
	}
	if !reconciled {
		return qty
	}

	s.m.mu.Lock()
	capped, err := s.pos.ExitQuantity(rule)
	s.m.mu.Unlock()
	if err != nil {
		return qty
	}
	return capped
}

// buyEntry 执行入场买入并记录签名。
func (s *limitStop) buyEntry(ctx context.Context) error {
	buy := s.order
	buy.Type = execution.OrderBuy
	buy.ExitRules = nil
	buy.Confirm = true

	sig, err := s.m.deps.Executor.Execute(ctx, buy, true)
	if err != nil {
		return fmt.Errorf("position: 入场买入失败: %w", err)
	}
	s.entrySig = sig
	return nil
}

// settle 解析入场成交并建仓。解析失败返回 errEntryPending，首次失败写入日志。
func (s *limitStop) settle(ctx context.Context) error {
	if s.entrySig == "" {
		return errors.New("position: 尚未入场")
	}
	result, err := s.m.deps.Executor.FetchSwapResult(ctx, s.entrySig, s.order.TokenAddress)
	if err != nil {
		if !s.noted {
			s.noted = true
			s.m.journal(ctx, EventEntryPending, Position{
				TokenAddress:   s.order.TokenAddress,
				EntrySignature: s.entrySig,
			}, err.Error())
		}
		return fmt.Errorf("%w: %v", errEntryPending, err)
	}
	p, err := s.m.open(ctx, s.order, result)
	if err != nil {
		return err
	}
	s.pos = p
	return nil
}

// settleExits 核对上次退出时仍在途的卖出，已上链的按实际卖出数量记账，其余清除后规则继续有效。
func (s *limitStop) settleExits(ctx context.Context) {
	view := s.m.snapshot(s.pos)
	for i, r := range view.Rules {
		if !r.Armed || len(r.PendingSignatures) == 0 {
			continue
		}
		if !s.settleExit(ctx, i, r.PendingSignatures) {
			s.m.clearPending(ctx, s.pos, i)
		}
	}
}

func (s *limitStop) settleExit(ctx context.Context, rule int, signatures []string) bool {
	for _, sig := range signatures {
		result, err := s.m.deps.Executor.FetchSwapResult(ctx, sig, s.order.TokenAddress)
		if err != nil {
			s.logger.Info("在途卖出未上链", zap.Int("rule", rule), zap.String("signature", sig), zap.Error(err))
			continue
		}
		if result.TokenDiff.Sign() >= 0 {
			continue
		}
		view := s.m.snapshot(s.pos)
		qty, err := result.TokenDiff.Abs().Min(view.RemainingQuantity)
		if err != nil || qty.Sign() <= 0 {
			s.logger.Warn("在途卖出数量无法记账", zap.String("signature", sig), zap.Error(err))
			continue
		}
		s.logger.Info("在途卖出已上链，补记退出",
			zap.Int("rule", rule),
			zap.String("signature", sig),
			zap.String("quantity", qty.String()),
		)
		if _, err := s.m.applyExit(ctx, s.pos, rule, qty, sig); err != nil {
			s.logger.Warn("补记退出失败", zap.String("signature", sig), zap.Error(err))
			return false
		}
		return true
	}
	return false
}

// dipBuy 在价格低于 EMA 一定比例时买入，之后按 limitStop 管理持仓。
type dipBuy struct {
	*limitStop
	samples *indicator.Series
	period  int
	dip     float64
}

func newDipBuy(m *Monitor, order execution.Order) *dipBuy {
	ls := newLimitStop(m, order, nil)
	ls.logger = m.logger.With(zap.String("strategy", "dip_buy"), zap.String("token", order.TokenAddress))
	return &dipBuy{
		limitStop: ls,
		samples:   indicator.NewSeries(m.opts.EMAPeriod * 4),
		period:    m.opts.EMAPeriod,
		dip:       order.DipPercent.Float64(),
	}
}

func (s *dipBuy) Start(context.Context) error {
	return nil
}

func (s *dipBuy) OnPriceSample(ctx context.Context, price decimal.Decimal) (bool, error) {
	if s.pos != nil || s.entrySig != "" {
		return s.limitStop.OnPriceSample(ctx, price)
	}

	f, _ := price.Float64()
	s.samples.Push(time.Now(), f)
	ema, err := indicator.EMA(s.samples.Values(), s.period)
	if errors.Is(err, indicator.ErrInsufficientData) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	threshold := indicator.DipThreshold(ema, s.dip)
	if f > threshold {
		return false, nil
	}

	s.logger.Info("价格回调，执行买入",
		zap.Float64("price", f),
		zap.Float64("ema", ema),
		zap.Float64("threshold", threshold),
	)
	if err := s.buyEntry(ctx); err != nil {
		return false, err
	}
	return s.limitStop.OnPriceSample(ctx, price)
}
