package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sol-trader/internal/amount"
)

var (
	// ErrInvalidOrder 表示订单或止盈止损配置不合法，不会重试。
	ErrInvalidOrder = errors.New("execution: 订单无效")
	// ErrNoLauncher 表示策略订单没有可用的持仓监控器。
	ErrNoLauncher = errors.New("execution: 未配置策略监控器")
)

// OrderType 表示订单类型。
type OrderType int

const (
	OrderBuy OrderType = iota + 1
	OrderSell
	OrderLimitStop
	OrderDipBuy
)

func (t OrderType) String() string {
	switch t {
	case OrderBuy:
		return "buy"
	case OrderSell:
		return "sell"
	case OrderLimitStop:
		return "limit_stop"
	case OrderDipBuy:
		return "dip_buy"
	default:
		return "unknown"
	}
}

// MarshalText 以字符串形式输出订单类型。
func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseOrderType 解析订单类型字符串。
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return OrderBuy, nil
	case "sell":
		return OrderSell, nil
	case "limit_stop", "limitstop", "pnl":
		return OrderLimitStop, nil
	case "dip_buy", "dipbuy":
		return OrderDipBuy, nil
	default:
		return 0, fmt.Errorf("%w: 未知订单类型 %q", ErrInvalidOrder, s)
	}
}

// IsStrategy 判断是否为交由持仓监控器执行的策略订单。
func (t OrderType) IsStrategy() bool {
	return t == OrderLimitStop || t == OrderDipBuy
}

// ExitRule 为一条止盈止损规则。TriggerAt 非负为止盈，负数为止损；
// Allocation 为相对建仓数量的卖出比例。
type ExitRule struct {
	TriggerAt  amount.Amount `json:"trigger_at"`
	Allocation amount.Amount `json:"allocation"`
}

// IsProfit 判断是否为止盈规则。
func (r ExitRule) IsProfit() bool {
	return r.TriggerAt.Sign() >= 0
}

// Fires 判断给定盈亏百分比是否触发该规则。
func (r ExitRule) Fires(pnlPercent decimal.Decimal) bool {
	trigger := r.TriggerAt.UI()
	if r.IsProfit() {
		return pnlPercent.GreaterThanOrEqual(trigger)
	}
	return pnlPercent.LessThanOrEqual(trigger)
}

var hundred = decimal.NewFromInt(100)

// ValidateExitRules 校验规则类型与分配比例，同一方向的分配合计不得超过 100%。
func ValidateExitRules(rules []ExitRule) error {
	profit, loss := decimal.Zero, decimal.Zero
	for i, r := range rules {
		if r.TriggerAt.Kind() != amount.KindPercent || r.Allocation.Kind() != amount.KindPercent {
			return fmt.Errorf("%w: 第 %d 条规则必须使用百分比", ErrInvalidOrder, i)
		}
		alloc := r.Allocation.UI()
		if alloc.Sign() <= 0 || alloc.GreaterThan(hundred) {
			return fmt.Errorf("%w: 第 %d 条规则分配比例 %s 不在 (0,100]", ErrInvalidOrder, i, r.Allocation)
		}
		if r.IsProfit() {
			profit = profit.Add(alloc)
		} else {
			loss = loss.Add(alloc)
		}
	}
	if profit.GreaterThan(hundred) {
		return fmt.Errorf("%w: 止盈分配合计 %s%% 超过 100%%", ErrInvalidOrder, profit)
	}
	if loss.GreaterThan(hundred) {
		return fmt.Errorf("%w: 止损分配合计 %s%% 超过 100%%", ErrInvalidOrder, loss)
	}
	return nil
}

// Order 为一次交易意图，提交后不再修改。
// Amount 对买入类订单为花费的 SOL，对卖出为代币数量。
type Order struct {
	Type         OrderType      `json:"type"`
	TokenAddress string         `json:"token_address"`
	Amount       amount.Amount  `json:"amount"`
	Slippage     amount.Amount  `json:"slippage"`
	PriorityFee  *amount.Amount `json:"priority_fee,omitempty"`
	Confirm      bool           `json:"confirm"`
	ExitRules    []ExitRule     `json:"exit_rules,omitempty"`
	// DipPercent 仅用于回调买入，相对 EMA 的下跌幅度。
	DipPercent amount.Amount `json:"dip_percent,omitempty"`
	// OnSubmitted 在每次尝试被节点接受后以该次签名回调。
	OnSubmitted func(signature string) `json:"-"`
}

// Validate 校验订单字段。
func (o Order) Validate() error {
	if o.TokenAddress == "" {
		return fmt.Errorf("%w: 代币地址为空", ErrInvalidOrder)
	}
	if o.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: 数量必须大于0", ErrInvalidOrder)
	}
	switch o.Type {
	case OrderBuy, OrderLimitStop, OrderDipBuy:
		if o.Amount.Kind() != amount.KindNative {
			return fmt.Errorf("%w: %s 订单数量必须为 SOL", ErrInvalidOrder, o.Type)
		}
	case OrderSell:
		if o.Amount.Kind() != amount.KindToken {
			return fmt.Errorf("%w: 卖出数量必须为代币数量", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: 未知订单类型 %d", ErrInvalidOrder, o.Type)
	}
	if o.Slippage.Kind() != amount.KindPercent || o.Slippage.Sign() <= 0 {
		return fmt.Errorf("%w: 滑点必须为正百分比", ErrInvalidOrder)
	}
	if o.PriorityFee != nil && (o.PriorityFee.Kind() != amount.KindNative || o.PriorityFee.Sign() < 0) {
		return fmt.Errorf("%w: 优先费必须为非负 SOL", ErrInvalidOrder)
	}
	if o.Type == OrderLimitStop && len(o.ExitRules) == 0 {
		return fmt.Errorf("%w: 止盈止损订单至少需要一条规则", ErrInvalidOrder)
	}
	if o.Type == OrderDipBuy {
		dip := o.DipPercent.UI()
		if o.DipPercent.Kind() != amount.KindPercent || dip.Sign() <= 0 || dip.GreaterThanOrEqual(hundred) {
			return fmt.Errorf("%w: 回调比例必须位于 (0,100)", ErrInvalidOrder)
		}
	}
	return ValidateExitRules(o.ExitRules)
}

// SwapResult 为一笔兑换在签名钱包上的实际资金变化。
type SwapResult struct {
	Signature         string        `json:"signature"`
	NativeDiff        amount.Amount `json:"native_diff"`
	TokenDiff         amount.Amount `json:"token_diff"`
	PayerTokenAccount string        `json:"payer_token_account"`
}

// IsBuy 以代币变化方向判断买卖，而不是订单类型。
func (r SwapResult) IsBuy() bool {
	return r.TokenDiff.Sign() > 0
}

// EntryPrice 计算成交均价：每个代币（UI 单位）花费的 SOL。
func (r SwapResult) EntryPrice() (decimal.Decimal, error) {
	tokens := r.TokenDiff.UI().Abs()
	if tokens.IsZero() {
		return decimal.Zero, fmt.Errorf("execution: 交易 %s 无代币变化", r.Signature)
	}
	return r.NativeDiff.UI().Abs().Div(tokens), nil
}

// Outcome 为单次尝试的结果。
type Outcome string

const (
	OutcomeConfirmed           Outcome = "confirmed"
	OutcomeSubmitted           Outcome = "submitted"
	OutcomeQuoteUnavailable    Outcome = "quote_unavailable"
	OutcomeSignFailed          Outcome = "sign_failed"
	OutcomeTransportError      Outcome = "transport_error"
	OutcomeConfirmationTimeout Outcome = "confirmation_timeout"
	OutcomeOnChainFailure      Outcome = "on_chain_failure"
	OutcomeFeeCapExceeded      Outcome = "fee_cap_exceeded"
	OutcomeRetriesExhausted    Outcome = "retries_exhausted"
	OutcomeCancelled           Outcome = "cancelled"
)

// Success 判断是否得到了可返回的签名。
func (o Outcome) Success() bool {
	return o == OutcomeConfirmed || o == OutcomeSubmitted
}

// Report 汇总一次 Execute 调用，用于事件记录。
type Report struct {
	Order     Order         `json:"order"`
	Signature string        `json:"signature,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Attempts  int           `json:"attempts"`
	FinalFee  amount.Amount `json:"final_fee"`
	Reason    string        `json:"reason,omitempty"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
}
