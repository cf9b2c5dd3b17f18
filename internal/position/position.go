package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sol-trader/internal/amount"
	"sol-trader/internal/execution"
)

var (
	// ErrPositionNotFound 表示持仓不存在或已关闭。
	ErrPositionNotFound = errors.New("position: 持仓不存在")
	// ErrRuleNotArmed 表示规则已触发过。
	ErrRuleNotArmed = errors.New("position: 规则已失效")
)

// Status 为持仓状态。
type Status string

const (
	StatusActive          Status = "active"
	StatusPartiallyExited Status = "partially_exited"
	StatusClosed          Status = "closed"
)

// RuleState 记录单条止盈止损规则的触发情况。
type RuleState struct {
	Rule          execution.ExitRule `json:"rule"`
	Armed         bool               `json:"armed"`
	FiredAt       *time.Time         `json:"fired_at,omitempty"`
	ExitSignature string             `json:"exit_signature,omitempty"`
	ExitQuantity  *amount.Amount     `json:"exit_quantity,omitempty"`

	// PendingSignatures 为已发送但尚未确认结果的卖出交易。
	PendingSignatures []string `json:"pending_signatures,omitempty"`
}

// Position 为一笔受监控的持仓。
// ExitedQuantity、RemainingQuantity 与 WrittenOffQuantity 之和恒等于 EntryQuantity。
type Position struct {
	ID                 string          `json:"id"`
	TokenAddress       string          `json:"token_address"`
	EntryPrice         decimal.Decimal `json:"entry_price"`
	EntryQuantity      amount.Amount   `json:"entry_quantity"`
	RemainingQuantity  amount.Amount   `json:"remaining_quantity"`
	ExitedQuantity     amount.Amount   `json:"exited_quantity"`
	WrittenOffQuantity amount.Amount   `json:"written_off_quantity"`
	Rules              []RuleState     `json:"rules"`
	Status             Status          `json:"status"`
	Slippage           amount.Amount   `json:"slippage"`
	PriorityFee        *amount.Amount  `json:"priority_fee,omitempty"`
	EntrySignature     string          `json:"entry_signature"`
	OpenedAt           time.Time       `json:"opened_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// NewPosition 由买入订单与实际成交结果创建持仓。
func NewPosition(order execution.Order, result execution.SwapResult) (*Position, error) {
	if err := execution.ValidateExitRules(order.ExitRules); err != nil {
		return nil, err
	}
	if !result.IsBuy() {
		return nil, fmt.Errorf("position: 交易 %s 不是买入", result.Signature)
	}
	if result.TokenDiff.Kind() != amount.KindToken {
		return nil, fmt.Errorf("position: 成交数量类型错误: %w", amount.ErrKindMismatch)
	}
	price, err := result.EntryPrice()
	if err != nil {
		return nil, err
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("position: 建仓价格无效 %s", price)
	}

	qty := result.TokenDiff
	zero := amount.TokensFromRaw(decimal.Zero, uint8(qty.Decimals()))
	rules := make([]RuleState, len(order.ExitRules))
	for i, r := range order.ExitRules {
		rules[i] = RuleState{Rule: r, Armed: true}
	}
	now := time.Now().UTC()
	p := &Position{
		ID:                 uuid.NewString(),
		TokenAddress:       order.TokenAddress,
		EntryPrice:         price,
		EntryQuantity:      qty,
		RemainingQuantity:  qty,
		ExitedQuantity:     zero,
		WrittenOffQuantity: zero,
		Rules:              rules,
		Status:             StatusActive,
		Slippage:           order.Slippage,
		EntrySignature:     result.Signature,
		OpenedAt:           now,
		UpdatedAt:          now,
	}
	if order.PriorityFee != nil {
		fee := *order.PriorityFee
		p.PriorityFee = &fee
	}
	return p, nil
}

// PnL 返回当前价格相对建仓价格的盈亏百分比。
func (p *Position) PnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// ExitQuantity 计算第 i 条规则的卖出数量：建仓数量乘以分配比例，不超过剩余数量。
func (p *Position) ExitQuantity(i int) (amount.Amount, error) {
	if i < 0 || i >= len(p.Rules) {
		return amount.Amount{}, fmt.Errorf("position: 规则下标 %d 越界", i)
	}
	qty, err := p.EntryQuantity.MulPercent(p.Rules[i].Rule.Allocation)
	if err != nil {
		return amount.Amount{}, err
	}
	return qty.Min(p.RemainingQuantity)
}

// ApplyExit 在卖出确认后扣减剩余数量并使规则失效。
func (p *Position) ApplyExit(i int, qty amount.Amount, signature string, at time.Time) error {
	if i < 0 || i >= len(p.Rules) {
		return fmt.Errorf("position: 规则下标 %d 越界", i)
	}
	if !p.Rules[i].Armed {
		return ErrRuleNotArmed
	}
	if qty.Sign() <= 0 {
		return fmt.Errorf("position: 卖出数量必须大于0")
	}
	c, err := qty.Cmp(p.RemainingQuantity)
	if err != nil {
		return err
	}
	if c > 0 {
		return fmt.Errorf("position: 卖出数量 %s 超过剩余 %s", qty, p.RemainingQuantity)
	}

	remaining, err := p.RemainingQuantity.Sub(qty)
	if err != nil {
		return err
	}
	exited, err := p.ExitedQuantity.Add(qty)
	if err != nil {
		return err
	}

	at = at.UTC()
	p.RemainingQuantity = remaining
	p.ExitedQuantity = exited
	p.Rules[i].Armed = false
	p.Rules[i].FiredAt = &at
	p.Rules[i].ExitSignature = signature
	p.Rules[i].ExitQuantity = &qty
	p.Rules[i].PendingSignatures = nil
	p.UpdatedAt = at
	if remaining.IsZero() {
		p.Status = StatusClosed
	} else {
		p.Status = StatusPartiallyExited
	}
	return nil
}

// Reconcile 将剩余数量核减为钱包实际可用数量，差额计入 WrittenOffQuantity，返回核减数量。
func (p *Position) Reconcile(wallet amount.Amount, at time.Time) (amount.Amount, error) {
	if wallet.Sign() <= 0 {
		return amount.Amount{}, fmt.Errorf("position: 钱包数量必须大于0")
	}
	c, err := wallet.Cmp(p.RemainingQuantity)
	if err != nil {
		return amount.Amount{}, err
	}
	if c >= 0 {
		return amount.Amount{}, fmt.Errorf("position: 钱包数量 %s 不低于剩余 %s", wallet, p.RemainingQuantity)
	}
	shortfall, err := p.RemainingQuantity.Sub(wallet)
	if err != nil {
		return amount.Amount{}, err
	}
	written := p.WrittenOffQuantity
	if !written.SameKind(p.EntryQuantity) {
		// 旧数据没有该字段
		written = amount.TokensFromRaw(decimal.Zero, uint8(p.EntryQuantity.Decimals()))
	}
	if written, err = written.Add(shortfall); err != nil {
		return amount.Amount{}, err
	}

	p.RemainingQuantity = wallet
	p.WrittenOffQuantity = written
	p.Status = StatusPartiallyExited
	p.UpdatedAt = at.UTC()
	return shortfall, nil
}

// ArmedRules 返回仍有效的规则数量。
func (p *Position) ArmedRules() int {
	n := 0
	for _, r := range p.Rules {
		if r.Armed {
			n++
		}
	}
	return n
}

// Clone 返回深拷贝。
func (p *Position) Clone() Position {
	c := *p
	c.Rules = make([]RuleState, len(p.Rules))
	for i, r := range p.Rules {
		if r.FiredAt != nil {
			t := *r.FiredAt
			r.FiredAt = &t
		}
		if r.ExitQuantity != nil {
			q := *r.ExitQuantity
			r.ExitQuantity = &q
		}
		if r.PendingSignatures != nil {
			r.PendingSignatures = append([]string(nil), r.PendingSignatures...)
		}
		c.Rules[i] = r
	}
	if p.PriorityFee != nil {
		fee := *p.PriorityFee
		c.PriorityFee = &fee
	}
	return c
}
