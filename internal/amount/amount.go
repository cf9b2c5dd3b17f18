package amount

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// NativeDecimals SOL 的精度（lamports）。
	NativeDecimals int32 = 9
	// PercentDecimals 百分比精度，缩放后即为基点。
	PercentDecimals int32 = 2
)

// ErrKindMismatch 表示不同类型数量之间进行了运算。
var ErrKindMismatch = errors.New("amount: 数量类型不一致")

// Kind 表示数量的计量类型。
type Kind int

const (
	KindNative Kind = iota + 1
	KindToken
	KindPercent
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindToken:
		return "token"
	case KindPercent:
		return "percent"
	default:
		return "unknown"
	}
}

// Amount 以整数最小单位保存数量，并携带其计量类型与精度。
type Amount struct {
	raw      decimal.Decimal
	kind     Kind
	decimals int32
}

// Native 由 SOL 数量构造，舍去 lamport 以下的部分。
func Native(ui decimal.Decimal) Amount {
	return fromUI(ui, KindNative, NativeDecimals)
}

// NativeFromFloat 由浮点 SOL 数量构造。
func NativeFromFloat(ui float64) Amount {
	return Native(decimal.NewFromFloat(ui))
}

// Lamports 由 lamport 整数构造。
func Lamports(n int64) Amount {
	return Amount{raw: decimal.NewFromInt(n), kind: KindNative, decimals: NativeDecimals}
}

// Tokens 由代币 UI 数量与精度构造。
func Tokens(ui decimal.Decimal, decimals uint8) Amount {
	return fromUI(ui, KindToken, int32(decimals))
}

// TokensFromRaw 由链上原始整数构造代币数量。
func TokensFromRaw(raw decimal.Decimal, decimals uint8) Amount {
	return Amount{raw: raw.Truncate(0), kind: KindToken, decimals: int32(decimals)}
}

// Percent 由百分比数值构造，例如 12.5 表示 12.5%。
func Percent(ui decimal.Decimal) Amount {
	return fromUI(ui, KindPercent, PercentDecimals)
}

// PercentFromFloat 由浮点百分比构造。
func PercentFromFloat(ui float64) Amount {
	return Percent(decimal.NewFromFloat(ui))
}

func fromUI(ui decimal.Decimal, kind Kind, decimals int32) Amount {
	return Amount{raw: ui.Shift(decimals).Truncate(0), kind: kind, decimals: decimals}
}

// Kind 返回计量类型。
func (a Amount) Kind() Kind { return a.kind }

// Decimals 返回精度。
func (a Amount) Decimals() int32 { return a.decimals }

// Scaled 返回最小单位的整数值。
func (a Amount) Scaled() decimal.Decimal { return a.raw }

// ScaledUint64 返回最小单位整数，负数或溢出时报错。
func (a Amount) ScaledUint64() (uint64, error) {
	if a.raw.Sign() < 0 {
		return 0, fmt.Errorf("amount: 数量为负 %s", a.raw)
	}
	if !a.raw.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount: 数量溢出 %s", a.raw)
	}
	return a.raw.BigInt().Uint64(), nil
}

// UI 返回人类可读数值。
func (a Amount) UI() decimal.Decimal {
	return a.raw.Shift(-a.decimals)
}

// Float64 返回浮点表示，仅用于展示与指标计算。
func (a Amount) Float64() float64 {
	f, _ := a.UI().Float64()
	return f
}

func (a Amount) String() string {
	switch a.kind {
	case KindNative:
		return a.UI().String() + " SOL"
	case KindPercent:
		return a.UI().String() + "%"
	default:
		return a.UI().String()
	}
}

// Sign 返回符号。
func (a Amount) Sign() int { return a.raw.Sign() }

// IsZero 判断是否为零。
func (a Amount) IsZero() bool { return a.raw.IsZero() }

// Neg 取反。
func (a Amount) Neg() Amount {
	a.raw = a.raw.Neg()
	return a
}

// Abs 取绝对值。
func (a Amount) Abs() Amount {
	a.raw = a.raw.Abs()
	return a
}

// SameKind 判断两个数量能否直接运算。
func (a Amount) SameKind(b Amount) bool {
	return a.kind == b.kind && a.decimals == b.decimals
}

func (a Amount) check(b Amount) error {
	if !a.SameKind(b) {
		return fmt.Errorf("%w: %s(%d) vs %s(%d)", ErrKindMismatch, a.kind, a.decimals, b.kind, b.decimals)
	}
	return nil
}

// Add 相加，类型不一致时返回 ErrKindMismatch。
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.check(b); err != nil {
		return Amount{}, err
	}
	a.raw = a.raw.Add(b.raw)
	return a, nil
}

// Sub 相减，类型不一致时返回 ErrKindMismatch。
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.check(b); err != nil {
		return Amount{}, err
	}
	a.raw = a.raw.Sub(b.raw)
	return a, nil
}

// Cmp 比较大小。
func (a Amount) Cmp(b Amount) (int, error) {
	if err := a.check(b); err != nil {
		return 0, err
	}
	return a.raw.Cmp(b.raw), nil
}

// Min 返回较小者。
func (a Amount) Min(b Amount) (Amount, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return Amount{}, err
	}
	if c <= 0 {
		return a, nil
	}
	return b, nil
}

// MulPercent 计算数量的百分比部分，结果向下取整到最小单位。
func (a Amount) MulPercent(p Amount) (Amount, error) {
	if p.kind != KindPercent {
		return Amount{}, fmt.Errorf("%w: 期望百分比，实际为 %s", ErrKindMismatch, p.kind)
	}
	if a.kind == KindPercent {
		return Amount{}, fmt.Errorf("%w: 百分比不能再取百分比", ErrKindMismatch)
	}
	a.raw = a.raw.Mul(p.raw).Shift(-(PercentDecimals + 2)).Truncate(0)
	return a, nil
}

type amountJSON struct {
	Amount   string `json:"amount"`
	Raw      string `json:"raw"`
	Kind     string `json:"kind"`
	Decimals int32  `json:"decimals"`
}

// MarshalJSON 输出可读数值与原始整数。
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{
		Amount:   a.UI().String(),
		Raw:      a.raw.String(),
		Kind:     a.kind.String(),
		Decimals: a.decimals,
	})
}

// ParseKind 解析 Kind.String 的输出。
func ParseKind(s string) (Kind, error) {
	switch s {
	case "native":
		return KindNative, nil
	case "token":
		return KindToken, nil
	case "percent":
		return KindPercent, nil
	default:
		return 0, fmt.Errorf("amount: 未知数量类型 %q", s)
	}
}

// UnmarshalJSON 以 raw 字段恢复数量，amount 字段仅供阅读。
func (a *Amount) UnmarshalJSON(data []byte) error {
	var v amountJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Kind == "" || v.Kind == Kind(0).String() {
		*a = Amount{}
		return nil
	}
	kind, err := ParseKind(v.Kind)
	if err != nil {
		return err
	}
	raw, err := decimal.NewFromString(v.Raw)
	if err != nil {
		return fmt.Errorf("amount: 解析 raw 失败: %w", err)
	}
	*a = Amount{raw: raw.Truncate(0), kind: kind, decimals: v.Decimals}
	return nil
}
