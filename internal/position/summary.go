package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// Summary 为持仓的展示摘要。
type Summary struct {
	ID                string          `json:"id"`
	TokenAddress      string          `json:"token_address"`
	Status            Status          `json:"status"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	LastPrice         decimal.Decimal `json:"last_price"`
	PnLPercent        decimal.Decimal `json:"pnl_percent"`
	RemainingQuantity string          `json:"remaining_quantity"`
	ArmedRules        int             `json:"armed_rules"`
	PositionAgeHours  float64         `json:"position_age_hours"`
}

// Summarize 以给定价格生成摘要，价格为零时不计算盈亏。
func Summarize(p Position, lastPrice decimal.Decimal, now time.Time) Summary {
	s := Summary{
		ID:                p.ID,
		TokenAddress:      p.TokenAddress,
		Status:            p.Status,
		EntryPrice:        p.EntryPrice,
		LastPrice:         lastPrice,
		RemainingQuantity: p.RemainingQuantity.UI().String(),
		ArmedRules:        p.ArmedRules(),
		PositionAgeHours:  now.Sub(p.OpenedAt).Hours(),
	}
	if lastPrice.Sign() > 0 && p.EntryPrice.Sign() > 0 {
		s.PnLPercent = p.PnL(lastPrice).Round(2)
	}
	return s
}
