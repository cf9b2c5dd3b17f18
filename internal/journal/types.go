package journal

import (
	"time"

	"sol-trader/internal/account"
	"sol-trader/internal/execution"
	"sol-trader/internal/position"
)

// EventType 表示事件类型。
type EventType string

const (
	EventOrderExecuted      EventType = "order_executed"
	EventOrderFailed        EventType = "order_failed"
	EventPositionOpened     EventType = EventType(position.EventOpened)
	EventExitFired          EventType = EventType(position.EventExitFired)
	EventPositionClosed     EventType = EventType(position.EventClosed)
	EventStrategyFailed     EventType = EventType(position.EventStrategyFailed)
	EventEntryPending       EventType = EventType(position.EventEntryPending)
	EventPositionReconciled EventType = EventType(position.EventReconciled)
	EventStatus             EventType = "status"
	EventError              EventType = "error"
)

// Event 封装通用事件。
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ExecutionPayload 记录一次订单执行。
type ExecutionPayload struct {
	Report execution.Report `json:"report"`
}

// PositionPayload 记录持仓状态变化。
type PositionPayload struct {
	Position position.Position `json:"position"`
	Note     string            `json:"note,omitempty"`
}

// StatusPayload 为周期性的账户状态。
type StatusPayload struct {
	SOLBalance    string             `json:"sol_balance"`
	SOLPriceUSD   string             `json:"sol_price_usd,omitempty"`
	EquityUSD     string             `json:"equity_usd,omitempty"`
	Holdings      []account.Holding  `json:"holdings,omitempty"`
	OpenPositions []position.Summary `json:"open_positions,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
