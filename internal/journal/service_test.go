package journal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sol-trader/internal/amount"
	"sol-trader/internal/config"
	"sol-trader/internal/execution"
	"sol-trader/internal/position"
	"sol-trader/internal/store"
)

func newService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(context.Background(), st, nil)
	require.NoError(t, err)
	return svc
}

func rawPayload(t *testing.T, e Event) []byte {
	t.Helper()
	raw, ok := e.Payload.(json.RawMessage)
	require.True(t, ok, "payload must be raw json")
	return raw
}

func TestRecordExecution_SplitsByOutcome(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	order := execution.Order{
		Type:         execution.OrderBuy,
		TokenAddress: "token",
		Amount:       amount.NativeFromFloat(0.1),
		Slippage:     amount.PercentFromFloat(13),
	}

	require.NoError(t, svc.RecordExecution(ctx, execution.Report{
		Order: order, Signature: "sig", Outcome: execution.OutcomeConfirmed, Attempts: 2,
		FinalFee: amount.NativeFromFloat(0.0002), Finished: time.Now(),
	}))
	require.NoError(t, svc.RecordExecution(ctx, execution.Report{
		Order: order, Outcome: execution.OutcomeRetriesExhausted, Reason: "无可用路由", Finished: time.Now(),
	}))

	ok, err := svc.ListEvents(ctx, EventOrderExecuted, 10)
	require.NoError(t, err)
	require.Len(t, ok, 1)

	var payload struct {
		Report struct {
			Signature string `json:"signature"`
			Outcome   string `json:"outcome"`
			Attempts  int    `json:"attempts"`
			Order     struct {
				Type string `json:"type"`
			} `json:"order"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rawPayload(t, ok[0]), &payload))
	assert.Equal(t, "sig", payload.Report.Signature)
	assert.Equal(t, "confirmed", payload.Report.Outcome)
	assert.Equal(t, 2, payload.Report.Attempts)
	assert.Equal(t, "buy", payload.Report.Order.Type)

	failed, err := svc.ListEvents(ctx, EventOrderFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestRecordPosition(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p := position.Position{
		ID:           "pos-1",
		TokenAddress: "token",
		EntryPrice:   decimal.RequireFromString("0.00005"),
		Status:       position.StatusActive,
	}
	require.NoError(t, svc.RecordPosition(ctx, position.EventOpened, p, "entry-sig"))
	p.Status = position.StatusClosed
	require.NoError(t, svc.RecordPosition(ctx, position.EventClosed, p, ""))

	all, err := svc.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, EventPositionClosed, all[0].Type, "newest first")
	assert.Equal(t, EventPositionOpened, all[1].Type)
	assert.Greater(t, all[0].ID, all[1].ID)

	var payload struct {
		Position struct {
			ID string `json:"id"`
		} `json:"position"`
		Note string `json:"note"`
	}
	require.NoError(t, json.Unmarshal(rawPayload(t, all[1]), &payload))
	assert.Equal(t, "pos-1", payload.Position.ID)
	assert.Equal(t, "entry-sig", payload.Note)
}

func TestRecordErrorAndStatus(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	svc.RecordError(ctx, "刷新余额失败", errors.New("rpc down"), map[string]interface{}{"key": "owner"})
	svc.RecordStatus(ctx, StatusPayload{SOLBalance: "1.5"})

	errs, err := svc.ListEvents(ctx, EventError, 0)
	require.NoError(t, err)
	require.Len(t, errs, 1)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(rawPayload(t, errs[0]), &payload))
	assert.Equal(t, "rpc down", payload.Error)

	status, err := svc.ListEvents(ctx, EventStatus, 5)
	require.NoError(t, err)
	assert.Len(t, status, 1)
}

func TestListEvents_Limit(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		svc.RecordStatus(ctx, StatusPayload{SOLBalance: "1"})
	}
	events, err := svc.ListEvents(ctx, EventStatus, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
