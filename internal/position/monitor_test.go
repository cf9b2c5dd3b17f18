package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sol-trader/internal/amount"
	"sol-trader/internal/config"
	"sol-trader/internal/execution"
	"sol-trader/internal/store"
)

type fakeExecutor struct {
	mu         sync.Mutex
	orders     []execution.Order
	sellErrs   []error
	sells      int
	blockSells bool
	fetchErrs  int
	fetches    int
	result     execution.SwapResult
	results    map[string]execution.SwapResult
}

func (f *fakeExecutor) Execute(ctx context.Context, order execution.Order, _ bool) (string, error) {
	f.mu.Lock()
	f.orders = append(f.orders, order)
	sig := fmt.Sprintf("sig-%d", len(f.orders))
	var sellErr error
	if order.Type == execution.OrderSell {
		idx := f.sells
		f.sells++
		if idx < len(f.sellErrs) {
			sellErr = f.sellErrs[idx]
		}
	}
	block := f.blockSells && order.Type == execution.OrderSell
	f.mu.Unlock()

	if sellErr != nil {
		return "", sellErr
	}
	if order.OnSubmitted != nil {
		order.OnSubmitted(sig)
	}
	if block {
		<-ctx.Done()
		return "", execution.ErrNotExecuted
	}
	return sig, nil
}

func (f *fakeExecutor) FetchSwapResult(_ context.Context, signature, _ string) (execution.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErrs > 0 {
		f.fetchErrs--
		return execution.SwapResult{}, errors.New("transaction not found")
	}
	r, ok := f.results[signature]
	if !ok {
		r = f.result
	}
	r.Signature = signature
	return r, nil
}

func (f *fakeExecutor) ordersOf(t execution.OrderType) []execution.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []execution.Order
	for _, o := range f.orders {
		if o.Type == t {
			out = append(out, o)
		}
	}
	return out
}

type fakePrices struct {
	mu     sync.Mutex
	prices []string
	idx    int
	calls  int
}

func (f *fakePrices) GetPrice(context.Context, string) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.prices) == 0 {
		return decimal.Zero, false, nil
	}
	p := f.prices[f.idx]
	if f.idx < len(f.prices)-1 {
		f.idx++
	}
	if p == "" {
		return decimal.Zero, false, nil
	}
	return decimal.RequireFromString(p), true, nil
}

func (f *fakePrices) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeJournal struct {
	mu        sync.Mutex
	events    []Event
	positions []Position
}

func (f *fakeJournal) RecordPosition(_ context.Context, event Event, p Position, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.positions = append(f.positions, p)
	return nil
}

func (f *fakeJournal) list() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func (f *fakeJournal) count(event Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

// last 返回最近一次该事件记录的持仓。
func (f *fakeJournal) last(event Event) (Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i] == event {
			return f.positions[i], true
		}
	}
	return Position{}, false
}

type fakeBalances struct {
	mu  sync.Mutex
	bal amount.Amount
	err error
}

func (f *fakeBalances) Balance(context.Context, string) (amount.Amount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bal, f.err
}

type monitorHarness struct {
	exec    *fakeExecutor
	prices  *fakePrices
	journal *fakeJournal
	monitor *Monitor
	cancel  context.CancelFunc
}

func newMonitorHarness(t *testing.T, prices []string, st Store, opts ...func(*Deps)) *monitorHarness {
	t.Helper()
	h := &monitorHarness{
		exec:    &fakeExecutor{result: entryResult()},
		prices:  &fakePrices{prices: prices},
		journal: &fakeJournal{},
	}
	deps := Deps{
		Executor: h.exec,
		Prices:   h.prices,
		Store:    st,
		Journal:  h.journal,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	m, err := NewMonitor(deps, Options{Interval: 5 * time.Millisecond, PriceTimeout: time.Second, EMAPeriod: 3}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	h.monitor = m
	h.cancel = cancel
	t.Cleanup(func() {
		cancel()
		_ = m.Wait()
	})
	return h
}

func TestMonitor_ProfitRuleClosesPosition(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.0001", "0.0002", "0.00035"}, nil)

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(600, 100, -15, 100)), "entry-sig"))

	require.Eventually(t, func() bool { return h.journal.count(EventClosed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.monitor.OpenPositions())

	sells := h.exec.ordersOf(execution.OrderSell)
	require.Len(t, sells, 1)
	assert.Equal(t, "1000000", sells[0].Amount.UI().String())
	assert.True(t, sells[0].Confirm)
	assert.Equal(t, "13%", sells[0].Slippage.String())

	assert.Equal(t, []Event{EventOpened, EventExitFired, EventClosed}, h.journal.list())
}

func TestMonitor_StopLossFires(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.00005", "0.00004"}, nil)

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(600, 100, -15, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return h.journal.count(EventClosed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.monitor.OpenPositions())
	require.Len(t, h.exec.ordersOf(execution.OrderSell), 1)
}

func TestMonitor_FailedExitStaysArmed(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.0001"}, nil)
	h.exec.sellErrs = []error{execution.ErrNotExecuted, execution.ErrNotExecuted}

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(50, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return h.journal.count(EventClosed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.monitor.OpenPositions())

	sells := h.exec.ordersOf(execution.OrderSell)
	require.Len(t, sells, 3)
	for _, s := range sells {
		assert.Equal(t, "1000000", s.Amount.UI().String())
	}
	assert.Equal(t, []Event{EventOpened, EventExitFired, EventClosed}, h.journal.list())
}

func TestMonitor_RulesFireInOrderWithinCycle(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.000125"}, nil)

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(50, 30, 100, 30, 200, 100)), "entry-sig"))

	require.Eventually(t, func() bool { return h.journal.count(EventExitFired) == 2 }, 2*time.Second, 5*time.Millisecond)

	positions := h.monitor.OpenPositions()
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, StatusPartiallyExited, p.Status)
	assert.False(t, p.Rules[0].Armed)
	assert.False(t, p.Rules[1].Armed)
	assert.True(t, p.Rules[2].Armed)
	assert.Equal(t, "400000", p.RemainingQuantity.UI().String())

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, h.exec.ordersOf(execution.OrderSell), 2, "disarmed rules never fire again")
}

func TestMonitor_UnavailablePriceSkipsCycle(t *testing.T) {
	h := newMonitorHarness(t, []string{"", "", ""}, nil)

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(-15, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return h.prices.callCount() >= 5 }, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, h.exec.ordersOf(execution.OrderSell))
	assert.Len(t, h.monitor.OpenPositions(), 1)
}

func TestMonitor_NoArmedRulesStaysActive(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.001"}, nil)

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(nil), "entry-sig"))
	require.Eventually(t, func() bool { return h.prices.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)

	positions := h.monitor.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, StatusActive, positions[0].Status)
}

func TestMonitor_LaunchLimitStopBuysFirst(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.00005"}, nil)

	order := entryOrder(rules(600, 100))
	order.Type = execution.OrderLimitStop
	require.NoError(t, h.monitor.Launch(context.Background(), order))

	require.Eventually(t, func() bool { return len(h.monitor.OpenPositions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	buys := h.exec.ordersOf(execution.OrderBuy)
	require.Len(t, buys, 1)
	assert.Empty(t, buys[0].ExitRules)
	assert.Equal(t, "50 SOL", buys[0].Amount.String())

	p := h.monitor.OpenPositions()[0]
	assert.Equal(t, "sig-1", p.EntrySignature)
	assert.Equal(t, 1, p.ArmedRules())
}

func TestMonitor_DipBuyWaitsForDip(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.0001", "0.0001", "0.0001", "0.0001", "0.00007", "0.00007"}, nil)

	order := entryOrder(rules(600, 100))
	order.Type = execution.OrderDipBuy
	order.DipPercent = pct(10)
	require.NoError(t, h.monitor.Launch(context.Background(), order))

	require.Eventually(t, func() bool { return len(h.exec.ordersOf(execution.OrderBuy)) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, h.prices.callCount(), 5)
	require.Eventually(t, func() bool { return len(h.monitor.OpenPositions()) == 1 }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, h.exec.ordersOf(execution.OrderBuy), 1, "dip buy enters once")
}

func TestMonitor_RejectsPlainOrders(t *testing.T) {
	h := newMonitorHarness(t, nil, nil)
	err := h.monitor.Launch(context.Background(), entryOrder(nil))
	assert.ErrorIs(t, err, execution.ErrInvalidOrder)
}

func TestMonitor_NotStarted(t *testing.T) {
	m, err := NewMonitor(Deps{Executor: &fakeExecutor{}, Prices: &fakePrices{}}, Options{}, nil)
	require.NoError(t, err)
	err = m.Open(context.Background(), entryOrder(nil), "entry-sig")
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestMonitor_RestoreFromStore(t *testing.T) {
	st := newTestStore(t)

	first := newMonitorHarness(t, []string{"0.000075"}, st)
	require.NoError(t, first.monitor.Open(context.Background(), entryOrder(rules(50, 40, 500, 60)), "entry-sig"))
	require.Eventually(t, func() bool {
		ps := first.monitor.OpenPositions()
		return len(ps) == 1 && ps[0].Status == StatusPartiallyExited
	}, 2*time.Second, 5*time.Millisecond)
	first.cancel()
	require.NoError(t, first.monitor.Wait())

	id := first.monitor.OpenPositions()[0].ID
	n, err := st.ExitCount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second := newMonitorHarness(t, []string{"0.0003"}, st)
	restored, err := second.monitor.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	p, err := second.monitor.Position(id)
	require.NoError(t, err)
	assert.Equal(t, "600000", p.RemainingQuantity.UI().String())
	assert.False(t, p.Rules[0].Armed)

	require.Eventually(t, func() bool { return len(second.monitor.OpenPositions()) == 0 }, 2*time.Second, 5*time.Millisecond)
	sells := second.exec.ordersOf(execution.OrderSell)
	require.Len(t, sells, 1)
	assert.Equal(t, "600000", sells[0].Amount.UI().String())

	open, err := st.LoadOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = second.monitor.Position(id)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestMonitor_OpenRetriesEntryResultWithoutBuying(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.00005"}, nil)
	h.exec.fetchErrs = 2

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(600, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return len(h.monitor.OpenPositions()) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, h.exec.ordersOf(execution.OrderBuy))
	p := h.monitor.OpenPositions()[0]
	assert.Equal(t, "entry-sig", p.EntrySignature)
	assert.Equal(t, []Event{EventEntryPending, EventOpened}, h.journal.list())
}

func TestMonitor_OpenRejectsMissingSignature(t *testing.T) {
	h := newMonitorHarness(t, nil, nil)
	assert.Error(t, h.monitor.Open(context.Background(), entryOrder(nil), ""))
}

func TestMonitor_DipBuyEntersOnceWhenResultLags(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.0001", "0.0001", "0.0001", "0.0001", "0.00007", "0.00007", "0.00007", "0.00007"}, nil)
	h.exec.fetchErrs = 1

	order := entryOrder(rules(600, 100))
	order.Type = execution.OrderDipBuy
	order.DipPercent = pct(10)
	require.NoError(t, h.monitor.Launch(context.Background(), order))

	require.Eventually(t, func() bool { return len(h.monitor.OpenPositions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	buys := h.exec.ordersOf(execution.OrderBuy)
	require.Len(t, buys, 1, "a confirmed entry is never bought again")
	p := h.monitor.OpenPositions()[0]
	assert.Equal(t, "sig-1", p.EntrySignature)
	assert.Equal(t, 1, h.journal.count(EventEntryPending))
	assert.Equal(t, 1, h.journal.count(EventOpened))
}

func TestMonitor_UnusableEntryResultStopsStrategy(t *testing.T) {
	h := newMonitorHarness(t, []string{"0.00005"}, nil)
	h.exec.result = execution.SwapResult{
		NativeDiff: amount.Lamports(50_000_000_000),
		TokenDiff:  amount.Tokens(decimal.NewFromInt(-1_000_000), 6),
	}

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(600, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return h.journal.count(EventStrategyFailed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.monitor.OpenPositions())
}

func TestMonitor_ZeroWalletBalanceStillSells(t *testing.T) {
	bal := &fakeBalances{bal: amount.Tokens(decimal.Zero, 6)}
	h := newMonitorHarness(t, []string{"0.00004"}, nil, func(d *Deps) { d.Balances = bal })

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(-15, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return h.journal.count(EventClosed) == 1 }, 2*time.Second, 5*time.Millisecond)

	sells := h.exec.ordersOf(execution.OrderSell)
	require.Len(t, sells, 1)
	assert.Equal(t, "1000000", sells[0].Amount.UI().String())
	assert.Zero(t, h.journal.count(EventReconciled))
}

func TestMonitor_WalletErrorStillSells(t *testing.T) {
	bal := &fakeBalances{err: errors.New("rpc down")}
	h := newMonitorHarness(t, []string{"0.00004"}, nil, func(d *Deps) { d.Balances = bal })

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(-15, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return h.journal.count(EventClosed) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, h.exec.ordersOf(execution.OrderSell), 1)
}

func TestMonitor_LowerWalletBalanceReconcilesPosition(t *testing.T) {
	bal := &fakeBalances{bal: amount.Tokens(decimal.NewFromInt(800_000), 6)}
	h := newMonitorHarness(t, []string{"0.000075"}, nil, func(d *Deps) { d.Balances = bal })

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(50, 30, 500, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return h.journal.count(EventExitFired) == 1 }, 2*time.Second, 5*time.Millisecond)

	sells := h.exec.ordersOf(execution.OrderSell)
	require.Len(t, sells, 1)
	assert.Equal(t, "300000", sells[0].Amount.UI().String())

	positions := h.monitor.OpenPositions()
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, StatusPartiallyExited, p.Status)
	assert.Equal(t, "500000", p.RemainingQuantity.UI().String())
	assert.Equal(t, "300000", p.ExitedQuantity.UI().String())
	assert.Equal(t, "200000", p.WrittenOffQuantity.UI().String())
	assert.True(t, p.Rules[1].Armed, "later rules still manage what the wallet holds")

	reconciled, ok := h.journal.last(EventReconciled)
	require.True(t, ok)
	assert.Equal(t, "800000", reconciled.RemainingQuantity.UI().String())
	assert.Equal(t, []Event{EventOpened, EventReconciled, EventExitFired}, h.journal.list())
}

func TestMonitor_WalletShortfallClosesOnFullAllocation(t *testing.T) {
	bal := &fakeBalances{bal: amount.Tokens(decimal.NewFromInt(400_000), 6)}
	h := newMonitorHarness(t, []string{"0.00004"}, nil, func(d *Deps) { d.Balances = bal })

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(-15, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return h.journal.count(EventClosed) == 1 }, 2*time.Second, 5*time.Millisecond)

	sells := h.exec.ordersOf(execution.OrderSell)
	require.Len(t, sells, 1)
	assert.Equal(t, "400000", sells[0].Amount.UI().String())

	closed, ok := h.journal.last(EventClosed)
	require.True(t, ok)
	assert.True(t, closed.RemainingQuantity.IsZero())
	assert.Equal(t, "600000", closed.WrittenOffQuantity.UI().String())
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st, err := NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)
	return st
}

func TestMonitor_InterruptedExitKeepsPendingSignature(t *testing.T) {
	st := newTestStore(t)
	h := newMonitorHarness(t, []string{"0.00004"}, st)
	h.exec.blockSells = true

	require.NoError(t, h.monitor.Open(context.Background(), entryOrder(rules(-15, 100)), "entry-sig"))
	require.Eventually(t, func() bool { return len(h.exec.ordersOf(execution.OrderSell)) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		open, err := st.LoadOpen(context.Background())
		return err == nil && len(open) == 1 && len(open[0].Rules[0].PendingSignatures) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.cancel()
	require.NoError(t, h.monitor.Wait())

	open, err := st.LoadOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Rules[0].Armed)
	assert.Equal(t, []string{"sig-1"}, open[0].Rules[0].PendingSignatures)
}

func TestMonitor_RestoreSettlesLandedExit(t *testing.T) {
	st := newTestStore(t)
	p, err := NewPosition(entryOrder(rules(-15, 100)), entryResult())
	require.NoError(t, err)
	p.Rules[0].PendingSignatures = []string{"lost-sig", "landed-sig"}
	require.NoError(t, st.Save(context.Background(), *p))

	h := newMonitorHarness(t, []string{"0.00005"}, st)
	h.exec.results = map[string]execution.SwapResult{
		"landed-sig": {
			NativeDiff: amount.Lamports(40_000_000_000),
			TokenDiff:  amount.Tokens(decimal.NewFromInt(-1_000_000), 6),
		},
	}
	restored, err := h.monitor.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	require.Eventually(t, func() bool { return h.journal.count(EventClosed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.exec.ordersOf(execution.OrderSell), "a landed exit is recorded, not sold again")

	closed, ok := h.journal.last(EventClosed)
	require.True(t, ok)
	assert.Equal(t, "landed-sig", closed.Rules[0].ExitSignature)
	assert.Empty(t, closed.Rules[0].PendingSignatures)

	open, err := st.LoadOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMonitor_RestoreRearmsUnlandedExit(t *testing.T) {
	st := newTestStore(t)
	p, err := NewPosition(entryOrder(rules(-15, 100)), entryResult())
	require.NoError(t, err)
	p.Rules[0].PendingSignatures = []string{"lost-sig"}
	require.NoError(t, st.Save(context.Background(), *p))

	h := newMonitorHarness(t, []string{"0.00005"}, st)
	h.exec.fetchErrs = 1
	_, err = h.monitor.Restore(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := h.monitor.Position(p.ID)
		return err == nil && len(got.Rules[0].PendingSignatures) == 0
	}, 2*time.Second, 5*time.Millisecond)

	got, err := h.monitor.Position(p.ID)
	require.NoError(t, err)
	assert.True(t, got.Rules[0].Armed)
	assert.Equal(t, StatusActive, got.Status)

	open, err := st.LoadOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Empty(t, open[0].Rules[0].PendingSignatures)
}
