package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sol-trader/internal/amount"
	"sol-trader/internal/confirm"
	"sol-trader/internal/jupiter"
	"sol-trader/internal/solana"
)

const (
	testOwner = "Owner1111111111111111111111111111111111111"
	testToken = "Token111111111111111111111111111111111111"
)

type mockQuotes struct {
	mu        sync.Mutex
	responses [][]byte
	requests  []jupiter.SwapRequest
}

func (m *mockQuotes) GetSwapTransaction(_ context.Context, req jupiter.SwapRequest) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return nil, nil
}

type mockChain struct {
	mu       sync.Mutex
	sendErrs []error
	sent     [][]byte
	detail   *solana.TransactionDetail
}

func (m *mockChain) SendTransaction(_ context.Context, signed []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.sent)
	m.sent = append(m.sent, signed)
	if idx < len(m.sendErrs) && m.sendErrs[idx] != nil {
		return "", m.sendErrs[idx]
	}
	return "", nil
}

func (m *mockChain) GetTransaction(context.Context, string) (*solana.TransactionDetail, error) {
	return m.detail, nil
}

type mockSigner struct {
	count int
}

func (m *mockSigner) PublicKey() string { return testOwner }

func (m *mockSigner) SignTransaction(unsigned []byte) ([]byte, string, error) {
	m.count++
	return append([]byte("signed:"), unsigned...), fmt.Sprintf("sig-%d", m.count), nil
}

type mockConfirmer struct {
	results []confirm.Result
	waited  []string
}

func (m *mockConfirmer) Await(_ context.Context, signature string, _ time.Duration) confirm.Result {
	m.waited = append(m.waited, signature)
	idx := len(m.waited) - 1
	if idx < len(m.results) {
		return m.results[idx]
	}
	return confirm.Result{Status: confirm.StatusConfirmed}
}

type mockRecorder struct {
	reports []Report
}

func (m *mockRecorder) RecordExecution(_ context.Context, r Report) error {
	m.reports = append(m.reports, r)
	return nil
}

type mockBalances struct {
	keys []string
}

func (m *mockBalances) Refresh(_ context.Context, key string) (amount.Amount, error) {
	m.keys = append(m.keys, key)
	return amount.Lamports(0), nil
}

type mockLauncher struct {
	launched []Order
	opened   []string
}

func (m *mockLauncher) Launch(_ context.Context, o Order) error {
	m.launched = append(m.launched, o)
	return nil
}

func (m *mockLauncher) Open(_ context.Context, _ Order, signature string) error {
	m.opened = append(m.opened, signature)
	return nil
}

type harness struct {
	quotes    *mockQuotes
	chain     *mockChain
	signer    *mockSigner
	confirmer *mockConfirmer
	recorder  *mockRecorder
	balances  *mockBalances
	exec      *Executor
}

func testOptions() Options {
	return Options{
		DefaultFee:        amount.NativeFromFloat(0.0001),
		FeeIncrement:      amount.NativeFromFloat(0.0001),
		MaxFee:            amount.NativeFromFloat(0.005),
		MaxRetries:        5,
		ResendCount:       1,
		ConfirmTimeout:    time.Second,
		SwapResultTimeout: 200 * time.Millisecond,
		SwapResultPoll:    10 * time.Millisecond,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		quotes:    &mockQuotes{},
		chain:     &mockChain{},
		signer:    &mockSigner{},
		confirmer: &mockConfirmer{},
		recorder:  &mockRecorder{},
		balances:  &mockBalances{},
	}
	exec, err := NewExecutor(Deps{
		Quotes:    h.quotes,
		Chain:     h.chain,
		Signer:    h.signer,
		Confirmer: h.confirmer,
		Balances:  h.balances,
		Recorder:  h.recorder,
	}, opts, nil)
	if err != nil {
		t.Fatalf("NewExecutor returned error: %v", err)
	}
	h.exec = exec
	return h
}

func buyOrder() Order {
	return Order{
		Type:         OrderBuy,
		TokenAddress: testToken,
		Amount:       amount.NativeFromFloat(0.1),
		Slippage:     amount.PercentFromFloat(13),
		Confirm:      true,
	}
}

func TestExecute_RetriesUntilRouteAvailable(t *testing.T) {
	h := newHarness(t, testOptions())
	h.quotes.responses = [][]byte{nil, nil, nil, []byte("tx")}

	sig, err := h.exec.Execute(context.Background(), buyOrder(), true)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sig != "sig-1" {
		t.Fatalf("expected sig-1, got %s", sig)
	}
	if len(h.quotes.requests) != 4 {
		t.Fatalf("expected 4 quote requests, got %d", len(h.quotes.requests))
	}
	wantFees := []uint64{100_000, 200_000, 300_000, 400_000}
	for i, req := range h.quotes.requests {
		if req.PriorityFeeLamports != wantFees[i] {
			t.Errorf("attempt %d: expected fee %d, got %d", i+1, wantFees[i], req.PriorityFeeLamports)
		}
	}
	req := h.quotes.requests[0]
	if req.InputMint != solana.NativeMint || req.OutputMint != testToken {
		t.Errorf("unexpected mints for buy: %s -> %s", req.InputMint, req.OutputMint)
	}
	if req.Amount != 100_000_000 {
		t.Errorf("expected 100000000 lamports, got %d", req.Amount)
	}
	if req.SlippageBps != 1300 {
		t.Errorf("expected 1300 bps, got %d", req.SlippageBps)
	}
	if len(h.recorder.reports) != 1 || h.recorder.reports[0].Outcome != OutcomeConfirmed {
		t.Fatalf("expected one confirmed report, got %+v", h.recorder.reports)
	}
	if h.recorder.reports[0].Attempts != 4 {
		t.Errorf("expected 4 attempts recorded, got %d", h.recorder.reports[0].Attempts)
	}
	if len(h.balances.keys) != 2 || h.balances.keys[0] != testOwner || h.balances.keys[1] != testToken {
		t.Errorf("expected owner and token refresh, got %v", h.balances.keys)
	}
}

func TestExecute_NoRouteNeverSubmits(t *testing.T) {
	h := newHarness(t, testOptions())

	sig, err := h.exec.Execute(context.Background(), buyOrder(), true)
	if !errors.Is(err, ErrNotExecuted) {
		t.Fatalf("expected ErrNotExecuted, got %v", err)
	}
	if sig != "" {
		t.Fatalf("expected no signature, got %s", sig)
	}
	if len(h.quotes.requests) != 6 {
		t.Fatalf("expected 6 quote requests, got %d", len(h.quotes.requests))
	}
	if len(h.chain.sent) != 0 {
		t.Fatalf("expected no submission, got %d", len(h.chain.sent))
	}
	if got := h.recorder.reports[0].Outcome; got != OutcomeRetriesExhausted {
		t.Errorf("expected retries_exhausted, got %s", got)
	}
	if len(h.balances.keys) != 0 {
		t.Errorf("balances must not refresh on failure")
	}
}

func TestExecute_ConfirmationTimeoutEscalatesFee(t *testing.T) {
	h := newHarness(t, testOptions())
	h.quotes.responses = [][]byte{[]byte("tx-a"), []byte("tx-b")}
	h.confirmer.results = []confirm.Result{
		{Status: confirm.StatusTimedOut, Reason: "deadline"},
		{Status: confirm.StatusConfirmed},
	}

	sig, err := h.exec.Execute(context.Background(), buyOrder(), true)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sig != "sig-2" {
		t.Fatalf("expected the second attempt's signature, got %s", sig)
	}
	if h.quotes.requests[1].PriorityFeeLamports <= h.quotes.requests[0].PriorityFeeLamports {
		t.Errorf("fee did not escalate: %d -> %d",
			h.quotes.requests[0].PriorityFeeLamports, h.quotes.requests[1].PriorityFeeLamports)
	}
	if len(h.confirmer.waited) != 2 || h.confirmer.waited[0] != "sig-1" {
		t.Errorf("unexpected confirmation calls: %v", h.confirmer.waited)
	}
}

func TestExecute_OnChainFailureWithoutRetry(t *testing.T) {
	h := newHarness(t, testOptions())
	h.quotes.responses = [][]byte{[]byte("tx-a"), []byte("tx-b")}
	h.confirmer.results = []confirm.Result{{Status: confirm.StatusFailed, Reason: "slippage"}}

	sig, err := h.exec.Execute(context.Background(), buyOrder(), false)
	if !errors.Is(err, ErrNotExecuted) {
		t.Fatalf("expected ErrNotExecuted, got %v", err)
	}
	if sig != "" {
		t.Fatalf("expected no signature, got %s", sig)
	}
	if len(h.quotes.requests) != 1 {
		t.Fatalf("expected single attempt, got %d", len(h.quotes.requests))
	}
	if got := h.recorder.reports[0].Outcome; got != OutcomeOnChainFailure {
		t.Errorf("expected on_chain_failure, got %s", got)
	}
}

func TestExecute_FeeCapStopsRetries(t *testing.T) {
	opts := testOptions()
	opts.DefaultFee = amount.NativeFromFloat(0.01)
	h := newHarness(t, opts)

	_, err := h.exec.Execute(context.Background(), buyOrder(), true)
	if !errors.Is(err, ErrNotExecuted) {
		t.Fatalf("expected ErrNotExecuted, got %v", err)
	}
	if len(h.quotes.requests) != 1 {
		t.Fatalf("expected single attempt at the cap, got %d", len(h.quotes.requests))
	}
	if h.quotes.requests[0].PriorityFeeLamports != 5_000_000 {
		t.Errorf("start fee must be clamped to cap, got %d", h.quotes.requests[0].PriorityFeeLamports)
	}
	if got := h.recorder.reports[0].Outcome; got != OutcomeFeeCapExceeded {
		t.Errorf("expected fee_cap_exceeded, got %s", got)
	}
}

func TestExecute_ResendsSameSignedTransaction(t *testing.T) {
	opts := testOptions()
	opts.ResendCount = 3
	h := newHarness(t, opts)
	h.quotes.responses = [][]byte{[]byte("tx")}
	h.chain.sendErrs = []error{errors.New("connection reset"), nil, nil}

	sig, err := h.exec.Execute(context.Background(), buyOrder(), true)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sig != "sig-1" {
		t.Fatalf("expected sig-1, got %s", sig)
	}
	if len(h.chain.sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(h.chain.sent))
	}
	for i, raw := range h.chain.sent {
		if string(raw) != "signed:tx" {
			t.Errorf("send %d carried %q", i, raw)
		}
	}
	if h.signer.count != 1 {
		t.Errorf("resends must not re-sign, signed %d times", h.signer.count)
	}
}

func TestExecute_AllSendsFailSkipsConfirmation(t *testing.T) {
	opts := testOptions()
	opts.ResendCount = 2
	h := newHarness(t, opts)
	h.quotes.responses = [][]byte{[]byte("tx")}
	h.chain.sendErrs = []error{errors.New("timeout"), errors.New("timeout")}

	_, err := h.exec.Execute(context.Background(), buyOrder(), false)
	if !errors.Is(err, ErrNotExecuted) {
		t.Fatalf("expected ErrNotExecuted, got %v", err)
	}
	if len(h.confirmer.waited) != 0 {
		t.Fatalf("confirmation must be skipped without an ack")
	}
	if got := h.recorder.reports[0].Outcome; got != OutcomeTransportError {
		t.Errorf("expected transport_error, got %s", got)
	}
}

func TestExecute_SubmittedWithoutConfirm(t *testing.T) {
	h := newHarness(t, testOptions())
	h.quotes.responses = [][]byte{[]byte("tx")}
	order := buyOrder()
	order.Confirm = false

	sig, err := h.exec.Execute(context.Background(), order, true)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sig != "sig-1" || len(h.confirmer.waited) != 0 {
		t.Fatalf("expected bare submission, sig=%s waited=%v", sig, h.confirmer.waited)
	}
	if got := h.recorder.reports[0].Outcome; got != OutcomeSubmitted {
		t.Errorf("expected submitted, got %s", got)
	}
}

func TestExecute_SellSwapsDirection(t *testing.T) {
	h := newHarness(t, testOptions())
	h.quotes.responses = [][]byte{[]byte("tx")}
	fee := amount.NativeFromFloat(0.0002)
	order := Order{
		Type:         OrderSell,
		TokenAddress: testToken,
		Amount:       amount.Tokens(decimal.NewFromInt(1500), 6),
		Slippage:     amount.PercentFromFloat(5),
		PriorityFee:  &fee,
		Confirm:      true,
	}

	if _, err := h.exec.Execute(context.Background(), order, true); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	req := h.quotes.requests[0]
	if req.InputMint != testToken || req.OutputMint != solana.NativeMint {
		t.Errorf("unexpected mints for sell: %s -> %s", req.InputMint, req.OutputMint)
	}
	if req.Amount != 1_500_000_000 {
		t.Errorf("expected raw token amount 1500000000, got %d", req.Amount)
	}
	if req.PriorityFeeLamports != 200_000 {
		t.Errorf("expected explicit fee 200000, got %d", req.PriorityFeeLamports)
	}
}

func TestExecute_StrategyOrderDelegates(t *testing.T) {
	h := newHarness(t, testOptions())
	launcher := &mockLauncher{}
	order := buyOrder()
	order.Type = OrderLimitStop
	order.ExitRules = []ExitRule{{TriggerAt: amount.PercentFromFloat(600), Allocation: amount.PercentFromFloat(100)}}

	if _, err := h.exec.Execute(context.Background(), order, true); !errors.Is(err, ErrNoLauncher) {
		t.Fatalf("expected ErrNoLauncher, got %v", err)
	}

	h.exec.SetLauncher(launcher)
	sig, err := h.exec.Execute(context.Background(), order, true)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sig != "" {
		t.Errorf("strategy orders return no signature, got %s", sig)
	}
	if len(launcher.launched) != 1 || len(h.quotes.requests) != 0 {
		t.Fatalf("expected delegation without quoting, launched=%d quotes=%d",
			len(launcher.launched), len(h.quotes.requests))
	}
}

func TestExecute_BuyWithExitRulesOpensPosition(t *testing.T) {
	h := newHarness(t, testOptions())
	launcher := &mockLauncher{}
	h.exec.SetLauncher(launcher)
	h.quotes.responses = [][]byte{[]byte("tx")}
	order := buyOrder()
	order.ExitRules = []ExitRule{
		{TriggerAt: amount.PercentFromFloat(600), Allocation: amount.PercentFromFloat(100)},
		{TriggerAt: amount.PercentFromFloat(-15), Allocation: amount.PercentFromFloat(100)},
	}

	sig, err := h.exec.Execute(context.Background(), order, true)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sig != "sig-1" {
		t.Fatalf("expected sig-1, got %s", sig)
	}
	if len(launcher.opened) != 1 || launcher.opened[0] != "sig-1" {
		t.Fatalf("expected confirmed signature handed over once, got %v", launcher.opened)
	}
}

func TestFetchSwapResult_BuyDelta(t *testing.T) {
	h := newHarness(t, testOptions())
	h.chain.detail = &solana.TransactionDetail{
		Signature:    "sig-1",
		AccountKeys:  []string{testOwner, "Ata1111111111111111111111111111111111111111"},
		PreBalances:  []uint64{2_000_000_000, 0},
		PostBalances: []uint64{1_899_000_000, 2_039_280},
		PostTokenBalances: []solana.TokenBalance{{
			AccountIndex: 1,
			Mint:         testToken,
			Owner:        testOwner,
			Amount:       solana.TokenAmount{Raw: decimal.NewFromInt(1_000_000_000), Decimals: 6},
		}},
	}

	res, err := h.exec.FetchSwapResult(context.Background(), "sig-1", testToken)
	if err != nil {
		t.Fatalf("FetchSwapResult returned error: %v", err)
	}
	if !res.IsBuy() {
		t.Errorf("expected buy result")
	}
	if res.PayerTokenAccount != "Ata1111111111111111111111111111111111111111" {
		t.Errorf("unexpected token account %s", res.PayerTokenAccount)
	}
	price, err := res.EntryPrice()
	if err != nil {
		t.Fatalf("EntryPrice returned error: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("0.000101")) {
		t.Errorf("expected entry price 0.000101, got %s", price)
	}
}

func TestExecute_ReportsEverySubmittedAttempt(t *testing.T) {
	h := newHarness(t, testOptions())
	h.quotes.responses = [][]byte{[]byte("tx1"), []byte("tx2")}
	h.confirmer.results = []confirm.Result{{Status: confirm.StatusTimedOut, Reason: "slow"}}

	var submitted []string
	order := buyOrder()
	order.OnSubmitted = func(signature string) { submitted = append(submitted, signature) }

	sig, err := h.exec.Execute(context.Background(), order, true)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sig != "sig-2" {
		t.Fatalf("expected sig-2, got %s", sig)
	}
	if len(submitted) != 2 || submitted[0] != "sig-1" || submitted[1] != "sig-2" {
		t.Fatalf("expected both attempts reported, got %v", submitted)
	}
}

func TestExecute_UnsentAttemptNotReported(t *testing.T) {
	h := newHarness(t, testOptions())
	h.quotes.responses = [][]byte{[]byte("tx")}
	h.chain.sendErrs = []error{errors.New("node down")}

	called := false
	order := buyOrder()
	order.OnSubmitted = func(string) { called = true }

	if _, err := h.exec.Execute(context.Background(), order, false); !errors.Is(err, ErrNotExecuted) {
		t.Fatalf("expected ErrNotExecuted, got %v", err)
	}
	if called {
		t.Errorf("attempt without acks must not be reported")
	}
}

func TestExecute_InvalidOrderRejected(t *testing.T) {
	h := newHarness(t, testOptions())
	order := buyOrder()
	order.Amount = amount.Tokens(decimal.NewFromInt(1), 6)

	if _, err := h.exec.Execute(context.Background(), order, true); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if len(h.quotes.requests) != 0 {
		t.Fatalf("invalid orders must not be quoted")
	}
}

func TestExecute_CancelledContextStops(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.exec.Execute(ctx, buyOrder(), true)
	if !errors.Is(err, ErrNotExecuted) {
		t.Fatalf("expected ErrNotExecuted, got %v", err)
	}
	if len(h.quotes.requests) != 0 {
		t.Fatalf("cancelled execution must not quote")
	}
	if got := h.recorder.reports[0].Outcome; got != OutcomeCancelled {
		t.Errorf("expected cancelled, got %s", got)
	}
}

func TestFeeSchedule_Properties(t *testing.T) {
	cases := []struct {
		start, inc, limit float64
		retries         int
	}{
		{0.0001, 0.0001, 0.005, 5},
		{0.0001, 0.002, 0.005, 10},
		{0.01, 0.001, 0.005, 3},
		{0.0001, 0, 0.005, 4},
		{0, 0.0001, 0.0003, 10},
	}
	for _, tc := range cases {
		maxFee := amount.NativeFromFloat(tc.limit)
		schedule, err := FeeSchedule(amount.NativeFromFloat(tc.start), amount.NativeFromFloat(tc.inc), maxFee, tc.retries)
		if err != nil {
			t.Fatalf("FeeSchedule returned error: %v", err)
		}
		if len(schedule) == 0 || len(schedule) > tc.retries+1 {
			t.Errorf("%+v: schedule length %d out of range", tc, len(schedule))
		}
		for i, fee := range schedule {
			if c, _ := fee.Cmp(maxFee); c > 0 {
				t.Errorf("%+v: fee %s exceeds cap", tc, fee)
			}
			if i > 0 {
				if c, _ := fee.Cmp(schedule[i-1]); c < 0 {
					t.Errorf("%+v: fee decreased at %d", tc, i)
				}
			}
		}
	}
}

func TestFeeSchedule_StopsAtCap(t *testing.T) {
	schedule, err := FeeSchedule(
		amount.NativeFromFloat(0.001),
		amount.NativeFromFloat(0.002),
		amount.NativeFromFloat(0.004),
		10,
	)
	if err != nil {
		t.Fatalf("FeeSchedule returned error: %v", err)
	}
	want := []string{"0.001", "0.003", "0.004"}
	if len(schedule) != len(want) {
		t.Fatalf("expected %d fees, got %v", len(want), schedule)
	}
	for i, fee := range schedule {
		if fee.UI().String() != want[i] {
			t.Errorf("fee %d: expected %s, got %s", i, want[i], fee.UI())
		}
	}
}

func TestFeeSchedule_KindMismatch(t *testing.T) {
	_, err := FeeSchedule(amount.NativeFromFloat(0.001), amount.PercentFromFloat(1), amount.NativeFromFloat(0.01), 3)
	if !errors.Is(err, amount.ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
}

func TestValidateExitRules(t *testing.T) {
	pct := amount.PercentFromFloat
	valid := []ExitRule{
		{TriggerAt: pct(50), Allocation: pct(50)},
		{TriggerAt: pct(100), Allocation: pct(50)},
		{TriggerAt: pct(-15), Allocation: pct(100)},
	}
	if err := ValidateExitRules(valid); err != nil {
		t.Fatalf("expected valid rules, got %v", err)
	}

	overProfit := []ExitRule{
		{TriggerAt: pct(50), Allocation: pct(60)},
		{TriggerAt: pct(100), Allocation: pct(50)},
	}
	if err := ValidateExitRules(overProfit); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder for profit over 100%%, got %v", err)
	}

	wrongKind := []ExitRule{{TriggerAt: amount.NativeFromFloat(1), Allocation: pct(10)}}
	if err := ValidateExitRules(wrongKind); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder for non-percent trigger, got %v", err)
	}

	zeroAlloc := []ExitRule{{TriggerAt: pct(10), Allocation: pct(0)}}
	if err := ValidateExitRules(zeroAlloc); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder for zero allocation, got %v", err)
	}
}

func TestExitRuleFires(t *testing.T) {
	profit := ExitRule{TriggerAt: amount.PercentFromFloat(600), Allocation: amount.PercentFromFloat(100)}
	stop := ExitRule{TriggerAt: amount.PercentFromFloat(-15), Allocation: amount.PercentFromFloat(100)}

	if !profit.Fires(decimal.NewFromInt(600)) || profit.Fires(decimal.NewFromInt(599)) {
		t.Errorf("profit rule must fire at pnl >= 600")
	}
	if !stop.Fires(decimal.NewFromInt(-15)) || stop.Fires(decimal.NewFromInt(-14)) {
		t.Errorf("stop rule must fire at pnl <= -15")
	}
}

func TestParseOrderType(t *testing.T) {
	for in, want := range map[string]OrderType{
		"buy":        OrderBuy,
		"SELL":       OrderSell,
		"limit_stop": OrderLimitStop,
		"dip_buy":    OrderDipBuy,
	} {
		got, err := ParseOrderType(in)
		if err != nil || got != want {
			t.Errorf("ParseOrderType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseOrderType("short"); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}
}
