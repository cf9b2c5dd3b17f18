package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sol-trader/internal/amount"
	"sol-trader/internal/config"
	"sol-trader/internal/execution"
	"sol-trader/internal/journal"
	"sol-trader/internal/position"
)

type orderExecutor interface {
	Execute(ctx context.Context, order execution.Order, retryUntilSuccessful bool) (string, error)
}

type positionLister interface {
	OpenPositions() []position.Position
}

type eventLister interface {
	ListEvents(ctx context.Context, eventType journal.EventType, limit int) ([]journal.Event, error)
}

type balanceReader interface {
	Balance(ctx context.Context, key string) (amount.Amount, error)
	SellQuantity(ctx context.Context, token string, percent amount.Amount) (amount.Amount, error)
}

type priceReader interface {
	GetPrice(ctx context.Context, mint string) (decimal.Decimal, bool, error)
}

// server 提供持仓、事件与余额查询，以及下单入口。
type server struct {
	// ctx 为应用生命周期，订单在其上执行
	ctx       context.Context
	executor  orderExecutor
	positions positionLister
	events    eventLister
	balances  balanceReader
	prices    priceReader
	trade     config.TradeConfig
	strategy  config.StrategyConfig
	logger    *zap.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /balances/{address}", s.handleBalance)
	mux.HandleFunc("POST /orders", s.handleOrder)
	return mux
}

func (s *server) handlePositions(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	positions := s.positions.OpenPositions()
	out := make([]position.Summary, 0, len(positions))
	for _, p := range positions {
		last := decimal.Zero
		if price, ok, err := s.prices.GetPrice(r.Context(), p.TokenAddress); err == nil && ok {
			last = price
		}
		out = append(out, position.Summarize(p, last, now))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	eventType := journal.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = journal.EventType(strings.ToLower(typ))
	}

	events, err := s.events.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	bal, err := s.balances.Balance(r.Context(), address)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"balance": bal,
	})
}

type exitRuleRequest struct {
	TriggerAt  float64 `json:"trigger_at"`
	Allocation float64 `json:"allocation"`
}

// orderRequest 为下单请求，未填写的字段使用配置默认值。
// 卖出可用 sell_amount（代币数量）或 sell_percent（钱包余额百分比）。
type orderRequest struct {
	Type            string            `json:"type"`
	Token           string            `json:"token"`
	AmountSOL       *float64          `json:"amount_sol"`
	SellAmount      *float64          `json:"sell_amount"`
	SellPercent     *float64          `json:"sell_percent"`
	SlippagePercent *float64          `json:"slippage_percent"`
	PriorityFeeSOL  *float64          `json:"priority_fee_sol"`
	Confirm         *bool             `json:"confirm"`
	Retry           bool              `json:"retry"`
	ExitRules       []exitRuleRequest `json:"exit_rules"`
	DipPercent      *float64          `json:"dip_percent"`
}

type orderResponse struct {
	Signature string `json:"signature,omitempty"`
	Accepted  bool   `json:"accepted"`
}

func (s *server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("请求体无效: %w", err))
		return
	}

	order, err := s.buildOrder(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	signature, err := s.executor.Execute(s.orderContext(r), order, req.Retry)
	switch {
	case errors.Is(err, execution.ErrInvalidOrder):
		s.writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.writeError(w, http.StatusUnprocessableEntity, err)
	case order.Type.IsStrategy():
		s.writeJSON(w, http.StatusAccepted, orderResponse{Accepted: true})
	default:
		s.writeJSON(w, http.StatusOK, orderResponse{Signature: signature, Accepted: true})
	}
}

// orderContext 返回与请求解绑的执行上下文，客户端断开后交易确认与建仓继续进行。
func (s *server) orderContext(r *http.Request) context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.WithoutCancel(r.Context())
}

func (s *server) buildOrder(ctx context.Context, req orderRequest) (execution.Order, error) {
	typ, err := execution.ParseOrderType(req.Type)
	if err != nil {
		return execution.Order{}, err
	}

	slippage := s.trade.SlippagePercent
	if req.SlippagePercent != nil {
		slippage = *req.SlippagePercent
	}
	order := execution.Order{
		Type:         typ,
		TokenAddress: strings.TrimSpace(req.Token),
		Slippage:     amount.PercentFromFloat(slippage),
		Confirm:      true,
	}
	if req.Confirm != nil {
		order.Confirm = *req.Confirm
	}
	if req.PriorityFeeSOL != nil {
		fee := amount.NativeFromFloat(*req.PriorityFeeSOL)
		order.PriorityFee = &fee
	}

	switch typ {
	case execution.OrderSell:
		qty, err := s.sellQuantity(ctx, order.TokenAddress, req)
		if err != nil {
			return execution.Order{}, err
		}
		order.Amount = qty
	default:
		buy := s.trade.BuyAmountSOL
		if req.AmountSOL != nil {
			buy = *req.AmountSOL
		}
		order.Amount = amount.NativeFromFloat(buy)
	}

	for _, rule := range req.ExitRules {
		order.ExitRules = append(order.ExitRules, execution.ExitRule{
			TriggerAt:  amount.PercentFromFloat(rule.TriggerAt),
			Allocation: amount.PercentFromFloat(rule.Allocation),
		})
	}
	if typ.IsStrategy() && len(order.ExitRules) == 0 {
		for _, rule := range s.trade.ExitRules {
			order.ExitRules = append(order.ExitRules, execution.ExitRule{
				TriggerAt:  amount.PercentFromFloat(rule.TriggerAt),
				Allocation: amount.PercentFromFloat(rule.Allocation),
			})
		}
	}

	if typ == execution.OrderDipBuy {
		dip := s.strategy.DipBuy.DipPercent
		if req.DipPercent != nil {
			dip = *req.DipPercent
		}
		order.DipPercent = amount.PercentFromFloat(dip)
	}
	return order, nil
}

func (s *server) sellQuantity(ctx context.Context, token string, req orderRequest) (amount.Amount, error) {
	switch {
	case req.SellPercent != nil:
		return s.balances.SellQuantity(ctx, token, amount.PercentFromFloat(*req.SellPercent))
	case req.SellAmount != nil:
		bal, err := s.balances.Balance(ctx, token)
		if err != nil {
			return amount.Amount{}, err
		}
		if bal.Kind() != amount.KindToken {
			return amount.Amount{}, fmt.Errorf("%w: %s 不是代币", execution.ErrInvalidOrder, token)
		}
		return amount.Tokens(decimal.NewFromFloat(*req.SellAmount), uint8(bal.Decimals())), nil
	default:
		return amount.Amount{}, fmt.Errorf("%w: 卖出需要 sell_amount 或 sell_percent", execution.ErrInvalidOrder)
	}
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("写入响应失败", zap.Error(err))
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func startServer(ctx context.Context, s *server, port int, logger *zap.Logger) {
	s.ctx = ctx
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭查询服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("查询服务异常", zap.Error(err))
		}
	}()

	logger.Info("查询接口已启动", zap.String("addr", addr))
}
