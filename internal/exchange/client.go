package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sol-trader/internal/config"
)

type ohlcvFetcher func(symbol, timeframe string, limit int64) ([]ccxt.OHLCV, error)

// Client 从中心化交易所获取 SOL/USD 参考价格，并实现重试机制。
type Client struct {
	cfg         config.ReferenceConfig
	logger      *zap.Logger
	loadMarkets func() error
	fetchOHLCV  ohlcvFetcher

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造参考价格客户端，目前支持 Binance USDⓈ-M。
func NewClient(cfg config.ReferenceConfig, logger *zap.Logger) (*Client, error) {
	if !strings.EqualFold(cfg.Exchange, "binanceusdm") {
		return nil, fmt.Errorf("exchange: 不支持的交易所 %q", cfg.Exchange)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}
	ex := ccxt.NewBinanceusdm(userConfig)

	return newClient(cfg, logger,
		func() error {
			_, err := ex.LoadMarkets()
			return err
		},
		func(symbol, timeframe string, limit int64) ([]ccxt.OHLCV, error) {
			return ex.FetchOHLCV(
				symbol,
				ccxt.WithFetchOHLCVTimeframe(timeframe),
				ccxt.WithFetchOHLCVLimit(limit),
			)
		},
	), nil
}

func newClient(cfg config.ReferenceConfig, logger *zap.Logger, load func() error, fetch ohlcvFetcher) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:         cfg,
		logger:      logger,
		loadMarkets: load,
		fetchOHLCV:  fetch,
	}
}

// Symbol 返回交易对符号。
func (c *Client) Symbol() string {
	return c.cfg.Symbol
}

// FetchCandles 获取指定周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.fetchOHLCV(c.cfg.Symbol, timeframe, limit)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// LastPrice 返回最近一根1分钟K线的收盘价。
func (c *Client) LastPrice(ctx context.Context) (decimal.Decimal, error) {
	candles, err := c.FetchCandles(ctx, Timeframe1m, 1)
	if err != nil {
		return decimal.Zero, err
	}
	if len(candles) == 0 {
		return decimal.Zero, ErrNoData
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return decimal.Zero, fmt.Errorf("%w: 收盘价 %f 无效", ErrNoData, last)
	}
	return decimal.NewFromFloat(last), nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if err := c.loadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("symbol", c.cfg.Symbol))
	return nil
}

// callWithRetry 按指数退避重试临时性错误，维护状态直接返回。
func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	backoff := c.cfg.Retry.MinDelay
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	ceiling := c.cfg.Retry.MaxDelay
	if ceiling <= 0 {
		ceiling = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	logger := c.logger.With(zap.String("operation", operation), zap.String("symbol", c.cfg.Symbol))
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("参考价格请求重试后成功", zap.Int("attempts", attempt))
			}
			return nil
		}

		err, retry := classify(err)
		switch {
		case errors.Is(err, ErrMaintenance):
			logger.Warn("交易所维护中", zap.Error(err))
			return err
		case !retry || attempt >= maxAttempts:
			logger.Error("参考价格请求失败", zap.Int("attempts", attempt), zap.Error(err))
			return err
		}

		wait := min(backoff, ceiling)
		logger.Debug("参考价格请求失败，等待重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, ceiling)
	}
}
