package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sol-trader/internal/config"
)

// PriceClient 查询代币以 SOL 计价的实时价格。
type PriceClient struct {
	priceURL   string
	vsToken    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPriceClient 创建价格客户端，vsToken 为计价代币（通常为 wrapped SOL）。
func NewPriceClient(cfg config.JupiterConfig, vsToken string, logger *zap.Logger) *PriceClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PriceClient{
		priceURL:   strings.TrimRight(cfg.PriceURL, "/"),
		vsToken:    vsToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type priceResponse struct {
	Data map[string]*struct {
		ID    string          `json:"id"`
		Price json.RawMessage `json:"price"`
	} `json:"data"`
}

// GetPrice 返回 1 个代币（UI 单位）价值多少 SOL。
// 无报价时 ok=false，调用方应跳过本轮而不是当作零价格。
func (p *PriceClient) GetPrice(ctx context.Context, mint string) (decimal.Decimal, bool, error) {
	params := url.Values{}
	params.Set("ids", mint)
	params.Set("vsToken", p.vsToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.priceURL+"?"+params.Encode(), nil)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("jupiter: 创建价格请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("jupiter: 价格请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, false, fmt.Errorf("jupiter: 价格接口返回 %d", resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, false, fmt.Errorf("jupiter: 解析价格失败: %w", err)
	}

	entry, ok := body.Data[mint]
	if !ok || entry == nil || len(entry.Price) == 0 || string(entry.Price) == "null" {
		return decimal.Zero, false, nil
	}

	price, err := decimal.NewFromString(strings.Trim(string(entry.Price), `"`))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("jupiter: 价格 %s 格式无效: %w", entry.Price, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}
