package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sol-trader/internal/config"
)

// noRouteCodes 为聚合器返回的“无可用路由”错误码。
var noRouteCodes = map[string]bool{
	"COULD_NOT_FIND_ANY_ROUTE": true,
	"NO_ROUTES_FOUND":          true,
	"TOKEN_NOT_TRADABLE":       true,
}

// SwapRequest 描述一次兑换请求，数量均为最小单位。
type SwapRequest struct {
	User                string
	InputMint           string
	OutputMint          string
	Amount              uint64
	SlippageBps         uint64
	PriorityFeeLamports uint64
}

// Client 调用 Jupiter quote/swap 接口生成未签名交易。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 创建聚合器客户端。
func NewClient(cfg config.JupiterConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type quoteInfo struct {
	InAmount  string            `json:"inAmount"`
	OutAmount string            `json:"outAmount"`
	RoutePlan []json.RawMessage `json:"routePlan"`
	ErrorCode string            `json:"errorCode"`
	Error     string            `json:"error"`
}

type swapBody struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports uint64          `json:"prioritizationFeeLamports"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// GetSwapTransaction 获取未签名的兑换交易。
// 无可用路由时返回 nil, nil，由调用方按可重试失败处理。
func (c *Client) GetSwapTransaction(ctx context.Context, req SwapRequest) ([]byte, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.FormatUint(req.SlippageBps, 10))

	status, quoteRaw, err := c.do(ctx, http.MethodGet, "/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: 获取报价失败: %w", err)
	}

	var quote quoteInfo
	if err := json.Unmarshal(quoteRaw, &quote); err != nil {
		return nil, fmt.Errorf("jupiter: 解析报价失败: %w", err)
	}

	if noRouteCodes[quote.ErrorCode] || status == http.StatusNotFound ||
		(status == http.StatusOK && len(quote.RoutePlan) == 0) {
		c.logger.Debug("聚合器无可用路由",
			zap.String("input", req.InputMint),
			zap.String("output", req.OutputMint),
			zap.Uint64("amount", req.Amount),
			zap.String("code", quote.ErrorCode),
		)
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("jupiter: 报价接口返回 %d: %s", status, quote.Error)
	}

	body, err := json.Marshal(swapBody{
		QuoteResponse:             quoteRaw,
		UserPublicKey:             req.User,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: req.PriorityFeeLamports,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: 序列化兑换请求失败: %w", err)
	}

	status, swapRaw, err := c.do(ctx, http.MethodPost, "/swap", body)
	if err != nil {
		return nil, fmt.Errorf("jupiter: 获取兑换交易失败: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("jupiter: 兑换接口返回 %d: %s", status, truncate(swapRaw))
	}

	var swap swapResponse
	if err := json.Unmarshal(swapRaw, &swap); err != nil {
		return nil, fmt.Errorf("jupiter: 解析兑换结果失败: %w", err)
	}
	if swap.SwapTransaction == "" {
		return nil, nil
	}

	tx, err := base64.StdEncoding.DecodeString(swap.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter: 解码兑换交易失败: %w", err)
	}
	return tx, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func truncate(b []byte) string {
	const n = 256
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
