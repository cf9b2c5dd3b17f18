package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SignatureNotification 为 signatureSubscribe 推送的结果。
type SignatureNotification struct {
	Slot uint64
	// Err 为链上执行失败原因，成功时为空。
	Err string
}

// WSClient 通过 websocket 订阅签名确认。
type WSClient struct {
	endpoint   string
	commitment string
	dialer     websocket.Dialer
	logger     *zap.Logger
}

// NewWSClient 创建订阅客户端，每次订阅使用独立连接。
func NewWSClient(endpoint, commitment string, logger *zap.Logger) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if commitment == "" {
		commitment = DefaultCommitment
	}
	return &WSClient{
		endpoint:   endpoint,
		commitment: commitment,
		dialer:     websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     logger,
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Err json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// SignatureSubscribe 订阅签名状态，返回的通道至多推送一次后关闭。
// ctx 取消时连接随之关闭。
func (c *WSClient) SignatureSubscribe(ctx context.Context, signature string) (<-chan SignatureNotification, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("solana: websocket 连接失败: %w", err)
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "signatureSubscribe",
		Params: []interface{}{
			signature,
			map[string]string{"commitment": c.commitment},
		},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("solana: 发送订阅请求失败: %w", err)
	}

	out := make(chan SignatureNotification, 1)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(done)

		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("签名订阅连接中断", zap.String("signature", signature), zap.Error(err))
				}
				return
			}
			if msg.Error != nil {
				c.logger.Debug("签名订阅被拒绝", zap.String("signature", signature), zap.Error(msg.Error))
				return
			}
			if msg.Method != "signatureNotification" || msg.Params == nil {
				continue
			}
			out <- SignatureNotification{
				Slot: msg.Params.Result.Context.Slot,
				Err:  rawErr(msg.Params.Result.Value.Err),
			}
			return
		}
	}()

	return out, nil
}
