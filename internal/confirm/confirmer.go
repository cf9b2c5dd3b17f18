package confirm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sol-trader/internal/solana"
)

// Status 为确认结果。
type Status int

const (
	StatusConfirmed Status = iota + 1
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result 为一次确认等待的结果，Reason 在失败或超时时给出原因。
type Result struct {
	Status Status
	Reason string
}

type statusClient interface {
	GetSignatureStatus(ctx context.Context, signature string) (solana.SignatureStatus, error)
}

type subscriber interface {
	SignatureSubscribe(ctx context.Context, signature string) (<-chan solana.SignatureNotification, error)
}

// Options 控制轮询节奏。
type Options struct {
	PollInterval time.Duration
	CallTimeout  time.Duration
	Commitment   string
}

// Confirmer 轮询节点直到交易成功、失败或超时。
type Confirmer struct {
	client statusClient
	sub    subscriber
	opts   Options
	logger *zap.Logger
}

// New 创建确认器。
func New(client statusClient, opts Options, logger *zap.Logger) *Confirmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 3 * time.Second
	}
	if opts.Commitment == "" {
		opts.Commitment = solana.DefaultCommitment
	}
	return &Confirmer{client: client, opts: opts, logger: logger}
}

// WithSubscriber 启用 websocket 推送，与轮询并行，先到者为准。
func (c *Confirmer) WithSubscriber(s subscriber) *Confirmer {
	c.sub = s
	return c
}

// Await 等待签名确认。单次查询的网络错误会被吞掉并继续轮询，
// 只有整体超时或链上明确失败才会结束。
func (c *Confirmer) Await(ctx context.Context, signature string, timeout time.Duration) Result {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var notify <-chan solana.SignatureNotification
	if c.sub != nil {
		ch, err := c.sub.SignatureSubscribe(waitCtx, signature)
		if err != nil {
			c.logger.Debug("签名订阅失败，仅使用轮询", zap.String("signature", signature), zap.Error(err))
		} else {
			notify = ch
		}
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		if res, done := c.poll(waitCtx, signature); done {
			return res
		}

		select {
		case <-waitCtx.Done():
			c.logger.Warn("等待交易确认超时",
				zap.String("signature", signature),
				zap.Duration("timeout", timeout),
			)
			return Result{Status: StatusTimedOut, Reason: waitCtx.Err().Error()}
		case n, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			if n.Err != "" {
				return Result{Status: StatusFailed, Reason: n.Err}
			}
			return Result{Status: StatusConfirmed}
		case <-ticker.C:
		}
	}
}

func (c *Confirmer) poll(ctx context.Context, signature string) (Result, bool) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	st, err := c.client.GetSignatureStatus(callCtx, signature)
	if err != nil {
		c.logger.Debug("查询交易状态失败，继续轮询", zap.String("signature", signature), zap.Error(err))
		return Result{}, false
	}
	if st.Err != "" {
		c.logger.Warn("交易链上执行失败", zap.String("signature", signature), zap.String("reason", st.Err))
		return Result{Status: StatusFailed, Reason: st.Err}, true
	}
	if st.Reached(c.opts.Commitment) {
		return Result{Status: StatusConfirmed}, true
	}
	return Result{}, false
}
