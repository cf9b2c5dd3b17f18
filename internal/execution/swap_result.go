package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sol-trader/internal/amount"
)

// FetchSwapResult 轮询已确认交易的详情，计算钱包的 SOL 与代币变化。
// 交易详情通常比签名状态晚几个 slot 才能查到。
func (e *Executor) FetchSwapResult(ctx context.Context, signature, mint string) (SwapResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.SwapResultTimeout)
	defer cancel()

	ticker := time.NewTicker(e.opts.SwapResultPoll)
	defer ticker.Stop()

	owner := e.deps.Signer.PublicKey()
	for {
		detail, err := e.deps.Chain.GetTransaction(waitCtx, signature)
		switch {
		case err != nil:
			e.logger.Debug("查询交易详情失败，继续等待", zap.String("signature", signature), zap.Error(err))
		case detail != nil:
			if detail.Err != "" {
				return SwapResult{}, fmt.Errorf("execution: 交易 %s 链上失败: %s", signature, detail.Err)
			}
			delta, err := detail.OwnerDelta(owner, mint)
			if err != nil {
				return SwapResult{}, err
			}
			return SwapResult{
				Signature:         signature,
				NativeDiff:        amount.Lamports(delta.NativeLamports),
				TokenDiff:         amount.TokensFromRaw(delta.TokenRaw, delta.TokenDecimals),
				PayerTokenAccount: delta.TokenAccount,
			}, nil
		}

		select {
		case <-waitCtx.Done():
			return SwapResult{}, fmt.Errorf("execution: 等待交易 %s 详情超时: %w", signature, waitCtx.Err())
		case <-ticker.C:
		}
	}
}
