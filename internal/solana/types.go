package solana

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SignatureStatus 为签名在节点上的状态。
type SignatureStatus struct {
	Found              bool
	Slot               uint64
	ConfirmationStatus string
	// Err 为链上执行失败原因，成功时为空。
	Err string
}

var commitmentRank = map[string]int{
	"processed": 1,
	"confirmed": 2,
	"finalized": 3,
}

// Reached 判断状态是否已达到指定确认级别。
func (s SignatureStatus) Reached(commitment string) bool {
	if !s.Found {
		return false
	}
	want, ok := commitmentRank[commitment]
	if !ok {
		want = commitmentRank[DefaultCommitment]
	}
	return commitmentRank[s.ConfirmationStatus] >= want
}

// TokenAmount 为链上原始代币数量。
type TokenAmount struct {
	Raw      decimal.Decimal
	Decimals uint8
}

// TokenAccount 描述钱包持有的代币账户。
type TokenAccount struct {
	Address string
	Mint    string
	Owner   string
	Amount  TokenAmount
}

// TokenBalance 为交易前后某个代币账户的余额。
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       TokenAmount
}

// TransactionDetail 为已确认交易的余额变化。
type TransactionDetail struct {
	Signature         string
	Slot              uint64
	BlockTime         int64
	Fee               uint64
	Err               string
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// BalanceDelta 为某个钱包在一笔交易中的实际资金变化。
type BalanceDelta struct {
	NativeLamports int64
	TokenRaw       decimal.Decimal
	TokenDecimals  uint8
	TokenAccount   string
}

// OwnerDelta 计算 owner 在该交易中 SOL 与指定代币的变化量。
func (d *TransactionDetail) OwnerDelta(owner, mint string) (BalanceDelta, error) {
	delta := BalanceDelta{TokenRaw: decimal.Zero}

	idx := -1
	for i, key := range d.AccountKeys {
		if key == owner {
			idx = i
			break
		}
	}
	if idx < 0 {
		return delta, fmt.Errorf("solana: 交易 %s 不包含账户 %s", d.Signature, owner)
	}
	if idx >= len(d.PreBalances) || idx >= len(d.PostBalances) {
		return delta, fmt.Errorf("solana: 交易 %s 余额数据不完整", d.Signature)
	}
	delta.NativeLamports = int64(d.PostBalances[idx]) - int64(d.PreBalances[idx])

	pre := make(map[int]TokenBalance)
	for _, b := range d.PreTokenBalances {
		if b.Owner == owner && b.Mint == mint {
			pre[b.AccountIndex] = b
		}
	}
	post := make(map[int]TokenBalance)
	for _, b := range d.PostTokenBalances {
		if b.Owner == owner && b.Mint == mint {
			post[b.AccountIndex] = b
		}
	}

	seen := make(map[int]bool)
	for i, b := range post {
		seen[i] = true
		diff := b.Amount.Raw
		if p, ok := pre[i]; ok {
			diff = diff.Sub(p.Amount.Raw)
		}
		delta.TokenRaw = delta.TokenRaw.Add(diff)
		delta.TokenDecimals = b.Amount.Decimals
		delta.TokenAccount = d.accountKey(i)
	}
	// 交易后被关闭的账户只出现在 pre 中
	for i, p := range pre {
		if seen[i] {
			continue
		}
		delta.TokenRaw = delta.TokenRaw.Sub(p.Amount.Raw)
		delta.TokenDecimals = p.Amount.Decimals
		if delta.TokenAccount == "" {
			delta.TokenAccount = d.accountKey(i)
		}
	}

	return delta, nil
}

func (d *TransactionDetail) accountKey(i int) string {
	if i >= 0 && i < len(d.AccountKeys) {
		return d.AccountKeys[i]
	}
	return ""
}
