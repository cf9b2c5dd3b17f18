package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SendTransaction 提交已签名交易，返回节点回执的签名。
// 不在此处重试，重发由调用方按同一签名交易控制。
func (c *HTTPClient) SendTransaction(ctx context.Context, signed []byte) (string, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(signed),
		map[string]interface{}{
			"encoding":      "base64",
			"skipPreflight": true,
			"maxRetries":    0,
		},
	}

	var sig string
	if err := c.do(ctx, "sendTransaction", params, &sig, 0); err != nil {
		return "", err
	}
	return sig, nil
}

// GetSignatureStatus 查询单个签名的状态，尚未被节点看到时 Found=false。
func (c *HTTPClient) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	params := []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	}

	var result struct {
		Value []*struct {
			Slot               uint64          `json:"slot"`
			Confirmations      *uint64         `json:"confirmations"`
			Err                json.RawMessage `json:"err"`
			ConfirmationStatus string          `json:"confirmationStatus"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return SignatureStatus{}, err
	}

	if len(result.Value) == 0 || result.Value[0] == nil {
		return SignatureStatus{}, nil
	}

	v := result.Value[0]
	return SignatureStatus{
		Found:              true,
		Slot:               v.Slot,
		ConfirmationStatus: v.ConfirmationStatus,
		Err:                rawErr(v.Err),
	}, nil
}

// GetBalance 返回地址的 lamports 余额。
func (c *HTTPClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	params := []interface{}{address, map[string]interface{}{"commitment": c.commitment}}

	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", params, &result); err != nil {
		return 0, fmt.Errorf("solana: 查询 SOL 余额失败: %w", err)
	}
	return result.Value, nil
}

// GetTokenAccountBalance 返回代币账户余额，账户不存在时返回 ErrAccountNotFound。
func (c *HTTPClient) GetTokenAccountBalance(ctx context.Context, account string) (TokenAmount, error) {
	params := []interface{}{account, map[string]interface{}{"commitment": c.commitment}}

	var result struct {
		Value uiTokenAmount `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccountBalance", params, &result); err != nil {
		if isAccountNotFound(err) {
			return TokenAmount{}, ErrAccountNotFound
		}
		return TokenAmount{}, fmt.Errorf("solana: 查询代币余额失败: %w", err)
	}
	return result.Value.toTokenAmount()
}

// GetMintDecimals 返回代币精度。
func (c *HTTPClient) GetMintDecimals(ctx context.Context, mint string) (uint8, error) {
	var result struct {
		Value uiTokenAmount `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []interface{}{mint}, &result); err != nil {
		return 0, fmt.Errorf("solana: 查询代币精度失败: %w", err)
	}
	return result.Value.Decimals, nil
}

// GetAccountOwner 返回账户所属程序，账户不存在时返回 ErrAccountNotFound。
func (c *HTTPClient) GetAccountOwner(ctx context.Context, address string) (string, error) {
	params := []interface{}{
		address,
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": c.commitment,
			"dataSlice":  map[string]int{"offset": 0, "length": 0},
		},
	}

	var result struct {
		Value *struct {
			Owner string `json:"owner"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return "", fmt.Errorf("solana: 查询账户信息失败: %w", err)
	}
	if result.Value == nil {
		return "", ErrAccountNotFound
	}
	return result.Value.Owner, nil
}

// GetTokenAccountsByOwner 列出钱包在 SPL Token 与 Token-2022 程序下的全部代币账户。
func (c *HTTPClient) GetTokenAccountsByOwner(ctx context.Context, owner string) ([]TokenAccount, error) {
	var accounts []TokenAccount
	for _, program := range TokenPrograms {
		found, err := c.tokenAccountsByProgram(ctx, owner, program)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, found...)
	}
	return accounts, nil
}

func (c *HTTPClient) tokenAccountsByProgram(ctx context.Context, owner, program string) ([]TokenAccount, error) {
	params := []interface{}{
		owner,
		map[string]interface{}{"programId": program},
		map[string]interface{}{"encoding": "jsonParsed", "commitment": c.commitment},
	}

	var result struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string        `json:"mint"`
							Owner       string        `json:"owner"`
							TokenAmount uiTokenAmount `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return nil, fmt.Errorf("solana: 查询代币账户失败 program=%s: %w", program, err)
	}

	accounts := make([]TokenAccount, 0, len(result.Value))
	for _, item := range result.Value {
		info := item.Account.Data.Parsed.Info
		amt, err := info.TokenAmount.toTokenAmount()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, TokenAccount{
			Address: item.Pubkey,
			Mint:    info.Mint,
			Owner:   info.Owner,
			Amount:  amt,
		})
	}
	return accounts, nil
}

// GetTransaction 获取已确认交易的余额变化，交易尚不可见时返回 nil, nil。
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"maxSupportedTransactionVersion": 0,
			"commitment":                     "confirmed",
		},
	}

	var result *getTransactionResult
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, fmt.Errorf("solana: 查询交易失败: %w", err)
	}
	if result == nil || result.Meta == nil {
		return nil, nil
	}

	detail := &TransactionDetail{
		Signature:    signature,
		Slot:         result.Slot,
		Fee:          result.Meta.Fee,
		Err:          rawErr(result.Meta.Err),
		PreBalances:  result.Meta.PreBalances,
		PostBalances: result.Meta.PostBalances,
	}
	if result.BlockTime != nil {
		detail.BlockTime = *result.BlockTime
	}
	for _, key := range result.Transaction.Message.AccountKeys {
		detail.AccountKeys = append(detail.AccountKeys, key.Pubkey)
	}

	var err error
	if detail.PreTokenBalances, err = convertTokenBalances(result.Meta.PreTokenBalances); err != nil {
		return nil, err
	}
	if detail.PostTokenBalances, err = convertTokenBalances(result.Meta.PostTokenBalances); err != nil {
		return nil, err
	}

	return detail, nil
}

type getTransactionResult struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               json.RawMessage   `json:"err"`
		Fee               uint64            `json:"fee"`
		PreBalances       []uint64          `json:"preBalances"`
		PostBalances      []uint64          `json:"postBalances"`
		PreTokenBalances  []rawTokenBalance `json:"preTokenBalances"`
		PostTokenBalances []rawTokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
				Signer bool   `json:"signer"`
			} `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

type rawTokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount uiTokenAmount `json:"uiTokenAmount"`
}

type uiTokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

func (u uiTokenAmount) toTokenAmount() (TokenAmount, error) {
	raw := decimal.Zero
	if u.Amount != "" {
		v, err := decimal.NewFromString(u.Amount)
		if err != nil {
			return TokenAmount{}, fmt.Errorf("solana: 解析代币数量 %q 失败: %w", u.Amount, err)
		}
		raw = v
	}
	return TokenAmount{Raw: raw, Decimals: u.Decimals}, nil
}

func convertTokenBalances(in []rawTokenBalance) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		amt, err := b.UITokenAmount.toTokenAmount()
		if err != nil {
			return nil, err
		}
		out = append(out, TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       amt,
		})
	}
	return out, nil
}

func rawErr(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return s
}

func isAccountNotFound(err error) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return strings.Contains(strings.ToLower(rpcErr.Message), "could not find account")
	}
	return false
}
