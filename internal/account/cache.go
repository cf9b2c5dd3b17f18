package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sol-trader/internal/amount"
	"sol-trader/internal/solana"
)

type chainClient interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, account string) (solana.TokenAmount, error)
	GetMintDecimals(ctx context.Context, mint string) (uint8, error)
	GetAccountOwner(ctx context.Context, address string) (string, error)
	GetTokenAccountsByOwner(ctx context.Context, owner string) ([]solana.TokenAccount, error)
}

// Holding 描述某个键的最新余额。
type Holding struct {
	Token     string        `json:"token"`
	Account   string        `json:"account,omitempty"`
	Balance   amount.Amount `json:"balance"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type entry struct {
	mu       sync.Mutex
	account  string
	decimals uint8
	resolved bool
	balance  amount.Amount
	updated  time.Time
}

// Cache 缓存钱包 SOL 与各代币余额。以代币地址为键，钱包地址本身代表 SOL。
// 同一个键的刷新串行执行，不同键可以并发。
type Cache struct {
	client chainClient
	owner  string
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache 创建余额缓存。
func NewCache(client chainClient, owner string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client:  client,
		owner:   owner,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Owner 返回钱包地址。
func (c *Cache) Owner() string {
	return c.owner
}

func (c *Cache) entry(key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Refresh 从链上刷新指定键的余额。首次遇到代币时解析关联代币账户与精度。
func (c *Cache) Refresh(ctx context.Context, key string) (amount.Amount, error) {
	if key == "" {
		return amount.Amount{}, errors.New("account: 键不能为空")
	}
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if key == c.owner {
		lamports, err := c.client.GetBalance(ctx, c.owner)
		if err != nil {
			return amount.Amount{}, fmt.Errorf("account: 查询 SOL 余额失败: %w", err)
		}
		e.account = c.owner
		e.balance = amount.Lamports(int64(lamports))
		e.updated = time.Now().UTC()
		return e.balance, nil
	}

	if err := c.resolve(ctx, key, e); err != nil {
		return amount.Amount{}, err
	}

	bal, err := c.client.GetTokenAccountBalance(ctx, e.account)
	switch {
	case errors.Is(err, solana.ErrAccountNotFound):
		e.balance = amount.TokensFromRaw(decimal.Zero, e.decimals)
	case err != nil:
		return amount.Amount{}, fmt.Errorf("account: 查询代币余额失败 token=%s: %w", key, err)
	default:
		e.balance = amount.TokensFromRaw(bal.Raw, bal.Decimals)
		e.decimals = bal.Decimals
	}
	e.updated = time.Now().UTC()
	return e.balance, nil
}

func (c *Cache) resolve(ctx context.Context, token string, e *entry) error {
	if e.resolved {
		return nil
	}
	// mint 的所属程序决定关联账户地址，Token-2022 代币与经典代币不同
	program, err := c.client.GetAccountOwner(ctx, token)
	if err != nil {
		return fmt.Errorf("account: 查询代币程序失败 token=%s: %w", token, err)
	}
	ata, err := solana.FindAssociatedTokenAddressWithProgram(c.owner, token, program)
	if err != nil {
		return fmt.Errorf("account: 计算关联代币账户失败 token=%s: %w", token, err)
	}
	decimals, err := c.client.GetMintDecimals(ctx, token)
	if err != nil {
		return fmt.Errorf("account: 查询代币精度失败 token=%s: %w", token, err)
	}
	e.account = ata
	e.decimals = decimals
	e.resolved = true
	c.logger.Debug("解析关联代币账户",
		zap.String("token", token),
		zap.String("account", ata),
		zap.String("program", program),
		zap.Uint8("decimals", decimals),
	)
	return nil
}

// Balance 先刷新再返回余额。
func (c *Cache) Balance(ctx context.Context, key string) (amount.Amount, error) {
	return c.Refresh(ctx, key)
}

// Cached 返回最近一次刷新的余额，不发起网络请求。
func (c *Cache) Cached(key string) (Holding, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return Holding{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.updated.IsZero() {
		return Holding{}, false
	}
	return Holding{Token: key, Account: e.account, Balance: e.balance, UpdatedAt: e.updated}, true
}

// TokenAccount 返回代币对应的关联代币账户。
func (c *Cache) TokenAccount(ctx context.Context, token string) (string, error) {
	e := c.entry(token)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := c.resolve(ctx, token, e); err != nil {
		return "", err
	}
	return e.account, nil
}

// RefreshAll 并发刷新钱包与所有已知代币。
func (c *Cache) RefreshAll(ctx context.Context) ([]Holding, error) {
	c.entry(c.owner)
	keys := c.keys()

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			_, err := c.Refresh(gctx, key)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c.Snapshot(), nil
}

// SellQuantity 按钱包余额的百分比计算卖出数量。
func (c *Cache) SellQuantity(ctx context.Context, token string, percent amount.Amount) (amount.Amount, error) {
	if token == c.owner {
		return amount.Amount{}, errors.New("account: 不能按比例卖出 SOL")
	}
	bal, err := c.Refresh(ctx, token)
	if err != nil {
		return amount.Amount{}, err
	}
	return bal.MulPercent(percent)
}

// Scan 列出钱包中余额非零的代币账户，并写入缓存。
func (c *Cache) Scan(ctx context.Context) ([]Holding, error) {
	accounts, err := c.client.GetTokenAccountsByOwner(ctx, c.owner)
	if err != nil {
		return nil, fmt.Errorf("account: 扫描代币账户失败: %w", err)
	}

	now := time.Now().UTC()
	holdings := make([]Holding, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Amount.Raw.IsZero() {
			continue
		}
		bal := amount.TokensFromRaw(acc.Amount.Raw, acc.Amount.Decimals)

		e := c.entry(acc.Mint)
		e.mu.Lock()
		if !e.resolved {
			e.account = acc.Address
			e.decimals = acc.Amount.Decimals
			e.resolved = true
		}
		if e.account == acc.Address {
			e.balance = bal
			e.updated = now
		}
		e.mu.Unlock()

		holdings = append(holdings, Holding{Token: acc.Mint, Account: acc.Address, Balance: bal, UpdatedAt: now})
	}
	return holdings, nil
}

// Snapshot 返回所有已刷新过的余额。
func (c *Cache) Snapshot() []Holding {
	keys := c.keys()
	out := make([]Holding, 0, len(keys))
	for _, k := range keys {
		if h, ok := c.Cached(k); ok {
			out = append(out, h)
		}
	}
	return out
}
