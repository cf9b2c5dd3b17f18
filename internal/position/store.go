package position

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sol-trader/internal/store"
)

// SQLiteStore 将持仓持久化到 SQLite，使进程重启后可以恢复监控。
type SQLiteStore struct {
	store *store.Store
}

// NewSQLiteStore 创建持仓存储并初始化表结构。
func NewSQLiteStore(ctx context.Context, s *store.Store) (*SQLiteStore, error) {
	if s == nil {
		return nil, errors.New("position: store 不能为空")
	}
	err := s.Migrate(ctx,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			token_address TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			opened_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);`,
		`CREATE TABLE IF NOT EXISTS position_exits (
			position_id TEXT NOT NULL,
			rule_index INTEGER NOT NULL,
			signature TEXT NOT NULL,
			quantity TEXT NOT NULL,
			fired_at TEXT NOT NULL,
			PRIMARY KEY (position_id, rule_index)
		);`,
	)
	if err != nil {
		return nil, fmt.Errorf("position: 初始化表结构失败: %w", err)
	}
	return &SQLiteStore{store: s}, nil
}

// Save 写入持仓快照，同时记录已确认的卖出。
func (s *SQLiteStore) Save(ctx context.Context, p Position) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("position: 序列化持仓失败: %w", err)
	}

	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO positions (id, token_address, status, payload, opened_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET status = excluded.status, payload = excluded.payload, updated_at = excluded.updated_at`,
			p.ID, p.TokenAddress, string(p.Status), string(payload),
			p.OpenedAt.UTC().Format(time.RFC3339Nano), p.UpdatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("position: 写入持仓失败: %w", err)
		}

		for i, r := range p.Rules {
			if r.Armed || r.FiredAt == nil || r.ExitQuantity == nil {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO position_exits (position_id, rule_index, signature, quantity, fired_at)
				 VALUES (?, ?, ?, ?, ?)`,
				p.ID, i, r.ExitSignature, r.ExitQuantity.Scaled().String(), r.FiredAt.UTC().Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("position: 写入卖出记录失败: %w", err)
			}
		}
		return nil
	})
}

// LoadOpen 读取所有未关闭的持仓，按建仓时间排序。
func (s *SQLiteStore) LoadOpen(ctx context.Context) ([]Position, error) {
	rows, err := s.store.DB().QueryContext(ctx,
		`SELECT payload FROM positions WHERE status != ? ORDER BY opened_at`, string(StatusClosed))
	if err != nil {
		return nil, fmt.Errorf("position: 查询持仓失败: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("position: 读取持仓失败: %w", err)
		}
		var p Position
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("position: 解析持仓失败: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ExitCount 返回某持仓已记录的卖出次数。
func (s *SQLiteStore) ExitCount(ctx context.Context, id string) (int, error) {
	var n int
	if err := s.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM position_exits WHERE position_id = ?`, id,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("position: 查询卖出记录失败: %w", err)
	}
	return n, nil
}
