package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/storage"
)

// WalletStore implements storage.WalletStore over the wallet_records table.
type WalletStore struct {
	pool *Pool
}

// NewWalletStore creates a store using pool.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

var _ storage.WalletStore = (*WalletStore)(nil)

// Load reads every row, in processing order.
func (s *WalletStore) Load(ctx context.Context) (map[string]*domain.WalletRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, record FROM wallet_records ORDER BY position, address`)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("load wallet records: table missing, run migrations: %w", err)
		}
		return nil, fmt.Errorf("load wallet records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.WalletRecord)
	for rows.Next() {
		var (
			address string
			raw     []byte
		)
		if err := rows.Scan(&address, &raw); err != nil {
			return nil, fmt.Errorf("scan wallet record: %w", err)
		}
		var r domain.WalletRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, address, err)
		}
		out[address] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet records: %w", err)
	}
	return out, nil
}

// Save upserts every record in a single transaction and deletes rows that
// are no longer present.
func (s *WalletStore) Save(ctx context.Context, records map[string]*domain.WalletRecord) error {
	if err := storage.ValidateRecords(records); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	keys := make([]string, 0, len(records))
	for key, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode wallet %s: %w", r.Address, err)
		}
		batch.Queue(`
			INSERT INTO wallet_records (address, position, status, record, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (address) DO UPDATE
			SET position = EXCLUDED.position,
			    status = EXCLUDED.status,
			    record = EXCLUDED.record,
			    updated_at = now()
		`, key, r.Position, string(r.Status), raw)
		keys = append(keys, key)
	}
	batch.Queue(`DELETE FROM wallet_records WHERE NOT (address = ANY($1))`, keys)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save wallet records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit wallet records: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *WalletStore) Close() error {
	s.pool.Close()
	return nil
}
