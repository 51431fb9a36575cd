package storage

import (
	"context"

	"stark-claimer/internal/domain"
)

// WalletStore persists the whole wallet table. It is the system of record
// for resumption: whatever Save accepted must be returned by the next Load.
type WalletStore interface {
	// Load returns every stored record keyed by normalized address.
	// An empty or missing store yields an empty map, not an error.
	Load(ctx context.Context) (map[string]*domain.WalletRecord, error)

	// Save durably replaces the stored records with records. It returns only
	// after the write is complete.
	Save(ctx context.Context, records map[string]*domain.WalletRecord) error

	// Close releases the backend.
	Close() error
}
