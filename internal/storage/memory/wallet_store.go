// Package memory provides an in-memory WalletStore for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/storage"
)

// WalletStore is an in-memory implementation of storage.WalletStore.
type WalletStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.WalletRecord
	saves int
}

// NewWalletStore creates an empty store.
func NewWalletStore() *WalletStore {
	return &WalletStore{data: make(map[string]*domain.WalletRecord)}
}

var _ storage.WalletStore = (*WalletStore)(nil)

// Load returns deep copies of the stored records.
func (s *WalletStore) Load(_ context.Context) (map[string]*domain.WalletRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.data), nil
}

// Save replaces the stored records with deep copies of records.
func (s *WalletStore) Save(_ context.Context, records map[string]*domain.WalletRecord) error {
	if err := storage.ValidateRecords(records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = cloneAll(records)
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *WalletStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op.
func (s *WalletStore) Close() error { return nil }

func cloneAll(in map[string]*domain.WalletRecord) map[string]*domain.WalletRecord {
	out := make(map[string]*domain.WalletRecord, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
