// Package state holds the in-memory wallet table and writes it through to
// the configured store on every Flush.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/storage"
)

// State is the working copy of the wallet table. Records returned by Wallets
// and Get are live: callers mutate them and then call Flush.
type State struct {
	store storage.WalletStore

	mu      sync.Mutex
	records map[string]*domain.WalletRecord
	flushes int
}

// Open loads every record from store.
func Open(ctx context.Context, store storage.WalletStore) (*State, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if records == nil {
		records = make(map[string]*domain.WalletRecord)
	}
	return &State{store: store, records: records}, nil
}

// Len returns the number of records.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Get returns the record for address.
func (s *State) Get(address string) (*domain.WalletRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[domain.NormalizeAddress(address)]
	return r, ok
}

// Has reports whether address is already in the table.
func (s *State) Has(address string) bool {
	_, ok := s.Get(address)
	return ok
}

// Put inserts r unless a record for its address exists. It reports whether
// r was inserted.
func (s *State) Put(r *domain.WalletRecord) bool {
	key := domain.NormalizeAddress(r.Address)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return false
	}
	s.records[key] = r
	return true
}

// Wallets returns the live records ordered by Position, then address.
func (s *State) Wallets() []*domain.WalletRecord {
	s.mu.Lock()
	out := make([]*domain.WalletRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// NextPosition returns one past the highest stored position.
func (s *State) NextPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := 0
	for _, r := range s.records {
		if r.Position >= next {
			next = r.Position + 1
		}
	}
	return next
}

// Flush writes a snapshot of every record to the store and returns after the
// store confirmed the write.
func (s *State) Flush(ctx context.Context) error {
	s.mu.Lock()
	snapshot := make(map[string]*domain.WalletRecord, len(s.records))
	for k, r := range s.records {
		snapshot[k] = r.Clone()
	}
	s.mu.Unlock()

	if err := s.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("flush state: %w", err)
	}

	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

// Flushes returns the number of successful flushes.
func (s *State) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}
