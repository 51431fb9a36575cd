// Package jsonfile stores the wallet table as a single JSON document,
// replaced atomically on every save.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/storage"
)

const formatVersion = 1

type document struct {
	Version int                             `json:"version"`
	Wallets map[string]*domain.WalletRecord `json:"wallets"`
}

// WalletStore is a file-backed storage.WalletStore.
type WalletStore struct {
	mu   sync.Mutex
	path string
}

// NewWalletStore creates a store at path. The file is created on first save.
func NewWalletStore(path string) (*WalletStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty store path", storage.ErrInvalidInput)
	}
	return &WalletStore{path: path}, nil
}

var _ storage.WalletStore = (*WalletStore)(nil)

// Path returns the backing file.
func (s *WalletStore) Path() string { return s.path }

// Load reads the file. A missing file is an empty store.
func (s *WalletStore) Load(_ context.Context) (map[string]*domain.WalletRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]*domain.WalletRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet store: %w", err)
	}
	if len(data) == 0 {
		return make(map[string]*domain.WalletRecord), nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, s.path, err)
	}
	if doc.Wallets == nil {
		doc.Wallets = make(map[string]*domain.WalletRecord)
	}
	return doc.Wallets, nil
}

// Save writes records to a temp file in the same directory, syncs it and
// renames it over the store, so a crash leaves either the old or the new file.
func (s *WalletStore) Save(_ context.Context, records map[string]*domain.WalletRecord) error {
	if err := storage.ValidateRecords(records); err != nil {
		return err
	}
	data, err := json.MarshalIndent(document{Version: formatVersion, Wallets: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode wallet store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace wallet store: %w", err)
	}
	committed = true
	return nil
}

// Close is a no-op.
func (s *WalletStore) Close() error { return nil }
