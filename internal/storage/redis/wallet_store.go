// Package redis stores the wallet table as one JSON value under a single key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/storage"
)

// DefaultKey is used when no key is configured.
const DefaultKey = "stark-claimer:wallets"

// WalletStore implements storage.WalletStore on a Redis string key.
type WalletStore struct {
	client *redis.Client
	key    string
}

// NewWalletStore connects to url and verifies the connection.
func NewWalletStore(ctx context.Context, url, key string) (*WalletStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWalletStoreWithClient(client, key), nil
}

// NewWalletStoreWithClient wraps an existing client.
func NewWalletStoreWithClient(client *redis.Client, key string) *WalletStore {
	if key == "" {
		key = DefaultKey
	}
	return &WalletStore{client: client, key: key}
}

var _ storage.WalletStore = (*WalletStore)(nil)

// Load reads the key. A missing key is an empty store.
func (s *WalletStore) Load(ctx context.Context) (map[string]*domain.WalletRecord, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return make(map[string]*domain.WalletRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}

	out := make(map[string]*domain.WalletRecord)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, s.key, err)
	}
	return out, nil
}

// Save overwrites the key with the encoded records.
func (s *WalletStore) Save(ctx context.Context, records map[string]*domain.WalletRecord) error {
	if err := storage.ValidateRecords(records); err != nil {
		return err
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode wallet records: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client.
func (s *WalletStore) Close() error {
	return s.client.Close()
}
