package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stark-claimer/internal/domain"
)

func TestWalletStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	s := NewWalletStore()

	r := &domain.WalletRecord{Address: domain.NormalizeAddress("0x1"), Status: domain.StatusDefault}
	require.NoError(t, s.Save(ctx, map[string]*domain.WalletRecord{r.Address: r}))

	r.Status = domain.StatusDone
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDefault, got[r.Address].Status)

	got[r.Address].Status = domain.StatusError
	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDefault, again[r.Address].Status)
	assert.Equal(t, 1, s.Saves())
}

func TestWalletStore_RejectsInvalid(t *testing.T) {
	s := NewWalletStore()
	err := s.Save(context.Background(), map[string]*domain.WalletRecord{"0x1": nil})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Saves())
}
