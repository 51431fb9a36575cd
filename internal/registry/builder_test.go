package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/logging"
	"stark-claimer/internal/starknet"
	"stark-claimer/internal/starknet/stub"
	"stark-claimer/internal/state"
	"stark-claimer/internal/storage/memory"
)

type deriver struct {
	mu    sync.Mutex
	addrs map[string][]string
	err   error
	calls int
}

func (d *deriver) CandidateAddresses(_ context.Context, secret string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.addrs[secret], nil
}

func singlePool(p *stub.Provider) *starknet.Pool {
	return starknet.NewPool([]string{"rpc"}, func(string) starknet.Provider { return p })
}

type fixture struct {
	store    *memory.WalletStore
	state    *state.State
	provider *stub.Provider
	deriver  *deriver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewWalletStore()
	st, err := state.Open(context.Background(), store)
	require.NoError(t, err)
	return &fixture{
		store:    store,
		state:    st,
		provider: stub.NewProvider(),
		deriver:  &deriver{addrs: map[string][]string{}},
	}
}

func (f *fixture) builder(withdraw config.WithdrawConfig) *Builder {
	return NewBuilder(Options{
		Deriver:  f.deriver,
		Pool:     singlePool(f.provider),
		State:    f.state,
		Withdraw: withdraw,
		Logger:   logging.Discard(),
		Rand:     rand.New(rand.NewSource(1)),
	})
}

func bothWithdrawals() config.WithdrawConfig {
	return config.WithdrawConfig{Primary: true, Secondary: true}
}

func TestBuild_LengthMismatch(t *testing.T) {
	f := newFixture(t)
	b := f.builder(bothWithdrawals())

	_, err := b.Build(context.Background(), Input{
		Secrets:               []string{"k1", "k2"},
		PrimaryDestinations:   []string{"0xe1", "0xe2"},
		SecondaryDestinations: []string{"0xs1"},
	})
	require.ErrorIs(t, err, ErrInputMismatch)
	assert.Equal(t, 0, f.deriver.calls)
	assert.Equal(t, 0, f.store.Saves())
}

func TestBuild_DisabledWithdrawalNeedsNoList(t *testing.T) {
	f := newFixture(t)
	f.deriver.addrs["k1"] = []string{"0xa1"}
	f.provider.SetClassHash("0xa1", "0xclass")

	b := f.builder(config.WithdrawConfig{Primary: true})
	res, err := b.Build(context.Background(), Input{
		Secrets:             []string{"k1"},
		PrimaryDestinations: []string{"0xe1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	r, ok := f.state.Get("0xa1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusDefault, r.TransferPrimary.Status)
	assert.Equal(t, domain.StatusSkip, r.TransferSecondary.Status)
	assert.Equal(t, "0xe1", r.PrimaryDestination)
}

func TestBuild_ResolvesDeployedAndEligibility(t *testing.T) {
	f := newFixture(t)
	f.deriver.addrs = map[string][]string{
		"k1": {"0xa1", "0xb1"},
		"k2": {"0xa2", "0xb2"},
		"k3": {"0xa3"},
	}
	f.provider.SetClassHash("0xb1", "0xargent")
	f.provider.SetClassHash("0xa2", "0xbraavos")

	proof := domain.Eligibility{Amount: big.NewInt(500), Index: 7, MerklePath: []string{"0x1", "0x2"}}
	in := Input{
		Secrets:               []string{"k1", "k2", "k3"},
		PrimaryDestinations:   []string{"0xe1", "0xe2", "0xe3"},
		SecondaryDestinations: []string{"0xs1", "0xs2", "0xs3"},
		Eligibility:           map[string]domain.Eligibility{"0x00B1": proof},
	}

	res, err := f.builder(bothWithdrawals()).Build(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, &BuildResult{Credentials: 3, Created: 2, Undeployed: 1, Eligible: 1}, res)
	assert.Equal(t, 1, f.store.Saves(), "state is flushed once")

	wallets := f.state.Wallets()
	require.Len(t, wallets, 2)

	first := wallets[0]
	assert.Equal(t, domain.NormalizeAddress("0xb1"), first.Address)
	assert.Equal(t, "k1", first.Secret)
	assert.True(t, first.Eligible)
	require.NotNil(t, first.Eligibility)
	assert.Equal(t, first.Address, first.Eligibility.Identity)
	assert.Equal(t, uint64(7), first.Eligibility.Index)
	assert.Equal(t, 0, first.Position)

	second := wallets[1]
	assert.Equal(t, domain.NormalizeAddress("0xa2"), second.Address)
	assert.False(t, second.Eligible)
	assert.Equal(t, "0xs2", second.SecondaryDestination)
	assert.Equal(t, 1, second.Position)
}

func TestBuild_NeverRecreatesRecords(t *testing.T) {
	f := newFixture(t)
	f.deriver.addrs = map[string][]string{"k1": {"0xa1"}, "k2": {"0xa2"}}
	f.provider.SetClassHash("0xa1", "0xc")
	f.provider.SetClassHash("0xa2", "0xc")

	existing := &domain.WalletRecord{
		Address:  domain.NormalizeAddress("0xa1"),
		Secret:   "k1",
		Status:   domain.StatusDone,
		Position: 4,
		Claim:    domain.NewStageState(domain.StatusDone),
	}
	f.state.Put(existing)

	in := Input{
		Secrets:               []string{"k1", "k2"},
		PrimaryDestinations:   []string{"0xe1", "0xe2"},
		SecondaryDestinations: []string{"0xs1", "0xs2"},
	}
	res, err := f.builder(bothWithdrawals()).Build(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Existing)
	assert.Equal(t, 1, res.Created)

	got, _ := f.state.Get("0xa1")
	assert.Same(t, existing, got)
	assert.Equal(t, domain.StatusDone, got.Status)

	added, _ := f.state.Get("0xa2")
	assert.Equal(t, 5, added.Position)
}

func TestBuild_BatchesClassHashLookups(t *testing.T) {
	f := newFixture(t)
	const n = 90
	in := Input{}
	for i := 0; i < n; i++ {
		secret := fmt.Sprintf("k%d", i)
		addr := fmt.Sprintf("0x%x", 1000+i)
		f.deriver.addrs[secret] = []string{addr}
		f.provider.SetClassHash(addr, "0xc")
		in.Secrets = append(in.Secrets, secret)
		in.PrimaryDestinations = append(in.PrimaryDestinations, "0xe")
		in.SecondaryDestinations = append(in.SecondaryDestinations, "0xs")
	}

	res, err := f.builder(bothWithdrawals()).Build(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, n, res.Created)
	assert.Equal(t, 3, f.provider.Count("ClassHashesAt"))
}

func TestBuild_ShuffleKeepsEveryWallet(t *testing.T) {
	f := newFixture(t)
	in := Input{}
	for i := 0; i < 10; i++ {
		secret := fmt.Sprintf("k%d", i)
		addr := fmt.Sprintf("0x%x", 1+i)
		f.deriver.addrs[secret] = []string{addr}
		f.provider.SetClassHash(addr, "0xc")
		in.Secrets = append(in.Secrets, secret)
		in.PrimaryDestinations = append(in.PrimaryDestinations, fmt.Sprintf("0xe%d", i))
		in.SecondaryDestinations = append(in.SecondaryDestinations, fmt.Sprintf("0xs%d", i))
	}

	b := f.builder(bothWithdrawals())
	b.shuffle = true
	_, err := b.Build(context.Background(), in)
	require.NoError(t, err)

	wallets := f.state.Wallets()
	require.Len(t, wallets, 10)
	for i, w := range wallets {
		assert.Equal(t, i, w.Position)
		idx := 0
		_, err := fmt.Sscanf(w.Secret, "k%d", &idx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("0xe%d", idx), w.PrimaryDestination, "destinations follow their credential")
	}
}

func TestBuild_LookupFailure(t *testing.T) {
	f := newFixture(t)
	f.deriver.err = errors.New("signer offline")

	_, err := f.builder(bothWithdrawals()).Build(context.Background(), Input{
		Secrets:               []string{"k1"},
		PrimaryDestinations:   []string{"0xe1"},
		SecondaryDestinations: []string{"0xs1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer offline")
	assert.Equal(t, 0, f.store.Saves())
}
