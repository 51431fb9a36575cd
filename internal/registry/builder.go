// Package registry builds the wallet table from the credential and
// destination lists: it derives each credential's deployed account address,
// attaches eligibility and creates the records that do not exist yet.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/starknet"
	"stark-claimer/internal/state"
)

const (
	// DefaultBatchSize is the number of addresses per class hash batch.
	DefaultBatchSize = 40
	// DefaultConcurrency bounds the number of batches in flight.
	DefaultConcurrency = 4
)

// ErrInputMismatch means the input lists do not line up.
var ErrInputMismatch = errors.New("input lists do not match")

// Input is the raw material for the wallet table.
type Input struct {
	Secrets               []string
	PrimaryDestinations   []string
	SecondaryDestinations []string
	// Eligibility is keyed by account address in any hex form.
	Eligibility map[string]domain.Eligibility
}

// BuildResult summarizes one Build call.
type BuildResult struct {
	Credentials int
	Created     int
	Existing    int
	Undeployed  int
	Eligible    int
}

// Options configures a Builder.
type Options struct {
	Deriver     starknet.AddressDeriver
	Pool        *starknet.Pool
	State       *state.State
	Withdraw    config.WithdrawConfig
	Shuffle     bool
	BatchSize   int
	Concurrency int
	Logger      logrus.FieldLogger
	Rand        *rand.Rand
	Now         func() time.Time
}

// Builder creates wallet records.
type Builder struct {
	deriver     starknet.AddressDeriver
	pool        *starknet.Pool
	state       *state.State
	withdraw    config.WithdrawConfig
	shuffle     bool
	batchSize   int
	concurrency int
	log         logrus.FieldLogger
	rng         *rand.Rand
	now         func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	b := &Builder{
		deriver:     opts.Deriver,
		pool:        opts.Pool,
		state:       opts.State,
		withdraw:    opts.Withdraw,
		shuffle:     opts.Shuffle,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		log:         opts.Logger,
		rng:         opts.Rand,
		now:         opts.Now,
	}
	if b.batchSize <= 0 {
		b.batchSize = DefaultBatchSize
	}
	if b.concurrency <= 0 {
		b.concurrency = DefaultConcurrency
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if b.now == nil {
		b.now = func() time.Time { return time.Now().UTC() }
	}
	return b
}

type resolved struct {
	index   int
	address string
}

// Build validates in, resolves every credential's deployed address and
// inserts the missing records. State is flushed once at the end.
func (b *Builder) Build(ctx context.Context, in Input) (*BuildResult, error) {
	if err := b.validate(in); err != nil {
		return nil, err
	}
	result := &BuildResult{Credentials: len(in.Secrets)}

	candidates, err := b.deriveAll(ctx, in.Secrets)
	if err != nil {
		return nil, err
	}

	deployed, err := b.lookupDeployed(ctx, candidates)
	if err != nil {
		return nil, err
	}

	var wallets []resolved
	for i, addrs := range candidates {
		addr := ""
		for _, a := range addrs {
			if deployed[domain.NormalizeAddress(a)] {
				addr = a
				break
			}
		}
		if addr == "" {
			result.Undeployed++
			b.log.WithField("credential", i+1).Warn("no deployed account for credential, skipping")
			continue
		}
		wallets = append(wallets, resolved{index: i, address: domain.NormalizeAddress(addr)})
	}

	if b.shuffle {
		b.log.Info("shuffling wallets")
		b.rng.Shuffle(len(wallets), func(i, j int) { wallets[i], wallets[j] = wallets[j], wallets[i] })
	}

	eligibility := make(map[string]domain.Eligibility, len(in.Eligibility))
	for addr, e := range in.Eligibility {
		eligibility[domain.NormalizeAddress(addr)] = e
	}

	position := b.state.NextPosition()
	for _, w := range wallets {
		if b.state.Has(w.address) {
			result.Existing++
			continue
		}
		r := b.newRecord(in, w, position)
		if e, ok := eligibility[w.address]; ok && e.Amount != nil && e.Amount.Sign() > 0 {
			e.MerklePath = append([]string(nil), e.MerklePath...)
			if e.Identity == "" {
				e.Identity = w.address
			}
			r.Eligibility = &e
			r.Eligible = true
			result.Eligible++
		}
		b.state.Put(r)
		position++
		result.Created++
		b.log.WithFields(logrus.Fields{"wallet": w.address, "eligible": r.Eligible}).Info("wallet record created")
	}

	if err := b.state.Flush(ctx); err != nil {
		return nil, err
	}
	b.log.WithFields(logrus.Fields{
		"created":    result.Created,
		"existing":   result.Existing,
		"undeployed": result.Undeployed,
		"eligible":   result.Eligible,
	}).Info("wallet table built")
	return result, nil
}

func (b *Builder) validate(in Input) error {
	n := len(in.Secrets)
	if n == 0 {
		return fmt.Errorf("%w: no credentials", ErrInputMismatch)
	}
	if b.withdraw.Primary && len(in.PrimaryDestinations) != n {
		return fmt.Errorf("%w: %d credentials, %d ETH destinations", ErrInputMismatch, n, len(in.PrimaryDestinations))
	}
	if b.withdraw.Secondary && len(in.SecondaryDestinations) != n {
		return fmt.Errorf("%w: %d credentials, %d STRK destinations", ErrInputMismatch, n, len(in.SecondaryDestinations))
	}
	return nil
}

func (b *Builder) newRecord(in Input, w resolved, position int) *domain.WalletRecord {
	now := b.now()
	r := &domain.WalletRecord{
		Address:           w.address,
		Secret:            in.Secrets[w.index],
		Status:            domain.StatusDefault,
		Position:          position,
		Claim:             domain.NewStageState(domain.StatusDefault),
		SwapOnDex:         domain.SwapState{StageState: domain.NewStageState(domain.StatusDefault)},
		TransferPrimary:   domain.NewStageState(withdrawStatus(b.withdraw.Primary)),
		TransferSecondary: domain.NewStageState(withdrawStatus(b.withdraw.Secondary)),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if w.index < len(in.PrimaryDestinations) {
		r.PrimaryDestination = in.PrimaryDestinations[w.index]
	}
	if w.index < len(in.SecondaryDestinations) {
		r.SecondaryDestination = in.SecondaryDestinations[w.index]
	}
	return r
}

func withdrawStatus(enabled bool) domain.Status {
	if enabled {
		return domain.StatusDefault
	}
	return domain.StatusSkip
}

// deriveAll returns the candidate addresses of every secret, index-aligned.
func (b *Builder) deriveAll(ctx context.Context, secrets []string) ([][]string, error) {
	out := make([][]string, len(secrets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, secret := range secrets {
		g.Go(func() error {
			addrs, err := b.deriver.CandidateAddresses(gctx, secret)
			if err != nil {
				return fmt.Errorf("derive credential %d: %w", i+1, err)
			}
			out[i] = addrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// lookupDeployed checks every candidate address in batches and returns the
// set of deployed ones, keyed by normalized address.
func (b *Builder) lookupDeployed(ctx context.Context, candidates [][]string) (map[string]bool, error) {
	seen := make(map[string]bool)
	var flat []string
	for _, addrs := range candidates {
		for _, a := range addrs {
			k := domain.NormalizeAddress(a)
			if !seen[k] {
				seen[k] = true
				flat = append(flat, k)
			}
		}
	}

	var (
		mu       sync.Mutex
		deployed = make(map[string]bool, len(flat))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(flat); start += b.batchSize {
		batch := flat[start:min(start+b.batchSize, len(flat))]
		g.Go(func() error {
			var hashes []string
			err := b.pool.Failover(gctx, func(ctx context.Context, p starknet.Provider) error {
				h, err := p.ClassHashesAt(ctx, batch, starknet.BlockLatest)
				if err != nil {
					return err
				}
				if len(h) != len(batch) {
					return fmt.Errorf("%w: %d class hashes for %d addresses", starknet.ErrUnexpectedResponse, len(h), len(batch))
				}
				hashes = h
				return nil
			})
			if err != nil {
				return fmt.Errorf("class hash lookup: %w", err)
			}
			mu.Lock()
			for i, h := range hashes {
				if h != "" {
					deployed[batch[i]] = true
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return deployed, nil
}
