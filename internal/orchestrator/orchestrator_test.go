package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/errsink"
	"stark-claimer/internal/logging"
	"stark-claimer/internal/notify"
	"stark-claimer/internal/payload"
	"stark-claimer/internal/starknet"
	"stark-claimer/internal/starknet/stub"
	"stark-claimer/internal/txengine"
	"stark-claimer/internal/venue"
)

const (
	walletA = "0x0a"
	walletB = "0x0b"
	ethDest = "0x0e"
	strkDst = "0x05"
)

var oneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneToken)
}

// fakeEngine drives stages to check_balance without a chain.
type fakeEngine struct {
	mu    sync.Mutex
	subs  []txengine.Submission
	errs  map[string]error // keyed by wallet+label
	nonce uint64
}

func (e *fakeEngine) Confirm(_ context.Context, sub txengine.Submission) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, sub)
	if err := e.errs[sub.Account.Address()+"/"+sub.Label]; err != nil {
		return err
	}
	if sub.Stage.Status.Resolved() {
		return nil
	}
	if sub.Stage.Status != domain.StatusProcess {
		e.nonce++
		if err := sub.Stage.MarkSubmitted("0xtx-"+sub.Label, e.nonce); err != nil {
			return err
		}
	}
	return sub.Stage.SetStatus(domain.StatusCheckBalance)
}

func (e *fakeEngine) labels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.subs))
	for i, s := range e.subs {
		out[i] = s.Label
	}
	return out
}

type waitCall struct {
	owner    string
	token    domain.Token
	baseline *big.Int
}

type fakePoller struct {
	mu    sync.Mutex
	calls []waitCall
	err   error
}

func (p *fakePoller) WaitFor(_ context.Context, owner string, token domain.Token, baseline *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, waitCall{owner, token, baseline})
	return p.err
}

type fakeBalances struct {
	mu       sync.Mutex
	balances map[domain.Token]map[string]*big.Int
	reads    int
}

func newBalances() *fakeBalances {
	return &fakeBalances{balances: map[domain.Token]map[string]*big.Int{
		domain.TokenPrimary:   {},
		domain.TokenSecondary: {},
	}}
}

func (b *fakeBalances) set(token domain.Token, owner string, v *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[token][owner] = v
}

func (b *fakeBalances) BalanceOf(_ context.Context, token domain.Token, owner string) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if v := b.balances[token][owner]; v != nil {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

type fakeQuote struct {
	out      *big.Int
	calls    []domain.Call
	failures int
	builds   int
}

func (q *fakeQuote) Output() *big.Int { return q.out }

func (q *fakeQuote) BuildPayload(context.Context) ([]domain.Call, error) {
	q.builds++
	if q.builds <= q.failures {
		return nil, errors.New("venue busy")
	}
	return q.calls, nil
}

type fakeSelector struct {
	sel   *venue.Selection
	err   error
	calls int
	req   venue.QuoteRequest
}

func (s *fakeSelector) Select(_ context.Context, req venue.QuoteRequest) (*venue.Selection, error) {
	s.calls++
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return s.sel, nil
}

type countingFlusher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *countingFlusher) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []notify.Summary
}

func (n *recordingNotifier) Notify(_ context.Context, s notify.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return errors.New("telegram down")
}

type harness struct {
	engine   *fakeEngine
	poller   *fakePoller
	balances *fakeBalances
	selector *fakeSelector
	quote    *fakeQuote
	flusher  *countingFlusher
	notifier *recordingNotifier
	sink     *errsink.Memory
	provider *stub.Provider
	cfg      config.Config
	sleeps   []time.Duration
}

func newHarness() *harness {
	cfg := config.Default()
	cfg.Batch.Delay = config.DurationRange{Min: 10 * time.Second, Max: 15 * time.Second}
	cfg.Batch.MaxRetry = 3
	cfg.Batch.RetryBackoff = time.Millisecond

	quote := &fakeQuote{
		out:   tokens(1),
		calls: []domain.Call{{ContractAddress: domain.FibrousRouter, Entrypoint: "swap", Calldata: []string{"0x1"}}},
	}
	return &harness{
		engine:   &fakeEngine{errs: map[string]error{}},
		poller:   &fakePoller{},
		balances: newBalances(),
		quote:    quote,
		selector: &fakeSelector{sel: &venue.Selection{Venue: domain.VenueFibrous, Output: tokens(1), Quote: quote}},
		flusher:  &countingFlusher{},
		notifier: &recordingNotifier{},
		sink:     &errsink.Memory{},
		provider: stub.NewProvider(),
		cfg:      cfg,
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return New(Options{
		State:    h.flusher,
		Engine:   h.engine,
		Poller:   h.poller,
		Balances: h.balances,
		Payloads: payload.NewBuilder(payload.Options{Reserve: func() *big.Int { return new(big.Int) }}),
		Selector: h.selector,
		Pool:     starknet.NewPool([]string{"rpc"}, func(string) starknet.Provider { return h.provider }),
		Signer:   stub.Signer{},
		Notifier: h.notifier,
		ErrSink:  h.sink,
		Config:   h.cfg,
		Logger:   logging.Discard(),
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
		Rand: rand.New(rand.NewSource(7)),
	})
}

func eligibleWallet(addr string) *domain.WalletRecord {
	return &domain.WalletRecord{
		Address:              addr,
		Secret:               "secret-" + addr,
		PrimaryDestination:   ethDest,
		SecondaryDestination: strkDst,
		Eligible:             true,
		Eligibility:          &domain.Eligibility{Identity: addr, Amount: tokens(100), Index: 3, MerklePath: []string{"0x1"}},
		Status:               domain.StatusDefault,
		Claim:                domain.NewStageState(domain.StatusDefault),
		SwapOnDex:            domain.SwapState{StageState: domain.NewStageState(domain.StatusDefault)},
		TransferPrimary:      domain.NewStageState(domain.StatusDefault),
		TransferSecondary:    domain.NewStageState(domain.StatusDefault),
	}
}

func TestProcessWallet_FullPipeline(t *testing.T) {
	h := newHarness()
	h.balances.set(domain.TokenSecondary, walletA, tokens(100))
	h.balances.set(domain.TokenPrimary, walletA, tokens(1))
	h.balances.set(domain.TokenPrimary, ethDest, tokens(2))
	r := eligibleWallet(walletA)

	err := h.orchestrator().ProcessWallet(context.Background(), r, 1, 5)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, r.Status)
	assert.Equal(t, []string{StageClaim, StageSwap, StageTransferPrimary}, h.engine.labels())

	assert.Equal(t, domain.StatusDone, r.Claim.Status)
	assert.Equal(t, tokens(100), r.Claim.Amount)
	assert.Equal(t, tokens(100), r.Claim.BalanceBaseline, "claim baseline is the wallet STRK balance before submission")

	assert.Equal(t, domain.StatusDone, r.SwapOnDex.Status)
	assert.Equal(t, domain.VenueFibrous, r.SwapOnDex.Venue)
	assert.Equal(t, h.quote.calls, r.SwapOnDex.Payload)
	assert.Equal(t, tokens(1), r.SwapOnDex.BalanceBaseline, "swap baseline is the pre-swap ETH balance")
	assert.Equal(t, domain.STRKAddress, h.selector.req.SellToken)
	assert.Equal(t, domain.ETHAddress, h.selector.req.BuyToken)

	assert.Equal(t, domain.StatusSkip, r.TransferSecondary.Status, "swap done skips the STRK withdrawal")

	fee := starknet.SuggestedMaxFee(h.provider.Fee)
	wantAmount := new(big.Int).Sub(tokens(1), fee)
	assert.Equal(t, domain.StatusDone, r.TransferPrimary.Status)
	assert.Equal(t, wantAmount, r.TransferPrimary.Amount)
	assert.Equal(t, tokens(2), r.TransferPrimary.BalanceBaseline, "transfer baseline is the destination balance before submission")

	require.Len(t, h.poller.calls, 3)
	assert.Equal(t, waitCall{ethDest, domain.TokenPrimary, r.TransferPrimary.BalanceBaseline}, h.poller.calls[2])

	require.Len(t, h.notifier.summaries, 1, "notifier failures are not fatal")
	assert.Equal(t, 1, h.notifier.summaries[0].Position)
	assert.Equal(t, 5, h.notifier.summaries[0].Total)

	require.Len(t, h.sleeps, 1)
	assert.GreaterOrEqual(t, h.sleeps[0], 10*time.Second)
	assert.LessOrEqual(t, h.sleeps[0], 15*time.Second)
	assert.Empty(t, h.sink.Secrets())
}

func TestProcessWallet_TransferBaselineIsDestinationPreBalance(t *testing.T) {
	h := newHarness()
	h.cfg.AutoSell.Enabled = false
	h.balances.set(domain.TokenSecondary, walletA, tokens(100))
	h.balances.set(domain.TokenSecondary, strkDst, tokens(7))
	r := eligibleWallet(walletA)

	require.NoError(t, h.orchestrator().ProcessWallet(context.Background(), r, 1, 1))

	assert.Equal(t, []string{StageClaim, StageTransferSecondary}, h.engine.labels())
	assert.Equal(t, domain.StatusDone, r.TransferSecondary.Status)
	assert.Equal(t, tokens(100), r.TransferSecondary.Amount)
	assert.Equal(t, tokens(7), r.TransferSecondary.BalanceBaseline)
	require.Len(t, h.poller.calls, 2)
	assert.Equal(t, waitCall{strkDst, domain.TokenSecondary, tokens(7)}, h.poller.calls[1])
}

func TestProcessWallet_EmptySwapPayloadFailsStage(t *testing.T) {
	h := newHarness()
	h.quote.calls = nil
	h.balances.set(domain.TokenSecondary, walletA, tokens(100))
	r := eligibleWallet(walletA)

	err := h.orchestrator().ProcessWallet(context.Background(), r, 1, 1)
	require.ErrorIs(t, err, payload.ErrInvalidRequest)
	assert.Equal(t, domain.StatusError, r.SwapOnDex.Status)
	assert.Empty(t, r.SwapOnDex.Payload)
	assert.Equal(t, []string{StageClaim}, h.engine.labels())
}

func TestProcessWallet_NotEligibleOnlyWithdrawsETH(t *testing.T) {
	h := newHarness()
	h.balances.set(domain.TokenPrimary, walletA, tokens(1))
	r := eligibleWallet(walletA)
	r.Eligible = false
	r.Eligibility = nil

	require.NoError(t, h.orchestrator().ProcessWallet(context.Background(), r, 1, 1))

	assert.Equal(t, []string{StageTransferPrimary}, h.engine.labels())
	assert.Equal(t, domain.StatusDefault, r.Claim.Status)
	assert.Equal(t, domain.StatusDefault, r.SwapOnDex.Status)
	assert.Equal(t, domain.StatusDone, r.TransferPrimary.Status)
	assert.Equal(t, domain.StatusDone, r.Status)
	assert.Len(t, h.notifier.summaries, 1)
}

func TestProcessWallet_DoneWalletUntouched(t *testing.T) {
	h := newHarness()
	r := eligibleWallet(walletA)
	r.Status = domain.StatusDone

	require.NoError(t, h.orchestrator().ProcessWallet(context.Background(), r, 1, 1))
	assert.Empty(t, h.engine.labels())
	assert.Equal(t, 0, h.flusher.calls)
	assert.Empty(t, h.notifier.summaries)
}

func TestProcessWallet_NoRouteLeavesSwapUnchanged(t *testing.T) {
	h := newHarness()
	h.selector.err = venue.ErrNoRoute
	h.balances.set(domain.TokenSecondary, walletA, tokens(100))
	h.balances.set(domain.TokenPrimary, walletA, tokens(1))
	r := eligibleWallet(walletA)

	require.NoError(t, h.orchestrator().ProcessWallet(context.Background(), r, 1, 1))

	assert.Equal(t, domain.StatusDefault, r.SwapOnDex.Status)
	assert.Equal(t, []string{StageClaim, StageTransferSecondary, StageTransferPrimary}, h.engine.labels())
	assert.Equal(t, domain.StatusDone, r.TransferSecondary.Status)
	assert.Equal(t, tokens(100), r.TransferSecondary.Amount)
	assert.Equal(t, domain.StatusDone, r.Status)
}

func TestProcessWallet_SwapResumesFromStoredPayload(t *testing.T) {
	h := newHarness()
	h.balances.set(domain.TokenPrimary, walletA, tokens(1))
	r := eligibleWallet(walletA)
	r.Claim.Status = domain.StatusDone
	stored := []domain.Call{{ContractAddress: "0xavnu", Entrypoint: "multi_route_swap"}}
	r.SwapOnDex.Status = domain.StatusGetPayload
	r.SwapOnDex.Venue = domain.VenueAVNU
	r.SwapOnDex.Payload = stored
	r.SwapOnDex.BalanceBaseline = tokens(1)

	require.NoError(t, h.orchestrator().ProcessWallet(context.Background(), r, 1, 1))

	assert.Equal(t, 0, h.selector.calls)
	require.NotEmpty(t, h.engine.subs)
	assert.Equal(t, StageSwap, h.engine.subs[0].Label)
	assert.Equal(t, stored, h.engine.subs[0].Calls)
	assert.Equal(t, domain.VenueAVNU, r.SwapOnDex.Venue)
	assert.Equal(t, domain.StatusDone, r.SwapOnDex.Status)
}

func TestProcessWallet_ClaimInProcessIsNotRebuilt(t *testing.T) {
	h := newHarness()
	r := eligibleWallet(walletA)
	r.Claim.Status = domain.StatusProcess
	r.Claim.TxHash = "0xabc"
	r.Claim.BalanceBaseline = tokens(42)
	h.cfg.AutoSell.Enabled = false
	h.cfg.Withdraw.Secondary = false
	h.cfg.Withdraw.Primary = false

	require.NoError(t, h.orchestrator().ProcessWallet(context.Background(), r, 1, 1))

	require.NotEmpty(t, h.engine.subs)
	assert.Nil(t, h.engine.subs[0].Calls)
	assert.Equal(t, "0xabc", r.Claim.TxHash)
	assert.Equal(t, tokens(42), h.poller.calls[0].baseline)
	assert.Equal(t, domain.StatusSkip, r.TransferPrimary.Status)
	assert.Equal(t, domain.StatusSkip, r.TransferSecondary.Status)
}

func TestProcessWallet_SwapPayloadBuildRetried(t *testing.T) {
	h := newHarness()
	h.quote.failures = 2
	h.balances.set(domain.TokenSecondary, walletA, tokens(100))
	r := eligibleWallet(walletA)
	h.cfg.Withdraw.Primary = false

	require.NoError(t, h.orchestrator().ProcessWallet(context.Background(), r, 1, 1))
	assert.Equal(t, 3, h.quote.builds)
	assert.Equal(t, domain.StatusDone, r.SwapOnDex.Status)
}

func TestProcessWallet_ZeroBalanceSkipsTransfer(t *testing.T) {
	h := newHarness()
	r := eligibleWallet(walletA)
	r.Eligible = false

	require.NoError(t, h.orchestrator().ProcessWallet(context.Background(), r, 1, 1))
	assert.Equal(t, domain.StatusSkip, r.TransferPrimary.Status)
	assert.Empty(t, h.engine.labels())
	assert.Equal(t, domain.StatusDone, r.Status)
}

func TestProcessWallet_InsufficientBalanceFailsWallet(t *testing.T) {
	h := newHarness()
	h.balances.set(domain.TokenPrimary, walletA, big.NewInt(1000))
	r := eligibleWallet(walletA)
	r.Eligible = false

	err := h.orchestrator().ProcessWallet(context.Background(), r, 1, 1)
	require.ErrorIs(t, err, payload.ErrInsufficientBalance)
	assert.Equal(t, domain.StatusError, r.TransferPrimary.Status)
	assert.NotEmpty(t, r.TransferPrimary.Reason)
	assert.Equal(t, domain.StatusError, r.Status)
	assert.Equal(t, []string{r.Secret}, h.sink.Secrets())
	assert.Empty(t, h.notifier.summaries)
}

func TestProcessWallet_RevertMarksWalletError(t *testing.T) {
	h := newHarness()
	h.balances.set(domain.TokenSecondary, walletA, tokens(100))
	h.engine.errs[walletA+"/"+StageClaim] = &txengine.RevertError{TxHash: "0x1", Reason: "already claimed"}
	r := eligibleWallet(walletA)

	err := h.orchestrator().ProcessWallet(context.Background(), r, 1, 1)
	require.ErrorIs(t, err, txengine.ErrReverted)
	assert.Equal(t, domain.StatusError, r.Claim.Status)
	assert.Equal(t, domain.StatusError, r.Status)
	assert.Equal(t, domain.StatusDefault, r.SwapOnDex.Status, "later stages are not attempted")
}

func TestProcessWallet_StateWriteEscapes(t *testing.T) {
	h := newHarness()
	h.flusher.err = errors.New("disk full")
	r := eligibleWallet(walletA)

	err := h.orchestrator().ProcessWallet(context.Background(), r, 1, 1)
	require.ErrorIs(t, err, ErrStateWrite)
	assert.Empty(t, h.sink.Secrets())
}

type staticWallets []*domain.WalletRecord

func (s staticWallets) Wallets() []*domain.WalletRecord { return s }

func TestOrder_EligibleFirstStable(t *testing.T) {
	in := []*domain.WalletRecord{
		{Address: "1"}, {Address: "2", Eligible: true}, {Address: "3"}, {Address: "4", Eligible: true},
	}
	out := Order(in)
	got := make([]string, len(out))
	for i, r := range out {
		got[i] = r.Address
	}
	assert.Equal(t, []string{"2", "4", "1", "3"}, got)
	assert.Equal(t, "1", in[0].Address, "input is not reordered")
}

func TestRunner_IsolatesWalletFailures(t *testing.T) {
	h := newHarness()
	h.engine.errs[walletA+"/"+StageClaim] = errors.New("all endpoints exhausted")
	for _, w := range []string{walletA, walletB} {
		h.balances.set(domain.TokenSecondary, w, tokens(100))
		h.balances.set(domain.TokenPrimary, w, tokens(1))
	}
	a, b := eligibleWallet(walletA), eligibleWallet(walletB)

	runner := NewRunner(RunnerOptions{
		Wallets:      staticWallets{a, b},
		Orchestrator: h.orchestrator(),
		MaxRetry:     3,
		Logger:       logging.Discard(),
		NewRunID:     func() string { return "run-1" },
	})
	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Attempts)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], walletA)

	assert.Equal(t, domain.StatusError, a.Status)
	assert.Equal(t, domain.StatusDone, b.Status)
	assert.Equal(t, []string{a.Secret}, h.sink.Secrets())
	require.Len(t, h.notifier.summaries, 1)
	assert.Equal(t, "run-1", h.notifier.summaries[0].RunID)
	assert.Equal(t, 2, h.notifier.summaries[0].Position)
}

func TestRunner_SkipsFinishedWallets(t *testing.T) {
	h := newHarness()
	done := eligibleWallet(walletA)
	done.Status = domain.StatusDone

	runner := NewRunner(RunnerOptions{
		Wallets:      staticWallets{done},
		Orchestrator: h.orchestrator(),
		Logger:       logging.Discard(),
	})
	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Processed)
	assert.NotEmpty(t, res.RunID)
}

func TestRunner_RetriesBatchOnStateWrite(t *testing.T) {
	h := newHarness()
	h.flusher.err = errors.New("db down")

	runner := NewRunner(RunnerOptions{
		Wallets:      staticWallets{eligibleWallet(walletA)},
		Orchestrator: h.orchestrator(),
		MaxRetry:     3,
		RetryBackoff: time.Millisecond,
		Logger:       logging.Discard(),
	})
	res, err := runner.Run(context.Background())
	require.ErrorIs(t, err, ErrStateWrite)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, h.flusher.calls)
}

func TestRunner_EmptyBatch(t *testing.T) {
	h := newHarness()
	runner := NewRunner(RunnerOptions{
		Wallets:      staticWallets{},
		Orchestrator: h.orchestrator(),
		MaxRetry:     3,
		Logger:       logging.Discard(),
	})
	res, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, res.Attempts)
}
