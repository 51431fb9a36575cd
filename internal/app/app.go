// Package app wires the claimer components together for the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"stark-claimer/internal/balance"
	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/errsink"
	"stark-claimer/internal/gasoracle"
	"stark-claimer/internal/notify"
	"stark-claimer/internal/observability"
	"stark-claimer/internal/orchestrator"
	"stark-claimer/internal/payload"
	"stark-claimer/internal/registry"
	"stark-claimer/internal/reporting"
	"stark-claimer/internal/starknet"
	"stark-claimer/internal/state"
	"stark-claimer/internal/storage"
	chstore "stark-claimer/internal/storage/clickhouse"
	"stark-claimer/internal/storage/migrations"
	"stark-claimer/internal/txengine"
	"stark-claimer/internal/venue"
)

// App owns the store, the state and the RPC pool of one process.
type App struct {
	cfg     config.Config
	log     logrus.FieldLogger
	metrics *observability.Metrics

	store storage.WalletStore
	state *state.State
	pool  *starknet.Pool

	deriver starknet.AddressDeriver
	signer  starknet.Signer
	dial    starknet.Dialer
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// Option customizes an App.
type Option func(*App)

// WithDialer replaces the JSON-RPC client factory.
func WithDialer(d starknet.Dialer) Option {
	return func(a *App) { a.dial = d }
}

// WithKeyService replaces the remote signing service.
func WithKeyService(deriver starknet.AddressDeriver, signer starknet.Signer) Option {
	return func(a *App) {
		a.deriver = deriver
		a.signer = signer
	}
}

// WithSleep replaces the inter-wallet delay.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *App) { a.sleep = fn }
}

// WithClock sets the clock used for records and reports.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New opens the store, loads the state and builds the RPC pool.
func New(ctx context.Context, cfg config.Config, log logrus.FieldLogger, metrics *observability.Metrics, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.dial == nil {
		a.dial = a.httpDialer()
	}
	if a.deriver == nil || a.signer == nil {
		keys := starknet.NewRemoteKeyService(cfg.Signer.URL, cfg.Signer.Timeout)
		a.deriver, a.signer = keys, keys
	}

	store, err := OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	st, err := state.Open(ctx, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	a.store = store
	a.state = st

	a.pool = starknet.NewPool(cfg.RPC.Endpoints, a.dial, starknet.WithFailoverHook(func(endpoint string, err error) {
		metrics.RecordFailover(endpoint)
		log.WithError(err).WithField("endpoint", endpoint).Warn("rpc endpoint failed, switching")
	}))

	log.WithFields(logrus.Fields{
		"wallets":   st.Len(),
		"endpoints": a.pool.Len(),
		"driver":    cfg.Storage.Driver,
	}).Info("state loaded")
	return a, nil
}

func (a *App) httpDialer() starknet.Dialer {
	rpc := a.cfg.RPC
	return func(endpoint string) starknet.Provider {
		opts := []starknet.ClientOption{
			starknet.WithObserver(func(method string, d time.Duration, err error) {
				a.metrics.RecordRPCLatency(method, d.Seconds(), err)
			}),
		}
		if rpc.Timeout > 0 {
			opts = append(opts, starknet.WithTimeout(rpc.Timeout))
		}
		if rpc.MaxRetries > 0 {
			opts = append(opts, starknet.WithMaxRetries(rpc.MaxRetries))
		}
		return starknet.NewHTTPClient(endpoint, opts...)
	}
}

// State returns the in-memory wallet table.
func (a *App) State() *state.State {
	return a.state
}

// InitializeAndBuildStore creates the records for every credential in in
// that has no record yet.
func (a *App) InitializeAndBuildStore(ctx context.Context, in registry.Input) (*registry.BuildResult, error) {
	b := registry.NewBuilder(registry.Options{
		Deriver:  a.deriver,
		Pool:     a.pool,
		State:    a.state,
		Withdraw: a.cfg.Withdraw,
		Shuffle:  a.cfg.Batch.ShuffleWallets,
		Logger:   a.log.WithField("component", "registry"),
		Now:      a.now,
	})
	res, err := b.Build(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("build wallet table: %w", err)
	}
	a.log.WithFields(logrus.Fields{
		"credentials": res.Credentials,
		"created":     res.Created,
		"existing":    res.Existing,
		"undeployed":  res.Undeployed,
		"eligible":    res.Eligible,
	}).Info("wallet table ready")
	return res, nil
}

// RunBatch processes every wallet in the table.
func (a *App) RunBatch(ctx context.Context) (*orchestrator.RunResult, error) {
	cfg := a.cfg
	log := a.log

	engineOpts := txengine.Options{
		Pool:    a.pool,
		State:   a.state,
		Config:  cfg.Confirmation,
		Logger:  log.WithField("component", "txengine"),
		Metrics: a.metrics,
	}
	if cfg.L1.RPCURL != "" {
		oracle, err := gasoracle.Dial(ctx, cfg.L1.RPCURL)
		if err != nil {
			return nil, err
		}
		defer oracle.Close()
		engineOpts.Gas = gasoracle.NewWaiter(oracle, cfg.L1.MaxGasGwei, cfg.L1.PollInterval, cfg.L1.MaxPolls, log.WithField("component", "gas"))
	}
	engine := txengine.New(engineOpts)

	reader := balance.NewReader(a.pool, map[domain.Token]string{
		domain.TokenPrimary:   domain.ETHAddress,
		domain.TokenSecondary: domain.STRKAddress,
	})
	poller := balance.NewPoller(reader, cfg.Settlement, log.WithField("component", "settlement"))
	poller.OnPoll(func(token domain.Token) {
		a.metrics.RecordBalancePoll(string(token))
	})

	venues, err := venue.NewVenues(cfg.AutoSell, a.pool)
	if err != nil {
		return nil, err
	}
	selector := venue.NewSelector(venues, cfg.MinProceedsWei(), log.WithField("component", "venue"), a.metrics)

	keepMin, keepMax := cfg.KeepBalanceRange()
	payloads := payload.NewBuilder(payload.Options{
		KeepMin: keepMin,
		KeepMax: keepMax,
		Seed:    a.now().UnixNano(),
	})

	var notifier notify.Multi
	if tg := notify.NewTelegram(cfg.Notify.Telegram); tg != nil {
		notifier = append(notifier, tg)
	}
	nc, err := notify.NewNATS(cfg.Notify.NATS, log.WithField("component", "nats"))
	if err != nil {
		return nil, err
	}
	if nc != nil {
		defer nc.Close()
		notifier = append(notifier, nc)
	}

	orch := orchestrator.New(orchestrator.Options{
		State:    a.state,
		Engine:   engine,
		Poller:   poller,
		Balances: reader,
		Payloads: payloads,
		Selector: selector,
		Pool:     a.pool,
		Signer:   a.signer,
		Notifier: notifier,
		ErrSink:  errsink.NewFileSink(cfg.ErrorSink.Path),
		Config:   cfg,
		Logger:   log,
		Metrics:  a.metrics,
		Sleep:    a.sleep,
	})

	runner := orchestrator.NewRunner(orchestrator.RunnerOptions{
		Wallets:      a.state,
		Orchestrator: orch,
		MaxRetry:     cfg.Batch.MaxRetry,
		RetryBackoff: cfg.Batch.RetryBackoff,
		Logger:       log,
		Metrics:      a.metrics,
		Now:          a.now,
	})
	return runner.Run(ctx)
}

// ExportReport writes the CSV report and its markdown summary next to it,
// and stores the rows in ClickHouse when a DSN is configured. An empty runID
// tags a standalone export with a fresh id.
func (a *App) ExportReport(ctx context.Context, runID string) (*reporting.Report, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	report, err := reporting.NewGenerator(a.store).WithClock(a.now).Generate(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}

	csvPath := a.cfg.Report.CSVPath
	if err := reporting.WriteCSV(csvPath, report.Rows); err != nil {
		return nil, err
	}
	mdPath := strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + ".md"
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		return nil, fmt.Errorf("write report summary: %w", err)
	}
	a.log.WithFields(logrus.Fields{
		"rows": len(report.Rows),
		"csv":  csvPath,
		"md":   mdPath,
	}).Info("report written")

	if dsn := a.cfg.Report.ClickhouseDSN; dsn != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		defer conn.Close()
		if err := chstore.NewReportStore(conn).InsertReport(ctx, report); err != nil {
			return nil, err
		}
		a.log.Info("report stored in clickhouse")
	}
	return report, nil
}

// Close flushes the state and releases the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.state.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
