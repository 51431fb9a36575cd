// Package config loads the immutable runtime configuration.
//
// Sources are applied in order: built-in defaults, a YAML file, a .env file
// and finally process environment variables.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"stark-claimer/internal/domain"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverJSON     = "json"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the full runtime configuration. It is built once by Load and
// passed by value; components never mutate it.
type Config struct {
	RPC          RPCConfig          `yaml:"rpc"`
	L1           L1Config           `yaml:"l1"`
	Signer       SignerConfig       `yaml:"signer"`
	Storage      StorageConfig      `yaml:"storage"`
	Batch        BatchConfig        `yaml:"batch"`
	Withdraw     WithdrawConfig     `yaml:"withdraw"`
	AutoSell     AutoSellConfig     `yaml:"autoSell"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Settlement   SettlementConfig   `yaml:"settlement"`
	Notify       NotifyConfig       `yaml:"notify"`
	ErrorSink    ErrorSinkConfig    `yaml:"errorSink"`
	Report       ReportConfig       `yaml:"report"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
	Inputs       InputsConfig       `yaml:"inputs"`

	minProceeds decimal.Decimal
	keepMin     decimal.Decimal
	keepMax     decimal.Decimal
}

// RPCConfig lists the Starknet JSON-RPC endpoints, in failover order.
type RPCConfig struct {
	Endpoints  []string      `yaml:"endpoints"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// L1Config configures the L1 congestion ceiling checked before submitting.
type L1Config struct {
	RPCURL       string        `yaml:"rpcUrl"`
	MaxGasGwei   float64       `yaml:"maxGasGwei"`
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxPolls     int           `yaml:"maxPolls"`
}

// SignerConfig points at the signing sidecar.
type SignerConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects the wallet store backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgresDsn"`
	RedisURL    string `yaml:"redisUrl"`
	RedisKey    string `yaml:"redisKey"`
}

// DurationRange is an inclusive [Min, Max] interval.
type DurationRange struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// BatchConfig controls the batch driver.
type BatchConfig struct {
	MaxRetry       int           `yaml:"maxRetry"`
	RetryBackoff   time.Duration `yaml:"retryBackoff"`
	Delay          DurationRange `yaml:"delay"`
	ShuffleWallets bool          `yaml:"shuffleWallets"`
}

// AmountRange is an inclusive range of token amounts in whole units ("0.01").
type AmountRange struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// WithdrawConfig toggles the outbound transfers.
type WithdrawConfig struct {
	Primary     bool        `yaml:"primary"`
	Secondary   bool        `yaml:"secondary"`
	KeepBalance AmountRange `yaml:"keepBalance"`
}

// AutoSellConfig configures the swap stage and its venues.
type AutoSellConfig struct {
	Enabled           bool          `yaml:"enabled"`
	MinProceeds       string        `yaml:"minProceeds"`
	Venues            []string      `yaml:"venues"`
	Slippage          float64       `yaml:"slippage"`
	AVNUURL           string        `yaml:"avnuUrl"`
	FibrousURL        string        `yaml:"fibrousUrl"`
	EkuboURL          string        `yaml:"ekuboUrl"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ConfirmationConfig bounds the polling loops of the confirmation engine.
type ConfirmationConfig struct {
	ReceiptInterval   time.Duration `yaml:"receiptInterval"`
	ReceiptAttempts   int           `yaml:"receiptAttempts"`
	NonceInterval     time.Duration `yaml:"nonceInterval"`
	NonceAttempts     int           `yaml:"nonceAttempts"`
	DuplicateBackoff  time.Duration `yaml:"duplicateBackoff"`
	DuplicateAttempts int           `yaml:"duplicateAttempts"`
}

// SettlementConfig bounds the balance poller.
type SettlementConfig struct {
	Interval time.Duration `yaml:"interval"`
	Attempts int           `yaml:"attempts"`
}

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token   string   `yaml:"token"`
	ChatIDs []string `yaml:"chatIds"`
	APIURL  string   `yaml:"apiUrl"`
}

// NATSConfig configures the NATS notifier.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// NotifyConfig holds all notification sinks.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	NATS     NATSConfig     `yaml:"nats"`
}

// ErrorSinkConfig is where failed credentials are appended.
type ErrorSinkConfig struct {
	Path string `yaml:"path"`
}

// ReportConfig configures exportReport.
type ReportConfig struct {
	CSVPath       string `yaml:"csvPath"`
	ClickhouseDSN string `yaml:"clickhouseDsn"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// InputsConfig names the input files read by the init command.
type InputsConfig struct {
	Credentials           string `yaml:"credentials"`
	PrimaryDestinations   string `yaml:"primaryDestinations"`
	SecondaryDestinations string `yaml:"secondaryDestinations"`
	Eligibility           string `yaml:"eligibility"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RPC: RPCConfig{
			Endpoints:  []string{"https://starknet-mainnet.public.blastapi.io"},
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		L1: L1Config{
			RPCURL:       "https://eth.llamarpc.com",
			MaxGasGwei:   30,
			PollInterval: 10 * time.Second,
			MaxPolls:     360,
		},
		Signer: SignerConfig{
			URL:     "http://127.0.0.1:8545",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   DriverJSON,
			Path:     "./data/db.json",
			RedisKey: "stark-claimer:wallets",
		},
		Batch: BatchConfig{
			MaxRetry:     3,
			RetryBackoff: 5 * time.Second,
			Delay:        DurationRange{Min: 10 * time.Second, Max: 15 * time.Second},
		},
		Withdraw: WithdrawConfig{
			Primary:     true,
			Secondary:   true,
			KeepBalance: AmountRange{Min: "0", Max: "0"},
		},
		AutoSell: AutoSellConfig{
			Enabled:     true,
			MinProceeds: "0.1",
			Venues: []string{
				string(domain.VenueAVNU),
				string(domain.VenueFibrous),
				string(domain.VenueMySwap),
				string(domain.VenueEkubo),
			},
			Slippage:          0.01,
			AVNUURL:           "https://starknet.api.avnu.fi",
			FibrousURL:        "https://api.fibrous.finance",
			EkuboURL:          "https://mainnet-api.ekubo.org",
			RequestsPerSecond: 2,
			Timeout:           15 * time.Second,
		},
		Confirmation: ConfirmationConfig{
			ReceiptInterval:   2 * time.Second,
			ReceiptAttempts:   300,
			NonceInterval:     2 * time.Second,
			NonceAttempts:     90,
			DuplicateBackoff:  10 * time.Second,
			DuplicateAttempts: 30,
		},
		Settlement: SettlementConfig{
			Interval: 10 * time.Second,
			Attempts: 15,
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{APIURL: "https://api.telegram.org"},
			NATS:     NATSConfig{Subject: "claimer.wallet.summary"},
		},
		ErrorSink: ErrorSinkConfig{Path: "./data/error/pkError.txt"},
		Report:    ReportConfig{CSVPath: "./data/report.csv"},
		Metrics:   MetricsConfig{Namespace: "stark_claimer"},
		Log:       LogConfig{Level: "info"},
		Inputs: InputsConfig{
			Credentials:           "./data/privateKeys.txt",
			PrimaryDestinations:   "./data/withdrawETH.txt",
			SecondaryDestinations: "./data/withdrawSTRK.txt",
			Eligibility:           "./data/eligible.json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (optional),
// a .env file in the working directory (optional) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := getEnvList("STARK_RPC_ENDPOINTS"); len(v) > 0 {
		c.RPC.Endpoints = v
	}
	c.L1.RPCURL = getEnv("STARK_L1_RPC", c.L1.RPCURL)
	c.L1.MaxGasGwei = getEnvFloat("STARK_MAX_GAS_GWEI", c.L1.MaxGasGwei)
	c.Signer.URL = getEnv("STARK_SIGNER_URL", c.Signer.URL)
	c.Storage.Driver = getEnv("STARK_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = getEnv("STARK_STORAGE_PATH", c.Storage.Path)
	c.Storage.PostgresDSN = getEnv("STARK_POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.RedisURL = getEnv("STARK_REDIS_URL", c.Storage.RedisURL)
	c.Report.ClickhouseDSN = getEnv("STARK_CLICKHOUSE_DSN", c.Report.ClickhouseDSN)
	c.Batch.MaxRetry = getEnvInt("STARK_MAX_RETRY", c.Batch.MaxRetry)
	c.Notify.Telegram.Token = getEnv("TELEGRAM_TOKEN", c.Notify.Telegram.Token)
	if v := getEnvList("TELEGRAM_CHAT_IDS"); len(v) > 0 {
		c.Notify.Telegram.ChatIDs = v
	}
	c.Notify.NATS.URL = getEnv("NATS_URL", c.Notify.NATS.URL)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate checks the configuration and resolves derived amounts.
func (c *Config) Validate() error {
	if len(c.RPC.Endpoints) == 0 {
		return errors.New("config: at least one rpc endpoint is required")
	}
	for i, ep := range c.RPC.Endpoints {
		if strings.TrimSpace(ep) == "" {
			return fmt.Errorf("config: rpc endpoint %d is empty", i)
		}
	}
	if c.Batch.Delay.Min < 0 || c.Batch.Delay.Min > c.Batch.Delay.Max {
		return fmt.Errorf("config: batch delay min %s exceeds max %s", c.Batch.Delay.Min, c.Batch.Delay.Max)
	}
	if c.Batch.MaxRetry < 1 {
		return errors.New("config: batch.maxRetry must be positive")
	}
	if c.Settlement.Attempts < 1 {
		return errors.New("config: settlement.attempts must be positive")
	}
	if c.Confirmation.ReceiptAttempts < 1 || c.Confirmation.NonceAttempts < 1 || c.Confirmation.DuplicateAttempts < 1 {
		return errors.New("config: confirmation attempt budgets must be positive")
	}
	if c.L1.MaxPolls < 1 {
		return errors.New("config: l1.maxPolls must be positive")
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverJSON, DriverPostgres, DriverRedis:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	for _, v := range c.AutoSell.Venues {
		if !domain.VenueName(v).IsValid() {
			return fmt.Errorf("config: unknown venue %q", v)
		}
	}

	var err error
	if c.minProceeds, err = decimal.NewFromString(c.AutoSell.MinProceeds); err != nil {
		return fmt.Errorf("config: autoSell.minProceeds: %w", err)
	}
	if c.keepMin, err = decimal.NewFromString(c.Withdraw.KeepBalance.Min); err != nil {
		return fmt.Errorf("config: withdraw.keepBalance.min: %w", err)
	}
	if c.keepMax, err = decimal.NewFromString(c.Withdraw.KeepBalance.Max); err != nil {
		return fmt.Errorf("config: withdraw.keepBalance.max: %w", err)
	}
	if c.keepMin.IsNegative() || c.keepMin.GreaterThan(c.keepMax) {
		return fmt.Errorf("config: keep balance range [%s, %s] is invalid", c.keepMin, c.keepMax)
	}
	return nil
}

// MinProceedsWei returns the auto-sell threshold in wei.
func (c Config) MinProceedsWei() *big.Int {
	return ToWei(c.minProceeds)
}

// KeepBalanceRange returns the reserve bounds in whole tokens.
func (c Config) KeepBalanceRange() (decimal.Decimal, decimal.Decimal) {
	return c.keepMin, c.keepMax
}

// VenueOrder returns the configured venue priority.
func (c Config) VenueOrder() []domain.VenueName {
	out := make([]domain.VenueName, 0, len(c.AutoSell.Venues))
	for _, v := range c.AutoSell.Venues {
		out = append(out, domain.VenueName(v))
	}
	return out
}

// ToWei converts a whole-token amount to its 18-decimal integer form.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(domain.Decimals).Truncate(0).BigInt()
}

// FromWei converts an 18-decimal integer into whole tokens.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -domain.Decimals)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
