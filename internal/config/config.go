package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/arkade-os/moneypot/internal/core/application"
	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/internal/infrastructure/alertsmanager"
	"github.com/arkade-os/moneypot/internal/infrastructure/aptos"
	inmemorylocker "github.com/arkade-os/moneypot/internal/infrastructure/locker/inmemory"
	redislocker "github.com/arkade-os/moneypot/internal/infrastructure/locker/redis"
	timescheduler "github.com/arkade-os/moneypot/internal/infrastructure/scheduler/gocron"
	ledgerscheduler "github.com/arkade-os/moneypot/internal/infrastructure/scheduler/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

var (
	supportedLockers = supportedType{
		"inmemory": {},
		"redis":    {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
		"ledger": {},
	}
)

type Config struct {
	LogLevel int

	RpcUrl          string
	ContractAddress string
	ModuleName      string

	PrivateKey        string
	HunterPrivateKey  string
	OraclePrivateKey  string
	SweeperPrivateKey string

	OneFaAddress string
	PotAmount    uint64
	PotDuration  uint64
	PotFee       uint64

	SweepChunkSize int
	SweepBatchSize int
	SweepInterval  time.Duration

	SubmitTimeout time.Duration
	PollInterval  time.Duration
	MaxGasAmount  uint64
	GasUnitPrice  uint64
	TxExpiration  time.Duration

	LockerType    string
	RedisUrl      string
	SchedulerType string

	OtelCollectorEndpoint string
	OtelPushInterval      time.Duration

	AlertManagerUrl string
	ExplorerUrl     string

	client    *aptos.Client
	locker    ports.IdentityLocker
	scheduler ports.SchedulerService
	lifecycle application.LifecycleService
	sweeper   application.SweeperService
	alerts    ports.Alerts
}

func (c *Config) String() string {
	clone := *c
	for _, key := range []*string{
		&clone.PrivateKey, &clone.HunterPrivateKey,
		&clone.OraclePrivateKey, &clone.SweeperPrivateKey,
	} {
		if *key != "" {
			*key = "••••••"
		}
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultRpcUrl                = "https://fullnode.testnet.aptoslabs.com"
	defaultModuleName            = "money_pot_manager"
	defaultLogLevel              = 4
	defaultPotAmount      uint64 = 1_000_000
	defaultPotDuration    uint64 = 3600 // seconds
	defaultPotFee         uint64 = 1_000
	defaultSubmitTimeout         = 60 * time.Second
	defaultPollInterval          = 500 * time.Millisecond
	defaultMaxGasAmount   uint64 = 200_000
	defaultGasUnitPrice   uint64 = 100
	defaultTxExpiration          = 60 * time.Second
	defaultLockerType            = "inmemory"
	defaultSchedulerType         = "gocron"
	defaultSweepInterval         = 60 * time.Second
	defaultOtelPushPeriod        = 10 * time.Second
)

// env returns a list of strings prefixed with `MONEYPOT_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("MONEYPOT_%s", value)
	}

	return envs
}

var (
	ConfigFile = &cli.StringFlag{
		Usage: "Path to an optional config file (yaml, toml or json)",
		Name:  "config", EnvVars: env("CONFIG"),
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	RpcUrl = &cli.StringFlag{
		Usage: "Aptos fullnode REST endpoint",
		Name:  "rpc-url", EnvVars: append(env("RPC_URL"), "RPC_URL"),
		Value: defaultRpcUrl,
	}

	ContractAddress = &cli.StringFlag{
		Usage:   "Address of the account publishing the money pot module",
		Name:    "contract-address",
		EnvVars: append(env("CONTRACT_ADDRESS"), "MODULE_ADDRESS", "MONEY_POT_ADDRESS"),
	}

	ModuleName = &cli.StringFlag{
		Usage: "Name of the money pot module",
		Name:  "module-name", EnvVars: env("MODULE_NAME"),
		Value: defaultModuleName,
	}

	PrivateKey = &cli.StringFlag{
		Usage: "Hex ed25519 private key of the main account (pot creator)",
		Name:  "private-key", EnvVars: append(env("PRIVATE_KEY"), "APTOS_PRIVATE_KEY"),
	}

	HunterPrivateKey = &cli.StringFlag{
		Usage: "Hex ed25519 private key of the hunter, defaults to the main account",
		Name:  "hunter-private-key", EnvVars: env("HUNTER_PRIVATE_KEY"),
	}

	OraclePrivateKey = &cli.StringFlag{
		Usage: "Hex ed25519 private key of the oracle, defaults to the main account",
		Name:  "oracle-private-key", EnvVars: env("ORACLE_PRIVATE_KEY"),
	}

	SweeperPrivateKey = &cli.StringFlag{
		Usage: "Hex ed25519 private key used to expire pots, defaults to the main account",
		Name:  "sweeper-private-key", EnvVars: env("SWEEPER_PRIVATE_KEY"),
	}

	OneFaAddress = &cli.StringFlag{
		Usage: "1FA address of new pots, a fresh one is generated if empty",
		Name:  "one-fa-address", EnvVars: env("ONE_FA_ADDRESS"),
	}

	PotAmount = &cli.Uint64Flag{
		Usage: "Amount in octas funded into new pots",
		Name:  "pot-amount", EnvVars: append(env("POT_AMOUNT"), "POT_AMOUNT"),
		Value: defaultPotAmount,
	}

	PotDuration = &cli.Uint64Flag{
		Usage: "Lifetime of new pots in seconds",
		Name:  "pot-duration", EnvVars: append(env("POT_DURATION"), "POT_DURATION"),
		Value: defaultPotDuration,
	}

	PotFee = &cli.Uint64Flag{
		Usage: "Attempt fee of new pots in octas",
		Name:  "pot-fee", EnvVars: append(env("POT_FEE"), "POT_FEE"),
		Value: defaultPotFee,
	}

	SweepChunkSize = &cli.IntFlag{
		Usage: "Max number of pot details fetched concurrently by the sweeper",
		Name:  "sweep-chunk-size", EnvVars: env("SWEEP_CHUNK_SIZE"),
		Value: application.DefaultSweepChunkSize,
	}

	SweepBatchSize = &cli.IntFlag{
		Usage: "Number of pots expired by a single batch transaction",
		Name:  "sweep-batch-size", EnvVars: env("SWEEP_BATCH_SIZE"),
		Value: application.DefaultSweepBatchSize,
	}

	SweepInterval = &cli.DurationFlag{
		Usage: "Interval between sweeps in watch mode",
		Name:  "sweep-interval", EnvVars: env("SWEEP_INTERVAL"),
		Value: defaultSweepInterval,
	}

	SubmitTimeout = &cli.DurationFlag{
		Usage: "Deadline for a transaction to reach finality",
		Name:  "submit-timeout", EnvVars: env("SUBMIT_TIMEOUT"),
		Value: defaultSubmitTimeout,
	}

	PollInterval = &cli.DurationFlag{
		Usage: "Interval between transaction status polls",
		Name:  "poll-interval", EnvVars: env("POLL_INTERVAL"),
		Value: defaultPollInterval,
	}

	MaxGasAmount = &cli.Uint64Flag{
		Usage: "Max gas units a transaction may consume",
		Name:  "max-gas-amount", EnvVars: env("MAX_GAS_AMOUNT"),
		Value: defaultMaxGasAmount,
	}

	GasUnitPrice = &cli.Uint64Flag{
		Usage: "Gas unit price in octas",
		Name:  "gas-unit-price", EnvVars: env("GAS_UNIT_PRICE"),
		Value: defaultGasUnitPrice,
	}

	TxExpiration = &cli.DurationFlag{
		Usage: "How long after build a transaction stays valid on chain",
		Name:  "tx-expiration", EnvVars: env("TX_EXPIRATION"),
		Value: defaultTxExpiration,
	}

	LockerType = &cli.StringFlag{
		Usage: "Identity locker type (inmemory, redis)",
		Name:  "locker-type", EnvVars: env("LOCKER_TYPE"),
		Value: defaultLockerType,
	}

	RedisUrl = &cli.StringFlag{
		Usage: "Redis url, required with redis locker",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	SchedulerType = &cli.StringFlag{
		Usage: "Scheduler type (gocron, ledger)",
		Name:  "scheduler-type", EnvVars: env("SCHEDULER_TYPE"),
		Value: defaultSchedulerType,
	}

	OtelCollectorEndpoint = &cli.StringFlag{
		Usage: "OpenTelemetry collector endpoint",
		Name:  "collector-endpoint", EnvVars: env("COLLECTOR_ENDPOINT"),
	}

	OtelPushInterval = &cli.DurationFlag{
		Usage: "OpenTelemetry push interval",
		Name:  "otel-push-interval", EnvVars: env("OTEL_PUSH_INTERVAL"),
		Value: defaultOtelPushPeriod,
	}

	AlertManagerUrl = &cli.StringFlag{
		Usage: "AlertManager api endpoint receiving sweep alerts",
		Name:  "alert-manager-url", EnvVars: env("ALERT_MANAGER_URL"),
	}

	ExplorerUrl = &cli.StringFlag{
		Usage: "Explorer base url used to link transactions in alerts",
		Name:  "explorer-url", EnvVars: env("EXPLORER_URL"),
	}
)

// flags are templates, apps get their own copies through NewFlags since
// urfave/cli writes env values back into the flags it applies.
var flags = []cli.Flag{
	ConfigFile,
	LogLevel,
	RpcUrl,
	ContractAddress,
	ModuleName,
	PrivateKey,
	HunterPrivateKey,
	OraclePrivateKey,
	SweeperPrivateKey,
	OneFaAddress,
	PotAmount,
	PotDuration,
	PotFee,
	SweepChunkSize,
	SweepBatchSize,
	SweepInterval,
	SubmitTimeout,
	PollInterval,
	MaxGasAmount,
	GasUnitPrice,
	TxExpiration,
	LockerType,
	RedisUrl,
	SchedulerType,
	OtelCollectorEndpoint,
	OtelPushInterval,
	AlertManagerUrl,
	ExplorerUrl,
}

// NewFlags returns a fresh copy of the config flags.
func NewFlags() []cli.Flag {
	fresh := make([]cli.Flag, 0, len(flags))
	for _, flag := range flags {
		switch f := flag.(type) {
		case *cli.StringFlag:
			c := *f
			fresh = append(fresh, &c)
		case *cli.IntFlag:
			c := *f
			fresh = append(fresh, &c)
		case *cli.Uint64Flag:
			c := *f
			fresh = append(fresh, &c)
		case *cli.DurationFlag:
			c := *f
			fresh = append(fresh, &c)
		default:
			panic(fmt.Sprintf("unsupported flag type %T", flag))
		}
	}
	return fresh
}

func LoadConfig(c *cli.Context) (*Config, error) {
	var redisUrl string
	if c.String(LockerType.Name) == "redis" {
		redisUrl = c.String(RedisUrl.Name)
		if redisUrl == "" {
			return nil, fmt.Errorf("locker type set to 'redis' but redis url is missing")
		}
	}

	return &Config{
		LogLevel:              c.Int(LogLevel.Name),
		RpcUrl:                c.String(RpcUrl.Name),
		ContractAddress:       c.String(ContractAddress.Name),
		ModuleName:            c.String(ModuleName.Name),
		PrivateKey:            c.String(PrivateKey.Name),
		HunterPrivateKey:      c.String(HunterPrivateKey.Name),
		OraclePrivateKey:      c.String(OraclePrivateKey.Name),
		SweeperPrivateKey:     c.String(SweeperPrivateKey.Name),
		OneFaAddress:          c.String(OneFaAddress.Name),
		PotAmount:             c.Uint64(PotAmount.Name),
		PotDuration:           c.Uint64(PotDuration.Name),
		PotFee:                c.Uint64(PotFee.Name),
		SweepChunkSize:        c.Int(SweepChunkSize.Name),
		SweepBatchSize:        c.Int(SweepBatchSize.Name),
		SweepInterval:         c.Duration(SweepInterval.Name),
		SubmitTimeout:         c.Duration(SubmitTimeout.Name),
		PollInterval:          c.Duration(PollInterval.Name),
		MaxGasAmount:          c.Uint64(MaxGasAmount.Name),
		GasUnitPrice:          c.Uint64(GasUnitPrice.Name),
		TxExpiration:          c.Duration(TxExpiration.Name),
		LockerType:            c.String(LockerType.Name),
		RedisUrl:              redisUrl,
		SchedulerType:         c.String(SchedulerType.Name),
		OtelCollectorEndpoint: c.String(OtelCollectorEndpoint.Name),
		OtelPushInterval:      c.Duration(OtelPushInterval.Name),
		AlertManagerUrl:       c.String(AlertManagerUrl.Name),
		ExplorerUrl:           c.String(ExplorerUrl.Name),
	}, nil
}

func (c *Config) Validate() error {
	if c.RpcUrl == "" {
		return fmt.Errorf("missing rpc url")
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("missing contract address")
	}
	if _, err := domain.NormalizeAddress(c.ContractAddress); err != nil {
		return fmt.Errorf("invalid contract address: %s", err)
	}
	if c.ModuleName == "" {
		return fmt.Errorf("missing module name")
	}
	if !supportedLockers.supports(c.LockerType) {
		return fmt.Errorf(
			"locker type not supported, please select one of: %s", supportedLockers,
		)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf(
			"scheduler type not supported, please select one of: %s",
			supportedSchedulers,
		)
	}
	if c.SweepChunkSize <= 0 {
		return fmt.Errorf("invalid sweep chunk size, must be positive")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("invalid sweep batch size, must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("invalid sweep interval, must be positive")
	}
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("invalid submit timeout, must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval, must be positive")
	}
	if c.TxExpiration <= 0 {
		return fmt.Errorf("invalid tx expiration, must be positive")
	}
	if c.MaxGasAmount == 0 || c.GasUnitPrice == 0 {
		return fmt.Errorf("max gas amount and gas unit price must be positive")
	}
	if c.AlertManagerUrl != "" {
		if _, err := url.ParseRequestURI(c.AlertManagerUrl); err != nil {
			return fmt.Errorf("invalid alert manager url: %s", err)
		}
	}
	if c.OneFaAddress != "" {
		if _, err := domain.NormalizeAddress(c.OneFaAddress); err != nil {
			return fmt.Errorf("invalid 1FA address: %s", err)
		}
	}
	for name, key := range map[string]string{
		PrivateKey.Name:        c.PrivateKey,
		HunterPrivateKey.Name:  c.HunterPrivateKey,
		OraclePrivateKey.Name:  c.OraclePrivateKey,
		SweeperPrivateKey.Name: c.SweeperPrivateKey,
	} {
		if key == "" {
			continue
		}
		if _, err := aptos.NewAccountFromHex(key); err != nil {
			return fmt.Errorf("invalid %s: %s", name, err)
		}
	}

	return nil
}

// CreatorAccount returns the main account, used to create pots.
func (c *Config) CreatorAccount() (*aptos.Account, error) {
	return c.account(PrivateKey.Name, "")
}

func (c *Config) HunterAccount() (*aptos.Account, error) {
	return c.account(HunterPrivateKey.Name, c.HunterPrivateKey)
}

func (c *Config) OracleAccount() (*aptos.Account, error) {
	return c.account(OraclePrivateKey.Name, c.OraclePrivateKey)
}

func (c *Config) SweeperAccount() (*aptos.Account, error) {
	return c.account(SweeperPrivateKey.Name, c.SweeperPrivateKey)
}

// account loads the given key, falling back to the main one if empty.
func (c *Config) account(name, key string) (*aptos.Account, error) {
	if key == "" {
		key, name = c.PrivateKey, PrivateKey.Name
	}
	if key == "" {
		return nil, fmt.Errorf("missing %s", name)
	}
	return aptos.NewAccountFromHex(key)
}

// PotParams returns the parameters of the pots created from the CLI. An
// empty 1FA address is left for the caller to fill.
func (c *Config) PotParams() application.CreatePotParams {
	return application.CreatePotParams{
		Amount:          c.PotAmount,
		DurationSeconds: c.PotDuration,
		Fee:             c.PotFee,
		OneFaAddress:    c.OneFaAddress,
	}
}

func (c *Config) AptosClient() (*aptos.Client, error) {
	if err := c.aptosClient(); err != nil {
		return nil, err
	}
	return c.client, nil
}

func (c *Config) LifecycleService() (application.LifecycleService, error) {
	if err := c.lifecycleService(); err != nil {
		return nil, err
	}
	return c.lifecycle, nil
}

func (c *Config) SweeperService() (application.SweeperService, error) {
	if err := c.sweeperService(); err != nil {
		return nil, err
	}
	return c.sweeper, nil
}

// Close releases the resources held by the services built so far.
func (c *Config) Close() {
	if c.sweeper != nil {
		c.sweeper.Stop()
	}
	if c.locker != nil {
		c.locker.Close()
	}
}

func (c *Config) aptosClient() error {
	if c.client != nil {
		return nil
	}

	client, err := aptos.NewClient(
		c.RpcUrl,
		aptos.WithMaxGasAmount(c.MaxGasAmount),
		aptos.WithGasUnitPrice(c.GasUnitPrice),
		aptos.WithTxExpiration(c.TxExpiration),
		aptos.WithPollInterval(c.PollInterval),
	)
	if err != nil {
		return err
	}

	c.client = client
	return nil
}

func (c *Config) lockerService() error {
	if c.locker != nil {
		return nil
	}

	var svc ports.IdentityLocker
	switch c.LockerType {
	case "inmemory":
		svc = inmemorylocker.NewLocker()
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		// A lock must outlive the longest submission it guards.
		svc = redislocker.NewLocker(rdb, redislocker.WithTTL(2*c.SubmitTimeout))
	default:
		return fmt.Errorf("unknown locker type")
	}

	c.locker = svc
	return nil
}

func (c *Config) schedulerService() error {
	if c.scheduler != nil {
		return nil
	}

	var svc ports.SchedulerService
	var err error
	switch c.SchedulerType {
	case "gocron":
		svc = timescheduler.NewScheduler()
	case "ledger":
		if err := c.aptosClient(); err != nil {
			return err
		}
		svc, err = ledgerscheduler.NewScheduler(c.client.LedgerTime)
	default:
		err = fmt.Errorf("unknown scheduler type")
	}
	if err != nil {
		return err
	}

	c.scheduler = svc
	return nil
}

func (c *Config) lifecycleService() error {
	if c.lifecycle != nil {
		return nil
	}
	if err := c.aptosClient(); err != nil {
		return err
	}
	if err := c.lockerService(); err != nil {
		return err
	}

	svc, err := application.NewLifecycleService(
		c.client, c.client, c.locker, c.ContractAddress, c.ModuleName, c.SubmitTimeout,
	)
	if err != nil {
		return err
	}

	c.lifecycle = svc
	return nil
}

func (c *Config) sweeperService() error {
	if c.sweeper != nil {
		return nil
	}
	if err := c.aptosClient(); err != nil {
		return err
	}
	if err := c.lockerService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.alertsService(); err != nil {
		return err
	}
	signer, err := c.SweeperAccount()
	if err != nil {
		return err
	}

	opts := []application.SweeperOption{
		application.WithChunkSize(c.SweepChunkSize),
		application.WithBatchSize(c.SweepBatchSize),
	}
	if c.alerts != nil {
		opts = append(opts, application.WithAlerts(c.alerts))
	}

	svc, err := application.NewSweeperService(
		c.client, c.client, c.locker, c.scheduler, signer,
		c.ContractAddress, c.ModuleName, c.SubmitTimeout, opts...,
	)
	if err != nil {
		return err
	}

	c.sweeper = svc
	return nil
}

func (c *Config) alertsService() error {
	if c.AlertManagerUrl == "" || c.alerts != nil {
		return nil
	}

	c.alerts = alertsmanager.NewService(c.AlertManagerUrl, c.ExplorerUrl)
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
