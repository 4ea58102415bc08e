package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSlippageBps    = 500
	DefaultMaxSlippageBps = 1000
	DefaultEventTimeout   = 2 * time.Minute
	DefaultPollInterval   = 2 * time.Second
	DefaultGasMultiplier  = 1.2
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	Network        string
	RPCURL         string
	LogLevel       string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	EnableCommands  []string
	Timeout         time.Duration
	Retries         int
	MaxStale        time.Duration
	NoStale         bool
	LogLevel        string
	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	ActionStorePath string
	ActionLockPath  string
	PostgresDSN     string

	NetworkName string
	Networks    map[string]registry.Network

	OneInchAPIKey  string
	OneInchBaseURL string

	SlippageBps    int
	MaxSlippageBps int
	EventTimeout   time.Duration
	PollInterval   time.Duration
	GasMultiplier  float64
	FixturesPath   string
}

type fileToken struct {
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

type fileNetwork struct {
	ChainID      int64  `yaml:"chain_id"`
	RPCURL       string `yaml:"rpc_url"`
	NativeSymbol string `yaml:"native_symbol"`
	Topology     string `yaml:"topology"`
	Contracts    struct {
		Router   string `yaml:"router"`
		Executor string `yaml:"executor"`
		Resolver string `yaml:"resolver"`
		Wrapper  string `yaml:"wrapper"`
	} `yaml:"contracts"`
	Tokens map[string]fileToken `yaml:"tokens"`
}

type fileConfig struct {
	Output   string                 `yaml:"output"`
	Timeout  string                 `yaml:"timeout"`
	Retries  *int                   `yaml:"retries"`
	LogLevel string                 `yaml:"log_level"`
	Network  string                 `yaml:"network"`
	Networks map[string]fileNetwork `yaml:"networks"`
	Cache    struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Storage struct {
		ActionsPath     string `yaml:"actions_path"`
		ActionsLockPath string `yaml:"actions_lock_path"`
		PostgresDSN     string `yaml:"postgres_dsn"`
		PostgresDSNEnv  string `yaml:"postgres_dsn_env"`
	} `yaml:"storage"`
	Providers struct {
		OneInch struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
			BaseURL   string `yaml:"base_url"`
		} `yaml:"oneinch"`
	} `yaml:"providers"`
	Settlement struct {
		SlippageBps    *int     `yaml:"slippage_bps"`
		MaxSlippageBps *int     `yaml:"max_slippage_bps"`
		EventTimeout   string   `yaml:"event_timeout"`
		PollInterval   string   `yaml:"poll_interval"`
		GasMultiplier  *float64 `yaml:"gas_multiplier"`
		FixturesPath   string   `yaml:"fixtures_path"`
	} `yaml:"settlement"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.EventTimeout <= 0 {
		settings.EventTimeout = DefaultEventTimeout
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultPollInterval
	}
	if settings.GasMultiplier <= 1 {
		settings.GasMultiplier = DefaultGasMultiplier
	}
	if err := validate(settings); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

// Network returns a copy of the selected network.
func (s Settings) Network() (registry.Network, error) {
	name := strings.ToLower(strings.TrimSpace(s.NetworkName))
	if name == "" {
		return registry.Network{}, fmt.Errorf("no network selected; set --network or network in config")
	}
	n, ok := s.Networks[name]
	if !ok {
		return registry.Network{}, fmt.Errorf("unknown network %q (known: %s)", name, strings.Join(registry.NetworkNames(s.Networks), ", "))
	}
	return n.Clone(), nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:      "json",
		Timeout:         10 * time.Second,
		Retries:         2,
		MaxStale:        5 * time.Minute,
		LogLevel:        "warn",
		CacheEnabled:    true,
		CachePath:       cachePath,
		CacheLockPath:   lockPath,
		ActionStorePath: filepath.Join(cacheDir, "actions.db"),
		ActionLockPath:  filepath.Join(cacheDir, "actions.lock"),
		NetworkName:     "mainnet",
		Networks:        registry.DefaultNetworks(),
		OneInchBaseURL:  registry.OneInchBaseURL,
		SlippageBps:     DefaultSlippageBps,
		MaxSlippageBps:  DefaultMaxSlippageBps,
		EventTimeout:    DefaultEventTimeout,
		PollInterval:    DefaultPollInterval,
		GasMultiplier:   DefaultGasMultiplier,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "arrakis", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "arrakis")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Network != "" {
		settings.NetworkName = strings.ToLower(cfg.Network)
	}
	for name, fn := range cfg.Networks {
		if err := mergeNetwork(settings.Networks, strings.ToLower(strings.TrimSpace(name)), fn); err != nil {
			return err
		}
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Storage.ActionsPath != "" {
		settings.ActionStorePath = cfg.Storage.ActionsPath
	}
	if cfg.Storage.ActionsLockPath != "" {
		settings.ActionLockPath = cfg.Storage.ActionsLockPath
	}
	if cfg.Storage.PostgresDSN != "" {
		settings.PostgresDSN = cfg.Storage.PostgresDSN
	}
	if cfg.Storage.PostgresDSNEnv != "" {
		settings.PostgresDSN = os.Getenv(cfg.Storage.PostgresDSNEnv)
	}
	if cfg.Providers.OneInch.APIKey != "" {
		settings.OneInchAPIKey = cfg.Providers.OneInch.APIKey
	}
	if cfg.Providers.OneInch.APIKeyEnv != "" {
		settings.OneInchAPIKey = os.Getenv(cfg.Providers.OneInch.APIKeyEnv)
	}
	if cfg.Providers.OneInch.BaseURL != "" {
		settings.OneInchBaseURL = cfg.Providers.OneInch.BaseURL
	}
	if cfg.Settlement.SlippageBps != nil {
		settings.SlippageBps = *cfg.Settlement.SlippageBps
	}
	if cfg.Settlement.MaxSlippageBps != nil {
		settings.MaxSlippageBps = *cfg.Settlement.MaxSlippageBps
	}
	if cfg.Settlement.EventTimeout != "" {
		d, err := time.ParseDuration(cfg.Settlement.EventTimeout)
		if err != nil {
			return fmt.Errorf("config settlement.event_timeout: %w", err)
		}
		settings.EventTimeout = d
	}
	if cfg.Settlement.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Settlement.PollInterval)
		if err != nil {
			return fmt.Errorf("config settlement.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Settlement.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.Settlement.GasMultiplier
	}
	if cfg.Settlement.FixturesPath != "" {
		settings.FixturesPath = cfg.Settlement.FixturesPath
	}

	return nil
}

// mergeNetwork overlays a file network onto the built-in table. Unknown
// names become new networks; known names keep their defaults for unset fields.
func mergeNetwork(networks map[string]registry.Network, name string, fn fileNetwork) error {
	if name == "" {
		return fmt.Errorf("config networks: empty network name")
	}
	n, ok := networks[name]
	if !ok {
		n = registry.Network{Name: name, Topology: registry.TopologyGeneric, NativeSymbol: "ETH"}
	}
	n = n.Clone()
	if fn.ChainID != 0 {
		n.ChainID = fn.ChainID
	}
	if fn.RPCURL != "" {
		n.RPCURL = fn.RPCURL
	}
	if fn.NativeSymbol != "" {
		n.NativeSymbol = strings.ToUpper(fn.NativeSymbol)
	}
	if fn.Topology != "" {
		n.Topology = strings.ToLower(fn.Topology)
	}
	contracts := []struct {
		field string
		raw   string
		dst   *common.Address
	}{
		{"router", fn.Contracts.Router, &n.Contracts.Router},
		{"executor", fn.Contracts.Executor, &n.Contracts.Executor},
		{"resolver", fn.Contracts.Resolver, &n.Contracts.Resolver},
		{"wrapper", fn.Contracts.Wrapper, &n.Contracts.Wrapper},
	}
	for _, c := range contracts {
		if strings.TrimSpace(c.raw) == "" {
			continue
		}
		if !common.IsHexAddress(c.raw) {
			return fmt.Errorf("config networks.%s.contracts.%s: invalid address %q", name, c.field, c.raw)
		}
		*c.dst = common.HexToAddress(c.raw)
	}
	for symbol, tok := range fn.Tokens {
		sym := strings.ToUpper(strings.TrimSpace(symbol))
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("config networks.%s.tokens.%s: invalid address %q", name, sym, tok.Address)
		}
		if tok.Decimals < 0 || tok.Decimals > 36 {
			return fmt.Errorf("config networks.%s.tokens.%s: decimals out of range", name, sym)
		}
		n.Tokens[sym] = registry.Token{Symbol: sym, Address: common.HexToAddress(tok.Address), Decimals: tok.Decimals}
	}
	if n.ChainID <= 0 {
		return fmt.Errorf("config networks.%s: chain_id is required", name)
	}
	networks[name] = n
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("ARRAKIS_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("ARRAKIS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("ARRAKIS_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("ARRAKIS_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("ARRAKIS_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("ARRAKIS_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("ARRAKIS_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("ARRAKIS_NETWORK"); v != "" {
		settings.NetworkName = strings.ToLower(v)
	}
	if v := os.Getenv("ARRAKIS_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("ARRAKIS_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("ARRAKIS_ACTIONS_PATH"); v != "" {
		settings.ActionStorePath = v
	}
	if v := os.Getenv("ARRAKIS_ACTIONS_LOCK_PATH"); v != "" {
		settings.ActionLockPath = v
	}
	if v := os.Getenv("ARRAKIS_POSTGRES_DSN"); v != "" {
		settings.PostgresDSN = v
	}
	if v := os.Getenv("ARRAKIS_1INCH_API_KEY"); v != "" {
		settings.OneInchAPIKey = v
	}
	if v := os.Getenv("ARRAKIS_1INCH_BASE_URL"); v != "" {
		settings.OneInchBaseURL = v
	}
	if v := os.Getenv("ARRAKIS_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("ARRAKIS_EVENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.EventTimeout = d
		}
	}
	if v := os.Getenv("ARRAKIS_FIXTURES_PATH"); v != "" {
		settings.FixturesPath = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.Network != "" {
		settings.NetworkName = strings.ToLower(strings.TrimSpace(flags.Network))
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		if n, ok := settings.Networks[settings.NetworkName]; ok {
			n.RPCURL = strings.TrimSpace(flags.RPCURL)
			settings.Networks[settings.NetworkName] = n
		}
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func validate(settings Settings) error {
	if settings.SlippageBps < 0 || settings.SlippageBps >= 10_000 {
		return fmt.Errorf("settlement slippage_bps must be within [0, 10000)")
	}
	if settings.MaxSlippageBps < 0 || settings.MaxSlippageBps >= 10_000 {
		return fmt.Errorf("settlement max_slippage_bps must be within [0, 10000)")
	}
	if !registry.IsAllowedAggregatorURL(settings.OneInchBaseURL) {
		return fmt.Errorf("providers.oneinch.base_url must be https (or http on loopback): %q", settings.OneInchBaseURL)
	}
	for name, n := range settings.Networks {
		switch n.Topology {
		case "", registry.TopologyGeneric, registry.TopologyWrapper:
		default:
			return fmt.Errorf("network %s: unknown topology %q", name, n.Topology)
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if f := strings.TrimSpace(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}
