package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solboy/solalerts/internal/domain"
)

// Config is the root configuration document. Defaults cover everything;
// the YAML file and environment override selectively.
type Config struct {
	Sources    []SourceConfig   `yaml:"sources"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Journal    JournalConfig    `yaml:"journal"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Enrich     EnrichConfig     `yaml:"enrich"`
	API        APIConfig        `yaml:"api"`
	Fanout     FanoutConfig     `yaml:"fanout"`
	Outcomes   OutcomesConfig   `yaml:"outcomes"`
}

// SourceConfig declares one upstream feed and how to reach it.
type SourceConfig struct {
	ID          string            `yaml:"id"`
	Kind        domain.SourceKind `yaml:"kind"`
	TrustWeight float64           `yaml:"trust_weight"`
	Transport   string            `yaml:"transport"` // websocket|nats
	URL         string            `yaml:"url"`
	Subject     string            `yaml:"subject"`
	ThreadID    string            `yaml:"thread_id"`
	TokenEnv    string            `yaml:"token_env"` // env var holding the credential
}

// Source converts the config entry to its domain form.
func (s SourceConfig) Source() domain.Source {
	return domain.Source{ID: s.ID, Kind: s.Kind, TrustWeight: s.TrustWeight}
}

// IngestConfig bounds the ingest path.
type IngestConfig struct {
	BufferPerSource   int           `yaml:"buffer_per_source"`
	ParserBuffer      int           `yaml:"parser_buffer"`
	FanoutBuffer      int           `yaml:"fanout_buffer"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectCap      time.Duration `yaml:"reconnect_cap"`
	LatencyBudget     time.Duration `yaml:"latency_budget"`
	ShutdownDrain     time.Duration `yaml:"shutdown_drain"`
	ParserConcurrency int           `yaml:"parser_concurrency"`
}

// ThresholdsConfig surfaces every tier-rule constant. Values default to
// the production rules; tests and operators override per field.
type ThresholdsConfig struct {
	StateWindow   time.Duration `yaml:"state_window"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
	HotlistWindow time.Duration `yaml:"hotlist_window"`

	MinLiquidityUSD     float64 `yaml:"min_liquidity_usd"`
	LowLiquidityUSD     float64 `yaml:"low_liquidity_usd"`
	MaxMarketCapUSD     float64 `yaml:"max_market_cap_usd"`
	Tier1MCMinUSD       float64 `yaml:"tier1_mc_min_usd"`
	Tier1MCMaxUSD       float64 `yaml:"tier1_mc_max_usd"`
	Tier2MCMinUSD       float64 `yaml:"tier2_mc_min_usd"`
	Tier2MCMaxUSD       float64 `yaml:"tier2_mc_max_usd"`
	LargeBuySOL         float64 `yaml:"large_buy_sol"`
	WhaleBuySOL         float64 `yaml:"whale_buy_sol"`
	SocialMinCallers    int     `yaml:"social_min_callers"`
	SocialMinSubs       int     `yaml:"social_min_subs"`
	CohortMinMultiplier float64 `yaml:"cohort_min_multiplier"`

	ChurnWindow        time.Duration `yaml:"churn_window"`
	ChurnPeakThreshold float64       `yaml:"churn_peak_threshold"`

	// Dynamic thresholding for Tier 1.
	DynamicHighWater  int     `yaml:"dynamic_high_water"`
	DynamicLowWater   int     `yaml:"dynamic_low_water"`
	DynamicMCTighten  float64 `yaml:"dynamic_mc_tighten_usd"`
	DynamicSocialMult float64 `yaml:"dynamic_social_mult"`

	MaxTrackedContracts int `yaml:"max_tracked_contracts"`
	MaxEventsPerToken   int `yaml:"max_events_per_token"`
}

// JournalConfig locates the durable log and its satellites.
type JournalConfig struct {
	Path       string `yaml:"path"`
	BackupDir  string `yaml:"backup_dir"`
	MaxBackups int    `yaml:"max_backups"`
}

// MirrorConfig configures the best-effort remote mirror.
type MirrorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`
	Key      string `yaml:"key"`
}

// EnrichConfig configures the live quote lookup used at emit time.
type EnrichConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	RatePerSec float64       `yaml:"rate_per_sec"`
}

// APIConfig configures the read-only HTTP server.
type APIConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// FanoutConfig locates the external subscriber registry.
type FanoutConfig struct {
	RegistryPath     string `yaml:"registry_path"`
	BroadcastChannel string `yaml:"broadcast_channel"`
}

// OutcomesConfig enables the Postgres outcome store consumed by the
// churn penalty. Disabled means no penalty is ever applied.
type OutcomesConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"-"`
}

// Default returns the production configuration.
func Default() *Config {
	return &Config{
		Ingest: IngestConfig{
			BufferPerSource:   1024,
			ParserBuffer:      4096,
			FanoutBuffer:      256,
			ReconnectBase:     2 * time.Second,
			ReconnectCap:      60 * time.Second,
			LatencyBudget:     5 * time.Second,
			ShutdownDrain:     5 * time.Second,
			ParserConcurrency: 0, // 0 means GOMAXPROCS
		},
		Thresholds: ThresholdsConfig{
			StateWindow:   30 * time.Minute,
			DedupeWindow:  5 * time.Minute,
			HotlistWindow: 20 * time.Minute,

			MinLiquidityUSD:     10000,
			LowLiquidityUSD:     5000,
			MaxMarketCapUSD:     1000000,
			Tier1MCMinUSD:       40000,
			Tier1MCMaxUSD:       100000,
			Tier2MCMinUSD:       30000,
			Tier2MCMaxUSD:       120000,
			LargeBuySOL:         5,
			WhaleBuySOL:         20,
			SocialMinCallers:    20,
			SocialMinSubs:       100000,
			CohortMinMultiplier: 2.0,

			ChurnWindow:        48 * time.Hour,
			ChurnPeakThreshold: 4.0,

			DynamicHighWater:  10,
			DynamicLowWater:   8,
			DynamicMCTighten:  10000,
			DynamicSocialMult: 1.25,

			MaxTrackedContracts: 10000,
			MaxEventsPerToken:   256,
		},
		Journal: JournalConfig{
			Path:       "alerts.json",
			BackupDir:  "backups",
			MaxBackups: 5,
		},
		Mirror: MirrorConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Key:     "alerts:mirror",
		},
		Enrich: EnrichConfig{
			BaseURL:    "https://api.dexscreener.com/latest/dex/tokens",
			Timeout:    2 * time.Second,
			Retries:    1,
			RatePerSec: 3,
		},
		API: APIConfig{
			Host:     "0.0.0.0",
			Port:     5000,
			CacheTTL: 5 * time.Second,
		},
		Fanout: FanoutConfig{
			RegistryPath: "subscriptions.json",
		},
	}
}

// Load reads path, overlays it on the defaults, applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.API.Port = p
		}
	}
	if v := os.Getenv("ALERTS_LOG_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("MIRROR_REDIS_ADDR"); v != "" {
		c.Mirror.Addr = v
		c.Mirror.Enabled = true
	}
	c.Mirror.Password = os.Getenv("MIRROR_REDIS_PASSWORD")
	if v := os.Getenv("OUTCOMES_DSN"); v != "" {
		c.Outcomes.DSN = v
		c.Outcomes.Enabled = true
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: at least one source is required")
	}
	seen := map[string]bool{}
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("config: sources[%d] missing id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		switch s.Kind {
		case domain.KindBuyFeed, domain.KindSocialFeed, domain.KindMomentumFeed,
			domain.KindTrendingFeed, domain.KindHotlistFeed:
		default:
			return fmt.Errorf("config: source %q has unknown kind %q", s.ID, s.Kind)
		}
		switch s.Transport {
		case "", "websocket":
			if s.URL == "" {
				return fmt.Errorf("config: source %q needs a url", s.ID)
			}
		case "nats":
			if s.Subject == "" {
				return fmt.Errorf("config: source %q needs a subject", s.ID)
			}
		default:
			return fmt.Errorf("config: source %q has unknown transport %q", s.ID, s.Transport)
		}
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("config: journal path is required")
	}
	if c.Thresholds.DedupeWindow <= 0 || c.Thresholds.StateWindow <= 0 {
		return fmt.Errorf("config: windows must be positive")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: invalid http port %d", c.API.Port)
	}
	return nil
}

// SourceCredential resolves a source's credential from the environment.
func (c *Config) SourceCredential(s SourceConfig) string {
	if s.TokenEnv == "" {
		return ""
	}
	return os.Getenv(s.TokenEnv)
}
