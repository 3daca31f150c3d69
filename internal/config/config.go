package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	SAM       SAMConfig       `yaml:"sam" mapstructure:"sam"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Outreach  OutreachConfig  `yaml:"outreach" mapstructure:"outreach"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// SAMConfig holds SAM.gov API settings.
type SAMConfig struct {
	APIKey           string   `yaml:"api_key" mapstructure:"api_key"`
	OpportunitiesURL string   `yaml:"opportunities_url" mapstructure:"opportunities_url"`
	EntitiesURL      string   `yaml:"entities_url" mapstructure:"entities_url"`
	NoticeTypes      []string `yaml:"notice_types" mapstructure:"notice_types"`
	TimeoutSecs      int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit        float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// IngestConfig configures pagination, batching and backoff.
type IngestConfig struct {
	PageSize        int  `yaml:"page_size" mapstructure:"page_size"`
	EntityPageSize  int  `yaml:"entity_page_size" mapstructure:"entity_page_size"`
	BatchSize       int  `yaml:"batch_size" mapstructure:"batch_size"`
	ExtractBatch    int  `yaml:"extract_batch_size" mapstructure:"extract_batch_size"`
	CSVBatch        int  `yaml:"csv_batch_size" mapstructure:"csv_batch_size"`
	BackoffSecs     int  `yaml:"backoff_secs" mapstructure:"backoff_secs"`
	DaysBack        int  `yaml:"days_back" mapstructure:"days_back"`
	ParallelSources bool `yaml:"parallel_sources" mapstructure:"parallel_sources"`
}

// DiscoveryConfig configures open-web contractor discovery.
type DiscoveryConfig struct {
	SearchURL     string   `yaml:"search_url" mapstructure:"search_url"`
	UserAgent     string   `yaml:"user_agent" mapstructure:"user_agent"`
	DelaySecs     float64  `yaml:"delay_secs" mapstructure:"delay_secs"`
	MaxResults    int      `yaml:"max_results" mapstructure:"max_results"`
	Retries       int      `yaml:"retries" mapstructure:"retries"`
	IgnoreDomains []string `yaml:"ignore_domains" mapstructure:"ignore_domains"`
}

// ScoringConfig selects the scoring strategy and match selection.
type ScoringConfig struct {
	Mode        string `yaml:"mode" mapstructure:"mode"`
	TopK        int    `yaml:"top_k" mapstructure:"top_k"`
	WriteMode   string `yaml:"write_mode" mapstructure:"write_mode"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`

	// Weighted mode. Weights sum to 1.
	NAICSWeight    float64 `yaml:"naics_weight" mapstructure:"naics_weight"`
	PSCWeight      float64 `yaml:"psc_weight" mapstructure:"psc_weight"`
	SetAsideWeight float64 `yaml:"set_aside_weight" mapstructure:"set_aside_weight"`
	GeoWeight      float64 `yaml:"geo_weight" mapstructure:"geo_weight"`
	ValueWeight    float64 `yaml:"value_weight" mapstructure:"value_weight"`
	DeadlineWeight float64 `yaml:"deadline_weight" mapstructure:"deadline_weight"`
	HotThreshold   float64 `yaml:"hot_threshold" mapstructure:"hot_threshold"`
	WarmThreshold  float64 `yaml:"warm_threshold" mapstructure:"warm_threshold"`

	// Points mode.
	MinPoints    float64 `yaml:"min_points" mapstructure:"min_points"`
	EnrichPoints float64 `yaml:"enrich_points" mapstructure:"enrich_points"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OutreachConfig configures draft generation.
type OutreachConfig struct {
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	SenderName  string `yaml:"sender_name" mapstructure:"sender_name"`
	MinTier     string `yaml:"min_tier" mapstructure:"min_tier"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("sam.api_key", "")
	v.SetDefault("sam.opportunities_url", "https://api.sam.gov/opportunities/v2/search")
	v.SetDefault("sam.entities_url", "https://api.sam.gov/entity-information/v3/entities")
	v.SetDefault("sam.notice_types", []string{"r", "p", "o"})
	v.SetDefault("sam.timeout_secs", 30)
	v.SetDefault("sam.rate_limit", 5.0)
	v.SetDefault("ingest.page_size", 1000)
	v.SetDefault("ingest.entity_page_size", 100)
	v.SetDefault("ingest.batch_size", 1000)
	v.SetDefault("ingest.extract_batch_size", 300)
	v.SetDefault("ingest.csv_batch_size", 500)
	v.SetDefault("ingest.backoff_secs", 10)
	v.SetDefault("ingest.days_back", 1)
	v.SetDefault("ingest.parallel_sources", false)
	v.SetDefault("discovery.search_url", "https://html.duckduckgo.com/html/")
	v.SetDefault("discovery.user_agent", "Mozilla/5.0 (compatible; capture-cli/1.0)")
	v.SetDefault("discovery.delay_secs", 2.0)
	v.SetDefault("discovery.max_results", 20)
	v.SetDefault("discovery.retries", 2)
	v.SetDefault("discovery.ignore_domains", []string{
		"wikipedia.org", "youtube.com", "facebook.com", "linkedin.com", "twitter.com", "instagram.com",
	})
	v.SetDefault("scoring.mode", "weighted")
	v.SetDefault("scoring.top_k", 10)
	v.SetDefault("scoring.write_mode", "upsert")
	v.SetDefault("scoring.concurrency", 4)
	v.SetDefault("scoring.naics_weight", 0.25)
	v.SetDefault("scoring.psc_weight", 0.15)
	v.SetDefault("scoring.set_aside_weight", 0.20)
	v.SetDefault("scoring.geo_weight", 0.15)
	v.SetDefault("scoring.value_weight", 0.15)
	v.SetDefault("scoring.deadline_weight", 0.10)
	v.SetDefault("scoring.hot_threshold", 0.70)
	v.SetDefault("scoring.warm_threshold", 0.50)
	v.SetDefault("scoring.min_points", 60)
	v.SetDefault("scoring.enrich_points", 85)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("outreach.max_tokens", 1024)
	v.SetDefault("outreach.sender_name", "Capture Team")
	v.SetDefault("outreach.min_tier", "HOT")
	v.SetDefault("outreach.concurrency", 2)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by the given command are present.
// Mode is one of "ingest", "entities", "extract", "discover", "score", "drafts", "serve", "migrate" or "read".
func (c *Config) Validate(mode string) error {
	var errs []string

	needStore := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
	}
	needSAM := func() {
		if c.SAM.APIKey == "" {
			errs = append(errs, "sam.api_key is required")
		}
	}

	switch mode {
	case "ingest", "entities":
		needStore()
		needSAM()
		if c.Ingest.PageSize <= 0 || c.Ingest.EntityPageSize <= 0 {
			errs = append(errs, "ingest page sizes must be > 0")
		}
		if c.Ingest.BatchSize <= 0 {
			errs = append(errs, "ingest.batch_size must be > 0")
		}
	case "extract", "migrate", "read":
		needStore()
	case "discover":
		needStore()
		if c.Discovery.SearchURL == "" {
			errs = append(errs, "discovery.search_url is required")
		}
	case "score":
		needStore()
		if c.Scoring.Mode != "weighted" && c.Scoring.Mode != "points" {
			errs = append(errs, "scoring.mode must be weighted or points")
		}
		if c.Scoring.TopK < 0 {
			errs = append(errs, "scoring.top_k must be >= 0")
		}
		if c.Scoring.WriteMode != "upsert" && c.Scoring.WriteMode != "replace" {
			errs = append(errs, "scoring.write_mode must be upsert or replace")
		}
	case "drafts":
		needStore()
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "serve":
		needStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy with credentials masked for display.
func (c *Config) Redacted() Config {
	out := *c
	out.SAM.APIKey = mask(c.SAM.APIKey)
	out.Anthropic.Key = mask(c.Anthropic.Key)
	out.Store.DatabaseURL = mask(c.Store.DatabaseURL)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", 8)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
