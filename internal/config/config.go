package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/placeresolve/internal/db"
	"github.com/sells-group/placeresolve/internal/dedupe"
	"github.com/sells-group/placeresolve/internal/match"
	"github.com/sells-group/placeresolve/internal/resilience"
	"github.com/sells-group/placeresolve/internal/venue"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	RunLog   RunLogConfig   `yaml:"runlog" mapstructure:"runlog"`
	Resolver ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
	Project  ProjectConfig  `yaml:"project" mapstructure:"project"`
	Dedupe   DedupeConfig   `yaml:"dedupe" mapstructure:"dedupe"`
	Venue    VenueConfig    `yaml:"venue" mapstructure:"venue"`
	Google   GoogleConfig   `yaml:"google" mapstructure:"google"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres database holding the golden registry,
// the serving tables and venue candidates.
type StoreConfig struct {
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// RunLogConfig configures where run reports are recorded.
type RunLogConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// ResolverConfig configures the Resolver.
type ResolverConfig struct {
	Version string       `yaml:"version" mapstructure:"version"`
	Policy  match.Policy `yaml:"policy" mapstructure:"policy"`
}

// ProjectConfig configures the Projector.
type ProjectConfig struct {
	PageSize    int           `yaml:"page_size" mapstructure:"page_size"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	CacheTTL    time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// DedupeConfig configures the duplicate detector.
type DedupeConfig struct {
	PageSize     int           `yaml:"page_size" mapstructure:"page_size"`
	MaxBlockSize int           `yaml:"max_block_size" mapstructure:"max_block_size"`
	Policy       dedupe.Policy `yaml:"policy" mapstructure:"policy"`
}

// VenueConfig configures the venue matcher and page fetches.
type VenueConfig struct {
	Policy       venue.Policy      `yaml:"policy" mapstructure:"policy"`
	FetchTimeout time.Duration     `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	Fetch        resilience.Config `yaml:"fetch" mapstructure:"fetch"`
}

// GoogleConfig holds Places API settings for enrichment.
type GoogleConfig struct {
	Key        string            `yaml:"key" mapstructure:"key"`
	BaseURL    string            `yaml:"base_url" mapstructure:"base_url"`
	Resilience resilience.Config `yaml:"resilience" mapstructure:"resilience"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("runlog.driver", "sqlite")
	v.SetDefault("runlog.path", "placeresolve-runs.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	mp := match.DefaultPolicy()
	v.SetDefault("resolver.version", "v1")
	v.SetDefault("resolver.policy.threshold", mp.Threshold)
	v.SetDefault("resolver.policy.min_gap", mp.MinGap)
	v.SetDefault("resolver.policy.review_floor", mp.ReviewFloor)

	v.SetDefault("project.page_size", 500)
	v.SetDefault("project.concurrency", 1)
	v.SetDefault("project.cache_ttl", "24h")

	dp := dedupe.DefaultPolicy()
	v.SetDefault("dedupe.page_size", dedupe.DefaultPageSize)
	v.SetDefault("dedupe.max_block_size", dedupe.DefaultMaxBlockSize)
	v.SetDefault("dedupe.policy.name_weight", dp.NameWeight)
	v.SetDefault("dedupe.policy.address_weight", dp.AddressWeight)
	v.SetDefault("dedupe.policy.neighborhood_weight", dp.NeighborhoodWeight)
	v.SetDefault("dedupe.policy.combined", dp.Combined)
	v.SetDefault("dedupe.policy.strong_name", dp.StrongName)
	v.SetDefault("dedupe.policy.strong_address", dp.StrongAddress)

	vp := venue.DefaultPolicy()
	v.SetDefault("venue.policy.slug_confidence", vp.SlugConfidence)
	v.SetDefault("venue.policy.min_score", vp.MinScore)
	v.SetDefault("venue.policy.min_gap", vp.MinGap)
	v.SetDefault("venue.policy.search_limit", vp.SearchLimit)
	v.SetDefault("venue.policy.high_bucket", vp.HighBucket)
	v.SetDefault("venue.policy.medium_bucket", vp.MediumBucket)
	v.SetDefault("venue.fetch_timeout", "20s")
	v.SetDefault("venue.fetch.rate_per_second", 1)
	v.SetDefault("venue.fetch.burst", 1)
	v.SetDefault("venue.fetch.attempts", 3)

	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.resilience.rate_per_second", 5)
	v.SetDefault("google.resilience.burst", 5)
	v.SetDefault("google.resilience.attempts", 3)
	v.SetDefault("google.resilience.initial_backoff", "500ms")
	v.SetDefault("google.resilience.max_backoff", "10s")
	v.SetDefault("google.resilience.failure_threshold", 5)
	v.SetDefault("google.resilience.cooldown", "30s")
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLACERESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string
	requireDB := func() {
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	switch mode {
	case "resolve":
		requireDB()
		if c.Resolver.Version == "" {
			errs = append(errs, "resolver.version is required")
		}
		collect(c.Resolver.Policy.Validate())
	case "project":
		requireDB()
		if c.Project.Concurrency < 1 || c.Project.Concurrency > 32 {
			errs = append(errs, "project.concurrency must be between 1 and 32")
		}
	case "enrich":
		if c.Google.Key == "" {
			errs = append(errs, "google.key is required")
		}
	case "dedupe":
		requireDB()
		collect(c.Dedupe.Policy.Validate())
	case "venues":
		requireDB()
		collect(c.Venue.Policy.Validate())
	case "golden", "migrate":
		requireDB()
	case "serve":
		requireDB()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.RunLog.Driver {
	case "sqlite":
		if c.RunLog.Path == "" {
			errs = append(errs, "runlog.path is required for the sqlite driver")
		}
	case "postgres":
		requireDB()
	default:
		errs = append(errs, "runlog.driver must be sqlite or postgres")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(dedupeStrings(errs), "; "))
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
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
