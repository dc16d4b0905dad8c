package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/cma-engine/internal/db"
	"github.com/sells-group/cma-engine/internal/deepening"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/internal/session"
	"github.com/sells-group/cma-engine/internal/valuation"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig       `yaml:"store" mapstructure:"store"`
	Market     MarketConfig      `yaml:"market" mapstructure:"market"`
	Session    session.Config    `yaml:"session" mapstructure:"session"`
	Pipeline   PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Valuation  valuation.Config  `yaml:"valuation" mapstructure:"valuation"`
	Deepening  deepening.Config  `yaml:"deepening" mapstructure:"deepening"`
	Breaker    resilience.Config `yaml:"breaker" mapstructure:"breaker"`
	Anthropic  AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig  `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig        `yaml:"jina" mapstructure:"jina"`
	Google     GoogleConfig      `yaml:"google" mapstructure:"google"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the durable store for deepening history, the
// analysis archive and learning entries.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// MarketConfig configures the market listings database.
type MarketConfig struct {
	DatabaseURL    string  `yaml:"database_url" mapstructure:"database_url"`
	MaxComparables int     `yaml:"max_comparables" mapstructure:"max_comparables"`
	AreaTolerance  float64 `yaml:"area_tolerance" mapstructure:"area_tolerance"`
}

// PipelineConfig configures the analysis pipeline.
type PipelineConfig struct {
	StepTimeout       time.Duration `yaml:"step_timeout" mapstructure:"step_timeout"`
	DegradedThreshold int           `yaml:"degraded_threshold" mapstructure:"degraded_threshold"`
	BonusResearch     bool          `yaml:"bonus_research" mapstructure:"bonus_research"`
	BonusMinScore     int           `yaml:"bonus_min_score" mapstructure:"bonus_min_score"`
	BonusMinSteps     int           `yaml:"bonus_min_steps" mapstructure:"bonus_min_steps"`
	MaxBonusQueries   int           `yaml:"max_bonus_queries" mapstructure:"max_bonus_queries"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// GoogleConfig holds Google Maps Platform settings.
type GoogleConfig struct {
	Key                 string  `yaml:"key" mapstructure:"key"`
	GeocodeBaseURL      string  `yaml:"geocode_base_url" mapstructure:"geocode_base_url"`
	PlacesBaseURL       string  `yaml:"places_base_url" mapstructure:"places_base_url"`
	RateLimit           float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	AmenityRadiusMeters int     `yaml:"amenity_radius_meters" mapstructure:"amenity_radius_meters"`
	VerifyMaxDistanceKm float64 `yaml:"verify_max_distance_km" mapstructure:"verify_max_distance_km"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	CORSOrigins    []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// MonitoringConfig configures analysis health alerting.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	DegradedRateMax     float64 `yaml:"degraded_rate_max" mapstructure:"degraded_rate_max"`
	ErrorRateMax        float64 `yaml:"error_rate_max" mapstructure:"error_rate_max"`
	MinSessions         int     `yaml:"min_sessions" mapstructure:"min_sessions"`
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
	v.SetEnvPrefix("CMA")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cma.db")
	v.SetDefault("market.max_comparables", 10)
	v.SetDefault("market.area_tolerance", 0.3)
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", "2h")
	v.SetDefault("session.capacity", 10000)
	v.SetDefault("session.redis.address", "localhost:6379")
	v.SetDefault("pipeline.step_timeout", "45s")
	v.SetDefault("pipeline.degraded_threshold", 85)
	v.SetDefault("pipeline.bonus_research", true)
	v.SetDefault("pipeline.bonus_min_score", 85)
	v.SetDefault("pipeline.bonus_min_steps", 6)
	v.SetDefault("pipeline.max_bonus_queries", 3)
	v.SetDefault("valuation.max_spread_percent", 15)
	v.SetDefault("valuation.min_spread_percent", 5)
	v.SetDefault("valuation.amenity_radius_meters", 1000)
	v.SetDefault("valuation.max_amenity_premium", 6)
	v.SetDefault("valuation.max_trend_adjustment", 5)
	v.SetDefault("valuation.max_development_impact", 5)
	v.SetDefault("valuation.pending_confidence_cap", 30)
	v.SetDefault("deepening.max_queries", 3)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", "30s")
	v.SetDefault("breaker.half_open_probes", 1)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("google.geocode_base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("google.places_base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.rate_limit", 10)
	v.SetDefault("google.amenity_radius_meters", 1500)
	v.SetDefault("google.verify_max_distance_km", 25)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.degraded_rate_max", 0.5)
	v.SetDefault("monitoring.error_rate_max", 0.1)
	v.SetDefault("monitoring.min_sessions", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
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

// Validate checks the fields required by the given command mode.
// Supported modes: analyze, serve, history.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "history":
	case "analyze", "serve":
		switch c.Session.Backend {
		case "memory":
		case "redis":
			if c.Session.Redis.Address == "" {
				errs = append(errs, "session.redis.address is required for redis backend")
			}
		default:
			errs = append(errs, "session.backend must be memory or redis")
		}
		if c.Pipeline.StepTimeout <= 0 {
			errs = append(errs, "pipeline.step_timeout must be > 0")
		}
		if c.Pipeline.DegradedThreshold < 0 || c.Pipeline.DegradedThreshold > 100 {
			errs = append(errs, "pipeline.degraded_threshold must be between 0 and 100")
		}
		if mode == "serve" {
			if c.Server.Port <= 0 {
				errs = append(errs, "server.port must be > 0")
			}
			if c.Monitoring.Enabled && c.Monitoring.CheckIntervalSecs <= 0 {
				errs = append(errs, "monitoring.check_interval_secs must be > 0")
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
