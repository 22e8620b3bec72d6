package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	SigninRPS   float64  `yaml:"signin_rps" mapstructure:"signin_rps"`
	SigninBurst int      `yaml:"signin_burst" mapstructure:"signin_burst"`
	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that sets those headers.
	TrustProxy bool `yaml:"trust_proxy" mapstructure:"trust_proxy"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AuthConfig configures password hashing.
type AuthConfig struct {
	BcryptCost int `yaml:"bcrypt_cost" mapstructure:"bcrypt_cost"`
}

// DashboardConfig configures the station card read path.
type DashboardConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	DatasetPath       string `yaml:"dataset_path" mapstructure:"dataset_path"`
	SyntheticDays     int    `yaml:"synthetic_days" mapstructure:"synthetic_days"`
	SyntheticStations string `yaml:"synthetic_stations" mapstructure:"synthetic_stations"`
	Seed              uint64 `yaml:"seed" mapstructure:"seed"`
	RetryAttempts     int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GROUNDWATER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.signin_rps", 5)
	v.SetDefault("server.signin_burst", 10)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("dashboard.max_concurrency", 8)
	v.SetDefault("ingest.dataset_path", "GWATERLVL.json")
	v.SetDefault("ingest.synthetic_days", 100)
	v.SetDefault("ingest.synthetic_stations", "")
	v.SetDefault("ingest.seed", 0)
	v.SetDefault("ingest.retry_attempts", 3)
	v.SetDefault("ingest.batch_size", 5000)

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

// Validate checks the settings a command mode depends on: "serve",
// "ingest", "migrate" or "runs".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (sqlite file path)")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.SigninRPS <= 0 {
			errs = append(errs, "server.signin_rps must be > 0")
		}
		if c.Server.SigninBurst < 1 {
			errs = append(errs, "server.signin_burst must be >= 1")
		}
		if c.Dashboard.MaxConcurrency < 1 || c.Dashboard.MaxConcurrency > 64 {
			errs = append(errs, "dashboard.max_concurrency must be between 1 and 64")
		}
		if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
			errs = append(errs, "auth.bcrypt_cost must be between 4 and 31")
		}
	case "ingest":
		if c.Ingest.SyntheticDays < 0 {
			errs = append(errs, "ingest.synthetic_days must be >= 0")
		}
		if c.Ingest.RetryAttempts < 1 {
			errs = append(errs, "ingest.retry_attempts must be >= 1")
		}
		if c.Ingest.BatchSize < 1 {
			errs = append(errs, "ingest.batch_size must be >= 1")
		}
	case "migrate", "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
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
