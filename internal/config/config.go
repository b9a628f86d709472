package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Places PlacesConfig `yaml:"places" mapstructure:"places"`
	Crawl  CrawlConfig  `yaml:"crawl" mapstructure:"crawl"`
	Export ExportConfig `yaml:"export" mapstructure:"export"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DSN returns the driver-appropriate connection string.
func (s StoreConfig) DSN() string {
	if s.Driver == "postgres" {
		return s.DatabaseURL
	}
	return s.Path
}

// PlacesConfig holds place search API credentials and request settings.
type PlacesConfig struct {
	AppID      string   `yaml:"app_id" mapstructure:"app_id"`
	AppCode    string   `yaml:"app_code" mapstructure:"app_code"`
	BaseURL    string   `yaml:"base_url" mapstructure:"base_url"`
	PageSize   int      `yaml:"page_size" mapstructure:"page_size"`
	Categories []string `yaml:"categories" mapstructure:"categories"`
}

// CrawlConfig configures the recursive descent.
type CrawlConfig struct {
	GridRows    int     `yaml:"grid_rows" mapstructure:"grid_rows"`
	GridCols    int     `yaml:"grid_cols" mapstructure:"grid_cols"`
	MaxRadiusKM float64 `yaml:"max_radius_km" mapstructure:"max_radius_km"`
	MaxDepth    int     `yaml:"max_depth" mapstructure:"max_depth"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// ExportConfig configures the tabular export formats.
type ExportConfig struct {
	CategoryColumns int `yaml:"category_columns" mapstructure:"category_columns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("PLACECRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "places.db")
	v.SetDefault("places.page_size", 100)
	v.SetDefault("crawl.grid_rows", 3)
	v.SetDefault("crawl.grid_cols", 3)
	v.SetDefault("crawl.max_radius_km", 50)
	v.SetDefault("crawl.max_depth", 10)
	v.SetDefault("crawl.rate_limit", 10)
	v.SetDefault("crawl.concurrency", 1)
	v.SetDefault("export.category_columns", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the configuration supports the given mode. Modes map
// to the commands: crawl, export, status, serve.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver")
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		problems = append(problems, "store.path is required for the sqlite driver")
	}

	switch mode {
	case "crawl":
		if c.Places.AppID == "" {
			problems = append(problems, "places.app_id is required")
		}
		if c.Places.AppCode == "" {
			problems = append(problems, "places.app_code is required")
		}
		if c.Crawl.MaxRadiusKM <= 0 {
			problems = append(problems, "crawl.max_radius_km must be > 0")
		}
		if c.Crawl.MaxDepth <= 0 {
			problems = append(problems, "crawl.max_depth must be > 0")
		}
		if c.Crawl.Concurrency < 1 || c.Crawl.Concurrency > 64 {
			problems = append(problems, "crawl.concurrency must be between 1 and 64")
		}
	case "export":
		if c.Export.CategoryColumns < 1 {
			problems = append(problems, "export.category_columns must be >= 1")
		}
	case "status":
		// Store checks above suffice.
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Default returns the configuration with every default applied and no
// credentials set. Used to scaffold a config file.
func Default() *Config {
	return &Config{
		Store:  StoreConfig{Driver: "sqlite", Path: "places.db"},
		Places: PlacesConfig{PageSize: 100},
		Crawl: CrawlConfig{
			GridRows:    3,
			GridCols:    3,
			MaxRadiusKM: 50,
			MaxDepth:    10,
			RateLimit:   10,
			Concurrency: 1,
		},
		Export: ExportConfig{CategoryColumns: 3},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "config: marshal yaml")
	}
	return out, nil
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
