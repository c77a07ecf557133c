package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Store     StoreConfig     `mapstructure:"store"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Log       LogConfig       `mapstructure:"log"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
}

type BackendConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL                  string        `mapstructure:"url"` // empty: derived from the REST base URL
	AutoReconnect        bool          `mapstructure:"auto_reconnect"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	BackoffFactor        float64       `mapstructure:"backoff_factor"` // 1 keeps the delay fixed
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	TickBuffer           int           `mapstructure:"tick_buffer"`
}

type StoreConfig struct {
	Symbol           string `mapstructure:"symbol"`
	Timeframe        string `mapstructure:"timeframe"`
	MaxTicks         int    `mapstructure:"max_ticks"`
	MaxCandles       int    `mapstructure:"max_candles"`
	MaxMetricHistory int    `mapstructure:"max_metric_history"`
	MaxNotifications int    `mapstructure:"max_notifications"`
}

type AnalyticsConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	Symbol1          string        `mapstructure:"symbol1"`
	Symbol2          string        `mapstructure:"symbol2"`
	RemoteZScore     bool          `mapstructure:"remote_zscore"`
	WindowMinutes    int           `mapstructure:"window_minutes"`
	LookbackPeriods  int           `mapstructure:"lookback_periods"`
	RateWindow       time.Duration `mapstructure:"rate_window"`
	VolatilityWindow int           `mapstructure:"volatility_window"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// ArchiveConfig toggles persistence of received ticks and candles to Postgres.
type ArchiveConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	CreateDB bool `mapstructure:"create_db"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.rest.base_url", "http://localhost:8000")
	v.SetDefault("backend.rest.timeout", 30*time.Second)
	v.SetDefault("backend.ws.url", "")
	v.SetDefault("backend.ws.auto_reconnect", true)
	v.SetDefault("backend.ws.max_reconnect_attempts", 5)
	v.SetDefault("backend.ws.reconnect_delay", 3*time.Second)
	v.SetDefault("backend.ws.backoff_factor", 1.0)
	v.SetDefault("backend.ws.max_reconnect_delay", 30*time.Second)
	v.SetDefault("backend.ws.ping_interval", 30*time.Second)
	v.SetDefault("backend.ws.tick_buffer", 100)

	v.SetDefault("store.symbol", "BTCUSDT")
	v.SetDefault("store.timeframe", "1m")
	v.SetDefault("store.max_ticks", 500)
	v.SetDefault("store.max_candles", 200)
	v.SetDefault("store.max_metric_history", 100)
	v.SetDefault("store.max_notifications", 50)

	v.SetDefault("analytics.tick_interval", 500*time.Millisecond)
	v.SetDefault("analytics.symbol1", "BTCUSDT")
	v.SetDefault("analytics.symbol2", "ETHUSDT")
	v.SetDefault("analytics.remote_zscore", true)
	v.SetDefault("analytics.window_minutes", 60)
	v.SetDefault("analytics.lookback_periods", 100)
	v.SetDefault("analytics.rate_window", 5*time.Second)
	v.SetDefault("analytics.volatility_window", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.dbname", "tradedash")
}

// Load loads application configuration using Viper and exits on failure.
// It reads .env, then config.yaml, and overrides with environment variables.
func Load() *Config {
	cfg, err := LoadFrom(defaultConfigPaths()...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom reads config.yaml from the first of paths that contains one.
// A missing file is not an error: defaults and environment variables still apply.
func LoadFrom(paths ...string) (*Config, error) {
	// .env is optional; plain environment variables work without it
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	// Support environment variables with dot notation (e.g., BACKEND_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Dashboard-style variables take precedence in the listed order
	if err := v.BindEnv("backend.rest.base_url", "NEXT_PUBLIC_API_URL", "API_URL", "BACKEND_REST_BASE_URL"); err != nil {
		return nil, fmt.Errorf("bind api url env: %w", err)
	}
	if err := v.BindEnv("backend.ws.url", "NEXT_PUBLIC_WS_URL", "BACKEND_WS_URL"); err != nil {
		return nil, fmt.Errorf("bind ws url env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Backend.REST.BaseURL) == "" {
		errs = append(errs, errors.New("backend.rest.base_url must be set"))
	}
	if c.Backend.REST.Timeout <= 0 {
		errs = append(errs, errors.New("backend.rest.timeout must be positive"))
	}
	if c.Backend.WS.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("backend.ws.max_reconnect_attempts must not be negative"))
	}
	if c.Backend.WS.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("backend.ws.reconnect_delay must be positive"))
	}
	if c.Store.MaxTicks <= 0 || c.Store.MaxCandles <= 0 {
		errs = append(errs, errors.New("store window sizes must be positive"))
	}
	if c.Analytics.TickInterval <= 0 {
		errs = append(errs, errors.New("analytics.tick_interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func defaultConfigPaths() []string {
	paths := []string{".", "./config"}

	ex, err := os.Executable()
	if err != nil {
		return paths
	}
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		paths = append(paths, filepath.Join(pwd, "../../config"))
	} else {
		paths = append(paths, filepath.Join(filepath.Dir(ex), "../config"))
	}
	return paths
}
