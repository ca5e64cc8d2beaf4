package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jlwj22/route-data-pipeline/internal/calculator"
	"github.com/jlwj22/route-data-pipeline/internal/collector"
	"github.com/jlwj22/route-data-pipeline/internal/database"
	"github.com/jlwj22/route-data-pipeline/internal/geo"
	"github.com/jlwj22/route-data-pipeline/internal/pipeline"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Database   database.Config         `mapstructure:"database"`
	Collectors CollectorsConfig        `mapstructure:"collectors"`
	Manager    collector.ManagerConfig `mapstructure:"manager"`
	Geo        geo.Config              `mapstructure:"geo"`
	Rates      calculator.Rates        `mapstructure:"rates"`
	Pipeline   pipeline.Config         `mapstructure:"pipeline"`
	Logging    LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// CollectorsConfig declares the configured data sources.
type CollectorsConfig struct {
	APIs   []collector.APIConfig    `mapstructure:"apis"`
	Files  []collector.FileConfig   `mapstructure:"files"`
	Emails []collector.EmailConfig  `mapstructure:"emails"`
	Manual []collector.ManualConfig `mapstructure:"manual"`
}

// Load reads configuration from the given file, with ROUTEPIPE_ environment
// variables overriding file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ROUTEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "routepipe")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "routepipe")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("manager.max_concurrent", 4)
	v.SetDefault("manager.batch_timeout", "5m")
	v.SetDefault("manager.retry.max_attempts", 3)
	v.SetDefault("manager.retry.delay", "1s")
	v.SetDefault("manager.retry.backoff", 2.0)

	v.SetDefault("geo.request_timeout", "10s")
	v.SetDefault("geo.google_api_key", "")
	v.SetDefault("geo.mapbox_token", "")

	v.SetDefault("rates.fuel_price_per_gallon", calculator.DefaultFuelPrice)
	v.SetDefault("rates.toll_rate_per_mile", calculator.DefaultTollRate)
	v.SetDefault("rates.truck_mpg", calculator.DefaultTruckMPG)
	v.SetDefault("rates.driver_hourly_rate", calculator.DefaultHourlyRate)
	v.SetDefault("rates.driver_mileage_rate", 0.55)
	v.SetDefault("rates.maintenance_per_mile", calculator.DefaultMaintenanceRate)
	v.SetDefault("rates.insurance_per_mile", calculator.DefaultInsuranceRate)

	v.SetDefault("pipeline.geocoding_enabled", true)
	v.SetDefault("pipeline.calculation_enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Manager.MaxConcurrent <= 0 {
		return fmt.Errorf("manager.max_concurrent must be positive")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}

	names := make(map[string]bool)
	checkName := func(name string) error {
		if name == "" {
			return fmt.Errorf("collector with empty name")
		}
		if names[name] {
			return fmt.Errorf("duplicate collector name %q", name)
		}
		names[name] = true
		return nil
	}

	for _, a := range c.Collectors.APIs {
		if err := checkName(a.Name); err != nil {
			return err
		}
	}
	for _, f := range c.Collectors.Files {
		if err := checkName(f.Name); err != nil {
			return err
		}
	}
	for _, e := range c.Collectors.Emails {
		if err := checkName(e.Name); err != nil {
			return err
		}
	}
	for _, m := range c.Collectors.Manual {
		if err := checkName(m.Name); err != nil {
			return err
		}
	}
	return nil
}
