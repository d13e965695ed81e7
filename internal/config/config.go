// README: Config loader: defaults, optional file, then RIDEBID_* env overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "RIDEBID"

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type DispatchConfig struct {
	HoldDefaultMinutes int           `mapstructure:"hold_default_minutes"`
	HoldMaxMinutes     int           `mapstructure:"hold_max_minutes"`
	RideTTL            time.Duration `mapstructure:"ride_ttl"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	UserBlockDays      int           `mapstructure:"user_block_days"`
	ZoneBlockHours     int           `mapstructure:"zone_block_hours"`
	QueueLimit         int           `mapstructure:"queue_limit"`
	DriverSpeedKmh     float64       `mapstructure:"driver_speed_kmh"`
	NearbyRadiusKm     float64       `mapstructure:"nearby_radius_km"`
	PositionStaleAfter time.Duration `mapstructure:"position_stale_after"`
	SideChannelBuffer  int           `mapstructure:"side_channel_buffer"`
}

func (d DispatchConfig) HoldDefault() time.Duration {
	return time.Duration(d.HoldDefaultMinutes) * time.Minute
}

func (d DispatchConfig) HoldMax() time.Duration {
	return time.Duration(d.HoldMaxMinutes) * time.Minute
}

func (d DispatchConfig) UserBlockDefault() time.Duration {
	return time.Duration(d.UserBlockDays) * 24 * time.Hour
}

func (d DispatchConfig) ZoneBlockDefault() time.Duration {
	return time.Duration(d.ZoneBlockHours) * time.Hour
}

type Config struct {
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	DB struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"db"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Firebase struct {
		ProjectID       string `mapstructure:"project_id"`
		CredentialsFile string `mapstructure:"credentials_file"`
		DatabaseURL     string `mapstructure:"database_url"`
	} `mapstructure:"firebase"`
	Maps struct {
		APIKey   string        `mapstructure:"api_key"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"maps"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Storage struct {
		Backend string `mapstructure:"backend"`
	} `mapstructure:"storage"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

// AuthEnabled reports whether Firebase is configured; without it the API
// trusts the X-User-ID header and is meant for local runs only.
func (c Config) AuthEnabled() bool {
	return c.Firebase.ProjectID != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "ridebid.events")
	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.credentials_file", "")
	v.SetDefault("firebase.database_url", "")
	v.SetDefault("maps.api_key", "")
	v.SetDefault("maps.cache_ttl", 2*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.backend", BackendMemory)

	v.SetDefault("dispatch.hold_default_minutes", 5)
	v.SetDefault("dispatch.hold_max_minutes", 30)
	v.SetDefault("dispatch.ride_ttl", 10*time.Minute)
	v.SetDefault("dispatch.sweep_interval", 30*time.Second)
	v.SetDefault("dispatch.user_block_days", 30)
	v.SetDefault("dispatch.zone_block_hours", 24)
	v.SetDefault("dispatch.queue_limit", 50)
	v.SetDefault("dispatch.driver_speed_kmh", 30.0)
	v.SetDefault("dispatch.nearby_radius_km", 5.0)
	v.SetDefault("dispatch.position_stale_after", 2*time.Minute)
	v.SetDefault("dispatch.side_channel_buffer", 1024)
}

// Load reads defaults and environment only.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile additionally reads a yaml/json/toml file when path is set.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for the postgres backend"))
		}
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Storage.Backend))
	}
	d := c.Dispatch
	if d.HoldDefaultMinutes <= 0 || d.HoldMaxMinutes < d.HoldDefaultMinutes {
		errs = append(errs, errors.New("dispatch hold minutes must satisfy 0 < default <= max"))
	}
	if d.RideTTL <= 0 || d.SweepInterval <= 0 {
		errs = append(errs, errors.New("dispatch.ride_ttl and dispatch.sweep_interval must be positive"))
	}
	if d.UserBlockDays <= 0 || d.ZoneBlockHours <= 0 {
		errs = append(errs, errors.New("dispatch block defaults must be positive"))
	}
	if c.Firebase.ProjectID != "" && c.Firebase.CredentialsFile == "" {
		errs = append(errs, errors.New("firebase.credentials_file is required when firebase.project_id is set"))
	}
	return errors.Join(errs...)
}

// splitList accepts both repeated values and a single comma-separated value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
