package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// AgentConfig holds runtime configuration for the probing agent.
type AgentConfig struct {
	DBName        string `mapstructure:"db_name"`
	DBUser        string `mapstructure:"db_user"`
	DBPassword    string `mapstructure:"db_password"`
	DBHost        string `mapstructure:"db_host"`
	DBPort        int    `mapstructure:"db_port"`
	SSLMode       string `mapstructure:"ssl_mode"`
	MigrationsDir string `mapstructure:"migrations_dir"`

	ProbeIntervalMS int    `mapstructure:"probe_interval_ms"`
	FlushEvery      int    `mapstructure:"flush_every"`
	Probe           string `mapstructure:"probe"`

	DNSRetry       int           `mapstructure:"dns_retry"`
	DNSTimeout     time.Duration `mapstructure:"dns_timeout"`
	QueryType      string        `mapstructure:"query_type"`
	QueryClass     string        `mapstructure:"query_class"`
	Recurse        bool          `mapstructure:"recurse"`
	ResolvConf     string        `mapstructure:"resolv_conf"`
	ICMPPrivileged bool          `mapstructure:"icmp_privileged"`

	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisChannel  string `mapstructure:"redis_channel"`

	InfluxURL    string `mapstructure:"influx_url"`
	InfluxToken  string `mapstructure:"influx_token"`
	InfluxOrg    string `mapstructure:"influx_org"`
	InfluxBucket string `mapstructure:"influx_bucket"`
}

// LoadAgentConfig builds the configuration from DNSVANTAGE_* environment
// variables and, when path is non-empty, overlays values present in the
// config file on top.
func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := AgentConfig{
		DBName:        GetString("DNSVANTAGE_DB_NAME", "dnsvantage"),
		DBUser:        GetString("DNSVANTAGE_DB_USER", "postgres"),
		DBPassword:    GetString("DNSVANTAGE_DB_PASSWORD", ""),
		DBHost:        GetString("DNSVANTAGE_DB_HOST", "localhost"),
		DBPort:        GetInt("DNSVANTAGE_DB_PORT", 5432),
		SSLMode:       GetString("DNSVANTAGE_DB_SSLMODE", "disable"),
		MigrationsDir: GetString("DNSVANTAGE_MIGRATIONS_DIR", "db/migrations"),

		ProbeIntervalMS: GetInt("DNSVANTAGE_PROBE_INTERVAL_MS", 1000),
		FlushEvery:      GetInt("DNSVANTAGE_FLUSH_EVERY", 4),
		Probe:           GetString("DNSVANTAGE_PROBE", "dns"),

		DNSRetry:       GetInt("DNSVANTAGE_DNS_RETRY", 2),
		DNSTimeout:     GetDuration("DNSVANTAGE_DNS_TIMEOUT", 2*time.Second),
		QueryType:      GetString("DNSVANTAGE_QUERY_TYPE", "A"),
		QueryClass:     GetString("DNSVANTAGE_QUERY_CLASS", "IN"),
		Recurse:        GetBool("DNSVANTAGE_RECURSE", false),
		ResolvConf:     GetString("DNSVANTAGE_RESOLV_CONF", "/etc/resolv.conf"),
		ICMPPrivileged: GetBool("DNSVANTAGE_ICMP_PRIVILEGED", false),

		LogLevel:    GetString("DNSVANTAGE_LOG_LEVEL", "info"),
		MetricsAddr: GetString("DNSVANTAGE_METRICS_ADDR", ""),

		RedisAddr:     GetString("DNSVANTAGE_REDIS_ADDR", ""),
		RedisPassword: GetString("DNSVANTAGE_REDIS_PASSWORD", ""),
		RedisDB:       GetInt("DNSVANTAGE_REDIS_DB", 0),
		RedisChannel:  GetString("DNSVANTAGE_REDIS_CHANNEL", "dnsvantage:events"),

		InfluxURL:    GetString("DNSVANTAGE_INFLUX_URL", ""),
		InfluxToken:  GetString("DNSVANTAGE_INFLUX_TOKEN", ""),
		InfluxOrg:    GetString("DNSVANTAGE_INFLUX_ORG", ""),
		InfluxBucket: GetString("DNSVANTAGE_INFLUX_BUCKET", ""),
	}

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects configurations the agent cannot run with.
func (c AgentConfig) Validate() error {
	if c.DBName == "" {
		return errors.New("database name required")
	}
	if c.ProbeIntervalMS <= 0 {
		return errors.New("probe interval must be positive")
	}
	if c.FlushEvery <= 0 {
		return errors.New("flush cadence must be positive")
	}
	return nil
}

// ProbeInterval returns the pause between probe cycles.
func (c AgentConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMS) * time.Millisecond
}

// DatabaseURL assembles the postgres connection string.
func (c AgentConfig) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBUser != "" {
		if c.DBPassword != "" {
			u.User = url.UserPassword(c.DBUser, c.DBPassword)
		} else {
			u.User = url.User(c.DBUser)
		}
	}
	if c.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
