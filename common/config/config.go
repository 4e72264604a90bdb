package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/spf13/viper"
)

// Config holds all service configuration
type Config struct {
	Service      ServiceConfig                `mapstructure:"service"`
	History      HistoryConfig                `mapstructure:"history"`
	Cache        CacheConfig                  `mapstructure:"cache"`
	Redis        RedisConfig                  `mapstructure:"redis"`
	Telemetry    TelemetryConfig              `mapstructure:"telemetry"`
	Promotion    PromotionConfig              `mapstructure:"promotion"`
	Prompts      PromptsConfig                `mapstructure:"prompts"`
	Environments map[string]EnvironmentConfig `mapstructure:"environments"`
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name      string `mapstructure:"name"`
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Mutating requests allowed per operator and window; 0 disables the limit
	WriteLimit  int           `mapstructure:"write_limit"`
	WriteWindow time.Duration `mapstructure:"write_window"`
}

// HistoryConfig locates the SQLite history store
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig holds connection settings for one relational store
type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Database    string        `mapstructure:"database"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	SSLMode     string        `mapstructure:"sslmode"`
	MaxConns    int           `mapstructure:"max_conns"`
	MinConns    int           `mapstructure:"min_conns"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// LangflowConfig holds the flow service REST endpoint and operator account
type LangflowConfig struct {
	URL      string        `mapstructure:"url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EnvironmentConfig holds everything needed to reach one environment
type EnvironmentConfig struct {
	FlowDB   DatabaseConfig `mapstructure:"flow_db"`
	ConfigDB DatabaseConfig `mapstructure:"config_db"`
	Langflow LangflowConfig `mapstructure:"langflow"`
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"` // "memory" or "redis"
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	UserTTL  time.Duration `mapstructure:"user_ttl"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool `mapstructure:"enable_pprof"`
	PprofPort     int  `mapstructure:"pprof_port"`
	EnableMetrics bool `mapstructure:"enable_metrics"`
	MetricsPort   int  `mapstructure:"metrics_port"`
}

// PromotionConfig holds promotion and graph-rewrite settings
type PromotionConfig struct {
	BackupFolder  string            `mapstructure:"backup_folder"`
	PublishSuffix string            `mapstructure:"publish_suffix"`
	NodeRules     map[string]string `mapstructure:"node_rules"`
}

// PromptsConfig holds the prompt-management service settings
type PromptsConfig struct {
	Source    string         `mapstructure:"source"` // "db" or "api"
	URL       string         `mapstructure:"url"`
	PublicKey string         `mapstructure:"public_key"`
	SecretKey string         `mapstructure:"secret_key"`
	ProjectID string         `mapstructure:"project_id"`
	PageSize  int            `mapstructure:"page_size"`
	Timeout   time.Duration  `mapstructure:"timeout"`
	DB        DatabaseConfig `mapstructure:"db"`
}

// Load loads configuration from defaults, an optional TOML file and the environment.
// FLOWDEPLOY_CONFIG points at an explicit file; otherwise flowdeploy.toml is
// looked up in the working directory and ./config.
func Load(serviceName string) (*Config, error) {
	v := viper.New()
	setDefaults(v, serviceName)

	v.SetEnvPrefix("FLOWDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("FLOWDEPLOY_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowdeploy")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

// LoadFile loads configuration from a single file (used by tests and the migrate command)
func LoadFile(serviceName, path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, serviceName)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// environment sections inherit pool settings that were left blank
	for name, env := range cfg.Environments {
		env.FlowDB = withPoolDefaults(env.FlowDB, "postgres", 5432)
		env.ConfigDB = withPoolDefaults(env.ConfigDB, "mysql", 3306)
		if env.Langflow.Timeout == 0 {
			env.Langflow.Timeout = 30 * time.Second
		}
		cfg.Environments[name] = env
	}
	cfg.Prompts.DB = withPoolDefaults(cfg.Prompts.DB, "postgres", 5432)

	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("service.name", serviceName)
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.log_format", "text")
	v.SetDefault("service.write_limit", 30)
	v.SetDefault("service.write_window", time.Minute)

	v.SetDefault("history.path", "data/history.db")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.token_ttl", 300*time.Second)
	v.SetDefault("cache.user_ttl", 300*time.Second)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("telemetry.enable_pprof", false)
	v.SetDefault("telemetry.pprof_port", 6060)
	v.SetDefault("telemetry.enable_metrics", true)
	v.SetDefault("telemetry.metrics_port", 9090)

	v.SetDefault("promotion.backup_folder", "备份")
	v.SetDefault("promotion.publish_suffix", "*")

	v.SetDefault("prompts.source", "db")
	v.SetDefault("prompts.url", "")
	v.SetDefault("prompts.public_key", "")
	v.SetDefault("prompts.secret_key", "")
	v.SetDefault("prompts.project_id", "")
	v.SetDefault("prompts.page_size", 50)
	v.SetDefault("prompts.timeout", 30*time.Second)
}

func withPoolDefaults(d DatabaseConfig, driver string, port int) DatabaseConfig {
	if d.Driver == "" {
		d.Driver = driver
	}
	if d.Port == 0 {
		d.Port = port
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
	if d.MaxConns == 0 {
		d.MaxConns = 5
	}
	if d.MinConns == 0 {
		d.MinConns = 1
	}
	if d.MaxIdleTime == 0 {
		d.MaxIdleTime = 30 * time.Minute
	}
	if d.MaxLifetime == 0 {
		d.MaxLifetime = time.Hour
	}
	return d
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.History.Path == "" {
		return fmt.Errorf("history path is required")
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}

	switch c.Prompts.Source {
	case "db", "api":
	default:
		return fmt.Errorf("unknown prompts source: %s", c.Prompts.Source)
	}

	for name, env := range c.Environments {
		if _, err := environment.Parse(name); err != nil {
			return fmt.Errorf("environments.%s: %w", name, err)
		}
		if env.FlowDB.Host == "" {
			return fmt.Errorf("environments.%s.flow_db.host is required", name)
		}
		if env.FlowDB.MaxConns < env.FlowDB.MinConns {
			return fmt.Errorf("environments.%s.flow_db: max_conns must be >= min_conns", name)
		}
	}

	return nil
}

// Environment returns the settings for env, matching aliases in the file
func (c *Config) Environment(env environment.Environment) (EnvironmentConfig, error) {
	for name, cfg := range c.Environments {
		parsed, err := environment.Parse(name)
		if err == nil && parsed == env {
			return cfg, nil
		}
	}
	return EnvironmentConfig{}, fmt.Errorf("environment %s is not configured", env)
}

// URL returns the PostgreSQL connection string
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// MySQLDSN returns the go-sql-driver/mysql data source name
func (d DatabaseConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.Database)
}

// RedisAddr returns host:port for the redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
