package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Device   DeviceConfig   `mapstructure:"device"`
	Project  ProjectConfig  `mapstructure:"project"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled                bool             `mapstructure:"enabled"`
	JWTSecretEnv           string           `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration    `mapstructure:"access_token_ttl"`
	MaxFailedLoginAttempts int              `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration    `mapstructure:"account_lock_duration"`
	Users                  []UserConfig     `mapstructure:"users"`
	APITokens              []APITokenConfig `mapstructure:"api_tokens"`
}

// UserConfig is a workspace account. PasswordHash is produced by
// `openplc-workspace hash-password`.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// APITokenConfig authorizes a tool (gRPC client, CI job) without a login.
// TokenHash is the SHA-256 of the token as printed by `openplc-workspace token`.
type APITokenConfig struct {
	Name      string `mapstructure:"name"`
	TokenHash string `mapstructure:"token_hash"`
	Role      string `mapstructure:"role"`
}

type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	MaxReadSize  int           `mapstructure:"max_read_size"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type DeviceConfig struct {
	// Transport is "simulator" or "modbus".
	Transport   string          `mapstructure:"transport"`
	Address     string          `mapstructure:"address"`
	UnitID      uint8           `mapstructure:"unit_id"`
	Timeout     time.Duration   `mapstructure:"timeout"`
	Endianness  string          `mapstructure:"endianness"`
	MemorySize  int             `mapstructure:"memory_size"`
	AutoConnect bool            `mapstructure:"auto_connect"`
	Modbus      ModbusConfig    `mapstructure:"modbus"`
	Simulator   SimulatorConfig `mapstructure:"simulator"`
}

type ModbusConfig struct {
	BaseRegister uint16 `mapstructure:"base_register"`
}

type SimulatorConfig struct {
	Latency time.Duration `mapstructure:"latency"`
}

type ProjectConfig struct {
	Path string `mapstructure:"path"`
	// Name selects the project row when Store is "postgres".
	Name string `mapstructure:"name"`
	// Store is "file" or "postgres".
	Store string `mapstructure:"store"`
	Watch bool   `mapstructure:"watch"`
}

type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Path          string        `mapstructure:"path"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "openplc")
	v.SetDefault("database.max_connections", 10)

	// Auth Defaults
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	v.SetDefault("monitor.poll_interval", "100ms")
	v.SetDefault("monitor.read_timeout", "1s")
	v.SetDefault("monitor.max_read_size", 0)
	v.SetDefault("monitor.concurrency", 1)

	v.SetDefault("device.transport", "simulator")
	v.SetDefault("device.address", "127.0.0.1:502")
	v.SetDefault("device.unit_id", 1)
	v.SetDefault("device.timeout", "1s")
	v.SetDefault("device.endianness", "LE")
	v.SetDefault("device.memory_size", 4096)
	v.SetDefault("device.auto_connect", false)

	v.SetDefault("project.path", "projects/demo.yaml")
	v.SetDefault("project.name", "demo")
	v.SetDefault("project.store", "file")
	v.SetDefault("project.watch", true)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "data/watch-cache.db")
	v.SetDefault("cache.flush_interval", "5s")
}

// Load reads path (optional) and applies defaults and OPW_ environment
// overrides, e.g. OPW_DEVICE_TRANSPORT=modbus.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables automatisch binden (Viper Feature)
	v.SetEnvPrefix("OPW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Device.Transport {
	case "simulator", "modbus":
	default:
		return fmt.Errorf("device.transport: unknown transport %q", c.Device.Transport)
	}
	switch strings.ToUpper(c.Device.Endianness) {
	case "LE", "BE":
	default:
		return fmt.Errorf("device.endianness: must be LE or BE, got %q", c.Device.Endianness)
	}
	switch c.Project.Store {
	case "file", "postgres":
	default:
		return fmt.Errorf("project.store: unknown store %q", c.Project.Store)
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
