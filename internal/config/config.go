// Package config holds the application's configuration model and loader.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/credcore/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	KeyRing   KeyRingConfig   `mapstructure:"key_ring"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Token     TokenConfig     `mapstructure:"token"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int      `mapstructure:"write_timeout"` // in seconds
	EnablePprof  bool     `mapstructure:"enable_pprof"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConns        int    `mapstructure:"max_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // in minutes
	ConnTimeout     int    `mapstructure:"conn_timeout"`      // in seconds
}

// DSN renders the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KeyRingConfig controls the encryption-key lifecycle manager.
type KeyRingConfig struct {
	// StorePath is the directory holding the encrypted ring file.
	StorePath string `mapstructure:"store_path"`

	// MasterPassword protects the ring at rest. Supplied directly or, when
	// empty, fetched from Vault (see VaultConfig).
	MasterPassword string `mapstructure:"master_password"`

	// RotationDays rotates the active key once it is older than this.
	RotationDays int `mapstructure:"rotation_days"`

	// MaxEncryptionOperations rotates the active key once it has encrypted
	// this many values since the last rotation.
	MaxEncryptionOperations int64 `mapstructure:"max_encryption_operations"`

	// RetentionDays bounds how long inactive keys are kept by Cleanup.
	RetentionDays int `mapstructure:"retention_days"`
}

type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	// MasterPasswordPath is the KV v2 path holding the ring master password.
	MasterPasswordPath string `mapstructure:"master_password_path"`
	MasterPasswordKey  string `mapstructure:"master_password_key"`
}

// Enabled reports whether Vault is configured as the master password source.
func (c *VaultConfig) Enabled() bool {
	return c.Address != "" && c.MasterPasswordPath != ""
}

type TokenConfig struct {
	// AccessSecret and RefreshSecret sign the two token families. Separate
	// secrets so an access token can never pass as a refresh token.
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	Issuer        string        `mapstructure:"issuer"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	BlacklistTTL    time.Duration `mapstructure:"blacklist_ttl"`
	DeviceMemoryTTL time.Duration `mapstructure:"device_memory_ttl"`

	// RevokeOnReuse controls the refresh-token reuse policy: when true
	// (default) a reused refresh token revokes the whole session and all of
	// its refresh tokens, not just the retried exchange.
	RevokeOnReuse bool `mapstructure:"revoke_on_reuse"`
}

type RateLimitConfig struct {
	SessionCreationLimit  int           `mapstructure:"session_creation_limit"`
	SessionCreationWindow time.Duration `mapstructure:"session_creation_window"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	AuditTopic   string        `mapstructure:"audit_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// Validate checks for configuration that must be present at startup. These
// failures are fatal: the process refuses to start rather than degrade.
func (c *Config) Validate() error {
	if c.KeyRing.MasterPassword == "" && !c.Vault.Enabled() {
		return errors.ErrMissingMasterPassword()
	}
	if c.KeyRing.StorePath == "" {
		return errors.New(errors.KindConfiguration, "key ring store path required")
	}
	if c.Token.AccessSecret == "" || c.Token.RefreshSecret == "" {
		return errors.New(errors.KindConfiguration, "token signing secrets required")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New(errors.KindConfiguration,
			"refresh token lifetime must be materially longer than the access token lifetime")
	}
	if c.Database.Host == "" {
		return errors.New(errors.KindConfiguration, "database host required")
	}
	if c.Redis.Addr == "" {
		return errors.New(errors.KindConfiguration, "redis address required")
	}
	return nil
}
