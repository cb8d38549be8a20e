package config

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// Load reads configuration from file, environment variables, and defaults.
// Rotation thresholds and TTLs are tunable knobs, not protocol constants, so
// every one of them has a default and an override path.
func Load(log logger.Logger) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/credcore/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.KindConfiguration, "failed to read config file")
		}
	}

	v.SetEnvPrefix("CREDCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Hot reload is advisory only: connection parameters and secrets are
	// read once at startup, so a change here just logs what would apply on
	// the next restart.
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info(context.Background(), "config file changed, restart to apply",
			logger.String("file", e.Name),
			logger.String("op", e.Op.String()),
		)
	})
	v.WatchConfig()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.enable_pprof", false)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.conn_timeout", 5)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("key_ring.store_path", ".keys")
	v.SetDefault("key_ring.rotation_days", constants.KeyRotationDefaultDays)
	v.SetDefault("key_ring.max_encryption_operations", int64(constants.MaxEncryptionOperationsDefault))
	v.SetDefault("key_ring.retention_days", constants.KeyRetentionDefaultDays)

	v.SetDefault("vault.master_password_key", "master_password")

	v.SetDefault("token.access_ttl", constants.AccessTokenDefaultTTL)
	v.SetDefault("token.refresh_ttl", constants.RefreshTokenDefaultTTL)
	v.SetDefault("token.issuer", "credcore")

	v.SetDefault("session.ttl", constants.SessionDefaultTTL)
	v.SetDefault("session.blacklist_ttl", constants.BlacklistDefaultTTL)
	v.SetDefault("session.device_memory_ttl", constants.DeviceMemoryDefaultTTL)
	v.SetDefault("session.revoke_on_reuse", true)

	v.SetDefault("rate_limit.session_creation_limit", constants.SessionCreationRateLimit)
	v.SetDefault("rate_limit.session_creation_window", constants.SessionCreationRateWindow)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.audit_topic", "credcore.audit")
	v.SetDefault("kafka.write_timeout", 10*time.Second)
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "credcore")
}
