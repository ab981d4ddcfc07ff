// Package config loads server configuration from file, environment
// variables, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backend names accepted by STORAGE_BACKEND.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageMongo  = "mongo"
)

// ServerConfig holds all configuration for the server. Tags use
// mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	Issuer    string `mapstructure:"ISSUER"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// StorageBackend selects where grant state lives: memory, redis, or
	// mongo. Tokens and clients always persist in Mongo when it is
	// configured.
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	MongoURI       string `mapstructure:"MONGO_URI"`
	MongoDBName    string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	// InternalAPIKey guards the /internal resolution endpoints. Empty
	// leaves them open, for deployments that fence them off at the
	// network layer instead.
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	// Signing. JWTSecretKey enables the HS256 signer; RSAPrivateKeyFile,
	// when set, loads a PEM key for RS256 and takes precedence.
	JWTSecretKey      string `mapstructure:"JWT_SECRET_KEY"`
	SigningKeyID      string `mapstructure:"SIGNING_KEY_ID"`
	RSAPrivateKeyFile string `mapstructure:"RSA_PRIVATE_KEY_FILE"`

	AccessTokenTTLMin    int `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLHour  int `mapstructure:"REFRESH_TOKEN_TTL_HOUR"`
	AuthCodeTTLMin       int `mapstructure:"AUTH_CODE_TTL_MIN"`
	JourneyStateTTLMin   int `mapstructure:"JOURNEY_STATE_TTL_MIN"`
	CibaRequestTTLMin    int `mapstructure:"CIBA_REQUEST_TTL_MIN"`
	DeviceCodeTTLMin     int `mapstructure:"DEVICE_CODE_TTL_MIN"`
	DPoPProofMaxAgeSec   int `mapstructure:"DPOP_PROOF_MAX_AGE_SEC"`
	DPoPClockSkewSec     int `mapstructure:"DPOP_CLOCK_SKEW_SEC"`
	DPoPNonceTTLMin      int `mapstructure:"DPOP_NONCE_TTL_MIN"`
}

// AccessTokenTTL returns the access token lifetime as a duration.
func (c *ServerConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMin) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime as a duration.
func (c *ServerConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLHour) * time.Hour
}

// JourneyStateTTL returns how long a parked journey stays resumable.
func (c *ServerConfig) JourneyStateTTL() time.Duration {
	return time.Duration(c.JourneyStateTTLMin) * time.Minute
}

// LoadConfig reads configuration from file, environment variables, and
// defaults. Environment variables use the OLUSO_ prefix.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/oluso-idp/")
	v.AddConfigPath("$HOME/.oluso-idp")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OLUSO")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("ISSUER", "http://localhost:8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("STORAGE_BACKEND", StorageMemory)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "oluso_idp")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_KEY_PREFIX", "idp")
	v.SetDefault("SIGNING_KEY_ID", "default")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 60)
	v.SetDefault("REFRESH_TOKEN_TTL_HOUR", 720)
	v.SetDefault("AUTH_CODE_TTL_MIN", 10)
	v.SetDefault("JOURNEY_STATE_TTL_MIN", 30)
	v.SetDefault("CIBA_REQUEST_TTL_MIN", 5)
	v.SetDefault("DEVICE_CODE_TTL_MIN", 15)
	v.SetDefault("DPOP_PROOF_MAX_AGE_SEC", 60)
	v.SetDefault("DPOP_CLOCK_SKEW_SEC", 30)
	v.SetDefault("DPOP_NONCE_TTL_MIN", 10)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.JWTSecretKey == "" && cfg.RSAPrivateKeyFile == "" {
		return nil, fmt.Errorf("either JWT_SECRET_KEY or RSA_PRIVATE_KEY_FILE must be set")
	}

	return &cfg, nil
}
