package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	iauth "github.com/acnewman/deskbridge/internal/auth"
	"github.com/acnewman/deskbridge/internal/database"
	"github.com/acnewman/deskbridge/internal/payment"
)

// Config represents the runtime configuration for the deskbridge backend.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	// BaseURL is the externally visible origin used to build payment
	// callback URLs. When empty, it is derived from the inbound request.
	BaseURL string `mapstructure:"base_url"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT       JWTSettings       `mapstructure:"jwt"`
	Handshake HandshakeSettings `mapstructure:"handshake"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// HandshakeSettings tunes the desktop login handshake store.
type HandshakeSettings struct {
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
	CodeTTL    time.Duration `mapstructure:"code_ttl"`
}

// PaymentConfig configures the Stripe checkout integration.
type PaymentConfig struct {
	StripeSecretKey string        `mapstructure:"stripe_secret_key"`
	Currency        string        `mapstructure:"currency"`
	UnitAmount      int64         `mapstructure:"unit_amount"`
	ProductName     string        `mapstructure:"product_name"`
	LookupTimeout   time.Duration `mapstructure:"lookup_timeout"`
}

// SeedConfig controls the development example account.
type SeedConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	Role     string `mapstructure:"role"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("DESKBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate checks invariants that must hold before the server starts.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	c.Auth.JWT.Secret = strings.TrimSpace(c.Auth.JWT.Secret)
	if c.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	return nil
}

// JWTServiceConfig converts settings into the auth package's config type.
func (c AuthConfig) JWTServiceConfig() iauth.JWTConfig {
	return iauth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: c.JWT.TTL,
	}
}

// HandshakeStoreConfig converts settings into the handshake store's config type.
func (c AuthConfig) HandshakeStoreConfig() iauth.HandshakeConfig {
	return iauth.HandshakeConfig{
		PendingTTL: c.Handshake.PendingTTL,
		CodeTTL:    c.Handshake.CodeTTL,
	}
}

// StripeConfig converts payment settings into the provider config type.
func (c PaymentConfig) StripeConfig() payment.StripeConfig {
	return payment.StripeConfig{
		SecretKey:     c.StripeSecretKey,
		Currency:      c.Currency,
		UnitAmount:    c.UnitAmount,
		ProductName:   c.ProductName,
		LookupTimeout: c.LookupTimeout,
	}
}

// Configured reports whether a Stripe secret key is present.
func (c PaymentConfig) Configured() bool {
	return strings.TrimSpace(c.StripeSecretKey) != ""
}

// DatabaseConfig converts settings into the database package's config type.
func (c *Config) DatabaseConfig() database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Database.Driver)),
		Path:   strings.TrimSpace(c.Database.Path),
		DSN:    strings.TrimSpace(c.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(c.Database.Postgres.Host)
		dbCfg.Port = c.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(c.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(c.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(c.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(c.Database.MySQL.Host)
		dbCfg.Port = c.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(c.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(c.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(c.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.base_url", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/deskbridge.sqlite")

	v.SetDefault("auth.jwt.issuer", "deskbridge")
	v.SetDefault("auth.jwt.access_token_ttl", "30m")
	v.SetDefault("auth.handshake.pending_ttl", "10m")
	v.SetDefault("auth.handshake.code_ttl", "2m")

	v.SetDefault("payment.currency", "usd")
	v.SetDefault("payment.unit_amount", 999)
	v.SetDefault("payment.product_name", "Account registration")
	v.SetDefault("payment.lookup_timeout", "10s")

	v.SetDefault("seed.enabled", false)
	v.SetDefault("seed.email", "example@demo.local")
	v.SetDefault("seed.password", "DemoPass123!")
	v.SetDefault("seed.role", "admin")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
