package accounts

import (
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v2"
)

// AppConfig is the process wide configuration, loaded once at startup
type AppConfig struct {
	Server      ServerConfig      `yaml:"server" koanf:"server"`
	Auth        AuthConfig        `yaml:"auth" koanf:"auth"`
	Mail        MailConfig        `yaml:"mail" koanf:"mail"`
	Persistence PersistenceConfig `yaml:"persistence" koanf:"persistence"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr" koanf:"addr"`
	BaseURL string `yaml:"base_url" koanf:"base_url"`
	Debug   bool   `yaml:"debug" koanf:"debug"`
}

type AuthConfig struct {
	SigningKey            string        `yaml:"signing_key" koanf:"signing_key"`
	ContextKey            string        `yaml:"context_key" koanf:"context_key"`
	TokenExpiration       int           `yaml:"token_expiration" koanf:"token_expiration"`
	ExtendedTokenDuration int           `yaml:"extended_token_duration" koanf:"extended_token_duration"`
	Issuer                string        `yaml:"issuer" koanf:"issuer"`
	Audience              []string      `yaml:"audience" koanf:"audience"`
	RejectedRouteKey      string        `yaml:"rejected_route_key" koanf:"rejected_route_key"`
	RejectedRouteDefault  string        `yaml:"rejected_route_default" koanf:"rejected_route_default"`
	VerificationTTL       time.Duration `yaml:"verification_ttl" koanf:"verification_ttl"`
	UseHashid             bool          `yaml:"use_hashid" koanf:"use_hashid"`
}

type MailConfig struct {
	SMTPServer string `yaml:"smtp_server" koanf:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port" koanf:"smtp_port"`
	Username   string `yaml:"username" koanf:"username"`
	Password   string `yaml:"password" koanf:"password"`
	From       string `yaml:"from" koanf:"from"`
	SenderName string `yaml:"sender_name" koanf:"sender_name"`
	Timeout    int    `yaml:"timeout" koanf:"timeout"`
}

type PersistenceConfig struct {
	Driver       string        `yaml:"driver" koanf:"driver"`
	DSN          string        `yaml:"dsn" koanf:"dsn"`
	PingTimeout  time.Duration `yaml:"ping_timeout" koanf:"ping_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns" koanf:"max_open_conns"`
}

var _ Config = AuthConfig{}

func (a AuthConfig) GetSigningKey() string           { return a.SigningKey }
func (a AuthConfig) GetContextKey() string           { return a.ContextKey }
func (a AuthConfig) GetTokenExpiration() int         { return a.TokenExpiration }
func (a AuthConfig) GetExtendedTokenDuration() int   { return a.ExtendedTokenDuration }
func (a AuthConfig) GetIssuer() string               { return a.Issuer }
func (a AuthConfig) GetAudience() []string           { return a.Audience }
func (a AuthConfig) GetRejectedRouteKey() string     { return a.RejectedRouteKey }
func (a AuthConfig) GetRejectedRouteDefault() string { return a.RejectedRouteDefault }

// GetPingTimeout returns the ping timeout, 5s when unset
func (p PersistenceConfig) GetPingTimeout() time.Duration {
	if p.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return p.PingTimeout
}

// DefaultConfig returns a configuration suitable for local development
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:    ":8572",
			BaseURL: "http://localhost:8572",
		},
		Auth: AuthConfig{
			ContextKey:            "jwt",
			TokenExpiration:       24,
			ExtendedTokenDuration: 24 * 7,
			Issuer:                "go-accounts",
			Audience:              []string{"go-accounts"},
			RejectedRouteKey:      "rejected_route",
			RejectedRouteDefault:  "/home/",
			VerificationTTL:       DefaultVerificationTokenTTL,
		},
		Mail: MailConfig{
			SMTPPort:   587,
			SenderName: "Accounts",
			Timeout:    10,
		},
		Persistence: PersistenceConfig{
			Driver:      DriverSQLite,
			DSN:         "file:accounts.db?cache=shared",
			PingTimeout: 5 * time.Second,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults. An empty path
// returns the defaults. The result seeds the config container, which layers
// the environment on top and validates.
func LoadConfig(path string) (*AppConfig, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "can't read config file").
			WithMetadata(map[string]any{"path": path})
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "can't unmarshal config file").
			WithMetadata(map[string]any{"path": path})
	}

	return cfg, nil
}

// Validate checks the settings the server cannot start without
func (c *AppConfig) Validate() error {
	err := validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Addr, validation.Required),
			validation.Field(&c.Server.BaseURL, validation.Required, is.URL),
		),
		"auth": validation.ValidateStruct(&c.Auth,
			validation.Field(&c.Auth.SigningKey, validation.Required, validation.Length(16, 0)),
			validation.Field(&c.Auth.ContextKey, validation.Required),
			validation.Field(&c.Auth.TokenExpiration, validation.Required, validation.Min(1)),
			validation.Field(&c.Auth.VerificationTTL, validation.Required),
		),
		"persistence": validation.ValidateStruct(&c.Persistence,
			validation.Field(&c.Persistence.Driver, validation.In(DriverSQLite, DriverPostgres)),
			validation.Field(&c.Persistence.DSN, validation.Required),
		),
	}.Filter()

	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration")
	}

	return nil
}
