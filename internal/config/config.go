// Package config loads the runtime configuration of the beacon service from
// the environment and optional .env files, and exposes the secrets injected
// at build time.
package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Build-time values, injected with
//
//	go build -ldflags "-X github.com/UnknownOlympus/beacon/internal/config.oauthToken=..."
var (
	mapAPIKey  string
	oauthToken string
	secretPath string
)

var (
	ErrMissingOAuthToken = errors.New("storage OAuth token is not configured")
	ErrMissingSecretPath = errors.New("secret resource path is not configured")
)

const envPrefix = "BEACON"

// Config holds the configuration settings for the beacon service.
type Config struct {
	Env            string         // Env is the current environment: local, dev, prod.
	Port           int            // Port is the control API and monitoring port.
	StageTimeout   time.Duration  // StageTimeout bounds every stage of a report run.
	RateLimit      int            // RateLimit is the outgoing request budget per second.
	LocationMaxAge time.Duration  // LocationMaxAge is how long a position sample stays fresh.
	Username       string         // Username is the Basic auth user of the token endpoint.
	Endpoints      Endpoints      // Endpoints of the remote services.
	Secrets        Secrets        // Secrets injected at build time.
	Database       PostgresConfig // Database holds the run journal configuration.
}

// Endpoints overrides the remote service URLs. Empty values select the defaults.
type Endpoints struct {
	DiskURL     string
	TokenURL    string
	LocationURL string
}

// Secrets are the build-time values. They are never logged.
type Secrets struct {
	MapAPIKey  string
	OAuthToken string
	SecretPath string
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string // Host is the database server address.
	Port     string // Port is the database server port.
	User     string // User is the database user.
	Password string // Password is the database user's password.
	Name     string // Name is the name of the database.
}

// MustLoad reads the optional .env files (".env" when none are given), then the
// environment, and returns the configuration. It panics on malformed values.
func MustLoad(files ...string) *Config {
	_ = godotenv.Load(files...)

	v := newViper()

	port, err := strconv.Atoi(v.GetString("port"))
	if err != nil {
		panic("failed to parse port from configuration")
	}

	stageTimeout, err := time.ParseDuration(v.GetString("stage_timeout"))
	if err != nil || stageTimeout <= 0 {
		panic("failed to parse stage timeout from configuration")
	}

	rateLimit, err := strconv.Atoi(v.GetString("rate_limit"))
	if err != nil {
		panic("failed to parse rate limit from configuration, must be an integer")
	}

	maxAge, err := time.ParseDuration(v.GetString("location_max_age"))
	if err != nil || maxAge <= 0 {
		panic("failed to parse location max age from configuration")
	}

	return &Config{
		Env:            v.GetString("env"),
		Port:           port,
		StageTimeout:   stageTimeout,
		RateLimit:      rateLimit,
		LocationMaxAge: maxAge,
		Username:       v.GetString("username"),
		Endpoints: Endpoints{
			DiskURL:     v.GetString("disk_url"),
			TokenURL:    v.GetString("token_url"),
			LocationURL: v.GetString("location_url"),
		},
		Secrets: Secrets{
			MapAPIKey:  firstNonEmpty(mapAPIKey, v.GetString("map_api_key")),
			OAuthToken: firstNonEmpty(oauthToken, v.GetString("oauth_token")),
			SecretPath: firstNonEmpty(secretPath, v.GetString("secret_path")),
		},
		Database: PostgresConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.username"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
		},
	}
}

// Validate reports configuration that makes a report run impossible.
func (c *Config) Validate() error {
	var errs []error
	if c.Secrets.OAuthToken == "" {
		errs = append(errs, ErrMissingOAuthToken)
	}
	if c.Secrets.SecretPath == "" {
		errs = append(errs, ErrMissingSecretPath)
	}

	return errors.Join(errs...)
}

// JournalEnabled reports whether a database is configured for the run journal.
func (c *Config) JournalEnabled() bool {
	return c.Database.Host != ""
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "production")
	v.SetDefault("port", "8080")
	v.SetDefault("stage_timeout", "15s")
	v.SetDefault("rate_limit", "5")
	v.SetDefault("location_max_age", "30s")
	v.SetDefault("username", "admin")
	v.SetDefault("db.port", "5432")

	// The database keys are shared with the other services and carry no prefix.
	_ = v.BindEnv("db.host", "DB_HOST")
	_ = v.BindEnv("db.port", "DB_PORT")
	_ = v.BindEnv("db.username", "DB_USERNAME")
	_ = v.BindEnv("db.password", "DB_PASSWORD")
	_ = v.BindEnv("db.name", "DB_NAME")

	return v
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}
