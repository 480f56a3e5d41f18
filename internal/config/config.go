package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the calld process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	ARI    ARIConfig
	AMID   ServiceConfig
	Phoned ServiceConfig
	Calls  CallsConfig
	Bus    BusConfig

	// HTTPClientTimeout bounds every request made to amid and phoned.
	HTTPClientTimeout time.Duration
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type ARIConfig struct {
	URL          string
	WebsocketURL string
	Username     string
	Password     string
	Application  string
}

// ServiceConfig locates an HTTP collaborator.
type ServiceConfig struct {
	URL   string
	Token string
}

const (
	StateCacheARI   = "ari"
	StateCacheRedis = "redis"
)

type CallsConfig struct {
	MasterTenantUUID string
	DialEchoTimeout  time.Duration
	// StateCache selects where application instances are read from.
	StateCache string
	// RecordingPath is a fmt template taking the tenant uuid then the
	// recording uuid. Empty keeps the service default.
	RecordingPath string
}

type BusConfig struct {
	EventsChannel string
	NotifyPrefix  string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = env("APP_ENV")
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = env("DB_HOST")
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = env("DB_USER")
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = env("DB_NAME")
	c.DB.SSLMode = env("DB_SSLMODE")

	c.Redis.Host = env("REDIS_HOST")
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = env("JWT_ISSUER")
	c.Auth.JWTAudience = env("JWT_AUDIENCE")
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.ARI.URL = env("ARI_URL")
	c.ARI.WebsocketURL = env("ARI_WS_URL")
	c.ARI.Username = env("ARI_USERNAME")
	c.ARI.Password = os.Getenv("ARI_PASSWORD")
	c.ARI.Application = env("ARI_APPLICATION")

	c.AMID.URL = env("AMID_URL")
	c.AMID.Token = os.Getenv("AMID_TOKEN")
	c.Phoned.URL = env("PHONED_URL")
	c.Phoned.Token = os.Getenv("PHONED_TOKEN")

	c.Calls.MasterTenantUUID = env("CALLS_MASTER_TENANT_UUID")
	c.Calls.DialEchoTimeout = mustDuration("CALLS_DIAL_ECHO_TIMEOUT")
	c.Calls.StateCache = env("CALLS_STATE_CACHE")
	c.Calls.RecordingPath = env("CALLS_RECORDING_PATH")

	c.Bus.EventsChannel = env("BUS_EVENTS_CHANNEL")
	c.Bus.NotifyPrefix = env("BUS_NOTIFY_PREFIX")

	c.HTTPClientTimeout = mustDuration("HTTP_CLIENT_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.ARI.URL == "" {
		errs = append(errs, errors.New("ARI_URL is required"))
	}
	if c.ARI.WebsocketURL == "" {
		errs = append(errs, errors.New("ARI_WS_URL is required"))
	}
	if c.ARI.Username == "" {
		errs = append(errs, errors.New("ARI_USERNAME is required"))
	}
	if c.ARI.Application == "" {
		c.ARI.Application = "callcontrol"
	}

	if c.AMID.URL == "" {
		errs = append(errs, errors.New("AMID_URL is required"))
	}
	if c.Phoned.URL == "" {
		errs = append(errs, errors.New("PHONED_URL is required"))
	}

	if c.Calls.DialEchoTimeout <= 0 {
		c.Calls.DialEchoTimeout = 5 * time.Second
	}
	switch c.Calls.StateCache {
	case "":
		c.Calls.StateCache = StateCacheARI
	case StateCacheARI, StateCacheRedis:
	default:
		errs = append(errs, fmt.Errorf("CALLS_STATE_CACHE must be one of ari, redis, got %q", c.Calls.StateCache))
	}
	if c.Calls.RecordingPath != "" && strings.Count(c.Calls.RecordingPath, "%s") != 2 {
		errs = append(errs, fmt.Errorf("CALLS_RECORDING_PATH must contain exactly two %%s verbs, got %q", c.Calls.RecordingPath))
	}

	if c.Bus.EventsChannel == "" {
		c.Bus.EventsChannel = "ami.events"
	}
	if c.Bus.NotifyPrefix == "" {
		c.Bus.NotifyPrefix = "calld."
	}

	if c.HTTPClientTimeout <= 0 {
		c.HTTPClientTimeout = 5 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func mustInt(key string) (int, error) {
	v := env(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// mustDuration returns 0 for unset or unparsable values; Validate applies
// the default.
func mustDuration(key string) time.Duration {
	v := env(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
