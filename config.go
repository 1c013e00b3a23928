package identity

import (
	"os"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Config carries everything the daemon needs to wire the package. Values come
// from the environment; zero values fall back to the defaults baked into the
// components.
type Config struct {
	HTTPAddr string

	SigningKey string
	RefreshKey string
	Issuer     string

	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	CapabilityTTL time.Duration

	// CodeTTL is the one-time code window shared by all verification flows.
	CodeTTL     time.Duration
	CodeLength  int
	PhoneRegion string

	DatabaseDSN string

	// RedisAddr switches the challenge store from in-process memory to Redis
	// when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	Debug bool
}

// ConfigFromEnv reads the daemon configuration from the process environment.
func ConfigFromEnv() Config {
	return Config{
		HTTPAddr: envString("IDENTITY_HTTP_ADDR", ":8080"),

		SigningKey: os.Getenv("IDENTITY_SIGNING_KEY"),
		RefreshKey: os.Getenv("IDENTITY_REFRESH_KEY"),
		Issuer:     envString("IDENTITY_ISSUER", "identity"),

		AccessTTL:     envDuration("IDENTITY_ACCESS_TTL", 0),
		RefreshTTL:    envDuration("IDENTITY_REFRESH_TTL", 0),
		CapabilityTTL: envDuration("IDENTITY_CAPABILITY_TTL", 0),

		CodeTTL:     envDuration("IDENTITY_CODE_TTL", DefaultCodeTTL),
		CodeLength:  envInt("IDENTITY_CODE_LENGTH", DefaultCodeLength),
		PhoneRegion: envString("IDENTITY_PHONE_REGION", DefaultPhoneRegion),

		DatabaseDSN: envString("IDENTITY_DATABASE_DSN", "file:identity.db?cache=shared&mode=rwc"),

		RedisAddr:     os.Getenv("IDENTITY_REDIS_ADDR"),
		RedisPassword: os.Getenv("IDENTITY_REDIS_PASSWORD"),
		RedisDB:       envInt("IDENTITY_REDIS_DB", 0),

		SMTPHost:     os.Getenv("IDENTITY_SMTP_HOST"),
		SMTPPort:     envInt("IDENTITY_SMTP_PORT", 587),
		SMTPUsername: os.Getenv("IDENTITY_SMTP_USERNAME"),
		SMTPPassword: os.Getenv("IDENTITY_SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("IDENTITY_SMTP_FROM"),

		Debug: envBool("IDENTITY_DEBUG", false),
	}
}

// Validate rejects a configuration the daemon cannot start with.
func (c Config) Validate() error {
	if c.SigningKey == "" {
		return goerrors.New("IDENTITY_SIGNING_KEY is required", goerrors.CategoryBadInput)
	}
	if c.CodeLength < 4 || c.CodeLength > 10 {
		return goerrors.New("IDENTITY_CODE_LENGTH must be between 4 and 10", goerrors.CategoryBadInput)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
