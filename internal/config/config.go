package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment key, e.g. MEMBERSHIP_ADDR.
const Prefix = "MEMBERSHIP"

// Config is the full runtime configuration, grouped by concern.
type Config struct {
	ServerConfig
	DBConfig
	SecurityConfig
	SiteConfig
	EmailConfig
}

type ServerConfig struct {
	Env            string   `envconfig:"ENV" default:"development"`
	Addr           string   `envconfig:"ADDR" default:":8080"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	SlowRequestMs  int      `envconfig:"SLOW_REQUEST_MS" default:"500"`
	RateLimit      int      `envconfig:"RATE_LIMIT" default:"10"`
	TrustedOrigins []string `envconfig:"TRUSTED_ORIGINS"`
}

type DBConfig struct {
	Driver      string `envconfig:"DB_DRIVER" default:"sqlite"`
	DSN         string `envconfig:"DB_DSN" default:"membership.db" masked:"true"`
	SlowQueryMs int    `envconfig:"SLOW_QUERY_MS" default:"50"`
}

type SecurityConfig struct {
	CSRFKey           string        `envconfig:"CSRF_KEY" masked:"true"`
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" default:"2h"`
	IdentityHeader    string        `envconfig:"IDENTITY_HEADER" default:"X-Forwarded-Email"`
	AdminUser         string        `envconfig:"ADMIN_USER" default:"admin"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH" masked:"true"`
}

type SiteConfig struct {
	ContactURL    string `envconfig:"CONTACT_URL" default:"https://wa.me/923000000000"`
	EnrollURL     string `envconfig:"ENROLL_URL" default:"/membership/form"`
	IntroMarkdown string `envconfig:"INTRO_MARKDOWN"`
}

type EmailConfig struct {
	ResendKey string `envconfig:"RESEND_KEY" masked:"true"`
	From      string `envconfig:"EMAIL_FROM" default:"Membership <noreply@example.com>"`
	ReplyTo   string `envconfig:"REPLY_TO"`
}

// Load reads an optional .env file and then the process environment.
// A missing env file is not an error; explicit environment variables win over the file.
// POST: returned Config passed Validate
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		slog.Debug("env_file_skipped", "path", envFile, "error", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production safeguards.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks cross-field constraints envconfig cannot express.
func (c Config) Validate() error {
	var errs []error
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("%s_DB_DRIVER must be sqlite or postgres, got %q", Prefix, c.Driver))
	}
	if c.DSN == "" {
		errs = append(errs, fmt.Errorf("%s_DB_DSN is required", Prefix))
	}
	if c.CSRFKey != "" {
		if key, err := hex.DecodeString(c.CSRFKey); err != nil || len(key) != 32 {
			errs = append(errs, fmt.Errorf("%s_CSRF_KEY must be 64 hex characters (32 bytes)", Prefix))
		}
	} else if c.IsProduction() {
		errs = append(errs, fmt.Errorf("%s_CSRF_KEY is required in production", Prefix))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("%s_TOKEN_TTL must be positive", Prefix))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("%s_RATE_LIMIT must be positive", Prefix))
	}
	return errors.Join(errs...)
}

// SecretKey returns the 32-byte key used for CSRF cookies and action tokens.
// Outside production an unset key is replaced by a random one, so tokens do not survive restarts.
func (c Config) SecretKey() ([]byte, error) {
	if c.CSRFKey != "" {
		key, err := hex.DecodeString(c.CSRFKey)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("%s_CSRF_KEY must be 64 hex characters (32 bytes)", Prefix)
		}
		return key, nil
	}
	if c.IsProduction() {
		return nil, fmt.Errorf("%s_CSRF_KEY is required in production", Prefix)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	slog.Warn("random_secret_key", "hint", "set "+Prefix+"_CSRF_KEY to keep tokens valid across restarts")
	return key, nil
}

// SlowQuery is the slow-query logging threshold.
func (c Config) SlowQuery() time.Duration {
	return time.Duration(c.SlowQueryMs) * time.Millisecond
}

// SlowRequest is the slow-request logging threshold.
func (c Config) SlowRequest() time.Duration {
	return time.Duration(c.SlowRequestMs) * time.Millisecond
}

// Level maps LogLevel onto a slog level, defaulting to info.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Log writes each config group as one structured line. Fields tagged masked:"true" are obscured.
func Log(logger *slog.Logger, cfg Config) {
	v := reflect.ValueOf(cfg)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		logger.Info("config", slog.Any(t.Field(i).Name, maskFields(v.Field(i))))
	}
}

// maskFields flattens a struct into a map, masking tagged string fields.
func maskFields(v reflect.Value) map[string]any {
	t := v.Type()
	out := make(map[string]any, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		ft := t.Field(i)
		switch {
		case f.Kind() == reflect.Struct && ft.Type != reflect.TypeOf(time.Time{}):
			out[ft.Name] = maskFields(f)
		case f.Kind() == reflect.String && ft.Tag.Get("masked") == "true":
			out[ft.Name] = mask(f.String())
		default:
			out[ft.Name] = f.Interface()
		}
	}
	return out
}

// mask hides s entirely. Empty stays empty so unset secrets are visible.
func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
