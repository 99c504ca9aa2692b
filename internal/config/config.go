package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env  string `env:"APP_ENV" env-default:"dev"`
	Port int    `env:"PORT" env-default:"8080"`

	DB    DBConfig
	DBURL string `env:"DATABASE_URL"`

	StoreBackend string `env:"STORE_BACKEND" env-default:"postgres"`
	Redis        RedisConfig

	JWTSecret       string        `env:"JWT_SECRET"`
	SessionTTL      time.Duration `env:"SESSION_TTL" env-default:"168h"`
	VerificationTTL time.Duration `env:"VERIFICATION_TTL" env-default:"24h"`

	FrontendURL string   `env:"FRONTEND_URL" env-default:"http://localhost:5500"`
	CORSOrigins []string `env:"CORS_ORIGINS" env-separator:","`

	Mail MailConfig

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	AdminName     string `env:"ADMIN_NAME" env-default:"Administrator"`

	OTELEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELServiceName string  `env:"OTEL_SERVICE_NAME" env-default:"accounthub-api"`
	OTELSampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" env-default:"1"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST" env-default:"127.0.0.1"`
	Port     string `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER" env-default:"accounthub"`
	Password string `env:"DB_PASSWORD" env-default:"accounthub"`
	Name     string `env:"DB_NAME" env-default:"accounthub"`
	SSLMode  string `env:"DB_SSLMODE" env-default:"disable"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"127.0.0.1:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type MailConfig struct {
	Provider string `env:"MAIL_PROVIDER" env-default:"log"`
	From     string `env:"EMAIL_FROM" env-default:"noreply@moviereview.com"`

	MailgunDomain  string `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey  string `env:"MAILGUN_SMTP_API_KEY"`
	MailgunAPIBase string `env:"MAILGUN_API_BASE" env-default:"https://api.mailgun.net/v3"`

	SMTPHost     string `env:"SMTP_HOST" env-default:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" env-default:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPTLS      bool   `env:"SMTP_TLS" env-default:"true"`

	Timeout time.Duration `env:"NOTIFIER_TIMEOUT" env-default:"5s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// a missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}

	if cfg.DBURL == "" {
		cfg.DBURL = cfg.DB.URL()
	}

	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")

	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{cfg.FrontendURL}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.Mail.Provider {
	case "mailgun":
		if c.Mail.MailgunDomain == "" || c.Mail.MailgunAPIKey == "" {
			return errors.New("MAILGUN_DOMAIN and MAILGUN_SMTP_API_KEY are required for the mailgun provider")
		}
	case "smtp":
	case "log":
		// log is a local-only gateway
		if !c.IsLocal() {
			return errors.New("MAIL_PROVIDER=log is only allowed in dev and test")
		}
	default:
		return fmt.Errorf("unknown MAIL_PROVIDER %q", c.Mail.Provider)
	}

	if c.JWTSecret == "" && !c.IsLocal() {
		return errors.New("JWT_SECRET is required outside dev and test")
	}

	return nil
}

func (c Config) IsLocal() bool {
	return c.Env == "dev" || c.Env == "test"
}

func (d DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// WithTimeout bounds a store or gateway call under parent.
func WithTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, duration)
}
