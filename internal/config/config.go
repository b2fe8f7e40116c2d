package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported DB_DRIVER values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type AppConfig struct {
	HTTPPort      string
	Env           string
	DatabaseDSN   string
	DBDriver      string
	SwaggerEnable bool
	DocsPath      string
	MasterToken   string
	PublicBaseURL string
	EventLogDir   string
	MaxBodyBytes  int64
	LogLevel      string
	LogFormat     string
	Postgres      PostgresConfig
	Storage       StorageConfig
	Webhook       WebhookConfig
	Platform      PlatformConfig
	Rules         RulesConfig
	MemberEvents  MemberEventsConfig
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string
	Prefix    string
}

func (s StorageConfig) Enabled() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != "" && s.Bucket != ""
}

type WebhookConfig struct {
	Secret            string
	SignatureRequired bool
	Tolerance         time.Duration
}

// PlatformConfig points at the membership platform's REST API used for enrichment.
type PlatformConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func (p PlatformConfig) Enabled() bool {
	return p.BaseURL != ""
}

// MemberEventsConfig configures the downstream webhook fed with member changes.
type MemberEventsConfig struct {
	URL     string
	Token   string
	Secret  string
	Timeout time.Duration
}

type RulesConfig struct {
	File  string
	Watch bool
}

func Load() *AppConfig {
	pg := PostgresConfig{
		Host:     getEnv("POSTGRES_HOST", ""),
		Port:     getEnv("POSTGRES_PORT", ""),
		User:     getEnv("POSTGRES_USER", ""),
		Password: getEnv("POSTGRES_PASSWORD", ""),
		DBName:   getEnv("POSTGRES_DB", ""),
		SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
	}

	storage := StorageConfig{
		Endpoint:  getEnv("STORAGE_ENDPOINT", ""),
		AccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
		SecretKey: getEnv("STORAGE_SECRET_KEY", ""),
		Bucket:    getEnv("STORAGE_BUCKET", ""),
		Region:    getEnv("STORAGE_REGION", ""),
		UseSSL:    getEnv("STORAGE_USE_SSL", "false") == "true",
		PublicURL: getEnv("STORAGE_PUBLIC_URL", ""),
		Prefix:    getEnv("STORAGE_PREFIX", ""),
	}

	// Backward compatibility: allow MINIO_* env vars when STORAGE_* not provided.
	if storage.Endpoint == "" {
		storage.Endpoint = getEnv("MINIO_ENDPOINT", "")
	}
	if storage.AccessKey == "" {
		storage.AccessKey = getEnv("MINIO_ACCESS_KEY", "")
	}
	if storage.SecretKey == "" {
		storage.SecretKey = getEnv("MINIO_SECRET_KEY", "")
	}
	if storage.Bucket == "" {
		storage.Bucket = getEnv("MINIO_BUCKET", "")
	}
	if storage.Region == "" {
		storage.Region = getEnv("MINIO_REGION", "")
	}
	if !storage.UseSSL {
		storage.UseSSL = getEnv("MINIO_USE_SSL", "false") == "true"
	}
	if storage.PublicURL == "" {
		storage.PublicURL = getEnv("MINIO_PUBLIC_URL", "")
	}
	if storage.Prefix == "" {
		storage.Prefix = getEnv("MINIO_PREFIX", "")
	}

	dsn := getEnv("DATABASE_DSN", "")
	driver := strings.ToLower(getEnv("DB_DRIVER", ""))

	if driver == "" {
		lower := strings.ToLower(dsn)
		switch {
		case strings.HasPrefix(lower, "postgres"):
			driver = DriverPostgres
		case pg.Host != "":
			driver = DriverPostgres
		default:
			driver = DriverSQLite
		}
	}

	switch driver {
	case DriverPostgres:
		if dsn == "" {
			dsn = buildPostgresDSN(pg)
		}
	case DriverSQLite:
		if dsn == "" {
			dsn = getEnv("SQLITE_PATH", "membersync.db")
		}
	}

	return &AppConfig{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		Env:           getEnv("APP_ENV", "development"),
		DatabaseDSN:   dsn,
		DBDriver:      driver,
		SwaggerEnable: getEnv("SWAGGER_ENABLE", "true") == "true",
		DocsPath:      getEnv("DOCS_PATH", "docs/openapi.yaml"),
		MasterToken:   getEnv("API_MASTER_TOKEN", ""),
		PublicBaseURL: strings.TrimSpace(getEnv("PUBLIC_BASE_URL", "")),
		EventLogDir:   strings.TrimSpace(getEnv("EVENT_LOG_DIR", "")),
		MaxBodyBytes:  getInt64("WEBHOOK_MAX_BODY_BYTES", 1<<20),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		Postgres:      pg,
		Storage:       storage,
		Webhook: WebhookConfig{
			Secret:            strings.TrimSpace(getEnv("WEBHOOK_SECRET", "")),
			SignatureRequired: getEnv("WEBHOOK_SIGNATURE_REQUIRED", "false") == "true",
			Tolerance:         getDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		Platform: PlatformConfig{
			BaseURL: strings.TrimRight(strings.TrimSpace(getEnv("PLATFORM_API_URL", "")), "/"),
			APIKey:  getEnv("PLATFORM_API_KEY", ""),
			Timeout: getDuration("PLATFORM_API_TIMEOUT", 3*time.Second),
		},
		Rules: RulesConfig{
			File:  strings.TrimSpace(getEnv("RULES_FILE", "")),
			Watch: getEnv("RULES_WATCH", "true") == "true",
		},
		MemberEvents: MemberEventsConfig{
			URL:     strings.TrimSpace(getEnv("MEMBER_EVENTS_WEBHOOK_URL", "")),
			Token:   getEnv("MEMBER_EVENTS_TOKEN", ""),
			Secret:  getEnv("MEMBER_EVENTS_SECRET", ""),
			Timeout: getDuration("MEMBER_EVENTS_TIMEOUT", 3*time.Second),
		},
	}
}

// Validate reports the first configuration problem that would stop the server.
func (c *AppConfig) Validate() error {
	if c.HTTPPort == "" {
		return errors.New("HTTP_PORT required")
	}
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN required for %s driver", c.DBDriver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.Webhook.SignatureRequired && c.Webhook.Secret == "" {
		return errors.New("WEBHOOK_SECRET required when WEBHOOK_SIGNATURE_REQUIRED=true")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("WEBHOOK_MAX_BODY_BYTES must be positive")
	}
	return nil
}

func buildPostgresDSN(pg PostgresConfig) string {
	host := pg.Host
	if host == "" {
		host = "localhost"
	}
	port := pg.Port
	if port == "" {
		port = "5432"
	}
	ssl := pg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}

	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%s", host, port)}
	if pg.User != "" {
		if pg.Password != "" {
			u.User = url.UserPassword(pg.User, pg.Password)
		} else {
			u.User = url.User(pg.User)
		}
	}
	if pg.DBName != "" {
		u.Path = pg.DBName
	}
	q := u.Query()
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	// bare numbers are seconds
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("warning: ignoring invalid %s=%q", key, raw)
	return def
}

func getInt64(key string, def int64) int64 {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("warning: ignoring invalid %s=%q", key, raw)
		return def
	}
	return n
}

func MustLoad() *AppConfig {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	return cfg
}
