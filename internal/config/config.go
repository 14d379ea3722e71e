package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Session       SessionConfig
	Query         QueryConfig
	AI            AIConfig
	History       HistoryConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
}

type SessionConfig struct {
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	HistoryLimit    int
}

type QueryConfig struct {
	RowLimit int
	Timeout  time.Duration
	TempDir  string
}

type AIConfig struct {
	BaseURL            string
	APIKey             string
	Model              string
	Temperature        float64
	TopP               float64
	MaxTokens          int
	Timeout            time.Duration
	Dialect            string
	PromptTemplateFile string
}

// HistoryConfig points at the optional Postgres audit log of generated
// queries. An empty DSN disables it.
type HistoryConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func (h HistoryConfig) Enabled() bool {
	return h.DSN != ""
}

type ObjectStoreConfig struct {
	PublishEnabled   bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
	URLExpiry        time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYDECK_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYDECK_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []error{
		applyString(lookup, "QUERYDECK_SERVICE_NAME", &cfg.Service.Name),

		applyString(lookup, "QUERYDECK_HTTP_ADDR", &cfg.HTTP.Address),
		applyDuration(lookup, "QUERYDECK_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout),
		applyDuration(lookup, "QUERYDECK_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout),
		applyDuration(lookup, "QUERYDECK_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout),
		applyInt64(lookup, "QUERYDECK_HTTP_MAX_UPLOAD_BYTES", &cfg.HTTP.MaxUploadBytes),

		applyDuration(lookup, "QUERYDECK_SESSION_IDLE_TTL", &cfg.Session.IdleTTL),
		applyDuration(lookup, "QUERYDECK_SESSION_CLEANUP_INTERVAL", &cfg.Session.CleanupInterval),
		applyInt(lookup, "QUERYDECK_SESSION_HISTORY_LIMIT", &cfg.Session.HistoryLimit),

		applyInt(lookup, "QUERYDECK_QUERY_ROW_LIMIT", &cfg.Query.RowLimit),
		applyDuration(lookup, "QUERYDECK_QUERY_TIMEOUT", &cfg.Query.Timeout),
		applyString(lookup, "QUERYDECK_QUERY_TEMP_DIR", &cfg.Query.TempDir),

		applyString(lookup, "QUERYDECK_AI_BASE_URL", &cfg.AI.BaseURL),
		applyString(lookup, "QUERYDECK_AI_API_KEY", &cfg.AI.APIKey),
		applyString(lookup, "QUERYDECK_AI_MODEL", &cfg.AI.Model),
		applyFloat(lookup, "QUERYDECK_AI_TEMPERATURE", &cfg.AI.Temperature),
		applyFloat(lookup, "QUERYDECK_AI_TOP_P", &cfg.AI.TopP),
		applyInt(lookup, "QUERYDECK_AI_MAX_TOKENS", &cfg.AI.MaxTokens),
		applyDuration(lookup, "QUERYDECK_AI_TIMEOUT", &cfg.AI.Timeout),
		applyString(lookup, "QUERYDECK_AI_DIALECT", &cfg.AI.Dialect),
		applyString(lookup, "QUERYDECK_AI_PROMPT_TEMPLATE_FILE", &cfg.AI.PromptTemplateFile),

		applyString(lookup, "QUERYDECK_HISTORY_DSN", &cfg.History.DSN),
		applyInt(lookup, "QUERYDECK_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns),
		applyInt(lookup, "QUERYDECK_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns),
		applyDuration(lookup, "QUERYDECK_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime),
		applyDuration(lookup, "QUERYDECK_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime),

		applyBool(lookup, "QUERYDECK_EXPORT_PUBLISH_ENABLED", &cfg.ObjectStore.PublishEnabled),
		applyString(lookup, "QUERYDECK_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint),
		applyString(lookup, "QUERYDECK_OBJECTSTORE_REGION", &cfg.ObjectStore.Region),
		applyString(lookup, "QUERYDECK_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket),
		applyString(lookup, "QUERYDECK_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID),
		applyString(lookup, "QUERYDECK_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey),
		applyBool(lookup, "QUERYDECK_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL),
		applyString(lookup, "QUERYDECK_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix),
		applyBool(lookup, "QUERYDECK_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket),
		applyDuration(lookup, "QUERYDECK_OBJECTSTORE_URL_EXPIRY", &cfg.ObjectStore.URLExpiry),

		applyBool(lookup, "QUERYDECK_LOG_JSON", &cfg.Observability.LogJSON),
		applyLogLevel(lookup, "QUERYDECK_LOG_LEVEL", &cfg.Observability.LogLevel),

		applyBool(lookup, "QUERYDECK_AUTH_REQUIRED", &cfg.Auth.Required),
		applyString(lookup, "QUERYDECK_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys),
	}
	for _, err := range steps {
		if err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("invalid QUERYDECK_HTTP_MAX_UPLOAD_BYTES: must be positive")
	}
	if cfg.Query.RowLimit < 0 {
		return Config{}, fmt.Errorf("invalid QUERYDECK_QUERY_ROW_LIMIT: must not be negative")
	}
	if cfg.AI.TopP < 0 || cfg.AI.TopP > 1 {
		return Config{}, fmt.Errorf("invalid QUERYDECK_AI_TOP_P: %v is outside [0, 1]", cfg.AI.TopP)
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return Config{}, fmt.Errorf("invalid QUERYDECK_AI_TEMPERATURE: %v is outside [0, 2]", cfg.AI.Temperature)
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querydeck-api"},
		HTTP: HTTPConfig{
			Address:        ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   120 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxUploadBytes: 200 << 20,
		},
		Session: SessionConfig{
			IdleTTL:         2 * time.Hour,
			CleanupInterval: 10 * time.Minute,
			HistoryLimit:    50,
		},
		Query: QueryConfig{
			RowLimit: 100000,
			Timeout:  60 * time.Second,
		},
		AI: AIConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			TopP:        1,
			MaxTokens:   1024,
			Timeout:     30 * time.Second,
			Dialect:     "DuckDB",
		},
		History: HistoryConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			PublishEnabled:   false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querydeck",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			AutoCreateBucket: true,
			URLExpiry:        15 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required: false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Session.IdleTTL = 5 * time.Minute
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
