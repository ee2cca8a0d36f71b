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

type Backend string

const (
	BackendDuckDB   Backend = "duckdb"
	BackendSQLite   Backend = "sqlite"
	BackendCSV      Backend = "csv"
	BackendS3       Backend = "s3"
	BackendPostgres Backend = "postgres"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Dataset       DatasetConfig
	Postgres      PostgresConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	Tool          ToolConfig
	Chat          ChatConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatasetConfig struct {
	Backend Backend
	// Path is the bundled database file for the duckdb and sqlite backends.
	Path        string
	CSVDir      string
	CacheDir    string
	MakerFilter string
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type AIConfig struct {
	Provider      string
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	MaxIterations int
}

type ToolConfig struct {
	ResultCap   int
	SampleLimit int
}

type ChatConfig struct {
	MaxTurns    int
	MaxSessions int
	HistoryFile string
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
	if raw, ok := lookup("AUTOQUERY_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid AUTOQUERY_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var backend string
	steps := []func() error{
		func() error { return applyString(lookup, "AUTOQUERY_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "AUTOQUERY_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "AUTOQUERY_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "AUTOQUERY_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "AUTOQUERY_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "AUTOQUERY_DATASET_BACKEND", &backend) },
		func() error { return applyString(lookup, "AUTOQUERY_DATASET_PATH", &cfg.Dataset.Path) },
		func() error { return applyString(lookup, "AUTOQUERY_DATASET_CSV_DIR", &cfg.Dataset.CSVDir) },
		func() error { return applyString(lookup, "AUTOQUERY_DATASET_CACHE_DIR", &cfg.Dataset.CacheDir) },
		func() error { return applyString(lookup, "AUTOQUERY_DATASET_MAKER_FILTER", &cfg.Dataset.MakerFilter) },
		func() error { return applyString(lookup, "AUTOQUERY_POSTGRES_DSN", &cfg.Postgres.DSN) },
		func() error { return applyInt(lookup, "AUTOQUERY_POSTGRES_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns) },
		func() error { return applyInt(lookup, "AUTOQUERY_POSTGRES_MAX_IDLE_CONNS", &cfg.Postgres.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "AUTOQUERY_POSTGRES_CONN_MAX_IDLE_TIME", &cfg.Postgres.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "AUTOQUERY_POSTGRES_CONN_MAX_LIFETIME", &cfg.Postgres.ConnMaxLifetime)
		},
		func() error { return applyString(lookup, "AUTOQUERY_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "AUTOQUERY_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "AUTOQUERY_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "AUTOQUERY_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "AUTOQUERY_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "AUTOQUERY_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "AUTOQUERY_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error { return applyString(lookup, "AUTOQUERY_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "AUTOQUERY_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "AUTOQUERY_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "AUTOQUERY_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "AUTOQUERY_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyInt(lookup, "AUTOQUERY_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error { return applyDuration(lookup, "AUTOQUERY_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "AUTOQUERY_AI_MAX_ITERATIONS", &cfg.AI.MaxIterations) },
		func() error { return applyInt(lookup, "AUTOQUERY_TOOL_RESULT_CAP", &cfg.Tool.ResultCap) },
		func() error { return applyInt(lookup, "AUTOQUERY_TOOL_SAMPLE_LIMIT", &cfg.Tool.SampleLimit) },
		func() error { return applyInt(lookup, "AUTOQUERY_CHAT_MAX_TURNS", &cfg.Chat.MaxTurns) },
		func() error { return applyInt(lookup, "AUTOQUERY_CHAT_MAX_SESSIONS", &cfg.Chat.MaxSessions) },
		func() error { return applyString(lookup, "AUTOQUERY_CHAT_HISTORY_FILE", &cfg.Chat.HistoryFile) },
		func() error { return applyBool(lookup, "AUTOQUERY_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "AUTOQUERY_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "AUTOQUERY_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "AUTOQUERY_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	if backend != "" {
		cfg.Dataset.Backend = Backend(strings.ToLower(backend))
	}
	if !isValidBackend(cfg.Dataset.Backend) {
		return Config{}, fmt.Errorf("invalid AUTOQUERY_DATASET_BACKEND: %q", cfg.Dataset.Backend)
	}
	switch strings.ToLower(cfg.Dataset.MakerFilter) {
	case "direct", "cross_reference":
		cfg.Dataset.MakerFilter = strings.ToLower(cfg.Dataset.MakerFilter)
	default:
		return Config{}, fmt.Errorf("invalid AUTOQUERY_DATASET_MAKER_FILTER: %q", cfg.Dataset.MakerFilter)
	}
	switch strings.ToLower(cfg.AI.Provider) {
	case "openai":
		cfg.AI.Provider = "openai"
		if cfg.AI.BaseURL == "" {
			cfg.AI.BaseURL = "https://api.openai.com"
		}
		if cfg.AI.Model == "" {
			cfg.AI.Model = "gpt-5"
		}
	case "anthropic":
		// An empty base URL and model fall back to the SDK defaults.
		cfg.AI.Provider = "anthropic"
	default:
		return Config{}, fmt.Errorf("invalid AUTOQUERY_AI_PROVIDER: %q", cfg.AI.Provider)
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Tool.ResultCap <= 0 {
		return Config{}, fmt.Errorf("AUTOQUERY_TOOL_RESULT_CAP must be > 0")
	}
	if cfg.Tool.SampleLimit <= 0 {
		return Config{}, fmt.Errorf("AUTOQUERY_TOOL_SAMPLE_LIMIT must be > 0")
	}
	if cfg.AI.MaxIterations <= 0 {
		return Config{}, fmt.Errorf("AUTOQUERY_AI_MAX_ITERATIONS must be > 0")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "autoquery-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Dataset: DatasetConfig{
			Backend:     BackendDuckDB,
			Path:        "autoquery_data.duckdb",
			CSVDir:      "tables",
			CacheDir:    "",
			MakerFilter: "direct",
		},
		Postgres: PostgresConfig{
			DSN:             "",
			MaxOpenConns:    5,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "autoquery",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
			Prefix:          "tables",
		},
		AI: AIConfig{
			Provider:      "openai",
			BaseURL:       "",
			Model:         "",
			Temperature:   0,
			MaxTokens:     1024,
			Timeout:       30 * time.Second,
			MaxIterations: 6,
		},
		Tool: ToolConfig{
			ResultCap:   5000,
			SampleLimit: 10,
		},
		Chat: ChatConfig{
			MaxTurns:    10,
			MaxSessions: 1000,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
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

func isValidBackend(backend Backend) bool {
	switch backend {
	case BackendDuckDB, BackendSQLite, BackendCSV, BackendS3, BackendPostgres:
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
