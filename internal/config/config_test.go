package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("autoquery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Dataset.Backend != BackendDuckDB {
		t.Fatalf("Dataset.Backend = %q", cfg.Dataset.Backend)
	}
	if cfg.Dataset.MakerFilter != "direct" {
		t.Fatalf("Dataset.MakerFilter = %q", cfg.Dataset.MakerFilter)
	}
	if cfg.Tool.ResultCap != 5000 {
		t.Fatalf("Tool.ResultCap = %d", cfg.Tool.ResultCap)
	}
	if cfg.Tool.SampleLimit != 10 {
		t.Fatalf("Tool.SampleLimit = %d", cfg.Tool.SampleLimit)
	}
	if cfg.Chat.MaxTurns != 10 {
		t.Fatalf("Chat.MaxTurns = %d", cfg.Chat.MaxTurns)
	}
	if cfg.AI.Provider != "openai" || cfg.AI.Model != "gpt-5" || cfg.AI.BaseURL != "https://api.openai.com" {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.AI.MaxIterations != 6 {
		t.Fatalf("AI.MaxIterations = %d", cfg.AI.MaxIterations)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"AUTOQUERY_PROFILE": "prod"})
	cfg, err := Load("autoquery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"AUTOQUERY_PROFILE":                    "test",
		"AUTOQUERY_HTTP_ADDR":                  ":9999",
		"AUTOQUERY_HTTP_READ_TIMEOUT":          "2s",
		"AUTOQUERY_LOG_LEVEL":                  "error",
		"AUTOQUERY_AUTH_REQUIRED":              "true",
		"AUTOQUERY_AUTH_STATIC_KEYS":           "k1:ops:chat",
		"AUTOQUERY_DATASET_BACKEND":            "Postgres",
		"AUTOQUERY_DATASET_MAKER_FILTER":       "cross_reference",
		"AUTOQUERY_POSTGRES_DSN":               "postgres://example",
		"AUTOQUERY_POSTGRES_MAX_OPEN_CONNS":    "42",
		"AUTOQUERY_OBJECTSTORE_BUCKET":         "cars",
		"AUTOQUERY_OBJECTSTORE_PREFIX":         "tables_v2",
		"AUTOQUERY_AI_PROVIDER":                "anthropic",
		"AUTOQUERY_AI_MODEL":                   "claude-sonnet-4-5",
		"AUTOQUERY_AI_TEMPERATURE":             "0.3",
		"AUTOQUERY_AI_TIMEOUT":                 "21s",
		"AUTOQUERY_AI_MAX_ITERATIONS":          "4",
		"AUTOQUERY_TOOL_RESULT_CAP":            "2000",
		"AUTOQUERY_TOOL_SAMPLE_LIMIT":          "5",
		"AUTOQUERY_CHAT_MAX_TURNS":             "3",
		"AUTOQUERY_CHAT_MAX_SESSIONS":          "50",
		"AUTOQUERY_CHAT_HISTORY_FILE":          "/tmp/history.json",
		"AUTOQUERY_SERVICE_NAME":               "autoquery-custom",
		"AUTOQUERY_DATASET_PATH":               "/data/cars.duckdb",
		"AUTOQUERY_OBJECTSTORE_USE_SSL":        "true",
		"AUTOQUERY_POSTGRES_CONN_MAX_LIFETIME": "1h",
	})
	cfg, err := Load("autoquery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "autoquery-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:ops:chat" {
		t.Fatalf("Auth = %#v", cfg.Auth)
	}
	if cfg.Dataset.Backend != BackendPostgres {
		t.Fatalf("Dataset.Backend = %q", cfg.Dataset.Backend)
	}
	if cfg.Dataset.MakerFilter != "cross_reference" {
		t.Fatalf("Dataset.MakerFilter = %q", cfg.Dataset.MakerFilter)
	}
	if cfg.Dataset.Path != "/data/cars.duckdb" {
		t.Fatalf("Dataset.Path = %q", cfg.Dataset.Path)
	}
	if cfg.Postgres.DSN != "postgres://example" || cfg.Postgres.MaxOpenConns != 42 {
		t.Fatalf("Postgres = %#v", cfg.Postgres)
	}
	if cfg.Postgres.ConnMaxLifetime != time.Hour {
		t.Fatalf("Postgres.ConnMaxLifetime = %s", cfg.Postgres.ConnMaxLifetime)
	}
	if cfg.ObjectStore.Bucket != "cars" || cfg.ObjectStore.Prefix != "tables_v2" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if cfg.AI.Provider != "anthropic" || cfg.AI.Model != "claude-sonnet-4-5" || cfg.AI.BaseURL != "" {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxIterations != 4 {
		t.Fatalf("AI.MaxIterations = %d", cfg.AI.MaxIterations)
	}
	if cfg.Tool.ResultCap != 2000 || cfg.Tool.SampleLimit != 5 {
		t.Fatalf("Tool = %#v", cfg.Tool)
	}
	if cfg.Chat.MaxTurns != 3 || cfg.Chat.MaxSessions != 50 || cfg.Chat.HistoryFile != "/tmp/history.json" {
		t.Fatalf("Chat = %#v", cfg.Chat)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"AUTOQUERY_PROFILE": "oops"},
		{"AUTOQUERY_HTTP_READ_TIMEOUT": "NaN"},
		{"AUTOQUERY_POSTGRES_MAX_OPEN_CONNS": "oops"},
		{"AUTOQUERY_DATASET_BACKEND": "bigquery"},
		{"AUTOQUERY_DATASET_MAKER_FILTER": "sometimes"},
		{"AUTOQUERY_AI_PROVIDER": "vertex"},
		{"AUTOQUERY_AI_TEMPERATURE": "bad"},
		{"AUTOQUERY_TOOL_RESULT_CAP": "0"},
		{"AUTOQUERY_TOOL_SAMPLE_LIMIT": "-1"},
		{"AUTOQUERY_AI_MAX_ITERATIONS": "0"},
		{"AUTOQUERY_AUTH_REQUIRED": "not-bool"},
		{"AUTOQUERY_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("autoquery-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
