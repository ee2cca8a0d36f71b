package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/autoquery/autoquery/internal/config"
	"github.com/autoquery/autoquery/internal/dataset"
	"github.com/autoquery/autoquery/internal/observability"
	"github.com/autoquery/autoquery/internal/query"
	"github.com/autoquery/autoquery/internal/query/duckdb"
	"github.com/autoquery/autoquery/internal/query/postgres"
	"github.com/autoquery/autoquery/internal/query/sqlite"
	"github.com/autoquery/autoquery/internal/storage"
	"github.com/autoquery/autoquery/internal/storage/s3"
)

const (
	csvDatabaseName   = "autoquery_csv.duckdb"
	cacheDatabaseName = "autoquery_cache.duckdb"
	cacheSourcesDir   = "sources"
)

// Open returns the accessor for the configured dataset backend.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (query.Accessor, error) {
	var store storage.ObjectStore
	if cfg.Dataset.Backend == config.BackendS3 {
		s3Store, err := s3.New(ctx, s3.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			return nil, query.Wrap(query.KindUnavailable, "", fmt.Errorf("init object store: %w", err))
		}
		store = s3Store
	}
	return OpenWithStore(ctx, cfg, store, logger)
}

// Dialect names the SQL flavour the model should write for the backend.
func Dialect(backend config.Backend) string {
	switch backend {
	case config.BackendSQLite:
		return "SQLite"
	case config.BackendPostgres:
		return "PostgreSQL"
	default:
		return "DuckDB"
	}
}

func OpenWithStore(ctx context.Context, cfg config.Config, store storage.ObjectStore, logger *slog.Logger) (query.Accessor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := string(cfg.Dataset.Backend)
	accessor, err := openAccessor(ctx, cfg, store, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("dataset backend ready", slog.String("backend", name))
	return &instrumented{Accessor: accessor, backend: name, logger: logger}, nil
}

func openAccessor(ctx context.Context, cfg config.Config, store storage.ObjectStore, logger *slog.Logger) (query.Accessor, error) {
	switch cfg.Dataset.Backend {
	case config.BackendDuckDB:
		return duckdb.Open(ctx, cfg.Dataset.Path)
	case config.BackendSQLite:
		return sqlite.Open(ctx, cfg.Dataset.Path)
	case config.BackendPostgres:
		return postgres.OpenAccessor(ctx, postgres.DBConfig{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
	case config.BackendCSV:
		cacheDir, err := cacheDirFor(cfg)
		if err != nil {
			return nil, err
		}
		return buildAndOpen(ctx, cfg.Dataset.CSVDir, filepath.Join(cacheDir, csvDatabaseName), logger)
	case config.BackendS3:
		if store == nil {
			return nil, query.Errorf(query.KindUnavailable, "", "object store is required for the s3 backend")
		}
		cacheDir, err := cacheDirFor(cfg)
		if err != nil {
			return nil, err
		}
		sourcesDir := filepath.Join(cacheDir, cacheSourcesDir)
		stats, err := dataset.FetchSources(ctx, store, "", sourcesDir)
		if err != nil {
			return nil, query.Wrap(query.KindUnavailable, "", err)
		}
		logger.Info("dataset sources cached",
			slog.String("dir", sourcesDir),
			slog.Int("downloaded", stats.Downloaded),
			slog.Int("reused", stats.Reused),
		)
		return buildAndOpen(ctx, sourcesDir, filepath.Join(cacheDir, cacheDatabaseName), logger)
	default:
		return nil, query.Errorf(query.KindUnavailable, "", "unsupported dataset backend %q", cfg.Dataset.Backend)
	}
}

func buildAndOpen(ctx context.Context, sourceDir, dest string, logger *slog.Logger) (query.Accessor, error) {
	sources, err := dataset.Discover(sourceDir)
	if err != nil {
		return nil, query.Wrap(query.KindUnavailable, "", err)
	}
	if missing := dataset.Automotive().Missing(sources); len(missing) > 0 {
		logger.Warn("dataset tables without source files", slog.String("tables", strings.Join(missing, ",")))
	}
	if err := dataset.BuildDuckDB(ctx, sources, dest); err != nil {
		return nil, query.Wrap(query.KindUnavailable, "", err)
	}
	return duckdb.Open(ctx, dest)
}

func cacheDirFor(cfg config.Config) (string, error) {
	dir := cfg.Dataset.CacheDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), cfg.Service.Name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", query.Wrap(query.KindUnavailable, "", fmt.Errorf("create cache dir: %w", err))
	}
	return dir, nil
}

type instrumented struct {
	query.Accessor
	backend string
	logger  *slog.Logger
}

func (i *instrumented) Query(ctx context.Context, sqlText string) (query.Result, error) {
	start := time.Now()
	result, err := i.Accessor.Query(ctx, sqlText)
	elapsed := time.Since(start)
	observability.ObserveQueryDuration(i.backend, elapsed)
	i.logger.DebugContext(ctx, "dataset query",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("backend", i.backend),
		slog.String("sql", observability.Statement(sqlText)),
		slog.Int("rows", len(result.Rows)),
		slog.String("kind", string(query.KindOf(err))),
		slog.String("duration", elapsed.String()),
	)
	return result, err
}

func (i *instrumented) Backend() string {
	return i.backend
}
