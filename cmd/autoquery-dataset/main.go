package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/autoquery/autoquery/internal/config"
	"github.com/autoquery/autoquery/internal/dataset"
	s3store "github.com/autoquery/autoquery/internal/storage/s3"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	cfg, err := config.LoadFromEnv("autoquery-dataset")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "build":
		err = runBuild(ctx, cfg, args)
	case "inspect":
		err = runInspect(cfg, args)
	case "publish":
		err = runPublish(ctx, cfg, args)
	case "fetch":
		err = runFetch(ctx, cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: autoquery-dataset <build|inspect|publish|fetch> [flags]")
}

func runBuild(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	src := fs.String("src", cfg.Dataset.CSVDir, "directory with CSV or Parquet source files")
	out := fs.String("out", cfg.Dataset.Path, "database file to write")
	backend := fs.String("backend", string(cfg.Dataset.Backend), "database flavour: duckdb or sqlite")
	_ = fs.Parse(args)

	sources, err := dataset.Discover(*src)
	if err != nil {
		return err
	}
	if missing := dataset.Automotive().Missing(sources); len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "warning: no source files for %s\n", strings.Join(missing, ", "))
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}

	start := time.Now()
	switch config.Backend(strings.ToLower(*backend)) {
	case config.BackendSQLite:
		err = dataset.BuildSQLite(ctx, sources, *out)
	case config.BackendDuckDB, config.BackendCSV, config.BackendS3:
		err = dataset.BuildDuckDB(ctx, sources, *out)
	default:
		return fmt.Errorf("unsupported backend %q", *backend)
	}
	if err != nil {
		return err
	}
	fmt.Printf("built %s from %d source(s) in %s\n", *out, len(sources), time.Since(start).Round(time.Millisecond))
	return nil
}

func runInspect(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	src := fs.String("src", cfg.Dataset.CSVDir, "directory with CSV or Parquet source files")
	_ = fs.Parse(args)

	sources, err := dataset.Discover(*src)
	if err != nil {
		return err
	}
	infos, err := dataset.Automotive().Inspect(sources)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "File", "Format", "Rows", "Columns", "Unknown", "Absent"})
	for _, info := range infos {
		t.AppendRow(table.Row{
			info.Source.Table,
			filepath.Base(info.Source.Path),
			info.Source.Format,
			info.Rows,
			len(info.Columns),
			strings.Join(info.Unknown, " "),
			strings.Join(info.Absent, " "),
		})
	}
	t.Render()
	return nil
}

func runPublish(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	src := fs.String("src", cfg.Dataset.CSVDir, "directory with CSV or Parquet source files")
	release := fs.String("release", "", "release folder under the configured prefix")
	_ = fs.Parse(args)

	sources, err := dataset.Discover(*src)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	published, err := dataset.Publish(ctx, store, *release, sources)
	if err != nil {
		return err
	}
	for _, info := range published {
		fmt.Printf("%s\t%d bytes\n", info.Key, info.Size)
	}
	return nil
}

func runFetch(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	release := fs.String("release", "", "release folder under the configured prefix")
	dest := fs.String("dest", cfg.Dataset.CSVDir, "local directory for the source files")
	_ = fs.Parse(args)

	store, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	stats, err := dataset.FetchSources(ctx, store, *release, *dest)
	if err != nil {
		return err
	}
	fmt.Printf("downloaded %d, reused %d file(s) into %s\n", stats.Downloaded, stats.Reused, *dest)
	return nil
}

func openStore(ctx context.Context, cfg config.Config, createBucket bool) (*s3store.Store, error) {
	return s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: createBucket,
	})
}
