package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/autoquery/autoquery/internal/storage"
)

const fetchConcurrency = 4

type FetchStats struct {
	Downloaded int
	Reused     int
}

// FetchSources mirrors dataset source files stored under release into dir.
// Files already present with the listed size are reused.
func FetchSources(ctx context.Context, store storage.ObjectStore, release, dir string) (FetchStats, error) {
	if store == nil {
		return FetchStats{}, fmt.Errorf("object store is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FetchStats{}, fmt.Errorf("create cache dir %q: %w", dir, err)
	}

	objects, err := store.List(ctx, release)
	if err != nil {
		return FetchStats{}, fmt.Errorf("list dataset sources: %w", err)
	}

	var downloaded, reused atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(fetchConcurrency)
	wanted := 0
	for _, object := range objects {
		name := path.Base(object.Key)
		if TableForFile(name) == "" {
			continue
		}
		wanted++
		localPath := filepath.Join(dir, name)
		group.Go(func() error {
			if info, err := os.Stat(localPath); err == nil && info.Size() == object.Size {
				reused.Add(1)
				return nil
			}
			if err := download(groupCtx, store, object.Key, localPath); err != nil {
				return err
			}
			downloaded.Add(1)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return FetchStats{}, err
	}
	if wanted == 0 {
		return FetchStats{}, fmt.Errorf("no dataset source files under %q", release)
	}
	return FetchStats{Downloaded: int(downloaded.Load()), Reused: int(reused.Load())}, nil
}

func download(ctx context.Context, store storage.ObjectStore, key, localPath string) error {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	tmp := localPath + ".part"
	if err := writeFile(tmp, reader); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		return fmt.Errorf("move %q into place: %w", localPath, err)
	}
	return nil
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return file.Sync()
}

// Publish uploads local source files to the store under release.
func Publish(ctx context.Context, store storage.ObjectStore, release string, sources []Source) ([]storage.ObjectInfo, error) {
	published := make([]storage.ObjectInfo, 0, len(sources))
	for _, source := range sources {
		key, err := storage.BuildSourceKey(release, filepath.Base(source.Path))
		if err != nil {
			return nil, err
		}
		info, err := publishFile(ctx, store, key, source)
		if err != nil {
			return nil, err
		}
		published = append(published, info)
	}
	return published, nil
}

func publishFile(ctx context.Context, store storage.ObjectStore, key string, source Source) (storage.ObjectInfo, error) {
	file, err := os.Open(source.Path)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("open %q: %w", source.Path, err)
	}
	defer func() { _ = file.Close() }()
	stat, err := file.Stat()
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat %q: %w", source.Path, err)
	}

	contentType := "text/csv"
	if source.Format == FormatParquet {
		contentType = "application/vnd.apache.parquet"
	}
	if _, err := store.Put(ctx, key, file, stat.Size(), storage.PutOptions{ContentType: contentType}); err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := store.Stat(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("verify upload %q: %w", key, err)
	}
	if info.Size != stat.Size() {
		return storage.ObjectInfo{}, fmt.Errorf("verify upload %q: size %d, want %d", key, info.Size, stat.Size())
	}
	return info, nil
}
