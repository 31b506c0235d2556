package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/platinummonkey/hubcap/pkg/settings"
)

// SettingCacheDir is the local directory a remote repository mirrors its module files into.
const SettingCacheDir = "cache_dir"

// Fetcher mirrors the module files of a remote source into a local directory.
type Fetcher interface {
	// Source identifies the remote source, for example "s3://bucket/prefix".
	Source() string
	// Fetch makes dir hold exactly the remote module files.
	Fetch(ctx context.Context, dir string) error
	// EqualsTo reports whether bag designates the same remote source.
	EqualsTo(bag settings.Bag) bool
}

// FetcherFactory creates the Fetcher described by a settings bag.
type FetcherFactory func(ctx context.Context, bag settings.Bag) (Fetcher, error)

// Remote is a directory repository whose module files are fetched from a remote source
// before every inspection. Inspection itself is the directory kind's.
type Remote struct {
	Directory

	newFetcher FetcherFactory
	fetcher    Fetcher
}

// RemoteKind returns a constructor for a remote kind, for use with RegisterKind.
func RemoteKind(kind string, newFetcher FetcherFactory) Constructor {
	return func(opts Options) Repository {
		return NewRemote(kind, opts, newFetcher)
	}
}

// NewRemote creates an uninitialized remote repository.
func NewRemote(kind string, opts Options, newFetcher FetcherFactory) *Remote {
	r := &Remote{newFetcher: newFetcher}
	r.init(kind, opts)
	return r
}

// Initialize creates the fetcher and the cache directory and performs a first fetch.
func (r *Remote) Initialize(ctx context.Context, bag settings.Bag) error {
	fetcher, err := r.newFetcher(ctx, bag)
	if err != nil {
		return err
	}

	dir, err := bag.String(SettingCacheDir)
	if err != nil || dir == "" {
		dir = defaultCacheDir(r.kind, fetcher.Source())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: cache directory: %w", ErrInvalidSettings, err)
	}
	if err := fetcher.Fetch(ctx, dir); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSourceNotFound, fetcher.Source(), err)
	}

	inner := settings.New(SettingPath, dir)
	for _, key := range []string{SettingTimeout, SettingParallelism} {
		if v, ok := bag.Get(key); ok {
			if err := inner.Set(key, v); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
			}
		}
	}
	if err := r.Directory.Initialize(ctx, inner); err != nil {
		return err
	}

	r.fetcher = fetcher
	r.settings = bag.Clone()
	r.source = fetcher.Source()
	r.log = r.log.WithField("source", r.source)
	return nil
}

// Inspect fetches the remote module files, then inspects the local mirror. A failed fetch
// keeps the previous generation. Concurrent calls run one at a time so a fetch never
// rewrites the mirror under a running inspection.
func (r *Remote) Inspect(ctx context.Context) error {
	if r.fetcher == nil {
		return ErrNotInitialized
	}
	r.inspecting.Lock()
	defer r.inspecting.Unlock()
	started := time.Now()
	if err := r.fetcher.Fetch(ctx, r.path); err != nil {
		return r.inspectionFailed(ctx, r.source, started, fmt.Errorf("fetch: %w", err))
	}
	return r.inspect(ctx, started)
}

// EqualsTo delegates to the fetcher.
func (r *Remote) EqualsTo(bag settings.Bag) bool {
	if r.fetcher == nil {
		return false
	}
	return r.fetcher.EqualsTo(bag)
}

func defaultCacheDir(kind, source string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	sum := sha256.Sum256([]byte(source))
	return filepath.Join(base, "hubcap", kind, hex.EncodeToString(sum[:8]))
}
