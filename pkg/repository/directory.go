package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/host"
	"github.com/platinummonkey/hubcap/pkg/isolation"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/settings"
)

// Settings keys understood by the directory kind.
const (
	KindDirectory = "directory"

	SettingTimeout     = "timeout"
	SettingParallelism = "parallelism"
)

// Directory is a repository over every loadable module file directly inside a directory.
// Module files are never loaded into the host during inspection; each one is opened by a
// worker process of a session that lives for a single Inspect.
type Directory struct {
	base

	path        string
	source      string
	timeout     time.Duration
	parallelism int
}

func newDirectory(opts Options) Repository {
	return NewDirectory(opts)
}

// NewDirectory creates an uninitialized directory repository.
func NewDirectory(opts Options) *Directory {
	r := &Directory{}
	r.init(KindDirectory, opts)
	return r
}

// Source returns the normalized directory path.
func (r *Directory) Source() string {
	return r.source
}

// Path returns the normalized directory path.
func (r *Directory) Path() string {
	return r.path
}

// Initialize validates the settings and the directory.
func (r *Directory) Initialize(_ context.Context, bag settings.Bag) error {
	raw, ok := bag.Get(SettingPath)
	if !ok {
		return fmt.Errorf("%w: %q is required", ErrInvalidSettings, SettingPath)
	}
	dir, ok := raw.(string)
	if !ok || dir == "" {
		return fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidSettings, SettingPath)
	}

	timeout := r.opts.Timeout
	if _, ok := bag.Get(SettingTimeout); ok {
		d, err := bag.Duration(SettingTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: %q must be a positive duration", ErrInvalidSettings, SettingTimeout)
		}
		timeout = d
	}
	parallelism := r.opts.Parallelism
	if _, ok := bag.Get(SettingParallelism); ok {
		n, err := bag.Int(SettingParallelism)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %q must be a positive integer", ErrInvalidSettings, SettingParallelism)
		}
		parallelism = int(n)
	}

	path := normalizeDir(dir)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceNotFound, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrSourceNotFound, path)
	}

	r.settings = bag.Clone()
	r.path = path
	r.source = path
	r.timeout = timeout
	r.parallelism = parallelism
	r.log = r.log.WithField("source", path)
	return nil
}

// Inspect inspects every module file in a fresh isolation session. Modules that fail are
// recorded in the generation; only a directory that cannot be read or a session that cannot
// be torn down fails the inspection. Concurrent calls run one at a time.
func (r *Directory) Inspect(ctx context.Context) error {
	if r.path == "" {
		return ErrNotInitialized
	}
	r.inspecting.Lock()
	defer r.inspecting.Unlock()
	return r.inspect(ctx, time.Now())
}

// inspect does the work of Inspect. The caller holds r.inspecting.
func (r *Directory) inspect(ctx context.Context, started time.Time) (err error) {

	ctx, span := otel.Tracer(observability.TracerName).Start(ctx, "repository.Inspect")
	span.SetAttributes(
		attribute.String("hubcap.kind", r.kind),
		attribute.String("hubcap.source", r.source),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	files, err := r.moduleFiles()
	if err != nil {
		return r.inspectionFailed(ctx, r.source, started, err)
	}

	session := isolation.NewSession(isolation.Options{
		Timeout:         r.timeout,
		TeardownTimeout: r.opts.TeardownTimeout,
		Parallelism:     r.parallelism,
		Logger:          r.log,
		Metrics:         r.opts.Metrics,
	})
	results := session.InspectAll(ctx, files)
	closeErr := session.Close()

	if err := ctx.Err(); err != nil {
		return r.inspectionFailed(ctx, r.source, started, err)
	}
	if closeErr != nil {
		return r.inspectionFailed(ctx, r.source, started, closeErr)
	}

	var (
		records  = []capability.Record{}
		skipped  []SkippedType
		failures []Failure
	)
	for _, res := range results {
		if res.Err != nil {
			failures = append(failures, failureFrom(res.Path, res.Err))
			r.log.WithError(res.Err).WithField("module", res.Path).Warn("Module inspection failed")
			continue
		}
		records = append(records, res.Report.Records...)
		for _, s := range res.Report.Skipped {
			r.log.WithFields(logrus.Fields{"module": res.Path, "type": s.Type, "index": s.Index}).Warnf("Skipping type: %s", s.Reason)
		}
		skipped = append(skipped, skippedFrom(res.Path, res.Report.Skipped)...)
	}

	r.publish(ctx, r.source, NewGeneration(records, skipped, failures), started)
	return nil
}

// EqualsTo compares normalized directory paths.
func (r *Directory) EqualsTo(bag settings.Bag) bool {
	if r.path == "" {
		return false
	}
	dir, err := bag.String(SettingPath)
	if err != nil || dir == "" {
		return false
	}
	return normalizeDir(dir) == r.path
}

// moduleFiles lists the loadable files directly inside the directory, sorted by name.
func (r *Directory) moduleFiles() ([]string, error) {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(r.path, entry.Name())
		if entry.Type()&os.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
		}
		if !host.Loadable(path) {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

// normalizeDir makes dir absolute and clean, resolving symlinks when it exists.
func normalizeDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func failureFrom(path string, err error) Failure {
	f := Failure{Source: path, Reason: isolation.ReasonExit, Error: err.Error()}
	var ie *isolation.InspectError
	if errors.As(err, &ie) {
		f.Reason = ie.Reason
		if ie.Err != nil {
			f.Error = ie.Err.Error()
		}
	}
	return f
}
