package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/config"
	"github.com/platinummonkey/hubcap/pkg/factory"
	"github.com/platinummonkey/hubcap/pkg/host"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/repository"
	"github.com/platinummonkey/hubcap/pkg/settings"
)

// ErrUnknownRepositoryKind is returned for a repository kind that was never registered.
var ErrUnknownRepositoryKind = errors.New("unknown repository kind")

// Registry is an ordered set of repositories sharing one host module set.
type Registry struct {
	addMu sync.Mutex

	mu       sync.RWMutex
	repos    []repository.Repository
	failures []error

	host     *host.Host
	log      logrus.FieldLogger
	metrics  *observability.Metrics
	repoOpts repository.Options
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics records registry, inspection, load and construction metrics in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithHost shares an existing host module set.
func WithHost(h *host.Host) Option {
	return func(r *Registry) {
		r.host = h
	}
}

// WithInspection sets the defaults for directory repositories. Zero values keep the
// isolation package defaults.
func WithInspection(timeout, teardownTimeout time.Duration, parallelism int) Option {
	return func(r *Registry) {
		r.repoOpts.Timeout = timeout
		r.repoOpts.TeardownTimeout = teardownTimeout
		r.repoOpts.Parallelism = parallelism
	}
}

// WithObservers adds observers notified after every inspection of every repository.
func WithObservers(obs ...repository.Observer) Option {
	return func(r *Registry) {
		r.repoOpts.Observers = append(r.repoOpts.Observers, obs...)
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{log: logrus.New()}
	for _, opt := range opts {
		opt(r)
	}
	if r.host == nil {
		r.host = host.New(host.WithLogger(r.log), host.WithMetrics(r.metrics))
	}
	r.repoOpts.Host = r.host
	r.repoOpts.Logger = r.log
	r.repoOpts.Metrics = r.metrics
	return r
}

// NewRegistry creates a registry and adds every configured repository in order. Entries that
// fail are logged and skipped; their errors are kept in Failures and returned joined. The
// registry is usable even when an error is returned.
func NewRegistry(ctx context.Context, repos []config.Repository, opts ...Option) (*Registry, error) {
	r := New(opts...)
	var errs []error
	for i, rc := range repos {
		if err := r.AddRepository(ctx, rc.Kind, rc.Settings); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"index":    i,
				"kind":     rc.Kind,
				"settings": rc.Settings.Redacted().Format(),
			}).Warn("Failed to add repository")
			errs = append(errs, fmt.Errorf("repositories[%d]: %w", i, err))
		}
	}
	return r, errors.Join(errs...)
}

// AddRepository creates, initializes and inspects a repository of the given kind. It is a
// no-op when a repository of the same kind already designates the same source.
//
// A repository that fails to initialize is not added. A repository whose first inspection
// fails is added with an empty generation, and the inspection error is returned; a later
// RefreshAll may succeed.
func (r *Registry) AddRepository(ctx context.Context, kind string, bag settings.Bag) (err error) {
	defer func() {
		if err != nil {
			r.mu.Lock()
			r.failures = append(r.failures, err)
			r.mu.Unlock()
		}
	}()

	ctor, ok := repository.Lookup(kind)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRepositoryKind, kind)
	}

	r.addMu.Lock()
	defer r.addMu.Unlock()

	for _, existing := range r.Repositories() {
		if existing.Kind() == kind && existing.EqualsTo(bag) {
			r.log.WithFields(logrus.Fields{
				"kind":   kind,
				"source": existing.Source(),
			}).Debug("Repository already registered")
			return nil
		}
	}

	repo := ctor(r.repoOpts)
	if err := repo.Initialize(ctx, bag); err != nil {
		return fmt.Errorf("initialize %s repository: %w", kind, err)
	}
	inspectErr := r.inspect(ctx, repo)

	r.mu.Lock()
	r.repos = append(r.repos, repo)
	count := len(r.repos)
	r.mu.Unlock()
	r.metrics.SetRepositories(count)

	r.log.WithFields(logrus.Fields{
		"kind":    kind,
		"source":  repo.Source(),
		"records": len(repo.Generation().Records),
	}).Info("Added repository")

	if inspectErr != nil {
		return fmt.Errorf("inspect %s repository %s: %w", kind, repo.Source(), inspectErr)
	}
	return nil
}

// RefreshAll re-inspects every repository in registration order. A failing repository keeps
// its previous generation and does not stop the others.
func (r *Registry) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, repo := range r.Repositories() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.inspect(ctx, repo); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s repository %s: %w", repo.Kind(), repo.Source(), err))
		}
	}
	return errors.Join(errs...)
}

// inspect runs repo.Inspect, turning a panic in a registered kind into an inspection failure
// that keeps the previous generation.
func (r *Registry) inspect(ctx context.Context, repo repository.Repository) (err error) {
	defer observability.RecoverPanicWithCallback(r.log, "inspect "+repo.Kind()+" repository", func(p any) {
		err = fmt.Errorf("%w: %w", repository.ErrInspectionFailure, observability.MustRecover(p))
	})
	return repo.Inspect(ctx)
}

// Repositories returns a snapshot of the repositories in registration order.
func (r *Registry) Repositories() []repository.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]repository.Repository, len(r.repos))
	copy(out, r.repos)
	return out
}

// Records returns the records of every repository's current generation, in registration order.
func (r *Registry) Records() []capability.Record {
	var out []capability.Record
	for _, repo := range r.Repositories() {
		out = append(out, repo.Generation().Records...)
	}
	return out
}

// Failures returns the errors of every AddRepository call that failed.
func (r *Registry) Failures() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]error, len(r.failures))
	copy(out, r.failures)
	return out
}

// Host returns the host module set shared by the repositories.
func (r *Registry) Host() *host.Host {
	return r.host
}

// GetFactories returns factories for T across all repositories, in registration order.
func GetFactories[T any](r *Registry) []*factory.Factory[T] {
	var out []*factory.Factory[T]
	for _, repo := range r.Repositories() {
		out = append(out, repository.GetFactories[T](repo, factory.WithMetrics(r.metrics))...)
	}
	return out
}

// GetFactoriesWhere returns factories for T whose metadata, projected onto M, satisfies pred.
// Records with no metadata are never returned. Projection errors exclude the record and are
// returned joined next to the matching factories.
func GetFactoriesWhere[T, M any](r *Registry, pred func(M) bool) ([]*factory.Factory[T], error) {
	var (
		out  []*factory.Factory[T]
		errs []error
	)
	for _, repo := range r.Repositories() {
		fs, err := repository.GetFactoriesWhere[T](repo, pred, factory.WithMetrics(r.metrics))
		out = append(out, fs...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}
