package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/host"
	"github.com/platinummonkey/hubcap/pkg/inspector"
	"github.com/platinummonkey/hubcap/pkg/metadata"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/settings"
)

var (
	// ErrSourceNotFound is returned by Initialize when the configured source does not exist.
	ErrSourceNotFound = errors.New("source not found")
	// ErrInvalidSettings is returned by Initialize when the settings are missing or malformed.
	ErrInvalidSettings = errors.New("invalid repository settings")
	// ErrInspectionFailure is returned by Inspect when no new generation could be produced.
	ErrInspectionFailure = errors.New("inspection failed")
	// ErrNotInitialized is returned by Inspect before a successful Initialize.
	ErrNotInitialized = errors.New("repository not initialized")
)

// Repository is one configured source of capability records.
//
// Initialize is called once, then Inspect any number of times. Every successful Inspect
// publishes a new Generation; readers always see a complete generation.
type Repository interface {
	Kind() string
	// Source is a human readable identity of the source.
	Source() string
	Initialize(ctx context.Context, bag settings.Bag) error
	Inspect(ctx context.Context) error
	// EqualsTo reports whether bag designates the same source as this repository.
	EqualsTo(bag settings.Bag) bool
	Generation() *Generation
	Settings() settings.Bag
	Host() *host.Host
}

// SkippedType is a type entry that was left out of a generation.
type SkippedType struct {
	Source string `json:"source"`
	inspector.Skipped
}

// Failure is a module that could not be inspected.
type Failure struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// Generation is the immutable result of one Inspect.
type Generation struct {
	ID          uuid.UUID           `json:"id"`
	InspectedAt time.Time           `json:"inspected_at"`
	Records     []capability.Record `json:"records"`
	Skipped     []SkippedType       `json:"skipped,omitempty"`
	Failures    []Failure           `json:"failures,omitempty"`

	cache *metadata.Cache
}

// NewGeneration creates a generation with a fresh ID and projection cache. Custom kinds use it
// to publish their results.
func NewGeneration(records []capability.Record, skipped []SkippedType, failures []Failure) *Generation {
	return &Generation{
		ID:          uuid.New(),
		InspectedAt: time.Now().UTC(),
		Records:     records,
		Skipped:     skipped,
		Failures:    failures,
		cache:       metadata.NewCache(metadata.DefaultCacheSize),
	}
}

// empty is the generation of a repository that has not been inspected.
var empty = &Generation{}

// Options carries the collaborators handed to every repository.
type Options struct {
	Host    *host.Host
	Logger  logrus.FieldLogger
	Metrics *observability.Metrics

	// Defaults for directory inspection, overridable per repository.
	Timeout         time.Duration
	TeardownTimeout time.Duration
	Parallelism     int

	// Observers are notified after every Inspect, in order.
	Observers []Observer
}

// Event is the outcome of one Inspect.
type Event struct {
	Kind   string
	Source string
	// Generation is the published generation, nil when Err is set.
	Generation *Generation
	Err        error
	Duration   time.Duration
}

// Observer receives inspection events. It runs on the inspecting goroutine with a context
// that is not cancelled with the inspection.
type Observer interface {
	InspectionFinished(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// InspectionFinished calls f.
func (f ObserverFunc) InspectionFinished(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Constructor creates an uninitialized repository.
type Constructor func(opts Options) Repository

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Constructor{
		KindModule:    newModule,
		KindDirectory: newDirectory,
	}
)

// RegisterKind makes a repository kind available by name. It panics on duplicates.
func RegisterKind(kind string, ctor Constructor) {
	if kind == "" || ctor == nil {
		panic("repository: RegisterKind called with empty kind or nil constructor")
	}
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, dup := kinds[kind]; dup {
		panic("repository: RegisterKind called twice for kind " + kind)
	}
	kinds[kind] = ctor
}

// Lookup returns the constructor registered for kind.
func Lookup(kind string) (Constructor, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	ctor, ok := kinds[kind]
	return ctor, ok
}

// Kinds returns the registered kind names, sorted.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// base holds what every built-in kind shares.
type base struct {
	kind string
	opts Options
	log  logrus.FieldLogger

	settings settings.Bag
	gen      atomicGeneration

	// inspecting is held for a whole Inspect so generations publish in call order.
	inspecting sync.Mutex
}

func (b *base) init(kind string, opts Options) {
	if opts.Host == nil {
		opts.Host = host.New(host.WithLogger(opts.Logger), host.WithMetrics(opts.Metrics))
	}
	b.kind = kind
	b.opts = opts
	b.log = observability.OrDefault(opts.Logger).WithField("repository", kind)
}

func (b *base) Kind() string            { return b.kind }
func (b *base) Settings() settings.Bag  { return b.settings.Clone() }
func (b *base) Host() *host.Host        { return b.opts.Host }
func (b *base) Generation() *Generation { return b.gen.load() }

func (b *base) publish(ctx context.Context, source string, gen *Generation, started time.Time) {
	b.gen.store(gen)
	elapsed := time.Since(started)
	b.opts.Metrics.ObserveInspection(b.kind, "success", elapsed)
	b.opts.Metrics.SetRecords(b.kind, source, len(gen.Records))
	b.log.WithFields(logrus.Fields{
		"source":     source,
		"generation": gen.ID,
		"records":    len(gen.Records),
		"skipped":    len(gen.Skipped),
		"failures":   len(gen.Failures),
	}).Info("Inspection complete")
	b.notify(ctx, Event{Kind: b.kind, Source: source, Generation: gen, Duration: elapsed})
}

func (b *base) inspectionFailed(ctx context.Context, source string, started time.Time, err error) error {
	elapsed := time.Since(started)
	b.opts.Metrics.ObserveInspection(b.kind, "error", elapsed)
	b.log.WithError(err).WithField("source", source).Warn("Inspection failed, keeping previous generation")
	err = fmt.Errorf("%w: %s: %w", ErrInspectionFailure, source, err)
	b.notify(ctx, Event{Kind: b.kind, Source: source, Err: err, Duration: elapsed})
	return err
}

func (b *base) notify(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range b.opts.Observers {
		o.InspectionFinished(ctx, ev)
	}
}

func skippedFrom(source string, skipped []inspector.Skipped) []SkippedType {
	out := make([]SkippedType, 0, len(skipped))
	for _, s := range skipped {
		out = append(out, SkippedType{Source: source, Skipped: s})
	}
	return out
}
