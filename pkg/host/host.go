package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/observability"
)

// ErrModuleNotFound is returned when a source identity cannot be resolved to a module.
var ErrModuleNotFound = errors.New("module not found")

// Host is the process-wide set of loaded modules, keyed by source identity.
type Host struct {
	mu     sync.RWMutex
	loaded map[string]*capability.Module
	group  singleflight.Group

	openers map[string]Opener
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMetrics records module loads in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Host) {
		h.metrics = m
	}
}

// WithOpener overrides the opener for one extension on this Host only.
func WithOpener(ext string, o Opener) Option {
	return func(h *Host) {
		if o != nil {
			h.openers[ext] = o
		}
	}
}

// New creates an empty Host.
func New(opts ...Option) *Host {
	h := &Host{
		loaded:  make(map[string]*capability.Module),
		openers: make(map[string]Opener),
		log:     logrus.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Resolve normalizes a source into its identity: module names are returned as-is if they are
// in the catalog, file paths are made absolute and must exist and have an opener.
func (h *Host) Resolve(source string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("%w: empty source", ErrModuleNotFound)
	}
	if _, ok := linkedModule(source); ok {
		return source, nil
	}
	if !filepath.IsAbs(source) && filepath.Ext(source) == "" {
		return "", fmt.Errorf("%w: no linked module named %q", ErrModuleNotFound, source)
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModuleNotFound, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModuleNotFound, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrModuleNotFound, abs)
	}
	if _, ok := h.opener(abs); !ok {
		return "", errNoOpener(abs)
	}
	return abs, nil
}

// Loaded reports whether the source has already been loaded into this Host.
func (h *Host) Loaded(source string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.loaded[source]
	return ok
}

// Load returns the module for source, loading it on first use. Concurrent callers for the
// same source share a single load; failed loads are not cached.
func (h *Host) Load(ctx context.Context, source string) (*capability.Module, error) {
	h.mu.RLock()
	m, ok := h.loaded[source]
	h.mu.RUnlock()
	if ok {
		return m, nil
	}

	ch := h.group.DoChan(source, func() (any, error) {
		h.mu.RLock()
		m, ok := h.loaded[source]
		h.mu.RUnlock()
		if ok {
			return m, nil
		}

		m, err := h.open(ctx, source)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		h.loaded[source] = m
		h.mu.Unlock()
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*capability.Module), nil
	}
}

func (h *Host) open(ctx context.Context, source string) (m *capability.Module, err error) {
	_, span := otel.Tracer(observability.TracerName).Start(ctx, "host.Load")
	span.SetAttributes(attribute.String("hubcap.source", source))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		h.metrics.ObserveModuleLoad(status, time.Since(start))
	}()

	if linkedMod, ok := linkedModule(source); ok {
		h.log.WithField("module", source).Debug("Using linked module")
		return linkedMod, nil
	}

	opener, ok := h.opener(source)
	if !ok {
		return nil, errNoOpener(source)
	}

	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("opening %s panicked: %v", source, r)
		}
	}()

	m, err = opener.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", source, err)
	}
	if m == nil {
		return nil, fmt.Errorf("open %s: opener returned no module", source)
	}

	h.log.WithFields(logrus.Fields{
		"source": source,
		"module": m.Name,
		"types":  len(m.Types),
	}).Info("Loaded module")
	return m, nil
}

func (h *Host) opener(path string) (Opener, bool) {
	if o, ok := h.openers[filepath.Ext(path)]; ok {
		return o, true
	}
	return openerFor(path)
}
