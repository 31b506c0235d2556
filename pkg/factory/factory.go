package factory

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/observability"
)

var (
	// ErrTypeLoad is returned when the module owning a record cannot be loaded.
	ErrTypeLoad = errors.New("type load failed")
	// ErrConstruction is returned when the type cannot be found or instantiated, or the
	// instance does not implement the requested capability.
	ErrConstruction = errors.New("construction failed")
)

// Error describes a failed CreateInstance call. It matches ErrTypeLoad or ErrConstruction
// with errors.Is, as well as the underlying cause.
type Error struct {
	Source string
	Type   string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s from %s: %v", e.Kind, e.Type, e.Source, e.Err)
}

// Unwrap returns the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Loader loads the module behind a source identity. *host.Host implements it.
type Loader interface {
	Load(ctx context.Context, source string) (*capability.Module, error)
}

// Option configures factories.
type Option func(*options)

type options struct {
	metrics *observability.Metrics
}

// WithMetrics counts constructed instances in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Factory constructs instances of the capability T for one record.
type Factory[T any] struct {
	record capability.Record
	loader Loader
	opts   options
}

// New binds a factory to rec. The record's capability is not checked against T; use Select
// to build factories from a record set.
func New[T any](rec capability.Record, loader Loader, opts ...Option) *Factory[T] {
	f := &Factory[T]{record: rec, loader: loader}
	for _, opt := range opts {
		opt(&f.opts)
	}
	return f
}

// Record returns the record the factory is bound to.
func (f *Factory[T]) Record() capability.Record {
	rec := f.record
	rec.Metadata = rec.Metadata.Clone()
	return rec
}

// Source returns the locator of the owning module.
func (f *Factory[T]) Source() string { return f.record.Source }

// Type returns the implementing type name.
func (f *Factory[T]) Type() string { return f.record.Type }

// Metadata returns a copy of the declared metadata.
func (f *Factory[T]) Metadata() capability.Metadata { return f.record.Metadata.Clone() }

func (f *Factory[T]) String() string { return f.record.String() }

// CreateInstance loads the owning module if needed and returns a new instance.
func (f *Factory[T]) CreateInstance(ctx context.Context) (inst T, err error) {
	ctx, span := otel.Tracer(observability.TracerName).Start(ctx, "factory.CreateInstance")
	span.SetAttributes(
		attribute.String("hubcap.source", f.record.Source),
		attribute.String("hubcap.type", f.record.Type),
		attribute.String("hubcap.capability", f.record.Capability.String()),
	)
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		f.opts.metrics.ObserveInstance(status)
	}()

	if f.loader == nil {
		return inst, f.fail(ErrTypeLoad, errors.New("no loader"))
	}
	mod, err := f.loader.Load(ctx, f.record.Source)
	if err != nil {
		return inst, f.fail(ErrTypeLoad, err)
	}
	if mod == nil {
		return inst, f.fail(ErrTypeLoad, errors.New("loader returned no module"))
	}

	t, ok := mod.Lookup(f.record.Type)
	if !ok {
		return inst, f.fail(ErrConstruction, fmt.Errorf("type not exported by module %q", mod.Name))
	}
	v, err := t.Instantiate()
	if err != nil {
		return inst, f.fail(ErrConstruction, err)
	}
	inst, ok = v.(T)
	if !ok {
		return inst, f.fail(ErrConstruction, fmt.Errorf("%T does not implement %s", v, capability.Of[T]()))
	}
	return inst, nil
}

func (f *Factory[T]) fail(kind, err error) error {
	return &Error{Source: f.record.Source, Type: f.record.Type, Kind: kind, Err: err}
}
