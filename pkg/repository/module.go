package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/inspector"
	"github.com/platinummonkey/hubcap/pkg/settings"
)

// Settings keys understood by the module kind.
const (
	KindModule = "module"

	SettingModule = "module"
	SettingPath   = "path"
)

// Module is a repository over one module loaded into the host process: either a module
// linked into the binary (setting "module") or a module file (setting "path").
type Module struct {
	base

	identity string
	module   *capability.Module
}

func newModule(opts Options) Repository {
	return NewModule(opts)
}

// NewModule creates an uninitialized module repository.
func NewModule(opts Options) *Module {
	r := &Module{}
	r.init(KindModule, opts)
	return r
}

// Source returns the resolved module identity.
func (r *Module) Source() string {
	return r.identity
}

// Initialize resolves and loads the module.
func (r *Module) Initialize(ctx context.Context, bag settings.Bag) error {
	source, err := moduleSource(bag)
	if err != nil {
		return err
	}
	identity, err := r.opts.Host.Resolve(source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceNotFound, err)
	}
	m, err := r.opts.Host.Load(ctx, identity)
	if err != nil {
		return fmt.Errorf("%w: load %s: %w", ErrSourceNotFound, identity, err)
	}

	r.settings = bag.Clone()
	r.identity = identity
	r.module = m
	r.log = r.log.WithFields(logrus.Fields{"source": identity})
	return nil
}

// Inspect re-runs the inspector over the resident module.
func (r *Module) Inspect(ctx context.Context) error {
	if r.module == nil {
		return ErrNotInitialized
	}
	r.inspecting.Lock()
	defer r.inspecting.Unlock()
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return r.inspectionFailed(ctx, r.identity, started, err)
	}

	report := inspector.Inspect(r.identity, r.module)
	for _, s := range report.Skipped {
		r.log.WithFields(logrus.Fields{"type": s.Type, "index": s.Index}).Warnf("Skipping type: %s", s.Reason)
	}
	r.publish(ctx, r.identity, NewGeneration(report.Records, skippedFrom(r.identity, report.Skipped), nil), started)
	return nil
}

// EqualsTo reports whether bag resolves to the same module.
func (r *Module) EqualsTo(bag settings.Bag) bool {
	if r.identity == "" {
		return false
	}
	source, err := moduleSource(bag)
	if err != nil {
		return false
	}
	identity, err := r.opts.Host.Resolve(source)
	if err != nil {
		return false
	}
	return identity == r.identity
}

func moduleSource(bag settings.Bag) (string, error) {
	name, hasName := bag.Get(SettingModule)
	path, hasPath := bag.Get(SettingPath)
	switch {
	case hasName && hasPath:
		return "", fmt.Errorf("%w: %q and %q are mutually exclusive", ErrInvalidSettings, SettingModule, SettingPath)
	case hasName:
		s, ok := name.(string)
		if !ok || s == "" {
			return "", fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidSettings, SettingModule)
		}
		return s, nil
	case hasPath:
		s, ok := path.(string)
		if !ok || s == "" {
			return "", fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidSettings, SettingPath)
		}
		return s, nil
	default:
		return "", fmt.Errorf("%w: one of %q or %q is required", ErrInvalidSettings, SettingModule, SettingPath)
	}
}
