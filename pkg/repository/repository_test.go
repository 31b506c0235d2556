package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hubcap/internal/testmodule"
	"github.com/platinummonkey/hubcap/pkg/host"
	"github.com/platinummonkey/hubcap/pkg/isolation"
	"github.com/platinummonkey/hubcap/pkg/settings"
)

func TestMain(m *testing.M) {
	if isolation.Init() {
		return
	}
	os.Exit(m.Run())
}

type stubRepository struct {
	base
}

func (s *stubRepository) Source() string                                 { return "stub" }
func (s *stubRepository) Initialize(context.Context, settings.Bag) error { return nil }
func (s *stubRepository) EqualsTo(settings.Bag) bool                     { return true }
func (s *stubRepository) Inspect(context.Context) error {
	s.gen.store(NewGeneration(nil, nil, nil))
	return nil
}

func TestKinds(t *testing.T) {
	assert.Contains(t, Kinds(), KindModule)
	assert.Contains(t, Kinds(), KindDirectory)

	ctor, ok := Lookup(KindDirectory)
	require.True(t, ok)
	r := ctor(Options{})
	assert.Equal(t, KindDirectory, r.Kind())
	assert.NotNil(t, r.Host())

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestRegisterKind(t *testing.T) {
	RegisterKind("stub", func(opts Options) Repository {
		s := &stubRepository{}
		s.init("stub", opts)
		return s
	})
	t.Cleanup(func() {
		kindsMu.Lock()
		delete(kinds, "stub")
		kindsMu.Unlock()
	})

	assert.Panics(t, func() { RegisterKind("stub", newModule) })
	assert.Panics(t, func() { RegisterKind("", newModule) })

	ctor, ok := Lookup("stub")
	require.True(t, ok)
	r := ctor(Options{Host: host.New()})
	require.NoError(t, r.Inspect(context.Background()))
	assert.NotEqual(t, empty, r.Generation())
}

func TestGeneration_EmptyBeforeInspect(t *testing.T) {
	r := NewDirectory(Options{})
	gen := r.Generation()
	require.NotNil(t, gen)
	assert.Empty(t, gen.Records)
	assert.ErrorIs(t, r.Inspect(context.Background()), ErrNotInitialized)
	assert.Empty(t, GetFactories[testmodule.Greeter](r))
}

func TestNewGeneration(t *testing.T) {
	a := NewGeneration(nil, nil, nil)
	b := NewGeneration(nil, nil, nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.InspectedAt.IsZero())
}
