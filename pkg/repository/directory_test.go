package repository

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hubcap/internal/testmodule"
	"github.com/platinummonkey/hubcap/pkg/isolation"
	"github.com/platinummonkey/hubcap/pkg/metadata"
	"github.com/platinummonkey/hubcap/pkg/settings"
)

type greeterMeta struct {
	Language string `metadata:"language"`
}

// tempDir returns a temporary directory with symlinks resolved, as the repository reports it.
func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func newDirectoryRepo(t *testing.T, dir string, kv ...any) *Directory {
	t.Helper()
	r := NewDirectory(Options{Timeout: 10 * time.Second})
	bag := settings.New(append([]any{SettingPath, dir}, kv...)...)
	require.NoError(t, r.Initialize(context.Background(), bag))
	return r
}

func TestDirectory_InitializeErrors(t *testing.T) {
	dir := tempDir(t)
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name string
		bag  settings.Bag
		want error
	}{
		{name: "no path", bag: settings.New(), want: ErrInvalidSettings},
		{name: "path not a string", bag: settings.New(SettingPath, true), want: ErrInvalidSettings},
		{name: "bad timeout", bag: settings.New(SettingPath, dir, SettingTimeout, "soon"), want: ErrInvalidSettings},
		{name: "negative timeout", bag: settings.New(SettingPath, dir, SettingTimeout, "-1s"), want: ErrInvalidSettings},
		{name: "zero parallelism", bag: settings.New(SettingPath, dir, SettingParallelism, 0), want: ErrInvalidSettings},
		{name: "missing directory", bag: settings.New(SettingPath, filepath.Join(dir, "missing")), want: ErrSourceNotFound},
		{name: "not a directory", bag: settings.New(SettingPath, file), want: ErrSourceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewDirectory(Options{})
			assert.ErrorIs(t, r.Initialize(context.Background(), tt.bag), tt.want)
		})
	}
}

func TestDirectory_Inspect(t *testing.T) {
	dir := tempDir(t)
	a := testmodule.Write(t, dir, "a"+testmodule.Ext, testmodule.Greeters("a"))
	bad := testmodule.Write(t, dir, "b"+testmodule.Ext, testmodule.Spec{Name: "b", Crash: true})
	c := testmodule.Write(t, dir, "c"+testmodule.Ext, testmodule.Spec{
		Name: "c",
		Types: []testmodule.TypeSpec{
			{Fixture: "a", Capabilities: []string{testmodule.GreeterCapability}},
			{Fixture: "a", Capabilities: []string{testmodule.GreeterCapability}},
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a module"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"+testmodule.Ext), 0o755))
	testmodule.Write(t, filepath.Join(dir, "nested"+testmodule.Ext), "deep"+testmodule.Ext, testmodule.Greeters("deep"))

	r := newDirectoryRepo(t, dir, SettingParallelism, 2)
	require.NoError(t, r.Inspect(context.Background()))

	gen := r.Generation()
	sources := make([]string, 0, len(gen.Records))
	for _, rec := range gen.Records {
		sources = append(sources, rec.Source)
	}
	assert.Equal(t, []string{a, a, c}, sources)

	require.Len(t, gen.Failures, 1)
	assert.Equal(t, bad, gen.Failures[0].Source)
	assert.Equal(t, isolation.ReasonExit, gen.Failures[0].Reason)

	require.Len(t, gen.Skipped, 1)
	assert.Equal(t, c, gen.Skipped[0].Source)

	// nothing was loaded into the host
	assert.False(t, r.Host().Loaded(a))
}

func TestDirectory_EmptyDirectory(t *testing.T) {
	r := newDirectoryRepo(t, t.TempDir())
	require.NoError(t, r.Inspect(context.Background()))
	gen := r.Generation()
	assert.NotEqual(t, empty, gen)
	assert.Empty(t, gen.Records)
}

func TestDirectory_ReinspectReplacesGeneration(t *testing.T) {
	dir := tempDir(t)
	path := testmodule.Write(t, dir, "m"+testmodule.Ext, testmodule.Greeters("m"))
	r := newDirectoryRepo(t, dir)

	require.NoError(t, r.Inspect(context.Background()))
	first := r.Generation()
	require.Len(t, first.Records, 2)

	testmodule.Write(t, dir, "m"+testmodule.Ext, testmodule.Spec{
		Name:  "m",
		Types: []testmodule.TypeSpec{{Fixture: "b", Capabilities: []string{testmodule.GreeterCapability}}},
	})
	require.NoError(t, r.Inspect(context.Background()))
	second := r.Generation()

	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, second.Records, 1)
	assert.Equal(t, testmodule.TypeB, second.Records[0].Type)
	assert.Equal(t, path, second.Records[0].Source)

	// the earlier generation is untouched
	assert.Len(t, first.Records, 2)
}

func TestDirectory_FailedInspectKeepsGeneration(t *testing.T) {
	root := tempDir(t)
	dir := filepath.Join(root, "plugins")
	require.NoError(t, os.Mkdir(dir, 0o755))
	testmodule.Write(t, dir, "m"+testmodule.Ext, testmodule.Greeters("m"))

	r := newDirectoryRepo(t, dir)
	require.NoError(t, r.Inspect(context.Background()))
	prev := r.Generation()

	require.NoError(t, os.RemoveAll(dir))
	err := r.Inspect(context.Background())
	assert.ErrorIs(t, err, ErrInspectionFailure)
	assert.Same(t, prev, r.Generation())
}

func TestDirectory_TimeoutSetting(t *testing.T) {
	dir := tempDir(t)
	testmodule.Write(t, dir, "hang"+testmodule.Ext, testmodule.Spec{Name: "hang", Hang: true})
	testmodule.Write(t, dir, "ok"+testmodule.Ext, testmodule.Greeters("ok"))

	r := newDirectoryRepo(t, dir, SettingTimeout, "500ms")
	require.NoError(t, r.Inspect(context.Background()))

	gen := r.Generation()
	assert.Len(t, gen.Records, 2)
	require.Len(t, gen.Failures, 1)
	assert.Equal(t, isolation.ReasonTimeout, gen.Failures[0].Reason)
}

func TestDirectory_EqualsTo(t *testing.T) {
	root := tempDir(t)
	dir := filepath.Join(root, "plugins")
	require.NoError(t, os.Mkdir(dir, 0o755))
	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(dir, link))

	r := newDirectoryRepo(t, dir)
	assert.True(t, r.EqualsTo(settings.New(SettingPath, dir)))
	assert.True(t, r.EqualsTo(settings.New(SettingPath, dir+string(filepath.Separator))))
	assert.True(t, r.EqualsTo(settings.New(SettingPath, filepath.Join(dir, "..", "plugins"))))
	assert.True(t, r.EqualsTo(settings.New(SettingPath, link)))
	assert.True(t, r.EqualsTo(settings.New(SettingPath, dir, SettingTimeout, "1s")))
	assert.False(t, r.EqualsTo(settings.New(SettingPath, root)))
	assert.False(t, r.EqualsTo(settings.New()))
}

func TestDirectory_GetFactoriesWhere(t *testing.T) {
	dir := tempDir(t)
	testmodule.Write(t, dir, "greeters"+testmodule.Ext, testmodule.Greeters("greeters"))
	testmodule.Write(t, dir, "plain"+testmodule.Ext, testmodule.Spec{
		Name:  "plain",
		Types: []testmodule.TypeSpec{{Fixture: "a", Capabilities: []string{testmodule.GreeterCapability}}},
	})
	testmodule.Write(t, dir, "weird"+testmodule.Ext, testmodule.Spec{
		Name: "weird",
		Types: []testmodule.TypeSpec{{
			Fixture:      "b",
			Capabilities: []string{testmodule.GreeterCapability},
			Metadata:     map[string]any{"language": 42},
		}},
	})

	r := newDirectoryRepo(t, dir)
	require.NoError(t, r.Inspect(context.Background()))
	assert.Len(t, GetFactories[testmodule.Greeter](r), 4)

	fs, err := GetFactoriesWhere[testmodule.Greeter](r, func(m greeterMeta) bool { return m.Language == "fr" })
	assert.ErrorIs(t, err, metadata.ErrConversion)
	require.Len(t, fs, 1)
	assert.Equal(t, testmodule.TypeB, fs[0].Type())

	before := testmodule.Opens()
	g, err := fs[0].CreateInstance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bonjour, Ada", g.Greet("Ada"))
	assert.Equal(t, before+1, testmodule.Opens())
	assert.True(t, r.Host().Loaded(fs[0].Source()))

	// projections are cached per generation
	assert.Positive(t, r.Generation().cache.Len())
}

func TestDirectory_ConcurrentInspectsRunInOrder(t *testing.T) {
	dir := tempDir(t)
	testmodule.Write(t, dir, "a"+testmodule.Ext, testmodule.Greeters("a"))

	var (
		mu        sync.Mutex
		published []*Generation
	)
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	obs := ObserverFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		published = append(published, ev.Generation)
		n := len(published)
		mu.Unlock()
		entered <- struct{}{}
		if n == 1 {
			<-release
		}
	})
	r := NewDirectory(Options{Timeout: 10 * time.Second, Observers: []Observer{obs}})
	require.NoError(t, r.Initialize(context.Background(), settings.New(SettingPath, dir)))

	errs := make(chan error, 2)
	go func() { errs <- r.Inspect(context.Background()) }()
	select {
	case <-entered:
	case <-time.After(10 * time.Second):
		t.Fatal("first inspection never finished")
	}

	// the first call is still inside Inspect, held by its observer
	go func() { errs <- r.Inspect(context.Background()) }()
	select {
	case <-entered:
		t.Fatal("second inspection published while the first was running")
	case <-time.After(300 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 2)
	assert.NotEqual(t, published[0].ID, published[1].ID)
	assert.Same(t, published[1], r.Generation())
	assert.False(t, published[1].InspectedAt.Before(published[0].InspectedAt))
}
