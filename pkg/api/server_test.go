package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hubcap/internal/testmodule"
	"github.com/platinummonkey/hubcap/pkg/audit"
	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/config"
	"github.com/platinummonkey/hubcap/pkg/isolation"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/plugins"
	"github.com/platinummonkey/hubcap/pkg/repository"
	"github.com/platinummonkey/hubcap/pkg/settings"
	"github.com/platinummonkey/hubcap/pkg/storage"
)

func TestMain(m *testing.M) {
	if isolation.Init() {
		return
	}
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	testmodule.Write(t, dir, "greeters"+testmodule.Ext, testmodule.Greeters("greeters"))

	log, _ := test.NewNullLogger()
	promReg := prometheus.NewRegistry()
	reg, err := plugins.NewRegistry(context.Background(), []config.Repository{{
		Kind:     repository.KindDirectory,
		Settings: settings.New(repository.SettingPath, dir),
	}}, plugins.WithLogger(log), plugins.WithMetrics(observability.NewMetrics(promReg)),
		plugins.WithInspection(10*time.Second, 0, 0))
	require.NoError(t, err)

	return NewServer(reg, promReg, log), dir
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestListRecords(t *testing.T) {
	s, dir := newTestServer(t)

	w := get(t, s, "/records")
	require.Equal(t, http.StatusOK, w.Code)
	var records []capability.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, capability.Metadata{"language": "en"}, records[0].Metadata)

	w = get(t, s, "/records?capability=example.com/none.Thing")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	assert.Empty(t, records)

	w = get(t, s, "/records?source="+filepath.Join(dir, "greeters"+testmodule.Ext))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	assert.Len(t, records, 2)
}

func TestListRepositories(t *testing.T) {
	s, dir := newTestServer(t)

	w := get(t, s, "/repositories?details=true")
	require.Equal(t, http.StatusOK, w.Code)
	var repos []RepositoryInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &repos))
	require.Len(t, repos, 1)
	assert.Equal(t, repository.KindDirectory, repos[0].Kind)
	assert.Equal(t, dir, repos[0].Source)
	assert.Equal(t, 2, repos[0].Records)
	assert.NotEmpty(t, repos[0].Generation)
	assert.Equal(t, dir, repos[0].Settings["path"])

	w = get(t, s, "/repositories?details=perhaps")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRepositories_MasksCredentials(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	reg, err := plugins.NewRegistry(context.Background(), []config.Repository{{
		Kind: repository.KindDirectory,
		Settings: settings.New(repository.SettingPath, dir,
			storage.SettingAccessKey, "AKIDEXAMPLE",
			storage.SettingSecretKey, "wJalrXUtnFEMI/K7MDENG"),
	}}, plugins.WithLogger(log), plugins.WithInspection(10*time.Second, 0, 0))
	require.NoError(t, err)
	s := NewServer(reg, prometheus.NewRegistry(), log)

	w := get(t, s, "/repositories")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "AKIDEXAMPLE")
	assert.NotContains(t, w.Body.String(), "wJalrXUtnFEMI")

	var repos []RepositoryInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &repos))
	require.Len(t, repos, 1)
	assert.Equal(t, settings.Mask, repos[0].Settings[storage.SettingSecretKey])
	assert.Equal(t, settings.Mask, repos[0].Settings[storage.SettingAccessKey])
	assert.Equal(t, dir, repos[0].Settings[repository.SettingPath])

	// the repository itself keeps the real values
	secret, err := reg.Repositories()[0].Settings().String(storage.SettingSecretKey)
	require.NoError(t, err)
	assert.Equal(t, "wJalrXUtnFEMI/K7MDENG", secret)
}

func TestRefresh(t *testing.T) {
	s, dir := newTestServer(t)
	testmodule.Write(t, dir, "more"+testmodule.Ext, testmodule.Greeters("more"))

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"records":4`)

	require.NoError(t, os.RemoveAll(dir))
	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "refresh failed")

	w = get(t, s, "/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	w := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","repositories":1}`, w.Body.String())

	w = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hubcap_repositories 1")
}

func TestHistory(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	testmodule.Write(t, dir, "greeters"+testmodule.Ext, testmodule.Greeters("greeters"))

	log, _ := test.NewNullLogger()
	ctx := context.Background()
	store, err := audit.Open(ctx, audit.DriverSQLite, filepath.Join(t.TempDir(), "history.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := plugins.NewRegistry(ctx, []config.Repository{{
		Kind:     repository.KindDirectory,
		Settings: settings.New(repository.SettingPath, dir),
	}}, plugins.WithLogger(log), plugins.WithObservers(store),
		plugins.WithInspection(10*time.Second, 0, 0))
	require.NoError(t, err)
	require.NoError(t, reg.RefreshAll(ctx))

	s := NewServer(reg, nil, log, WithHistory(store))

	w := get(t, s, "/history")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, audit.StatusSuccess, entries[0].Status)
	assert.Equal(t, dir, entries[0].Source)
	assert.Equal(t, 2, entries[0].Records)
	assert.Greater(t, entries[0].ID, entries[1].ID)

	w = get(t, s, "/history?limit=1&status=success&kind=directory")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	w = get(t, s, "/history?status=failure")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Empty(t, entries)

	for _, target := range []string{
		"/history?status=maybe",
		"/history?limit=0",
		"/history?limit=many",
		"/history?since=yesterday",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, s, target).Code, target)
	}
}

func TestHistoryDisabled(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/history").Code)
}
