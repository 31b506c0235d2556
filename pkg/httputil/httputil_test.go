package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, errors.New("test error"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"test error"}`, w.Body.String())
}

func TestWriteDetailedError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteDetailedError(w, http.StatusInternalServerError, "refresh failed", []error{errors.New("a"), errors.New("b")})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"refresh failed","details":["a","b"]}`, w.Body.String())
}

func TestWriteBadRequestAndInternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteBadRequest(w, "bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	WriteInternalError(w, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestParseQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/records?capability=x&all=true&bad=maybe", nil)

	assert.Equal(t, "x", ParseQueryString(r, "capability", ""))
	assert.Equal(t, "def", ParseQueryString(r, "missing", "def"))

	all, err := ParseQueryBool(r, "all", false)
	require.NoError(t, err)
	assert.True(t, all)

	_, err = ParseQueryBool(r, "bad", false)
	assert.Error(t, err)

	missing, err := ParseQueryBool(r, "missing", true)
	require.NoError(t, err)
	assert.True(t, missing)
}

func TestParseQueryIntAndTime(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/history?limit=5&bad=x&since=2026-01-02T03:04:05Z&when=yesterday", nil)

	limit, err := ParseQueryInt(r, "limit", 100)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	def, err := ParseQueryInt(r, "missing", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, def)

	_, err = ParseQueryInt(r, "bad", 0)
	assert.ErrorContains(t, err, "invalid integer")

	since, err := ParseQueryTime(r, "since")
	require.NoError(t, err)
	require.NotNil(t, since)
	assert.Equal(t, 2026, since.Year())

	none, err := ParseQueryTime(r, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseQueryTime(r, "when")
	assert.ErrorContains(t, err, "invalid time")
}

func TestMiddleware(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	handler := Chain(RecoveryMiddleware(log), LoggingMiddleware(log))(panicking)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Panic in HTTP handler", entry.Message)

	hook.Reset()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	w = httptest.NewRecorder()
	Chain(LoggingMiddleware(log))(ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tea", nil))

	entry = hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
}
