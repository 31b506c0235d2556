package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hubcap/internal/testmodule"
	"github.com/platinummonkey/hubcap/pkg/capability"
)

func writeConfig(t *testing.T, dirs ...string) string {
	t.Helper()
	content := "log_level: warn\ninspection:\n  timeout: 10s\nrepositories:\n"
	for _, dir := range dirs {
		content += fmt.Sprintf("  - kind: directory\n    settings:\n      path: %q\n", dir)
	}
	path := filepath.Join(t.TempDir(), "hubcap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestList_JSON(t *testing.T) {
	cfg := writeConfig(t, pluginDir(t))
	out, _ := captureOutput(t)

	require.NoError(t, runList([]string{"-config", cfg, "-format", "json"}))

	var records []capability.Record
	require.NoError(t, json.Unmarshal(out.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, testmodule.TypeA, records[0].Type)
	assert.Equal(t, testmodule.TypeB, records[1].Type)
}

func TestList_CapabilityFilter(t *testing.T) {
	cfg := writeConfig(t, pluginDir(t))
	out, _ := captureOutput(t)

	require.NoError(t, runList([]string{"-config", cfg, "-format", "json", "-capability", "example.com/none.Thing"}))
	assert.JSONEq(t, "[]", out.String())
}

func TestList_SkipsFailingRepositories(t *testing.T) {
	dir := pluginDir(t)
	cfg := writeConfig(t, filepath.Join(dir, "missing"), dir)
	out, _ := captureOutput(t)

	require.NoError(t, runList([]string{"-config", cfg}))
	assert.Contains(t, out.String(), testmodule.TypeA)
}

func TestList_Errors(t *testing.T) {
	captureOutput(t)

	assert.Error(t, runList([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}))
	assert.Error(t, runList([]string{"-format", "yaml"}))
}
