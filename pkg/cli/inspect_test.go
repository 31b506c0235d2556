package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hubcap/internal/testmodule"
	"github.com/platinummonkey/hubcap/pkg/repository"
)

func TestInspect_Table(t *testing.T) {
	dir := pluginDir(t)
	out, _ := captureOutput(t)

	require.NoError(t, runInspect([]string{"-timeout", "10s", dir}))

	output := out.String()
	assert.Contains(t, output, "SOURCE")
	assert.Contains(t, output, testmodule.TypeA)
	assert.Contains(t, output, testmodule.TypeB)
	assert.Contains(t, output, "language=en")
	assert.Contains(t, output, "language=fr")
	assert.NotContains(t, output, "PROBLEM")
}

func TestInspect_JSON(t *testing.T) {
	dir := pluginDir(t)
	out, _ := captureOutput(t)

	require.NoError(t, runInspect([]string{"-format", "json", dir}))

	var gen repository.Generation
	require.NoError(t, json.Unmarshal(out.Bytes(), &gen))
	assert.Len(t, gen.Records, 2)
	assert.Empty(t, gen.Failures)
}

func TestInspect_Failures(t *testing.T) {
	dir := pluginDir(t)
	testmodule.Write(t, dir, "broken"+testmodule.Ext, testmodule.Spec{Name: "broken", Panic: true})
	out, _ := captureOutput(t)

	require.NoError(t, runInspect([]string{"-timeout", "10s", dir}))
	assert.Contains(t, out.String(), "PROBLEM")
	assert.Contains(t, out.String(), "broken"+testmodule.Ext)

	err := runInspect([]string{"-timeout", "10s", "-strict", dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 modules failed")
}

func TestInspect_BadArguments(t *testing.T) {
	captureOutput(t)

	assert.Error(t, runInspect(nil))
	assert.Error(t, runInspect([]string{"a", "b"}))
	assert.Error(t, runInspect([]string{"-format", "xml", t.TempDir()}))

	err := runInspect([]string{t.TempDir() + "/missing"})
	assert.ErrorIs(t, err, repository.ErrSourceNotFound)
}
