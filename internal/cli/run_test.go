package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScenario(t *testing.T) {
	out, _, err := execute(t, "run", "testdata/sum.yaml")
	require.NoError(t, err)
	assert.Equal(t, "30", strings.TrimSpace(out))
}

func TestRunScenarioJSON(t *testing.T) {
	out, _, err := execute(t, "run", "testdata/sum.yaml", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sum-ages", resp.Data.Scenario)
	assert.Equal(t, "30", renderResult(resp.Data.Result))
	require.Len(t, resp.Data.Units, 1)
	assert.Equal(t, "db", resp.Data.Units[0].Target)
	assert.Equal(t, "committed", resp.Data.Units[0].State)
}

func TestRunExpectationMismatch(t *testing.T) {
	out, _, err := execute(t, "run", "testdata/sum_mismatch.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "result mismatch")
}

func TestRunVerboseTrace(t *testing.T) {
	_, errOut, err := execute(t, "run", "testdata/sum.yaml", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, errOut, "unit 1: db")
	assert.Contains(t, errOut, "committed")
}

func TestRunMultiTarget(t *testing.T) {
	dir := t.TempDir()
	scenario := filepath.Join(dir, "move.yaml")
	content := "name: move\npipefile: " + mustAbs(t, "testdata/move.cue") + "\nseed:\n  db:\n    - {name: ada, age: 25}\n    - {name: grace, age: 30}\n"
	require.NoError(t, os.WriteFile(scenario, []byte(content), 0o644))

	out, _, err := execute(t, "run", scenario, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Units, 2)
	assert.Equal(t, "db", resp.Data.Units[0].Target)
	assert.Equal(t, "blobs", resp.Data.Units[1].Target)
	for _, u := range resp.Data.Units {
		assert.Equal(t, "committed", u.State)
	}
	// The blob target's create response is the final result: the
	// summed ages, as a one-item collection.
	assert.Equal(t, "[55]", renderResult(resp.Data.Result))
}

func TestRunSeedUnknownTarget(t *testing.T) {
	dir := t.TempDir()
	scenario := filepath.Join(dir, "bad.yaml")
	content := "pipefile: " + mustAbs(t, "testdata/sum.cue") + "\nseed:\n  nosuch:\n    - {a: 1}\n"
	require.NoError(t, os.WriteFile(scenario, []byte(content), 0o644))

	_, _, err := execute(t, "run", scenario)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown target")
}

func TestRunMissingScenario(t *testing.T) {
	_, _, err := execute(t, "run", "testdata/absent.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunWithConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "operon.yaml")
	cfg := "logging: {level: info, format: text}\ntargets:\n  - name: db\n    kind: sqlite\n    path: " + filepath.Join(dir, "run.db") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	scenario := filepath.Join(dir, "sum.yaml")
	content := "name: sum\npipefile: " + mustAbs(t, "testdata/sum.cue") + "\n"
	require.NoError(t, os.WriteFile(scenario, []byte(content), 0o644))

	// No seed data: the sqlite store is empty, the filter matches
	// nothing, and the reduce returns its initial value.
	out, _, err := execute(t, "run", scenario, "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "0", strings.TrimSpace(out))
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}
