package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccepts(t *testing.T) {
	out, _, err := execute(t, "validate", "testdata/sum.cue")
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline valid")
}

func TestValidateAcceptsJSON(t *testing.T) {
	out, _, err := execute(t, "validate", "testdata/sum.cue", "--format", "json")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateRejectsFilterFirst(t *testing.T) {
	out, _, err := execute(t, "validate", "testdata/filter_first.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "step 0")
	assert.Contains(t, out, "first operation")
}

func TestValidateRejectsUnboundRead(t *testing.T) {
	out, _, err := execute(t, "validate", "testdata/unbound_read.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "steps[0].target")
	assert.Contains(t, out, "needs a target")
}

func TestValidateMissingFile(t *testing.T) {
	_, _, err := execute(t, "validate", "testdata/absent.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateRejectsFilterFirstJSON(t *testing.T) {
	out, _, err := execute(t, "validate", "testdata/filter_first.cue", "--format", "json")
	require.Error(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)
}
