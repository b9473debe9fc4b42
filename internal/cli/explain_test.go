package cli

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func explainGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestExplainArchive(t *testing.T) {
	out, _, err := execute(t, "explain", "testdata/archive.cue")
	require.NoError(t, err)
	explainGoldie(t).Assert(t, "explain-archive", []byte(out))
}

func TestExplainMove(t *testing.T) {
	out, _, err := execute(t, "explain", "testdata/move.cue")
	require.NoError(t, err)
	explainGoldie(t).Assert(t, "explain-move", []byte(out))
}

func TestExplainJSON(t *testing.T) {
	out, _, err := execute(t, "explain", "testdata/archive.cue", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   ExplainResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "archive", resp.Data.Pipeline)
	require.Len(t, resp.Data.Units, 1)

	unit := resp.Data.Units[0]
	assert.Equal(t, "planned", unit.Kind)
	assert.Equal(t, "db", unit.Target)
	assert.Equal(t, "hybrid", unit.Plan)
	assert.Len(t, unit.Pushed, 2)
	assert.Len(t, unit.Remaining, 1)
}

func TestExplainRejectsInvalidPipeline(t *testing.T) {
	_, _, err := execute(t, "explain", "testdata/filter_first.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestExplainMissingFile(t *testing.T) {
	_, _, err := execute(t, "explain", "testdata/absent.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
