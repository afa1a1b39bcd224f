// internal/reporting/status_test.go
package reporting

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

func readStatus(t *testing.T, path string) Status {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	return st
}

func TestStatusWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", StatusFileName)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	w := NewStatusWriter(path, "https://challenge.test/", 1, 30)
	w.now = func() time.Time { return fixed }
	assert.Equal(t, path, w.Path())

	require.NoError(t, w.Record(engine.StageAttemptRecord{Stage: 1, Success: true, Source: engine.SourceStorage, AdvancedTo: 2}))
	st := readStatus(t, path)
	assert.Equal(t, 2, st.Stage)
	assert.Equal(t, 1, st.Solved)
	assert.Equal(t, fixed, st.UpdatedAt)
	require.NotNil(t, st.Last)
	assert.Equal(t, engine.SourceStorage, st.Last.Source)
	assert.False(t, st.Finished)

	require.NoError(t, w.Record(engine.StageAttemptRecord{Stage: 2, FailureReason: "no candidate"}))
	st = readStatus(t, path)
	assert.Equal(t, 2, st.Stage)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, "no candidate", st.Last.FailureReason)
	assert.Equal(t, engine.SourceUnknown, st.Last.Source)

	require.NoError(t, w.Finish(&engine.RunReport{RunID: "run-1", Solved: 1, FurthestStage: 2}))
	st = readStatus(t, path)
	assert.True(t, st.Finished)
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, st, w.Snapshot())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed into place")
}
