package params

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "engines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

const sampleYAML = `
/usr/bin/stockfish:
  evaluation:
    threads: 4
    options:
      Hash: "1024"
  batch:
    threads: 2
    movetime_ms: 2000
    multipv: 3
  explore:
    multipv: 5
`

func TestTaskParameters(t *testing.T) {
	repo := Load(nopLogger(), writeFile(t, sampleYAML))

	eval := repo.TaskParameters("/usr/bin/stockfish", TaskEvaluation)
	assert.Equal(t, 4, eval.Threads)
	assert.Equal(t, "1024", eval.Options["Hash"])
	assert.True(t, eval.Unbounded())

	batch := repo.TaskParameters("/usr/bin/stockfish", TaskBatch)
	assert.Equal(t, 2*time.Second, batch.MoveTime)
	assert.Equal(t, 3, batch.MultiPV)

	explore := repo.TaskParameters("/usr/bin/stockfish", TaskExplore)
	assert.Equal(t, 5, explore.MultiPV)
}

func TestUnknownEngineFallsBackToDefaults(t *testing.T) {
	repo := Load(nopLogger(), writeFile(t, sampleYAML))

	got := repo.TaskParameters("/opt/other-engine", TaskBatch)
	assert.Equal(t, DefaultParameters(TaskBatch), got)
}

func TestUnknownTaskFallsBackToDefaults(t *testing.T) {
	repo := Load(nopLogger(), writeFile(t, sampleYAML))

	got := repo.TaskParameters("/usr/bin/stockfish", "no-such-task")
	assert.Equal(t, DefaultParameters("no-such-task"), got)
}

func TestMissingFileDegradesSilently(t *testing.T) {
	repo := Load(nopLogger(), filepath.Join(t.TempDir(), "absent.yaml"))

	got := repo.TaskParameters("/usr/bin/stockfish", TaskEvaluation)
	assert.Equal(t, DefaultParameters(TaskEvaluation), got)
}

func TestMalformedFileDegradesSilently(t *testing.T) {
	repo := Load(nopLogger(), writeFile(t, "{{{not yaml"))

	got := repo.TaskParameters("/usr/bin/stockfish", TaskExplore)
	assert.Equal(t, DefaultParameters(TaskExplore), got)
}

func TestBatchBoundsAreEnforced(t *testing.T) {
	// A configured batch entry with no bounds would search forever.
	repo := Load(nopLogger(), writeFile(t, `
/usr/bin/stockfish:
  batch:
    threads: 2
`))

	got := repo.TaskParameters("/usr/bin/stockfish", TaskBatch)
	assert.False(t, got.Unbounded())
	assert.Equal(t, 4*time.Second, got.MoveTime)
}

func TestDefaultParameters(t *testing.T) {
	assert.True(t, DefaultParameters(TaskEvaluation).Unbounded())
	assert.False(t, DefaultParameters(TaskBatch).Unbounded())
	assert.Equal(t, 3, DefaultParameters(TaskExplore).MultiPV)
}
