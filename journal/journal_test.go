package journal_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sliverarmory/symscope/journal"
	"github.com/sliverarmory/symscope/runner"
)

func i64(v int64) *int64 { return &v }

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, j.Close()) })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openJournal(t)

	res := &runner.RunResult{
		RunID: "run-1",
		Cases: []runner.CaseResult{
			{
				Scenario: "override", Case: "with-override", Kind: "native", Pass: true,
				Steps: []runner.StepResult{
					{Op: "invoke", Library: "bar", Symbol: "power_four",
						Args: []int64{2}, Want: i64(16), Got: i64(16), Pass: true},
				},
				ElapsedMS: 7,
			},
			{
				Scenario: "override", Case: "without-override", Kind: "native", Pass: true,
				Stage: "open", Error: "dlopen: undefined symbol: square",
			},
		},
	}
	require.NoError(t, j.Record(res))

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Most recent first: insertion order reversed.
	assert.Equal(t, "without-override", entries[0].Case)
	assert.Equal(t, "open", entries[0].Stage)
	assert.Empty(t, entries[0].Steps)
	assert.NotEmpty(t, entries[0].RecordedAt)

	assert.Equal(t, "with-override", entries[1].Case)
	assert.True(t, entries[1].Pass)
	require.Len(t, entries[1].Steps, 1)
	require.NotNil(t, entries[1].Steps[0].Got)
	assert.Equal(t, int64(16), *entries[1].Steps[0].Got)
	assert.Equal(t, int64(7), entries[1].ElapsedMS)
}

func TestRecentLimit(t *testing.T) {
	j := openJournal(t)

	for i := 0; i < 3; i++ {
		res := &runner.RunResult{
			RunID: "run",
			Cases: []runner.CaseResult{{Scenario: "s", Case: "c", Kind: "wasm", Pass: true}},
		}
		require.NoError(t, j.Record(res))
	}

	entries, err := j.Recent(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Record(&runner.RunResult{
		RunID: "run-1",
		Cases: []runner.CaseResult{{Scenario: "s", Case: "c", Kind: "wasm", Pass: true}},
	}))
	require.NoError(t, j1.Close())

	j2, err := journal.Open(path)
	require.NoError(t, err)
	defer j2.Close()

	entries, err := j2.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
