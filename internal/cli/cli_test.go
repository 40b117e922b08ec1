package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strategos-sim/strategos/internal/sim"
	"github.com/strategos-sim/strategos/internal/simerr"
	"github.com/strategos-sim/strategos/internal/store"
	"github.com/strategos-sim/strategos/internal/testutil"
)

// seedDatabase builds a small log: unit.created at t=1, unit.moved at
// t=5 plus a checkpoint there, unit.created at t=9.
func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "war.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	s, err := sim.New(ctx, st, 1.0,
		sim.WithWallClock(testutil.NewManualWallClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))),
	)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Start(ctx))
	tickTo := func(target float64) {
		now := s.Status().SimTime
		_, err := s.Tick(ctx, target-now)
		require.NoError(t, err)
	}

	tickTo(1.0)
	_, err = s.EmitEvent(ctx, "unit.created", map[string]any{"unit": "a"})
	require.NoError(t, err)
	tickTo(5.0)
	_, err = s.EmitEvent(ctx, "unit.moved", map[string]any{"unit": "a"})
	require.NoError(t, err)
	_, err = s.Checkpoint(ctx)
	require.NoError(t, err)
	tickTo(9.0)
	_, err = s.EmitEvent(ctx, "unit.created", map[string]any{"unit": "b"})
	require.NoError(t, err)

	return path
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestEventsCommandRangeAndTypeFilter(t *testing.T) {
	db := seedDatabase(t)

	out, err := executeCommand(t,
		"events", "--db", db, "--from", "0", "--to", "5.0", "--type", "unit.created")
	require.NoError(t, err)
	assert.Contains(t, out, "t=1")
	assert.Contains(t, out, "unit.created")
	assert.Contains(t, out, "1 event(s)")
	assert.NotContains(t, out, "unit.moved")
}

func TestEventsCommandJSON(t *testing.T) {
	db := seedDatabase(t)

	out, err := executeCommand(t, "events", "--db", db, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	rows, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, rows, 4, "simulation.started + 3 unit events")
}

func TestEventsCommandEmptyRange(t *testing.T) {
	db := seedDatabase(t)

	out, err := executeCommand(t, "events", "--db", db, "--from", "50", "--to", "60")
	require.NoError(t, err)
	assert.Contains(t, out, "No events in range.")
}

func TestCheckpointsCommandLists(t *testing.T) {
	db := seedDatabase(t)

	out, err := executeCommand(t, "checkpoints", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "t=5")
	assert.Contains(t, out, "1 checkpoint(s)")
}

func TestReplayCommandVerifiesCheckpoint(t *testing.T) {
	db := seedDatabase(t)

	out, err := executeCommand(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 4 event(s)")
	assert.Contains(t, out, "verified")
}

func TestReplayCommandDetectsDivergence(t *testing.T) {
	db := seedDatabase(t)

	// Corrupt the stored snapshot hash so the rebuilt state cannot match.
	st, err := store.Open(db)
	require.NoError(t, err)
	cp, ok, err := st.LatestCheckpoint(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	cp.StateHash = strings.Repeat("0", len(cp.StateHash))
	require.NoError(t, st.SaveCheckpoint(context.Background(), cp))
	require.NoError(t, st.Close())

	out, err := executeCommand(t, "replay", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "MISMATCH")
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := executeCommand(t, "events", "--db", "ignored.db", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMissingDatabaseIsCommandError(t *testing.T) {
	// A directory path cannot be opened as a SQLite file.
	_, err := executeCommand(t, "checkpoints", "--db", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadRunConfigFlagOverrides(t *testing.T) {
	opts := &RunOptions{
		RootOptions: &RootOptions{},
		Database:    "/tmp/override.db",
		TimeScale:   8.0,
	}
	cfg, err := loadRunConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.DatabasePath)
	assert.Equal(t, 8.0, cfg.TimeScale)
	assert.Equal(t, 100, cfg.CheckpointEveryEvents, "defaults survive overrides")
}

func TestOutputFormatterErrorCarriesTaxonomyCode(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	err := simerr.New(simerr.CodeSeekOutOfRange, "seek target -1 is before genesis")
	require.NoError(t, f.Error(err, "seek failed"))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SEEK_OUT_OF_RANGE", resp.Error.Code)
	assert.Equal(t, "seek failed", resp.Error.Message)
}

func TestOutputFormatterErrorTextFallsBackToInternal(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf, Verbose: true}

	require.NoError(t, f.Error(errors.New("disk on fire"), "write failed"))
	out := buf.String()
	assert.Contains(t, out, "Error [INTERNAL]: write failed")
	assert.Contains(t, out, "disk on fire")
}

func TestOutputFormatterVerboseLogRouting(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}
	f.VerboseLog("replayed %d events", 4)
	assert.Empty(t, out.String(), "diagnostics must not pollute the JSON stream")
	assert.Contains(t, errOut.String(), "replayed 4 events")

	quiet := &OutputFormatter{Format: "text", Writer: &out, Verbose: false}
	quiet.VerboseLog("should not appear")
	assert.Empty(t, out.String())
}
