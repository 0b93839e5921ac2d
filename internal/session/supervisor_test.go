package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnAndWait(t *testing.T, script string) (*Process, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	proc, err := shellSupervisor(script, rec).Spawn("sess-1", "proj-1")
	require.NoError(t, err)

	proc.Supervise(nil)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, proc.Wait(ctx))
	return proc, rec
}

func TestSupervisor_SpawnMissingBinary(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{Command: "synapse-no-such-binary"}, nil, nil)
	proc, err := sup.Spawn("sess-1", "proj-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)
	assert.Nil(t, proc)
}

func TestSupervisor_RejectsFlagLikeProjectID(t *testing.T) {
	sup := shellSupervisor(`echo unreachable`, nil)
	for _, id := range []string{"", "-p", "--dangerously-skip-permissions"} {
		proc, err := sup.Spawn("sess-1", id)
		assert.ErrorIs(t, err, ErrInvalidProject, "id %q", id)
		assert.Nil(t, proc)
	}
}

func TestSupervisor_ProjectIDIsLastArgument(t *testing.T) {
	proc, _ := spawnAndWait(t, `echo "project=$1"`)
	lines := proc.Buffer().Snapshot()
	require.Len(t, lines, 1)
	assert.Equal(t, "project=proj-1", lines[0].Text)
	assert.Equal(t, SourceStdout, lines[0].Source)
}

func TestSupervisor_StreamOrderPreserved(t *testing.T) {
	proc, rec := spawnAndWait(t, `echo a; echo x >&2; echo b; echo y >&2; echo c`)

	lines := proc.Buffer().Snapshot()
	assert.Equal(t, []string{"a", "b", "c"}, outputTexts(lines, SourceStdout))
	assert.Equal(t, []string{"x", "y"}, outputTexts(lines, SourceStderr))

	var stdout []string
	for _, p := range rec.Topic(TopicSessionOutput) {
		ev := p.(OutputEvent)
		assert.Equal(t, "sess-1", ev.SessionID)
		assert.False(t, ev.Timestamp.IsZero())
		if ev.Source == SourceStdout {
			stdout = append(stdout, ev.Line)
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, stdout)
}

func TestSupervisor_StatusFromStdoutOnly(t *testing.T) {
	proc, rec := spawnAndWait(t, `echo "Calling tool: search" >&2; echo "hello"`)

	assert.Equal(t, StatusIdle, proc.Status())
	assert.Empty(t, rec.Topic(TopicSessionStateChanged))
	assert.Equal(t, 2, proc.Buffer().Len())
}

func TestSupervisor_StatusTransitions(t *testing.T) {
	script := `echo "Thinking..."; echo "Reading file: a.go"; echo "done"; echo "Continue? (y/n)"; echo "Processing"`
	proc, rec := spawnAndWait(t, script)

	var states []Status
	for _, p := range rec.Topic(TopicSessionStateChanged) {
		states = append(states, p.(StateChangedEvent).State)
	}
	// Repeated working lines and the idle line announce nothing.
	assert.Equal(t, []Status{StatusWorking, StatusWaiting, StatusWorking}, states)
	assert.Equal(t, StatusWorking, proc.Status())
}

func TestSupervisor_CompletionExitCode(t *testing.T) {
	proc, rec := spawnAndWait(t, `echo bye; exit 3`)

	exited, code := proc.Exited()
	assert.True(t, exited)
	assert.Equal(t, 3, code)

	completed := rec.Topic(TopicSessionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, CompletedEvent{SessionID: "sess-1", ExitCode: 3}, completed[0])

	assert.ErrorIs(t, proc.Write("late"), ErrChannelClosed)
}

func TestSupervisor_InputEchoedInOrder(t *testing.T) {
	rec := &Recorder{}
	proc, err := shellSupervisor(`exec cat`, rec).Spawn("sess-1", "proj-1")
	require.NoError(t, err)
	proc.Supervise(nil)

	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, proc.Write(s))
	}

	require.Eventually(t, func() bool { return proc.Buffer().Len() == 3 }, waitFor, tick)
	assert.Equal(t, []string{"one", "two", "three"}, outputTexts(proc.Buffer().Snapshot(), SourceStdout))

	proc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, proc.Wait(ctx))

	exited, _ := proc.Exited()
	assert.True(t, exited)
	assert.ErrorIs(t, proc.Write("after stop"), ErrChannelClosed)
}

func TestSupervisor_StopKillsStubbornProcess(t *testing.T) {
	proc, err := shellSupervisor(`trap "" INT; while :; do sleep 1; done`, nil).Spawn("sess-1", "proj-1")
	require.NoError(t, err)
	proc.Supervise(nil)

	proc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, proc.Wait(ctx))

	exited, _ := proc.Exited()
	assert.True(t, exited)
}

func TestSupervisor_CustomClassifier(t *testing.T) {
	rec := &Recorder{}
	sup := NewSupervisor(SupervisorConfig{
		Command:    "/bin/sh",
		Args:       []string{"-c", `echo anything`, "sh"},
		Classifier: func(string) Status { return StatusWaiting },
	}, rec, nil)

	proc, err := sup.Spawn("sess-1", "proj-1")
	require.NoError(t, err)
	proc.Supervise(nil)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, proc.Wait(ctx))
	assert.Equal(t, StatusWaiting, proc.Status())
}

func TestSupervisor_CompletesWhileDescendantHoldsOutput(t *testing.T) {
	rec := &Recorder{}
	proc, err := shellSupervisor(`sleep 5 & echo started; exit 0`, rec).Spawn("sess-1", "proj-1")
	require.NoError(t, err)
	proc.Supervise(nil)

	// The background sleep keeps both pipes open well past this deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, proc.Wait(ctx))

	exited, code := proc.Exited()
	assert.True(t, exited)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"started"}, outputTexts(proc.Buffer().Snapshot(), SourceStdout))
	assert.Len(t, rec.Topic(TopicSessionCompleted), 1)
}

func TestSupervisor_InputPumpStopsOnWriteFailure(t *testing.T) {
	proc, err := shellSupervisor(`exec 0<&-; exec sleep 30`, nil).Spawn("sess-1", "proj-1")
	require.NoError(t, err)
	proc.Supervise(nil)
	t.Cleanup(func() {
		proc.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, proc.Wait(ctx))
	})

	// Writes are accepted until one reaches the closed stdin.
	require.Eventually(t, func() bool {
		return errors.Is(proc.Write("ping"), ErrChannelClosed)
	}, waitFor, tick)

	exited, _ := proc.Exited()
	assert.False(t, exited, "child must still be running")
	assert.ErrorIs(t, proc.Write("again"), ErrChannelClosed)
}
