package replayplayer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robolab/simserver/internal/arena"
	"robolab/simserver/internal/command"
	"robolab/simserver/internal/replay"
	"robolab/simserver/internal/robot"
)

func TestSummariseRecordedSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(100 * time.Millisecond)
		return now
	}
	writer, _, err := replay.NewWriter(t.TempDir(), "class-a", clock)
	require.NoError(t, err)
	writer.SetHeaderMetadata(9, arena.Default())
	recorder := replay.NewRecorder(writer, nil)

	state := robot.NewState(0)
	recorder.RecordCommand(command.Move(command.DirectionForward, 100), nil, 0)
	for tick := uint64(1); tick <= 3; tick++ {
		state.Position.X += 3
		state.Position.Y += 4
		state.Battery -= 0.01
		state.Timestamp = int64(tick) * 100
		state.Sensors.Touch = tick == 3
		recorder.RecordFrame(tick, state.Snapshot())
	}
	recorder.RecordCommand(command.Command{Kind: "jump"}, &command.UnknownCommandError{Kind: "jump"}, 300)
	recorder.RecordCommand(command.Stop(), nil, 300)
	require.NoError(t, recorder.Close())

	summary, err := Summarise(writer.Directory())
	require.NoError(t, err)

	assert.Equal(t, "class-a", summary.SessionID)
	require.NotNil(t, summary.RandomSeed)
	assert.EqualValues(t, 9, *summary.RandomSeed)
	assert.Equal(t, 3, summary.Frames)
	assert.EqualValues(t, 1, summary.FirstTick)
	assert.EqualValues(t, 3, summary.LastTick)
	assert.EqualValues(t, 200, summary.DurationMs)
	assert.Equal(t, 3, summary.Commands)
	assert.Equal(t, 1, summary.FailedCommands)
	assert.Equal(t, map[string]int{"move": 1, "jump": 1, "stop": 1}, summary.CommandsByType)
	assert.InDelta(t, 10, summary.Distance, 1e-9)
	assert.InDelta(t, 0.02, summary.BatteryUsed, 1e-9)
	assert.Equal(t, 1, summary.TouchFrames)
	require.NotNil(t, summary.Final)
	assert.InDelta(t, 9, summary.Final.Position.X, 1e-9)
}

func TestSummariseEmptyBundle(t *testing.T) {
	summary, err := SummariseBundle(&replay.Bundle{})
	require.NoError(t, err)
	assert.Zero(t, summary.Frames)
	assert.Nil(t, summary.Final)

	_, err = SummariseBundle(nil)
	assert.Error(t, err)
}
