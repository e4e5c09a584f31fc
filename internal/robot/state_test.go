package robot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateDefaults(t *testing.T) {
	state := NewState(42)
	assert.Equal(t, Pose{}, state.Position)
	assert.True(t, state.Velocity.IsZero())
	assert.Equal(t, FullBattery, state.Battery)
	assert.Equal(t, "#ffffff", state.Sensors.Color)
	assert.Equal(t, int64(42), state.Timestamp)
	assert.Nil(t, state.CurrentCommand)
}

func TestHaltIsIdempotent(t *testing.T) {
	state := NewState(0)
	state.Velocity = Velocity{X: 50, Angular: 1}
	state.IsMoving = true
	state.CurrentCommand = &CurrentCommand{Kind: MotionMove}
	for i := 0; i < 2; i++ {
		state.Halt()
		assert.True(t, state.Velocity.IsZero())
		assert.False(t, state.IsMoving)
		assert.Nil(t, state.CurrentCommand)
	}
}

func TestResetPoseKeepsBatteryAndSensors(t *testing.T) {
	state := NewState(0)
	state.Position = Pose{X: 10, Y: -4, Rotation: 1}
	state.Battery = 73
	state.Sensors.Touch = true
	state.ResetPose()
	assert.Equal(t, Pose{}, state.Position)
	assert.Equal(t, 73.0, state.Battery)
	assert.True(t, state.Sensors.Touch)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	state := NewState(0)
	state.CurrentCommand = &CurrentCommand{Kind: MotionRotate, DurationMs: 500}
	snap := state.Snapshot()
	snap.Position.X = 99
	snap.CurrentCommand.DurationMs = 1
	assert.Equal(t, 0.0, state.Position.X)
	require.NotNil(t, state.CurrentCommand)
	assert.Equal(t, 500.0, state.CurrentCommand.DurationMs)
}

func TestCurrentCommandExpired(t *testing.T) {
	command := &CurrentCommand{DurationMs: 2000, StartedAtMs: 1000}
	assert.False(t, command.Expired(2999))
	assert.True(t, command.Expired(3000))
	var none *CurrentCommand
	assert.False(t, none.Expired(10))
}
