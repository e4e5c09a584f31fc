// Package physics advances the robot state by one fixed kinematics step.
package physics

import (
	"math"

	"robolab/simserver/internal/arena"
	"robolab/simserver/internal/robot"
)

const (
	// DefaultStepSeconds is the logical timestep of one tick.
	DefaultStepSeconds = 0.1
	// BatteryDrainPerTick is removed from the battery on every tick spent moving.
	BatteryDrainPerTick = 0.01
	// wheelRotationFactor converts travelled speed into accumulated wheel rotation.
	wheelRotationFactor = 2.0
)

// Sampler recomputes the derived sensor readings for a pose.
type Sampler interface {
	Sample(pose robot.Pose, env *arena.Environment) robot.SensorReadings
}

// NormalizeAngle wraps radians into [0, 2π).
func NormalizeAngle(angle float64) float64 {
	//1.- Use math.Mod to keep values bounded across many integration steps.
	wrapped := math.Mod(angle, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	//2.- Adding 2π to a tiny negative remainder can round up to exactly 2π.
	if wrapped >= 2*math.Pi {
		wrapped = 0
	}
	return wrapped
}

// Integrate applies the current velocity over step seconds and normalises the heading.
func Integrate(state *robot.State, step float64) {
	if state == nil || step <= 0 {
		return
	}
	state.Position.X += state.Velocity.X * step
	state.Position.Y += state.Velocity.Y * step
	state.Position.Rotation = NormalizeAngle(state.Position.Rotation + state.Velocity.Angular*step)
}

// Tick runs one kinematics step: integrate, retire an expired command, accumulate wheel
// rotation and battery drain, resample sensors and stamp the time. Expiry compares elapsed
// time with the nominal duration, not travelled distance.
func Tick(state *robot.State, env *arena.Environment, nowMs int64, step float64, sampler Sampler) {
	if state == nil {
		return
	}
	if step <= 0 {
		step = DefaultStepSeconds
	}

	//1.- Advance the pose with the velocity set by the interpreter.
	Integrate(state, step)

	//2.- Retire the in-flight command once its nominal duration elapsed.
	if state.CurrentCommand.Expired(nowMs) {
		state.Halt()
	}

	//3.- Both wheels are driven identically; no differential steering is modelled.
	if state.IsMoving {
		speed := math.Hypot(state.Velocity.X, state.Velocity.Y)
		state.Sensors.MotorRotation.Left += speed * step * wheelRotationFactor
		state.Sensors.MotorRotation.Right += speed * step * wheelRotationFactor
	}

	//4.- Drain the battery while moving, never below empty.
	if state.IsMoving {
		state.Battery = math.Max(0, state.Battery-BatteryDrainPerTick)
	}

	//5.- Resample the pose derived sensors, carrying the motor counters across.
	if sampler != nil {
		readings := sampler.Sample(state.Position, env)
		readings.MotorRotation = state.Sensors.MotorRotation
		state.Sensors = readings
	}

	state.Timestamp = nowMs
}
