package command

import (
	"fmt"
	"math"

	"robolab/simserver/internal/robot"
)

const (
	// LinearSpeed is the fixed drive speed in arena units per second.
	LinearSpeed = 50.0
	// AngularSpeed is the fixed turn rate in radians per second.
	AngularSpeed = math.Pi
)

// Apply turns a command into velocity and in-flight command intent on state. It never
// moves the robot; displacement happens on the next kinematics tick. A failed command
// leaves state untouched.
func Apply(state *robot.State, cmd Command, nowMs int64) error {
	if state == nil {
		return fmt.Errorf("robot state is nil")
	}
	switch cmd.Kind {
	case KindMove:
		params := cmd.Move
		if params == nil {
			params = &MoveParams{Direction: DirectionForward, Distance: DefaultDistance}
		}
		if params.Reset {
			state.ResetPose()
			return nil
		}
		applyMove(state, *params, nowMs)
	case KindRotate:
		params := cmd.Rotate
		if params == nil {
			params = &RotateParams{Direction: DirectionLeft, Angle: DefaultAngle}
		}
		applyRotate(state, *params, nowMs)
	case KindStop:
		state.Halt()
	case KindGetSensors:
		// Sensors are refreshed on every tick.
	default:
		return &UnknownCommandError{Kind: string(cmd.Kind)}
	}
	return nil
}

func applyMove(state *robot.State, params MoveParams, nowMs int64) {
	//1.- Duration and velocity derive from the same speed but are tracked independently.
	state.CurrentCommand = &robot.CurrentCommand{
		Kind:        robot.MotionMove,
		Direction:   params.Direction,
		Magnitude:   params.Distance,
		DurationMs:  params.Distance / LinearSpeed * 1000,
		StartedAtMs: nowMs,
	}
	//2.- Drive along the current heading, reversed for backward moves.
	sign := 1.0
	if params.Direction != DirectionForward {
		sign = -1
	}
	heading := state.Position.Rotation
	state.Velocity.X = math.Cos(heading) * LinearSpeed * sign
	state.Velocity.Y = math.Sin(heading) * LinearSpeed * sign
	state.IsMoving = true
}

func applyRotate(state *robot.State, params RotateParams, nowMs int64) {
	target := params.Angle * math.Pi / 180
	state.CurrentCommand = &robot.CurrentCommand{
		Kind:        robot.MotionRotate,
		Direction:   params.Direction,
		Magnitude:   target,
		DurationMs:  target / AngularSpeed * 1000,
		StartedAtMs: nowMs,
	}
	//1.- Only the angular channel is driven; positive turns counter-clockwise.
	sign := 1.0
	if params.Direction != DirectionLeft {
		sign = -1
	}
	state.Velocity.Angular = AngularSpeed * sign
	state.IsMoving = true
}
