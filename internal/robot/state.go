// Package robot holds the simulated robot record mutated by the interpreter and the
// kinematics engine.
package robot

import "robolab/simserver/internal/arena"

const (
	// FullBattery is the charge level of a freshly created robot.
	FullBattery = 100.0
	// InitialUltrasonic is the range reported before the first tick samples the arena.
	InitialUltrasonic = 100.0
)

// Pose is the robot position plus heading. Rotation is kept in [0, 2π); Z is carried for
// clients but never integrated.
type Pose struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
}

// Velocity holds the linear components in arena units per second and the angular rate in
// radians per second.
type Velocity struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Angular float64 `json:"angular"`
}

// IsZero reports whether every channel is stopped.
func (v Velocity) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Angular == 0
}

// Gyroscope is the three-axis gyroscope reading in degrees.
type Gyroscope struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MotorRotation accumulates wheel rotation for both drive motors.
type MotorRotation struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// SensorReadings is the full sensor block published with every snapshot.
type SensorReadings struct {
	Ultrasonic    float64       `json:"ultrasonic"`
	Gyroscope     Gyroscope     `json:"gyroscope"`
	Touch         bool          `json:"touch"`
	Color         string        `json:"color"`
	MotorRotation MotorRotation `json:"motorRotation"`
}

// MotionKind identifies the timed directive currently driving the robot.
type MotionKind string

const (
	MotionMove   MotionKind = "move"
	MotionRotate MotionKind = "rotate"
)

// CurrentCommand is the single in-flight timed directive. Magnitude is a distance for
// moves and radians for rotations.
type CurrentCommand struct {
	Kind        MotionKind `json:"kind"`
	Direction   string     `json:"direction"`
	Magnitude   float64    `json:"magnitude"`
	DurationMs  float64    `json:"durationMs"`
	StartedAtMs int64      `json:"startedAtMs"`
}

// Expired reports whether the nominal duration has elapsed at nowMs.
func (c *CurrentCommand) Expired(nowMs int64) bool {
	if c == nil {
		return false
	}
	return float64(nowMs-c.StartedAtMs) >= c.DurationMs
}

// State is the live robot record. It has exactly one owner; everything else works on
// copies obtained through Snapshot.
type State struct {
	Position       Pose            `json:"position"`
	Velocity       Velocity        `json:"velocity"`
	Sensors        SensorReadings  `json:"sensors"`
	IsMoving       bool            `json:"isMoving"`
	Battery        float64         `json:"battery"`
	Timestamp      int64           `json:"timestamp"`
	CurrentCommand *CurrentCommand `json:"currentCommand,omitempty"`
}

// NewState creates a robot parked at the origin with a full battery.
func NewState(nowMs int64) *State {
	return &State{
		Sensors: SensorReadings{
			Ultrasonic: InitialUltrasonic,
			Color:      arena.NoColor,
		},
		Battery:   FullBattery,
		Timestamp: nowMs,
	}
}

// Halt zeroes every velocity channel, marks the robot idle and drops the in-flight
// command. It is idempotent.
func (s *State) Halt() {
	if s == nil {
		return
	}
	s.Velocity = Velocity{}
	s.IsMoving = false
	s.CurrentCommand = nil
}

// ResetPose returns the robot to the origin in place. Battery and sensors keep their
// values.
func (s *State) ResetPose() {
	if s == nil {
		return
	}
	s.Position = Pose{}
	s.Halt()
}

// Snapshot returns a deep copy of the record; mutating it never affects the live state.
func (s *State) Snapshot() State {
	if s == nil {
		return State{}
	}
	clone := *s
	if s.CurrentCommand != nil {
		command := *s.CurrentCommand
		clone.CurrentCommand = &command
	}
	return clone
}
