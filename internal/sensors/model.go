// Package sensors derives the robot's virtual sensor readings from its pose and the arena.
package sensors

import (
	"math"
	"math/rand"

	"robolab/simserver/internal/arena"
	"robolab/simserver/internal/geometry"
	"robolab/simserver/internal/robot"
)

const (
	// MaxUltrasonicRange is the reading reported when nothing is within range.
	MaxUltrasonicRange = 300.0
	// MinUltrasonicRange is the closest distance the ranging sensor can resolve.
	MinUltrasonicRange = 5.0
	// BodyHalfSize is the half extent of the robot's square collision footprint.
	BodyHalfSize = 15.0

	gyroAxisNoise    = 1.0
	gyroHeadingNoise = 2.5
)

// RandomSource yields uniform samples in [0, 1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// Model samples sensors for a pose. Calls must be serialised by the owner of the robot
// state because the random source is not goroutine safe.
type Model struct {
	random RandomSource
}

// NewModel wires the model to the provided noise source, falling back to a generator
// seeded with seed when random is nil.
func NewModel(random RandomSource, seed int64) *Model {
	if random == nil {
		random = rand.New(rand.NewSource(seed))
	}
	return &Model{random: random}
}

// Sample computes every derived reading. Motor rotation is not pose derived and is left
// zero; the kinematics engine carries it across samples.
func (m *Model) Sample(pose robot.Pose, env *arena.Environment) robot.SensorReadings {
	return robot.SensorReadings{
		Ultrasonic: Ultrasonic(pose, env),
		Gyroscope:  m.Gyroscope(pose),
		Touch:      Touch(pose, env),
		Color:      Color(pose, env),
	}
}

// Ultrasonic returns the clear distance to the nearest wall or obstacle surface, clamped
// to the sensor range.
func Ultrasonic(pose robot.Pose, env *arena.Environment) float64 {
	nearest := MaxUltrasonicRange
	if env == nil {
		return nearest
	}
	//1.- Walls contribute their box distance, which is zero while the robot is inside one.
	for _, wall := range env.Walls {
		if distance := geometry.PointToRectDistance(pose.X, pose.Y, wall.Rect()); distance < nearest {
			nearest = distance
		}
	}
	//2.- Obstacles only count while the robot centre is outside their surface.
	for _, obstacle := range env.Obstacles {
		distance := geometry.Distance(pose.X, pose.Y, obstacle.CenterX, obstacle.CenterY) - obstacle.Radius
		if distance > 0 && distance < nearest {
			nearest = distance
		}
	}
	return math.Max(MinUltrasonicRange, nearest)
}

// Gyroscope reports the heading in degrees with bounded noise on every axis.
func (m *Model) Gyroscope(pose robot.Pose) robot.Gyroscope {
	return robot.Gyroscope{
		X: m.noise(gyroAxisNoise),
		Y: m.noise(gyroAxisNoise),
		Z: pose.Rotation*180/math.Pi + m.noise(gyroHeadingNoise),
	}
}

// noise returns a uniform sample in [-amplitude, amplitude).
func (m *Model) noise(amplitude float64) float64 {
	return (m.random.Float64() - 0.5) * 2 * amplitude
}

// Color returns the color of the first area containing the robot centre.
func Color(pose robot.Pose, env *arena.Environment) string {
	if env == nil {
		return arena.NoColor
	}
	for _, area := range env.ColoredAreas {
		if geometry.PointInRect(pose.X, pose.Y, area.Rect()) {
			return area.Color
		}
	}
	return arena.NoColor
}

// Touch reports contact between the robot footprint and any wall or obstacle. It is
// advisory and never alters motion.
func Touch(pose robot.Pose, env *arena.Environment) bool {
	if env == nil {
		return false
	}
	footprint := geometry.Square(pose.X, pose.Y, BodyHalfSize)
	for _, wall := range env.Walls {
		if geometry.RectsOverlap(footprint, wall.Rect()) {
			return true
		}
	}
	body := geometry.Circle{CenterX: pose.X, CenterY: pose.Y, Radius: BodyHalfSize}
	for _, obstacle := range env.Obstacles {
		if geometry.CirclesOverlap(body, obstacle.Circle()) {
			return true
		}
	}
	return false
}
