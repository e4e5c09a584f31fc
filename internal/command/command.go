// Package command decodes inbound robot commands into a validated tagged union and
// applies them to the robot state.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Kind names the command variants understood by the interpreter.
type Kind string

const (
	KindMove       Kind = "move"
	KindRotate     Kind = "rotate"
	KindStop       Kind = "stop"
	KindGetSensors Kind = "getSensors"
)

const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
	DirectionLeft     = "left"
	DirectionRight    = "right"

	// DefaultDistance is used when a move omits its distance.
	DefaultDistance = 100.0
	// DefaultAngle is used when a rotate omits its angle, in degrees.
	DefaultAngle = 90.0
)

var (
	// ErrUnknownCommand matches every UnknownCommandError.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidPayload flags payload values the interpreter cannot act on.
	ErrInvalidPayload = errors.New("invalid command payload")
	// ErrEmptyCommand is returned when a frame carries no bytes.
	ErrEmptyCommand = errors.New("empty command frame")
)

// UnknownCommandError names a command type the interpreter does not recognise.
type UnknownCommandError struct {
	Kind string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("Unknown command type: %s", e.Kind)
}

// Is lets errors.Is match ErrUnknownCommand.
func (e *UnknownCommandError) Is(target error) bool {
	return target == ErrUnknownCommand
}

// Payload is the loosely typed wire payload. Pointer fields distinguish omitted values
// from explicit zeroes.
type Payload struct {
	Direction *string  `json:"direction,omitempty"`
	Distance  *float64 `json:"distance,omitempty"`
	Angle     *float64 `json:"angle,omitempty"`
	Reset     bool     `json:"reset,omitempty"`
}

// Wire is the JSON layout of an inbound command frame.
type Wire struct {
	Type    string   `json:"type"`
	Payload *Payload `json:"payload,omitempty"`
	ID      string   `json:"id"`
}

// MoveParams carries the resolved arguments of a move command.
type MoveParams struct {
	Direction string  `json:"direction"`
	Distance  float64 `json:"distance"`
	Reset     bool    `json:"reset,omitempty"`
}

// RotateParams carries the resolved arguments of a rotate command. Angle is in degrees.
type RotateParams struct {
	Direction string  `json:"direction"`
	Angle     float64 `json:"angle"`
}

// Command is the validated tagged union handed to the interpreter. Exactly the member
// matching Kind is populated.
type Command struct {
	ID     string        `json:"id"`
	Kind   Kind          `json:"type"`
	Move   *MoveParams   `json:"move,omitempty"`
	Rotate *RotateParams `json:"rotate,omitempty"`
}

// Move builds a move command with explicit arguments.
func Move(direction string, distance float64) Command {
	return Command{ID: uuid.NewString(), Kind: KindMove, Move: &MoveParams{Direction: direction, Distance: distance}}
}

// Reset builds the move variant that returns the robot to the origin.
func Reset() Command {
	return Command{ID: uuid.NewString(), Kind: KindMove, Move: &MoveParams{Direction: DirectionForward, Distance: DefaultDistance, Reset: true}}
}

// Rotate builds a rotate command with explicit arguments.
func Rotate(direction string, angle float64) Command {
	return Command{ID: uuid.NewString(), Kind: KindRotate, Rotate: &RotateParams{Direction: direction, Angle: angle}}
}

// Stop builds a stop command.
func Stop() Command {
	return Command{ID: uuid.NewString(), Kind: KindStop}
}

// Decode parses a JSON command frame and resolves it into a Command.
func Decode(raw []byte) (Command, error) {
	//1.- Reject empty frames before JSON parsing so the error stays descriptive.
	if len(raw) == 0 {
		return Command{}, ErrEmptyCommand
	}
	var wire Wire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return Resolve(wire)
}

// Resolve applies the per-command defaults and validates the payload. Unknown types fail
// with an UnknownCommandError.
func Resolve(wire Wire) (Command, error) {
	id := strings.TrimSpace(wire.ID)
	if id == "" {
		id = uuid.NewString()
	}
	payload := wire.Payload
	if payload == nil {
		payload = &Payload{}
	}

	switch Kind(wire.Type) {
	case KindMove:
		//1.- Reset short-circuits every other argument.
		if payload.Reset {
			return Command{ID: id, Kind: KindMove, Move: &MoveParams{Direction: DirectionForward, Distance: DefaultDistance, Reset: true}}, nil
		}
		direction, err := resolveDirection(payload.Direction, DirectionForward, DirectionForward, DirectionBackward)
		if err != nil {
			return Command{}, err
		}
		distance, err := resolveMagnitude("distance", payload.Distance, DefaultDistance)
		if err != nil {
			return Command{}, err
		}
		return Command{ID: id, Kind: KindMove, Move: &MoveParams{Direction: direction, Distance: distance}}, nil
	case KindRotate:
		direction, err := resolveDirection(payload.Direction, DirectionLeft, DirectionLeft, DirectionRight)
		if err != nil {
			return Command{}, err
		}
		angle, err := resolveMagnitude("angle", payload.Angle, DefaultAngle)
		if err != nil {
			return Command{}, err
		}
		return Command{ID: id, Kind: KindRotate, Rotate: &RotateParams{Direction: direction, Angle: angle}}, nil
	case KindStop, KindGetSensors:
		return Command{ID: id, Kind: Kind(wire.Type)}, nil
	default:
		return Command{}, &UnknownCommandError{Kind: wire.Type}
	}
}

func resolveDirection(raw *string, fallback string, allowed ...string) (string, error) {
	if raw == nil {
		return fallback, nil
	}
	direction := strings.ToLower(strings.TrimSpace(*raw))
	if direction == "" {
		return fallback, nil
	}
	for _, candidate := range allowed {
		if direction == candidate {
			return direction, nil
		}
	}
	return "", fmt.Errorf("%w: direction %q must be one of %s", ErrInvalidPayload, *raw, strings.Join(allowed, ", "))
}

func resolveMagnitude(field string, raw *float64, fallback float64) (float64, error) {
	if raw == nil {
		return fallback, nil
	}
	value := *raw
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative number, got %v", ErrInvalidPayload, field, value)
	}
	return value, nil
}
