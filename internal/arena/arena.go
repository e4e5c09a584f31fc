// Package arena describes the static environment the robot drives in.
package arena

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"robolab/simserver/internal/geometry"
)

// NoColor is reported by the color sensor when the robot is outside every colored area.
const NoColor = "#ffffff"

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Wall is a solid axis-aligned block that bounds or partitions the arena.
type Wall struct {
	CenterX float64 `json:"x" yaml:"x"`
	CenterY float64 `json:"y" yaml:"y"`
	Width   float64 `json:"width" yaml:"width"`
	Height  float64 `json:"height" yaml:"height"`
}

// Rect exposes the wall footprint for geometry queries.
func (w Wall) Rect() geometry.Rect {
	return geometry.Rect{CenterX: w.CenterX, CenterY: w.CenterY, Width: w.Width, Height: w.Height}
}

// ColoredArea is a floor patch detected by the color sensor.
type ColoredArea struct {
	CenterX float64 `json:"x" yaml:"x"`
	CenterY float64 `json:"y" yaml:"y"`
	Width   float64 `json:"width" yaml:"width"`
	Height  float64 `json:"height" yaml:"height"`
	Color   string  `json:"color" yaml:"color"`
}

// Rect exposes the area footprint for geometry queries.
func (a ColoredArea) Rect() geometry.Rect {
	return geometry.Rect{CenterX: a.CenterX, CenterY: a.CenterY, Width: a.Width, Height: a.Height}
}

// Obstacle is a round object placed in the arena.
type Obstacle struct {
	CenterX float64 `json:"x" yaml:"x"`
	CenterY float64 `json:"y" yaml:"y"`
	Radius  float64 `json:"radius" yaml:"radius"`
}

// Circle exposes the obstacle footprint for geometry queries.
func (o Obstacle) Circle() geometry.Circle {
	return geometry.Circle{CenterX: o.CenterX, CenterY: o.CenterY, Radius: o.Radius}
}

// Environment is the immutable arena description. Order of every list is significant:
// colored areas are matched first-wins.
type Environment struct {
	Walls        []Wall        `json:"walls" yaml:"walls"`
	ColoredAreas []ColoredArea `json:"coloredAreas" yaml:"coloredAreas"`
	Obstacles    []Obstacle    `json:"obstacles" yaml:"obstacles"`
}

// Default returns the classroom arena: a 400x300 enclosure, three colored pads and two
// round obstacles.
func Default() *Environment {
	return &Environment{
		Walls: []Wall{
			{CenterX: -200, CenterY: -150, Width: 400, Height: 20},
			{CenterX: -200, CenterY: 150, Width: 400, Height: 20},
			{CenterX: -200, CenterY: 0, Width: 20, Height: 300},
			{CenterX: 200, CenterY: 0, Width: 20, Height: 300},
		},
		ColoredAreas: []ColoredArea{
			{CenterX: -100, CenterY: -50, Width: 80, Height: 80, Color: "#ff0000"},
			{CenterX: 100, CenterY: 50, Width: 60, Height: 60, Color: "#00ff00"},
			{CenterX: 0, CenterY: 0, Width: 40, Height: 40, Color: "#0000ff"},
		},
		Obstacles: []Obstacle{
			{CenterX: -50, CenterY: 80, Radius: 25},
			{CenterX: 80, CenterY: -80, Radius: 30},
		},
	}
}

// Load reads an arena description from a YAML file.
func Load(path string) (*Environment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("arena path must be provided")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read arena: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML arena document.
func Parse(data []byte) (*Environment, error) {
	var env Environment
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode arena: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate rejects geometry that would make sensor readings non-finite.
func (e *Environment) Validate() error {
	if e == nil {
		return errors.New("arena is nil")
	}
	var problems []string
	for i, wall := range e.Walls {
		if !finite(wall.CenterX, wall.CenterY, wall.Width, wall.Height) || wall.Width < 0 || wall.Height < 0 {
			problems = append(problems, fmt.Sprintf("wall %d has invalid geometry", i))
		}
	}
	for i, area := range e.ColoredAreas {
		if !finite(area.CenterX, area.CenterY, area.Width, area.Height) || area.Width < 0 || area.Height < 0 {
			problems = append(problems, fmt.Sprintf("colored area %d has invalid geometry", i))
		}
		if !hexColor.MatchString(area.Color) {
			problems = append(problems, fmt.Sprintf("colored area %d color %q is not #rrggbb", i, area.Color))
		}
	}
	for i, obstacle := range e.Obstacles {
		if !finite(obstacle.CenterX, obstacle.CenterY, obstacle.Radius) || obstacle.Radius < 0 {
			problems = append(problems, fmt.Sprintf("obstacle %d has invalid geometry", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid arena: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Clone returns a deep copy so callers can never mutate the live environment.
func (e *Environment) Clone() *Environment {
	if e == nil {
		return nil
	}
	return &Environment{
		Walls:        append([]Wall(nil), e.Walls...),
		ColoredAreas: append([]ColoredArea(nil), e.ColoredAreas...),
		Obstacles:    append([]Obstacle(nil), e.Obstacles...),
	}
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
