// Package replayplayer summarises recorded simulation sessions.
package replayplayer

import (
	"fmt"
	"math"

	"robolab/simserver/internal/replay"
	"robolab/simserver/internal/robot"
)

// Summary condenses a replay bundle into the figures an instructor looks at first.
type Summary struct {
	SessionID      string         `json:"sessionId"`
	CreatedAt      string         `json:"createdAt"`
	RandomSeed     *int64         `json:"randomSeed,omitempty"`
	Frames         int            `json:"frames"`
	FirstTick      uint64         `json:"firstTick"`
	LastTick       uint64         `json:"lastTick"`
	DurationMs     int64          `json:"durationMs"`
	Commands       int            `json:"commands"`
	FailedCommands int            `json:"failedCommands"`
	CommandsByType map[string]int `json:"commandsByType"`
	Distance       float64        `json:"distance"`
	BatteryUsed    float64        `json:"batteryUsed"`
	TouchFrames    int            `json:"touchFrames"`
	Final          *robot.State   `json:"final,omitempty"`
}

// Summarise loads the bundle at path and summarises it.
func Summarise(path string) (Summary, error) {
	bundle, err := replay.ReadBundle(path)
	if err != nil {
		return Summary{}, err
	}
	return SummariseBundle(bundle)
}

// SummariseBundle walks every event and frame of bundle.
func SummariseBundle(bundle *replay.Bundle) (Summary, error) {
	if bundle == nil {
		return Summary{}, fmt.Errorf("bundle is nil")
	}
	summary := Summary{
		SessionID:      bundle.Manifest.SessionID,
		CreatedAt:      bundle.Manifest.CreatedAt,
		Frames:         len(bundle.Frames),
		CommandsByType: make(map[string]int),
	}
	if bundle.Header != nil {
		seed := bundle.Header.RandomSeed
		summary.RandomSeed = &seed
	}

	//1.- Tally commands, including the ones the interpreter rejected.
	for _, event := range bundle.Events {
		if event.Type != replay.EventCommand {
			continue
		}
		decoded, err := event.Command()
		if err != nil {
			return Summary{}, fmt.Errorf("decode command event at tick %d: %w", event.Tick, err)
		}
		summary.Commands++
		summary.CommandsByType[string(decoded.Command.Kind)]++
		if decoded.Error != "" {
			summary.FailedCommands++
		}
	}

	//2.- Integrate path length and battery use from consecutive frames.
	var previous *robot.State
	for i, frame := range bundle.Frames {
		state, err := frame.State()
		if err != nil {
			return Summary{}, fmt.Errorf("decode frame %d: %w", frame.Tick, err)
		}
		if i == 0 {
			summary.FirstTick = frame.Tick
		}
		summary.LastTick = frame.Tick
		if state.Sensors.Touch {
			summary.TouchFrames++
		}
		if previous != nil {
			summary.Distance += math.Hypot(state.Position.X-previous.Position.X, state.Position.Y-previous.Position.Y)
			summary.BatteryUsed += math.Max(0, previous.Battery-state.Battery)
			summary.DurationMs += state.Timestamp - previous.Timestamp
		}
		current := state
		previous = &current
	}
	summary.Final = previous
	return summary, nil
}
