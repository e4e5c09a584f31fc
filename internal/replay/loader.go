package replay

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const (
	// EntryFrame marks timeline entries holding a state frame.
	EntryFrame = "frame"
)

// TimelineEntry represents a single replay datum ready for deterministic iteration.
type TimelineEntry struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Type        string
	Payload     json.RawMessage
}

// Loader orders a bundle's events and frames into one timeline.
type Loader struct {
	bundle  *Bundle
	entries []TimelineEntry
}

// Load reads the bundle at path and builds its timeline.
func Load(path string) (*Loader, error) {
	bundle, err := ReadBundle(path)
	if err != nil {
		return nil, err
	}
	return NewLoader(bundle), nil
}

// NewLoader builds the timeline of an already loaded bundle. Entries are ordered by
// simulated time; at equal times commands precede the frame they influenced.
func NewLoader(bundle *Bundle) *Loader {
	if bundle == nil {
		return &Loader{}
	}
	entries := make([]TimelineEntry, 0, len(bundle.Events)+len(bundle.Frames))
	for _, event := range bundle.Events {
		entries = append(entries, TimelineEntry{
			Tick:        event.Tick,
			SimulatedMs: event.SimulatedMs,
			CapturedAt:  event.CapturedAt,
			Type:        event.Type,
			Payload:     event.Payload,
		})
	}
	for _, frame := range bundle.Frames {
		entries = append(entries, TimelineEntry{
			Tick:        frame.Tick,
			SimulatedMs: frame.SimulatedMs,
			CapturedAt:  frame.CapturedAt,
			Type:        EntryFrame,
			Payload:     frame.Payload,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].SimulatedMs != entries[j].SimulatedMs {
			return entries[i].SimulatedMs < entries[j].SimulatedMs
		}
		return entries[i].Type != EntryFrame && entries[j].Type == EntryFrame
	})
	return &Loader{bundle: bundle, entries: entries}
}

// Bundle returns the loaded bundle.
func (l *Loader) Bundle() *Bundle {
	if l == nil {
		return nil
	}
	return l.bundle
}

// Replay iterates over the loaded entries in deterministic order.
func (l *Loader) Replay(apply func(TimelineEntry) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range l.entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries exposes a copy of the timeline for external assertions.
func (l *Loader) Entries() []TimelineEntry {
	if l == nil {
		return nil
	}
	out := make([]TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
