// Package events defines the websocket envelopes exchanged with simulator clients and
// the log events reported back to them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Envelope types carried over the websocket.
const (
	TypeRobotState   = "robotState"
	TypeLog          = "log"
	TypeRobotCommand = "robotCommand"
)

// Level is the severity of a client-facing log event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ConnectedMessage greets every client on attach.
const ConnectedMessage = "Connected to robot simulation server"

// ErrMissingType is returned for envelopes without a type.
var ErrMissingType = errors.New("envelope type is required")

// Envelope wraps every websocket frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload into an envelope frame.
func Encode(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return json.Marshal(Envelope{Type: kind, Data: data})
}

// Decode parses an inbound frame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(env.Type) == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// LogEvent is a client-facing diagnostic. Timestamp is Unix milliseconds.
type LogEvent struct {
	Timestamp int64  `json:"timestamp"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
}

// CommandFailure is the data attached to a failed command log event.
type CommandFailure struct {
	Command json.RawMessage `json:"command"`
	Error   string          `json:"error"`
}

// Connected builds the greeting sent to a freshly attached client.
func Connected(now time.Time) LogEvent {
	return LogEvent{Timestamp: now.UnixMilli(), Level: LevelInfo, Message: ConnectedMessage}
}

// CommandExecuted acknowledges a command; data echoes the frame as received.
func CommandExecuted(now time.Time, kind string, frame json.RawMessage) LogEvent {
	return LogEvent{
		Timestamp: now.UnixMilli(),
		Level:     LevelInfo,
		Message:   "Command executed: " + kind,
		Data:      rawOrNil(frame),
	}
}

// CommandFailed reports a command the simulator refused.
func CommandFailed(now time.Time, frame json.RawMessage, err error) LogEvent {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	command := rawOrNil(frame)
	if command == nil {
		command = json.RawMessage("null")
	}
	return LogEvent{
		Timestamp: now.UnixMilli(),
		Level:     LevelError,
		Message:   "Command failed: " + reason,
		Data:      CommandFailure{Command: command, Error: reason},
	}
}

func rawOrNil(frame json.RawMessage) json.RawMessage {
	if len(frame) == 0 || !json.Valid(frame) {
		return nil
	}
	return frame
}

// Journal retains the most recent log events for diagnostics.
type Journal struct {
	mu     sync.Mutex
	events []LogEvent
	next   int
	full   bool
}

// NewJournal keeps up to capacity events; capacity below one is raised to one.
func NewJournal(capacity int) *Journal {
	if capacity < 1 {
		capacity = 1
	}
	return &Journal{events: make([]LogEvent, capacity)}
}

// Append stores event, evicting the oldest when full.
func (j *Journal) Append(event LogEvent) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events[j.next] = event
	j.next = (j.next + 1) % len(j.events)
	if j.next == 0 {
		j.full = true
	}
}

// Recent returns retained events oldest first.
func (j *Journal) Recent() []LogEvent {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.full {
		return append([]LogEvent(nil), j.events[:j.next]...)
	}
	out := make([]LogEvent, 0, len(j.events))
	out = append(out, j.events[j.next:]...)
	return append(out, j.events[:j.next]...)
}
