package replay

import (
	"encoding/json"
	"sync"

	"robolab/simserver/internal/command"
	"robolab/simserver/internal/logging"
	"robolab/simserver/internal/robot"
)

const (
	// EventCommand is the event type written for every executed command.
	EventCommand = "command"

	// DefaultRecordBuffer bounds how many records may wait for the disk before new ones
	// are dropped.
	DefaultRecordBuffer = 1024
)

// CommandEvent is the payload of a command event.
type CommandEvent struct {
	Command command.Command `json:"command"`
	Error   string          `json:"error,omitempty"`
}

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	Directory string `json:"directory"`
	Frames    uint64 `json:"frames"`
	Events    uint64 `json:"events"`
	Failures  uint64 `json:"failures"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// Sink persists recorded frames and events. *Writer is the production sink.
type Sink interface {
	Directory() string
	AppendEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error
	AppendFrame(tick uint64, simulatedMs int64, payload []byte) error
	Close() error
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithBuffer overrides DefaultRecordBuffer.
func WithBuffer(size int) RecorderOption {
	return func(r *Recorder) {
		if size > 0 {
			r.size = size
		}
	}
}

type record struct {
	frame   bool
	tick    uint64
	atMs    int64
	payload []byte
}

// Recorder adapts a Sink to the simulation engine's recording hooks. Records are queued
// without blocking and written by a background goroutine, so disk latency never reaches
// the engine lock. Write failures and overflow are logged and counted.
type Recorder struct {
	sink Sink
	log  *logging.Logger
	size int

	mu       sync.Mutex
	queue    chan record
	closed   bool
	lastTick uint64
	dropped  uint64

	statsMu  sync.Mutex
	frames   uint64
	events   uint64
	failures uint64

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewRecorder wraps sink and starts the goroutine that drains queued records into it.
func NewRecorder(sink Sink, logger *logging.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = logging.L()
	}
	r := &Recorder{
		sink: sink,
		log:  logger.With(logging.String("replay_dir", sink.Directory())),
		size: DefaultRecordBuffer,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.queue = make(chan record, r.size)
	go r.drain()
	return r
}

// RecordCommand queues a command event stamped with the most recent tick.
func (r *Recorder) RecordCommand(cmd command.Command, err error, nowMs int64) {
	if r == nil {
		return
	}
	event := CommandEvent{Command: cmd}
	if err != nil {
		event.Error = err.Error()
	}
	payload, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		r.fail("replay command encode failed", marshalErr)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueueLocked(record{tick: r.lastTick, atMs: nowMs, payload: payload})
}

// RecordFrame queues the snapshot produced by tick.
func (r *Recorder) RecordFrame(tick uint64, snapshot robot.State) {
	if r == nil {
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		r.fail("replay frame encode failed", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastTick = tick
	r.enqueueLocked(record{frame: true, tick: tick, atMs: snapshot.Timestamp, payload: payload})
}

func (r *Recorder) enqueueLocked(rec record) {
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped++
		if r.dropped == 1 || r.dropped%uint64(r.size) == 0 {
			r.log.Warn("replay queue full, dropping records", logging.Uint64("dropped", r.dropped))
		}
	}
}

func (r *Recorder) drain() {
	defer close(r.done)
	for rec := range r.queue {
		//1.- Write in arrival order; the queue preserves the engine's serialisation.
		if rec.frame {
			if err := r.sink.AppendFrame(rec.tick, rec.atMs, rec.payload); err != nil {
				r.fail("replay frame append failed", err, logging.Uint64("tick", rec.tick))
				continue
			}
			r.statsMu.Lock()
			r.frames++
			r.statsMu.Unlock()
			continue
		}
		if err := r.sink.AppendEvent(rec.tick, rec.atMs, EventCommand, rec.payload); err != nil {
			r.fail("replay command append failed", err)
			continue
		}
		r.statsMu.Lock()
		r.events++
		r.statsMu.Unlock()
	}
}

func (r *Recorder) fail(msg string, err error, fields ...logging.Field) {
	r.statsMu.Lock()
	r.failures++
	r.statsMu.Unlock()
	r.log.Warn(msg, append(fields, logging.Error(err))...)
}

// Stats returns a copy of the recorder counters.
func (r *Recorder) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	dropped := r.dropped
	pending := len(r.queue)
	r.mu.Unlock()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return Stats{
		Directory: r.sink.Directory(),
		Frames:    r.frames,
		Events:    r.events,
		Failures:  r.failures,
		Dropped:   dropped,
		Pending:   pending,
	}
}

// Close stops accepting records, writes everything already queued and finalises the sink.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		<-r.done
		r.closeErr = r.sink.Close()
	})
	return r.closeErr
}
