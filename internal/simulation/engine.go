package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"robolab/simserver/internal/arena"
	"robolab/simserver/internal/command"
	"robolab/simserver/internal/logging"
	"robolab/simserver/internal/physics"
	"robolab/simserver/internal/robot"
	"robolab/simserver/internal/sensors"
)

// ErrEngineClosed is returned when commands arrive after Close.
var ErrEngineClosed = errors.New("simulation engine closed")

// subscriberBuffer sizes snapshot channels when callers pass a non-positive buffer.
const subscriberBuffer = 16

// Recorder receives every executed command and every stepped snapshot. Both hooks run
// under the engine lock, so implementations must hand the record off without blocking on
// I/O and must not call back into the engine.
type Recorder interface {
	RecordCommand(cmd command.Command, err error, nowMs int64)
	RecordFrame(tick uint64, snapshot robot.State)
}

// Stats summarises engine activity for operational endpoints.
type Stats struct {
	Ticks            uint64    `json:"ticks"`
	CommandsAccepted uint64    `json:"commandsAccepted"`
	CommandsFailed   uint64    `json:"commandsFailed"`
	Subscribers      int       `json:"subscribers"`
	Tick             TickStats `json:"-"`
}

// Engine owns the robot state and serialises kinematics ticks against command
// application so neither observes a partial update from the other.
type Engine struct {
	mu      sync.Mutex
	state   *robot.State
	env     *arena.Environment
	sampler physics.Sampler
	now     func() time.Time
	step    time.Duration
	monitor *TickMonitor
	log     *logging.Logger
	record  Recorder
	ticks   uint64
	closed  bool

	accepted atomic.Uint64
	failed   atomic.Uint64

	subMu       sync.Mutex
	subscribers map[uint64]chan robot.State
	nextSubID   uint64
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, letting tests drive time synthetically.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSampler overrides the sensor model used after each tick.
func WithSampler(sampler physics.Sampler) Option {
	return func(e *Engine) {
		if sampler != nil {
			e.sampler = sampler
		}
	}
}

// WithStep fixes the logical step used when Step is called with a zero duration.
func WithStep(step time.Duration) Option {
	return func(e *Engine) {
		if step > 0 {
			e.step = step
		}
	}
}

// WithTickMonitor attaches a monitor observing the cost of each tick.
func WithTickMonitor(monitor *TickMonitor) Option {
	return func(e *Engine) {
		if monitor != nil {
			e.monitor = monitor
		}
	}
}

// WithLogger sets the logger used for engine diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

// WithRecorder streams commands and frames into a recorder such as a replay writer.
func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) {
		e.record = recorder
	}
}

// NewEngine builds an engine for env with a fresh robot at the origin.
func NewEngine(env *arena.Environment, opts ...Option) *Engine {
	if env == nil {
		env = arena.Default()
	}
	e := &Engine{
		env:         env,
		sampler:     sensors.NewModel(nil, time.Now().UnixNano()),
		now:         time.Now,
		step:        DefaultInterval,
		log:         logging.L(),
		subscribers: make(map[uint64]chan robot.State),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.monitor == nil {
		e.monitor = NewTickMonitor(e.step)
	}
	e.state = robot.NewState(e.now().UnixMilli())
	return e
}

// Step advances the simulation by one fixed step and fans the resulting snapshot out to
// subscribers. Its signature matches StepFunc so a Loop can drive it directly.
func (e *Engine) Step(step time.Duration) {
	if e == nil {
		return
	}
	if step <= 0 {
		step = e.step
	}
	started := time.Now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	//1.- Integrate, expire, drain and resample while holding the single state lock.
	physics.Tick(e.state, e.env, e.now().UnixMilli(), step.Seconds(), e.sampler)
	e.ticks++
	tick := e.ticks
	snapshot := e.state.Snapshot()
	if e.record != nil {
		e.record.RecordFrame(tick, snapshot)
	}
	e.mu.Unlock()

	e.monitor.Observe(time.Since(started))
	//2.- Broadcast outside the state lock so slow consumers cannot stall commands.
	e.broadcast(snapshot)
}

// Execute applies cmd atomically with respect to ticks and returns the resulting
// snapshot. Rejected commands leave the state untouched.
func (e *Engine) Execute(cmd command.Command) (robot.State, error) {
	if e == nil {
		return robot.State{}, ErrEngineClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.state.Snapshot(), ErrEngineClosed
	}
	nowMs := e.now().UnixMilli()
	err := command.Apply(e.state, cmd, nowMs)
	if e.record != nil {
		e.record.RecordCommand(cmd, err, nowMs)
	}
	if err != nil {
		e.failed.Add(1)
		e.log.Warn("command rejected", logging.String("command_id", cmd.ID), logging.String("type", string(cmd.Kind)), logging.Error(err))
		return e.state.Snapshot(), err
	}
	e.accepted.Add(1)
	e.log.Debug("command applied", logging.String("command_id", cmd.ID), logging.String("type", string(cmd.Kind)))
	return e.state.Snapshot(), nil
}

// Submit decodes a JSON command frame and executes it. Frames that fail to decode are
// counted and recorded as failed commands; the returned Command carries whatever type and
// id could be recovered from the frame.
func (e *Engine) Submit(raw []byte) (command.Command, robot.State, error) {
	if e == nil {
		return command.Command{}, robot.State{}, ErrEngineClosed
	}
	cmd, err := command.Decode(raw)
	if err != nil {
		var wire command.Wire
		_ = json.Unmarshal(raw, &wire)
		cmd = command.Command{ID: wire.ID, Kind: command.Kind(wire.Type)}

		e.mu.Lock()
		nowMs := e.now().UnixMilli()
		if e.record != nil {
			e.record.RecordCommand(cmd, err, nowMs)
		}
		snapshot := e.state.Snapshot()
		e.mu.Unlock()

		e.failed.Add(1)
		e.log.Warn("command rejected", logging.String("command_id", cmd.ID), logging.String("type", wire.Type), logging.Error(err))
		return cmd, snapshot, err
	}
	snapshot, err := e.Execute(cmd)
	return cmd, snapshot, err
}

// Snapshot returns an immutable copy of the current state.
func (e *Engine) Snapshot() robot.State {
	if e == nil {
		return robot.State{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot()
}

// Environment returns a copy of the static arena.
func (e *Engine) Environment() *arena.Environment {
	if e == nil {
		return nil
	}
	return e.env.Clone()
}

// Subscribe registers a snapshot channel. The current state is queued immediately so new
// observers never wait a full tick. Slow subscribers drop frames rather than block.
func (e *Engine) Subscribe(ctx context.Context, buffer int) (<-chan robot.State, func()) {
	if buffer <= 0 {
		buffer = subscriberBuffer
	}
	ch := make(chan robot.State, buffer)

	//1.- Queue the attach snapshot before registering so it always arrives first.
	ch <- e.Snapshot()

	e.subMu.Lock()
	e.nextSubID++
	id := e.nextSubID
	e.subscribers[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.subMu.Lock()
			if sub, ok := e.subscribers[id]; ok {
				delete(e.subscribers, id)
				close(sub)
			}
			e.subMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

func (e *Engine) broadcast(snapshot robot.State) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subscribers {
		select {
		case ch <- snapshot:
		default:
			e.log.Debug("dropping snapshot for slow subscriber", logging.Uint64("subscriber", id))
		}
	}
}

// Stats reports counters and tick timings.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	ticks := e.ticks
	e.mu.Unlock()
	e.subMu.Lock()
	subscribers := len(e.subscribers)
	e.subMu.Unlock()
	return Stats{
		Ticks:            ticks,
		CommandsAccepted: e.accepted.Load(),
		CommandsFailed:   e.failed.Load(),
		Subscribers:      subscribers,
		Tick:             e.monitor.Snapshot(),
	}
}

// Close stops accepting work and closes every subscriber channel.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.subMu.Lock()
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
	e.subMu.Unlock()
}
