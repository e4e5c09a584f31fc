// Package httpapi serves the operational and REST endpoints of the simulator.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"robolab/simserver/internal/arena"
	"robolab/simserver/internal/command"
	"robolab/simserver/internal/logging"
	"robolab/simserver/internal/replay"
	"robolab/simserver/internal/robot"
	"robolab/simserver/internal/simulation"
)

// DefaultMaxBodyBytes caps command request bodies when Options leaves it unset.
const DefaultMaxBodyBytes int64 = 64 << 10

// Simulation is the engine surface the handlers depend on.
type Simulation interface {
	Snapshot() robot.State
	Environment() *arena.Environment
	Submit(raw []byte) (command.Command, robot.State, error)
	Execute(cmd command.Command) (robot.State, error)
	Stats() simulation.Stats
}

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	ClientCount() int
	StartupError() error
	Uptime() time.Duration
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
	RetryAfter() time.Duration
}

// Authenticator resolves the identity behind a request that mutates the simulation.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// CommandObserver is told about every command submitted over HTTP, typically so the
// websocket broker can echo it as a log event. frame is the command as received on the
// wire.
type CommandObserver func(cmd command.Command, frame []byte, err error)

// Options configures the HandlerSet.
type Options struct {
	Logger       *logging.Logger
	Simulation   Simulation
	Readiness    ReadinessProvider
	ResetLimiter RateLimiter
	OnCommand    CommandObserver
	ReplayStats  func() replay.Stats
	StorageStats func() replay.StorageStats
	MaxBodyBytes int64
	TimeSource   func() time.Time

	// Authenticator, when set, guards the command and reset endpoints.
	Authenticator Authenticator
}

// HandlerSet bundles the simulator HTTP handlers.
type HandlerSet struct {
	logger       *logging.Logger
	sim          Simulation
	readiness    ReadinessProvider
	resetLimiter RateLimiter
	onCommand    CommandObserver
	replayStats  func() replay.Stats
	storageStats func() replay.StorageStats
	maxBody      int64
	now          func() time.Time
	auth         Authenticator
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &HandlerSet{
		logger:       logger,
		sim:          opts.Simulation,
		readiness:    opts.Readiness,
		resetLimiter: opts.ResetLimiter,
		onCommand:    opts.OnCommand,
		replayStats:  opts.ReplayStats,
		storageStats: opts.StorageStats,
		maxBody:      maxBody,
		now:          now,
		auth:         opts.Authenticator,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/api/state", h.StateHandler())
	mux.HandleFunc("/api/arena", h.ArenaHandler())
	mux.HandleFunc("/api/commands", h.RequireAuth(h.CommandHandler()))
	mux.HandleFunc("/api/reset", h.RequireAuth(h.ResetHandler()))
}

// RequireAuth rejects requests the configured Authenticator does not accept. Without an
// Authenticator next is returned unchanged.
func (h *HandlerSet) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	if h.auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		subject, err := h.auth.Authenticate(r)
		if err != nil {
			logging.LoggerFromContext(r.Context()).Warn("http authentication failed",
				logging.String("path", r.URL.Path), logging.String("remote_addr", r.RemoteAddr), logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		logger := logging.LoggerFromContext(r.Context()).With(logging.String("subject", subject))
		next(w, r.WithContext(logging.ContextWithLogger(r.Context(), logger)))
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
		Ticks         uint64  `json:"ticks"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.sim == nil {
			status = http.StatusServiceUnavailable
			resp.Status = "error"
			resp.Message = "simulation not attached"
		} else {
			resp.Ticks = h.sim.Stats().Ticks
		}
		if h.readiness != nil {
			resp.Clients = h.readiness.ClientCount()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.readiness != nil {
			writeMetric(w, "sim_uptime_seconds", "gauge", "Server uptime in seconds.", fmt.Sprintf("%.0f", h.readiness.Uptime().Seconds()))
			writeMetric(w, "sim_clients", "gauge", "Current connected WebSocket clients.", strconv.Itoa(h.readiness.ClientCount()))
		}
		if h.sim != nil {
			stats := h.sim.Stats()
			state := h.sim.Snapshot()
			writeMetric(w, "sim_ticks_total", "counter", "Kinematics ticks executed.", strconv.FormatUint(stats.Ticks, 10))
			writeMetric(w, "sim_tick_overruns_total", "counter", "Ticks that exceeded the tick interval.", strconv.FormatUint(stats.Tick.Overruns, 10))
			fmt.Fprintf(w, "# HELP sim_tick_duration_seconds Observed tick cost.\n")
			fmt.Fprintf(w, "# TYPE sim_tick_duration_seconds gauge\n")
			fmt.Fprintf(w, "sim_tick_duration_seconds{stat=\"avg\"} %g\n", stats.Tick.Average.Seconds())
			fmt.Fprintf(w, "sim_tick_duration_seconds{stat=\"max\"} %g\n", stats.Tick.Max.Seconds())
			fmt.Fprintf(w, "sim_tick_duration_seconds{stat=\"last\"} %g\n", stats.Tick.Last.Seconds())
			fmt.Fprintf(w, "# HELP sim_commands_total Commands handled by result.\n")
			fmt.Fprintf(w, "# TYPE sim_commands_total counter\n")
			fmt.Fprintf(w, "sim_commands_total{result=\"accepted\"} %d\n", stats.CommandsAccepted)
			fmt.Fprintf(w, "sim_commands_total{result=\"failed\"} %d\n", stats.CommandsFailed)
			writeMetric(w, "sim_state_subscribers", "gauge", "Active state subscribers.", strconv.Itoa(stats.Subscribers))
			writeMetric(w, "sim_robot_battery", "gauge", "Robot battery level.", fmt.Sprintf("%g", state.Battery))
			writeMetric(w, "sim_robot_moving", "gauge", "Whether the robot is executing a motion.", boolMetric(state.IsMoving))
			writeMetric(w, "sim_robot_touch", "gauge", "Whether the touch sensor is pressed.", boolMetric(state.Sensors.Touch))
		}
		if h.replayStats != nil {
			stats := h.replayStats()
			writeMetric(w, "sim_replay_frames_total", "counter", "State frames recorded to the replay bundle.", strconv.FormatUint(stats.Frames, 10))
			writeMetric(w, "sim_replay_events_total", "counter", "Command events recorded to the replay bundle.", strconv.FormatUint(stats.Events, 10))
			writeMetric(w, "sim_replay_failures_total", "counter", "Replay writes that failed.", strconv.FormatUint(stats.Failures, 10))
		}
		if h.storageStats != nil {
			stats := h.storageStats()
			writeMetric(w, "sim_replay_sessions", "gauge", "Replay sessions retained on disk.", strconv.Itoa(stats.Sessions))
			writeMetric(w, "sim_replay_bytes", "gauge", "Replay storage footprint in bytes.", strconv.FormatInt(stats.Bytes, 10))
		}
	}
}

// StateHandler returns the current robot snapshot.
func (h *HandlerSet) StateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, h.sim.Snapshot())
	}
}

// ArenaHandler returns the static environment.
func (h *HandlerSet) ArenaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, h.sim.Environment())
	}
}

type commandResponse struct {
	Command command.Command `json:"command"`
	State   *robot.State    `json:"state,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CommandHandler accepts one JSON command frame, the same shape as the websocket
// robotCommand payload.
func (h *HandlerSet) CommandHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMethod(w, r, http.MethodPost) {
			return
		}
		logger := logging.LoggerFromContext(r.Context())
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		cmd, state, err := h.sim.Submit(body)
		h.notify(cmd, body, err)
		if err != nil {
			logger.Info("http command rejected", logging.String("type", string(cmd.Kind)), logging.Error(err))
			writeJSON(w, commandStatus(err), commandResponse{Command: cmd, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, commandResponse{Command: cmd, State: &state})
	}
}

// ResetHandler returns the robot to the origin, subject to the reset rate limit.
func (h *HandlerSet) ResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMethod(w, r, http.MethodPost) {
			return
		}
		logger := logging.LoggerFromContext(r.Context()).With(logging.String("remote_addr", r.RemoteAddr))
		if h.resetLimiter != nil && !h.resetLimiter.Allow() {
			retry := int(math.Ceil(h.resetLimiter.RetryAfter().Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			logger.Warn("reset denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		cmd := command.Reset()
		state, err := h.sim.Execute(cmd)
		h.notify(cmd, resetFrame(cmd.ID), err)
		if err != nil {
			writeJSON(w, commandStatus(err), commandResponse{Command: cmd, Error: err.Error()})
			return
		}
		logger.Info("robot reset")
		writeJSON(w, http.StatusOK, commandResponse{Command: cmd, State: &state})
	}
}

func (h *HandlerSet) notify(cmd command.Command, frame []byte, err error) {
	if h.onCommand != nil {
		h.onCommand(cmd, frame, err)
	}
}

// resetFrame renders a reset the way a client would send it.
func resetFrame(id string) []byte {
	frame, err := json.Marshal(command.Wire{Type: string(command.KindMove), Payload: &command.Payload{Reset: true}, ID: id})
	if err != nil {
		return nil
	}
	return frame
}

func (h *HandlerSet) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if h.sim == nil {
		http.Error(w, "simulation unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func commandStatus(err error) int {
	if errors.Is(err, simulation.ErrEngineClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func writeMetric(w io.Writer, name, kind, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %s\n", name, value)
}

func boolMetric(value bool) string {
	if value {
		return "1"
	}
	return "0"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
