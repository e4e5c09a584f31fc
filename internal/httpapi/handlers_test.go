package httpapi

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robolab/simserver/internal/arena"
	"robolab/simserver/internal/command"
	"robolab/simserver/internal/logging"
	"robolab/simserver/internal/replay"
	"robolab/simserver/internal/robot"
	"robolab/simserver/internal/sensors"
	"robolab/simserver/internal/simulation"
)

type stubReadiness struct {
	clients int
	uptime  time.Duration
	err     error
}

func (s *stubReadiness) ClientCount() int      { return s.clients }
func (s *stubReadiness) StartupError() error   { return s.err }
func (s *stubReadiness) Uptime() time.Duration { return s.uptime }

type observed struct {
	kinds  []command.Kind
	frames []string
	errs   []error
}

func (o *observed) observe(cmd command.Command, frame []byte, err error) {
	o.kinds = append(o.kinds, cmd.Kind)
	o.frames = append(o.frames, string(frame))
	o.errs = append(o.errs, err)
}

type headerAuthenticator struct{ token string }

func (a headerAuthenticator) Authenticate(r *http.Request) (string, error) {
	if r.Header.Get("X-Auth-Token") != a.token {
		return "", errors.New("bad token")
	}
	return "student", nil
}

func newEngine() *simulation.Engine {
	return simulation.NewEngine(arena.Default(), simulation.WithSampler(sensors.NewModel(rand.New(rand.NewSource(2)), 0)))
}

func newServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.NewTestLogger()
	}
	mux := http.NewServeMux()
	NewHandlerSet(opts).Register(mux)
	server := httptest.NewServer(logging.HTTPTraceMiddleware(opts.Logger)(mux))
	t.Cleanup(server.Close)
	return server
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2026, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()

	handlers.LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&payload))
	assert.Equal(t, "alive", payload.Status)
	assert.Equal(t, fixed.Format(time.RFC3339Nano), payload.Timestamp)
}

func TestReadinessHandler(t *testing.T) {
	engine := newEngine()
	engine.Step(0)
	readiness := &stubReadiness{clients: 3, uptime: 45 * time.Second}
	handlers := NewHandlerSet(Options{Simulation: engine, Readiness: readiness})

	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"clients":3`)
	assert.Contains(t, rr.Body.String(), `"ticks":1`)

	readiness.err = errors.New("boom")
	rr = httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "boom")

	rr = httptest.NewRecorder()
	NewHandlerSet(Options{}).ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStateAndArenaEndpoints(t *testing.T) {
	engine := newEngine()
	server := newServer(t, Options{Simulation: engine})

	resp, err := http.Get(server.URL + "/api/state")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(logging.TraceIDHeader))
	state := decode[robot.State](t, resp)
	assert.Equal(t, robot.FullBattery, state.Battery)
	assert.Equal(t, arena.NoColor, state.Sensors.Color)

	resp, err = http.Get(server.URL + "/api/arena")
	require.NoError(t, err)
	env := decode[arena.Environment](t, resp)
	assert.Len(t, env.Walls, 4)
	assert.Len(t, env.ColoredAreas, 3)
	assert.Len(t, env.Obstacles, 2)

	resp, err = http.Post(server.URL+"/api/state", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCommandEndpoint(t *testing.T) {
	engine := newEngine()
	seen := &observed{}
	server := newServer(t, Options{Simulation: engine, OnCommand: seen.observe})

	resp, err := http.Post(server.URL+"/api/commands", "application/json",
		strings.NewReader(`{"type":"move","payload":{"direction":"forward","distance":50},"id":"h-1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[commandResponse](t, resp)
	assert.Equal(t, "h-1", body.Command.ID)
	require.NotNil(t, body.State)
	assert.True(t, body.State.IsMoving)
	assert.Equal(t, 1000.0, body.State.CurrentCommand.DurationMs)

	resp, err = http.Post(server.URL+"/api/commands", "application/json", strings.NewReader(`{"type":"hover","id":"h-2"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body = decode[commandResponse](t, resp)
	assert.Equal(t, "Unknown command type: hover", body.Error)
	assert.Nil(t, body.State)

	assert.Equal(t, []command.Kind{command.KindMove, "hover"}, seen.kinds)
	assert.Equal(t, []string{
		`{"type":"move","payload":{"direction":"forward","distance":50},"id":"h-1"}`,
		`{"type":"hover","id":"h-2"}`,
	}, seen.frames)
	assert.NoError(t, seen.errs[0])
	assert.ErrorIs(t, seen.errs[1], command.ErrUnknownCommand)
}

func TestCommandEndpointLimitsBody(t *testing.T) {
	server := newServer(t, Options{Simulation: newEngine(), MaxBodyBytes: 16})

	resp, err := http.Post(server.URL+"/api/commands", "application/json",
		strings.NewReader(`{"type":"move","payload":{"distance":10}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestResetEndpointIsRateLimited(t *testing.T) {
	engine := newEngine()
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(10*time.Second, 1, func() time.Time { return now })
	seen := &observed{}
	server := newServer(t, Options{Simulation: engine, ResetLimiter: limiter, OnCommand: seen.observe})

	_, err := engine.Execute(command.Move(command.DirectionForward, 100))
	require.NoError(t, err)
	engine.Step(0)

	resp, err := http.Post(server.URL+"/api/reset", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[commandResponse](t, resp)
	assert.Equal(t, robot.Pose{}, body.State.Position)
	assert.False(t, body.State.IsMoving)
	require.Len(t, seen.frames, 1)
	assert.JSONEq(t, `{"type":"move","payload":{"reset":true},"id":"`+body.Command.ID+`"}`, seen.frames[0])

	resp, err = http.Post(server.URL+"/api/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "10", resp.Header.Get("Retry-After"))
}

func TestMutatingEndpointsRequireAuth(t *testing.T) {
	engine := newEngine()
	seen := &observed{}
	server := newServer(t, Options{Simulation: engine, OnCommand: seen.observe, Authenticator: headerAuthenticator{token: "s3cret"}})

	post := func(path, token string) int {
		req, err := http.NewRequest(http.MethodPost, server.URL+path, strings.NewReader(`{"type":"stop"}`))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("X-Auth-Token", token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, post("/api/commands", ""))
	assert.Equal(t, http.StatusUnauthorized, post("/api/reset", "wrong"))
	assert.Empty(t, seen.kinds)
	assert.Zero(t, engine.Stats().CommandsAccepted)

	assert.Equal(t, http.StatusOK, post("/api/commands", "s3cret"))
	assert.Equal(t, http.StatusOK, post("/api/reset", "s3cret"))
	assert.Len(t, seen.kinds, 2)

	resp, err := http.Get(server.URL + "/api/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsHandler(t *testing.T) {
	engine := newEngine()
	_, _ = engine.Execute(command.Stop())
	_, _, _ = engine.Submit([]byte(`{"type":"nope"}`))
	engine.Step(0)

	handlers := NewHandlerSet(Options{
		Simulation:   engine,
		Readiness:    &stubReadiness{clients: 2, uptime: time.Minute},
		ReplayStats:  func() replay.Stats { return replay.Stats{Frames: 7, Events: 2} },
		StorageStats: func() replay.StorageStats { return replay.StorageStats{Sessions: 3, Bytes: 4096} },
	})
	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	for _, line := range []string{
		"sim_uptime_seconds 60",
		"sim_clients 2",
		"sim_ticks_total 1",
		`sim_commands_total{result="accepted"} 1`,
		`sim_commands_total{result="failed"} 1`,
		"sim_robot_battery 100",
		"sim_robot_moving 0",
		"sim_replay_frames_total 7",
		"sim_replay_events_total 2",
		"sim_replay_sessions 3",
		"sim_replay_bytes 4096",
	} {
		assert.Contains(t, body, line)
	}
}
