package replay

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robolab/simserver/internal/arena"
	"robolab/simserver/internal/command"
	"robolab/simserver/internal/robot"
	"robolab/simserver/internal/simulation"
)

type stepClock struct {
	current time.Time
	step    time.Duration
}

func (c *stepClock) Now() time.Time {
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

func newClock() *stepClock {
	return &stepClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), step: 100 * time.Millisecond}
}

func TestWriterCreatesSessionLayout(t *testing.T) {
	root := t.TempDir()
	writer, manifest, err := NewWriter(root, "lab #1", newClock().Now)
	require.NoError(t, err)

	assert.Equal(t, "lab1", manifest.SessionID)
	assert.Equal(t, filepath.Join(root, "lab1-20260301T120000Z"), writer.Directory())
	assert.FileExists(t, filepath.Join(writer.Directory(), manifestFile))
	assert.FileExists(t, filepath.Join(writer.Directory(), eventsFile))
	assert.FileExists(t, filepath.Join(writer.Directory(), framesFile))

	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close())
	assert.ErrorIs(t, writer.AppendFrame(1, 0, []byte(`{}`)), os.ErrClosed)
}

func TestWriterRejectsInvalidEventPayload(t *testing.T) {
	writer, _, err := NewWriter(t.TempDir(), "s", nil)
	require.NoError(t, err)
	defer writer.Close()

	assert.Error(t, writer.AppendEvent(0, 0, "command", []byte("{")))
}

func TestRecorderRoundTrip(t *testing.T) {
	writer, _, err := NewWriter(t.TempDir(), "session", newClock().Now)
	require.NoError(t, err)
	writer.SetHeaderMetadata(42, arena.Default())
	recorder := NewRecorder(writer, nil)

	state := robot.NewState(1_000)
	move := command.Move(command.DirectionForward, 100)
	recorder.RecordCommand(move, nil, 1_000)
	for tick := uint64(1); tick <= 4; tick++ {
		state.Position.X += 5
		state.Timestamp = 1_000 + int64(tick)*100
		recorder.RecordFrame(tick, state.Snapshot())
	}
	recorder.RecordCommand(command.Command{ID: "bad", Kind: "fly"}, &command.UnknownCommandError{Kind: "fly"}, 1_450)

	require.NoError(t, recorder.Close())
	stats := recorder.Stats()
	assert.EqualValues(t, 4, stats.Frames)
	assert.EqualValues(t, 2, stats.Events)
	assert.Zero(t, stats.Failures)
	assert.Zero(t, stats.Dropped)
	assert.Zero(t, stats.Pending)

	bundle, err := ReadBundle(writer.Directory())
	require.NoError(t, err)
	require.NotNil(t, bundle.Header)
	assert.EqualValues(t, 42, bundle.Header.RandomSeed)
	assert.Len(t, bundle.Header.Arena.Walls, 4)

	require.Len(t, bundle.Frames, 4)
	last, err := bundle.Frames[3].State()
	require.NoError(t, err)
	assert.Equal(t, 20.0, last.Position.X)
	assert.EqualValues(t, 4, bundle.Frames[3].Tick)
	assert.EqualValues(t, 1_400, bundle.Frames[3].SimulatedMs)

	require.Len(t, bundle.Events, 2)
	first, err := bundle.Events[0].Command()
	require.NoError(t, err)
	assert.Equal(t, move.ID, first.Command.ID)
	assert.Empty(t, first.Error)
	failed, err := bundle.Events[1].Command()
	require.NoError(t, err)
	assert.Equal(t, "Unknown command type: fly", failed.Error)
	assert.EqualValues(t, 4, bundle.Events[1].Tick)
}

// gatedSink blocks every append until release is closed.
type gatedSink struct {
	release chan struct{}
	mu      sync.Mutex
	ticks   []uint64
	events  int
	closed  bool
}

func newGatedSink() *gatedSink { return &gatedSink{release: make(chan struct{})} }

func (s *gatedSink) Directory() string { return "gated" }

func (s *gatedSink) AppendEvent(uint64, int64, string, []byte) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
	return nil
}

func (s *gatedSink) AppendFrame(tick uint64, _ int64, _ []byte) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, tick)
	return nil
}

func (s *gatedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestStalledSinkDoesNotBlockEngine(t *testing.T) {
	sink := newGatedSink()
	recorder := NewRecorder(sink, nil, WithBuffer(4))
	engine := simulation.NewEngine(arena.Default(), simulation.WithRecorder(recorder))

	done := make(chan struct{})
	go func() {
		defer close(done)
		//1.- More records than the buffer holds while the sink is stuck.
		for i := 0; i < 10; i++ {
			engine.Step(simulation.DefaultInterval)
			_, _ = engine.Execute(command.Stop())
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine blocked on a stalled replay sink")
	}

	close(sink.release)
	require.NoError(t, recorder.Close())
	stats := recorder.Stats()
	assert.NotZero(t, stats.Dropped)
	assert.EqualValues(t, 20, stats.Frames+stats.Events+stats.Dropped)
	assert.True(t, sink.closed)
}

func TestRecorderKeepsArrivalOrder(t *testing.T) {
	sink := newGatedSink()
	close(sink.release)
	recorder := NewRecorder(sink, nil)

	for tick := uint64(1); tick <= 50; tick++ {
		recorder.RecordFrame(tick, robot.State{Timestamp: int64(tick)})
	}
	require.NoError(t, recorder.Close())

	require.Len(t, sink.ticks, 50)
	for i, tick := range sink.ticks {
		assert.EqualValues(t, i+1, tick)
	}
	recorder.RecordFrame(51, robot.State{})
	assert.EqualValues(t, 50, recorder.Stats().Frames)
	require.NoError(t, recorder.Close())
}

func TestReadBundleWithoutHeader(t *testing.T) {
	writer, _, err := NewWriter(t.TempDir(), "crash", nil)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, os.Remove(filepath.Join(writer.Directory(), headerFile)))

	bundle, err := ReadBundle(filepath.Join(writer.Directory(), manifestFile))
	require.NoError(t, err)
	assert.Nil(t, bundle.Header)
	assert.Empty(t, bundle.Frames)
	assert.Empty(t, bundle.Events)
}

func TestReadBundleRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte(`{"version":9}`), 0o644))

	_, err := ReadBundle(dir)
	assert.ErrorContains(t, err, "unsupported manifest version 9")
}

func TestLoaderOrdersCommandsBeforeFrames(t *testing.T) {
	bundle := &Bundle{
		Events: []Event{{Tick: 1, SimulatedMs: 200, Type: EventCommand, Payload: []byte(`{}`)}},
		Frames: []Frame{
			{Tick: 2, SimulatedMs: 200, Payload: []byte(`{}`)},
			{Tick: 1, SimulatedMs: 100, Payload: []byte(`{}`)},
		},
	}
	loader := NewLoader(bundle)

	var order []string
	require.NoError(t, loader.Replay(func(entry TimelineEntry) error {
		order = append(order, entry.Type)
		return nil
	}))
	assert.Equal(t, []string{EntryFrame, EventCommand, EntryFrame}, order)

	stop := errors.New("stop")
	assert.ErrorIs(t, loader.Replay(func(TimelineEntry) error { return stop }), stop)
	assert.Error(t, loader.Replay(nil))
}

func TestHeaderValidation(t *testing.T) {
	assert.Error(t, Header{FilePointer: manifestFile}.Validate())
	assert.Error(t, Header{SchemaVersion: 1}.Validate())

	bad := &arena.Environment{ColoredAreas: []arena.ColoredArea{{Width: 1, Height: 1, Color: "red"}}}
	assert.Error(t, Header{SchemaVersion: 1, FilePointer: manifestFile, Arena: bad}.Validate())

	path := filepath.Join(t.TempDir(), "nested", headerFile)
	header := Header{SchemaVersion: 1, SessionID: "s", RandomSeed: 7, FilePointer: manifestFile}
	require.NoError(t, WriteHeader(path, header))
	loaded, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, header, loaded)
}

func makeSession(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := filepath.Join(dir, manifestFile)
	require.NoError(t, os.WriteFile(manifest, []byte(`{"version":1}`), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(manifest, stamp, stamp))
	return dir
}

func TestCleanerEnforcesRetention(t *testing.T) {
	root := t.TempDir()
	newest := makeSession(t, root, "a", time.Minute)
	middle := makeSession(t, root, "b", time.Hour)
	oldest := makeSession(t, root, "c", 2*time.Hour)
	stale := makeSession(t, root, "d", 72*time.Hour)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-session"), 0o755))

	cleaner := NewCleaner(root, stale, RetentionPolicy{MaxSessions: 2, MaxAge: 24 * time.Hour}, nil)
	cleaner.RunOnce()

	assert.DirExists(t, newest)
	assert.DirExists(t, middle)
	assert.NoDirExists(t, oldest)
	assert.DirExists(t, stale, "active session is protected")
	assert.DirExists(t, filepath.Join(root, "not-a-session"))

	stats := cleaner.Stats()
	assert.Equal(t, 3, stats.Sessions)
	assert.Positive(t, stats.Bytes)
	assert.False(t, stats.LastSweep.IsZero())
}
