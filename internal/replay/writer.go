// Package replay records simulation sessions to compressed bundles and reads them back.
package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"robolab/simserver/internal/arena"
)

var sessionIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	// ManifestVersion is the bundle layout version written to manifest.json.
	ManifestVersion = 1
	// DefaultFlushInterval batches frames before they reach the zstd stream.
	DefaultFlushInterval = 200 * time.Millisecond

	manifestFile = "manifest.json"
	headerFile   = "header.json"
	eventsFile   = "events.jsonl.sz"
	framesFile   = "frames.bin.zst"

	// frameHeaderSize is tick, simulated ms, captured ns and payload length.
	frameHeaderSize = 8 + 8 + 8 + 4
)

// frameBlob stores frame metadata before it is persisted to disk.
type frameBlob struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     []byte
}

// eventRecord is one line of the snappy compressed JSONL event log.
type eventRecord struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulated_ms"`
	CapturedAt  string          `json:"captured_at"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

// Manifest describes the replay bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	SessionID       string `json:"session_id"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// Writer streams session artefacts to disk: events through snappy and state frames as
// length-prefixed records through zstd.
type Writer struct {
	mu            sync.Mutex
	dir           string
	sessionID     string
	now           func() time.Time
	flushInterval time.Duration
	eventFile     *os.File
	eventStream   *snappy.Writer
	frameFile     *os.File
	frameStream   *zstd.Encoder
	pending       []frameBlob
	lastFlush     time.Time
	seed          int64
	env           *arena.Environment
	closed        bool
}

// NewWriter prepares a session directory under root and opens the compressed sinks.
func NewWriter(root, sessionID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := sessionIDCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         ManifestVersion,
		SessionID:       cleaned,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(DefaultFlushInterval / time.Millisecond),
		EventsPath:      eventsFile,
		FramesPath:      framesFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(path, manifestFile), data, 0o644); err != nil {
		return nil, Manifest{}, err
	}

	//1.- Open both sinks, unwinding whatever was opened if a later step fails.
	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:           path,
		sessionID:     cleaned,
		now:           clock,
		flushInterval: DefaultFlushInterval,
		eventFile:     eventFile,
		eventStream:   snappy.NewBufferedWriter(eventFile),
		frameFile:     frameFile,
		frameStream:   frameStream,
	}
	return writer, manifest, nil
}

// Directory exposes the directory backing the replay bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// SetHeaderMetadata configures the header persisted when the writer closes.
func (w *Writer) SetHeaderMetadata(seed int64, env *arena.Environment) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.seed = seed
	w.env = env.Clone()
	w.mu.Unlock()
}

// AppendEvent writes a single JSON event line to the compressed event log. payload must
// already be valid JSON.
func (w *Writer) AppendEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	if !json.Valid(payload) {
		return fmt.Errorf("event %q payload is not valid JSON", eventType)
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}

	line, err := json.Marshal(eventRecord{
		Tick:        tick,
		SimulatedMs: simulatedMs,
		CapturedAt:  captured.Format(time.RFC3339Nano),
		Type:        eventType,
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// AppendFrame stages a frame and persists the batch once the flush interval elapsed.
func (w *Writer) AppendFrame(tick uint64, simulatedMs int64, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()
	clone := append([]byte(nil), payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}

	w.pending = append(w.pending, frameBlob{Tick: tick, SimulatedMs: simulatedMs, CapturedAt: captured, Payload: clone})
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= w.flushInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// Flush forces pending frames to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close writes the header, flushes all buffers and releases file handles. It is safe to
// call more than once.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every step and surface the first failure.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		SessionID:     w.sessionID,
		RandomSeed:    w.seed,
		Arena:         w.env,
		FilePointer:   manifestFile,
	}
	keep(WriteHeader(filepath.Join(w.dir, headerFile), header))
	keep(w.flushLocked())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	return firstErr
}

// flushLocked writes buffered frames to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	for _, frame := range w.pending {
		header := make([]byte, frameHeaderSize)
		binary.LittleEndian.PutUint64(header[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.SimulatedMs))
		binary.LittleEndian.PutUint64(header[16:24], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[24:28], uint32(len(frame.Payload)))
		if _, err := w.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}
