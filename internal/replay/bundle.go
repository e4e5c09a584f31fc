package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"robolab/simserver/internal/robot"
)

// Event represents a single event decoded from the JSONL log.
type Event struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulatedMs"`
	CapturedAt  time.Time       `json:"capturedAt"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

// Command decodes a command event payload.
func (e Event) Command() (CommandEvent, error) {
	var event CommandEvent
	if e.Type != EventCommand {
		return event, fmt.Errorf("event type %q is not a command", e.Type)
	}
	err := json.Unmarshal(e.Payload, &event)
	return event, err
}

// Frame represents a single state frame decoded from the binary stream.
type Frame struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulatedMs"`
	CapturedAt  time.Time       `json:"capturedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// State decodes the snapshot carried by the frame.
func (f Frame) State() (robot.State, error) {
	var state robot.State
	err := json.Unmarshal(f.Payload, &state)
	return state, err
}

// Bundle is a fully loaded replay directory.
type Bundle struct {
	Dir      string
	Manifest Manifest
	// Header is nil when the session did not shut down cleanly.
	Header *Header
	Events []Event
	Frames []Frame
}

// ReadBundle loads the manifest, header, events and frames of a replay. path may be the
// bundle directory or its manifest.json.
func ReadBundle(path string) (*Bundle, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, manifestFile)
	}
	dir := filepath.Dir(manifestPath)

	//1.- Locate the manifest so downstream parsing reuses relative asset paths.
	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	bundle := &Bundle{Dir: dir, Manifest: manifest}

	//2.- The header only exists once the writer closed.
	header, err := ReadHeader(filepath.Join(dir, headerFile))
	switch {
	case err == nil:
		bundle.Header = &header
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read header: %w", err)
	}

	if bundle.Events, err = loadEvents(filepath.Join(dir, manifest.EventsPath)); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if bundle.Frames, err = loadFrames(filepath.Join(dir, manifest.FramesPath)); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return bundle, nil
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw eventRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			Tick:        raw.Tick,
			SimulatedMs: raw.SimulatedMs,
			CapturedAt:  captured,
			Type:        raw.Type,
			Payload:     raw.Payload,
		})
	}
	return events, scanner.Err()
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var frames []Frame
	header := make([]byte, frameHeaderSize)
	for {
		//1.- Read the fixed header then hydrate the payload bytes.
		if _, err := io.ReadFull(reader, header); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("frame header truncated")
			}
			return nil, err
		}
		size := binary.LittleEndian.Uint32(header[24:28])
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, fmt.Errorf("frame payload truncated: %w", err)
		}
		frames = append(frames, Frame{
			Tick:        binary.LittleEndian.Uint64(header[0:8]),
			SimulatedMs: int64(binary.LittleEndian.Uint64(header[8:16])),
			CapturedAt:  time.Unix(0, int64(binary.LittleEndian.Uint64(header[16:24]))).UTC(),
			Payload:     payload,
		})
	}
}
