// Package replaycatalog indexes the replay sessions stored under a directory.
package replaycatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"robolab/simserver/internal/replay"
)

// Entry captures a session header alongside its resolved manifest path.
type Entry struct {
	HeaderPath   string        `json:"header_path"`
	ManifestPath string        `json:"manifest_path"`
	Header       replay.Header `json:"header"`
	Obstacles    int           `json:"obstacles"`
	Areas        int           `json:"colored_areas"`
}

// List walks root and returns every closed session, ordered by session id then path.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- Sessions without a header never shut down cleanly and are skipped.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "header.json" {
			return nil
		}
		header, err := replay.ReadHeader(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		manifestPath := header.FilePointer
		if !filepath.IsAbs(manifestPath) {
			manifestPath = filepath.Join(filepath.Dir(path), manifestPath)
		}
		entry := Entry{HeaderPath: path, ManifestPath: manifestPath, Header: header}
		if header.Arena != nil {
			entry.Obstacles = len(header.Arena.Obstacles)
			entry.Areas = len(header.Arena.ColoredAreas)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.SessionID == entries[j].Header.SessionID {
			return entries[i].ManifestPath < entries[j].ManifestPath
		}
		return entries[i].Header.SessionID < entries[j].Header.SessionID
	})
	return entries, nil
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
