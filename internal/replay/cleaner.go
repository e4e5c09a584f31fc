package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"robolab/simserver/internal/logging"
)

// RetentionPolicy defines how many session bundles are retained on disk.
type RetentionPolicy struct {
	MaxSessions int
	MaxAge      time.Duration
}

// StorageStats summarises the disk footprint of persisted sessions.
type StorageStats struct {
	Sessions  int       `json:"sessions"`
	Bytes     int64     `json:"bytes"`
	LastSweep time.Time `json:"lastSweep"`
}

// Cleaner periodically prunes session bundles according to a retention policy. The
// bundle being written by the running server is never removed.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	active string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for root, protecting the active bundle directory.
func NewCleaner(root, active string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: root, active: filepath.Clean(active), policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) error {
	if c == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies immediately on startup.
	c.RunOnce()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.RunOnce()
		}
	}
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type session struct {
	path    string
	size    int64
	modTime time.Time
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	sessions, err := c.collect()
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	now := c.now()
	stats := StorageStats{LastSweep: now}
	kept := 0
	for _, s := range sessions {
		if reason := c.removalReason(s, now, kept); reason != "" {
			err := os.RemoveAll(s.path)
			if err == nil {
				c.log.Info("replay retention removed session", logging.String("path", s.path), logging.String("reason", reason))
				continue
			}
			c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("path", s.path))
		}
		kept++
		stats.Sessions++
		stats.Bytes += s.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// collect lists bundle directories newest first. Directories without a manifest are not
// sessions and are left alone.
func (c *Cleaner) collect() ([]session, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	sessions := make([]session, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := os.Stat(filepath.Join(path, manifestFile))
		if err != nil {
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		sessions = append(sessions, session{path: path, size: size, modTime: info.ModTime()})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].modTime.After(sessions[j].modTime) })
	return sessions, nil
}

func (c *Cleaner) removalReason(s session, now time.Time, kept int) string {
	if filepath.Clean(s.path) == c.active {
		return ""
	}
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(s.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxSessions > 0 && kept >= c.policy.MaxSessions {
		reasons = append(reasons, fmt.Sprintf(">=%d sessions", c.policy.MaxSessions))
	}
	return strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
