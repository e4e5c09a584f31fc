// Package networking meters outbound traffic to websocket clients.
package networking

import (
	"sync"
	"time"
)

// ClientUsage reports the outbound budget of one client.
type ClientUsage struct {
	ClientID       string  `json:"clientId"`
	AvailableBytes float64 `json:"availableBytes"`
	BytesPerSecond float64 `json:"bytesPerSecond"`
	SentBytes      int64   `json:"sentBytes"`
	Skipped        int64   `json:"skipped"`
}

type bucket struct {
	tokens  float64
	last    time.Time
	opened  time.Time
	sent    int64
	skipped int64
}

// Regulator enforces a token bucket per client. State snapshots that would exceed a
// client's budget are skipped; the next tick carries a complete state anyway.
type Regulator struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	now     func() time.Time
}

// NewRegulator allows bytesPerSecond per client with a burst of one second of traffic.
// A non-positive rate disables regulation.
func NewRegulator(bytesPerSecond float64, clock func() time.Time) *Regulator {
	if clock == nil {
		clock = time.Now
	}
	return &Regulator{buckets: make(map[string]*bucket), rate: bytesPerSecond, now: clock}
}

// Enabled reports whether the regulator limits anything.
func (r *Regulator) Enabled() bool {
	return r != nil && r.rate > 0
}

func (r *Regulator) refill(b *bucket, now time.Time) {
	//1.- Ignore clock steps backwards.
	if !now.After(b.last) {
		return
	}
	b.tokens += now.Sub(b.last).Seconds() * r.rate
	if b.tokens > r.rate {
		b.tokens = r.rate
	}
	b.last = now
}

// Allow charges size bytes to clientID, returning false when the budget is exhausted.
func (r *Regulator) Allow(clientID string, size int) bool {
	if !r.Enabled() || clientID == "" || size <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b := r.buckets[clientID]
	if b == nil {
		b = &bucket{tokens: r.rate, last: now, opened: now}
		r.buckets[clientID] = b
	}
	r.refill(b, now)
	if float64(size) > b.tokens {
		b.skipped++
		return false
	}
	b.tokens -= float64(size)
	b.sent += int64(size)
	return true
}

// Forget drops the bucket of a disconnected client.
func (r *Regulator) Forget(clientID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.buckets, clientID)
	r.mu.Unlock()
}

// Usage reports every tracked client.
func (r *Regulator) Usage() []ClientUsage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make([]ClientUsage, 0, len(r.buckets))
	for id, b := range r.buckets {
		r.refill(b, now)
		usage := ClientUsage{ClientID: id, AvailableBytes: b.tokens, SentBytes: b.sent, Skipped: b.skipped}
		if elapsed := now.Sub(b.opened).Seconds(); elapsed > 0 {
			usage.BytesPerSecond = float64(b.sent) / elapsed
		}
		out = append(out, usage)
	}
	return out
}

// Skipped sums skipped deliveries across tracked clients.
func (r *Regulator) Skipped() int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, b := range r.buckets {
		total += b.skipped
	}
	return total
}
