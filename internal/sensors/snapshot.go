// Package sensors polls host resource usage on a fixed interval and keeps a
// bounded in-memory history for mode evaluation and per-request monitoring.
package sensors

import "time"

// Snapshot is one sensor reading. GPU fields are zero when no GPU probe is
// available on the host.
type Snapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	MemoryUsedMB     float64   `json:"memory_used_mb"`
	DiskPercent      float64   `json:"disk_percent"`
	GPUPercent       float64   `json:"gpu_percent"`
	GPUMemoryPercent float64   `json:"gpu_memory_percent"`
	GPUAvailable     bool      `json:"gpu_available"`
}

// ring is a fixed-capacity circular buffer of snapshots. Not safe for
// concurrent use; the daemon guards it with its own mutex.
type ring struct {
	buf   []Snapshot
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Snapshot, capacity)}
}

func (r *ring) push(s Snapshot) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) latest() (Snapshot, bool) {
	if r.count == 0 {
		return Snapshot{}, false
	}
	idx := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// window returns snapshots taken at or after cutoff, oldest first.
func (r *ring) window(cutoff time.Time) []Snapshot {
	out := make([]Snapshot, 0, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		s := r.buf[(start+i)%len(r.buf)]
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
