// Package incident captures the audio leading up to a failover and persists
// it as a WAV file, with optional upload to S3-compatible storage. The ring
// is fed by the sampler's capture taps, so it holds the most recently
// sampled audio rather than a continuous recording.
package incident

import (
	"sync"

	"github.com/micguard/micguard/internal/audio"
)

// DefaultRingSeconds is how much sampled audio the ring retains.
const DefaultRingSeconds = 30

// Ring is a fixed-capacity PCM ring buffer. Writes come from the audio
// callback; snapshots come from the controller loop.
type Ring struct {
	mu           sync.Mutex
	buffer       []byte
	writePos     int
	totalWritten int64
}

// NewRing returns a ring holding the given number of seconds of capture
// audio.
func NewRing(seconds int) *Ring {
	if seconds <= 0 {
		seconds = DefaultRingSeconds
	}
	return &Ring{buffer: make([]byte, seconds*audio.BytesPerSecond)}
}

// Write appends pcm to the ring, overwriting the oldest audio when full.
func (r *Ring) Write(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range pcm {
		r.buffer[r.writePos] = pcm[i]
		r.writePos = (r.writePos + 1) % len(r.buffer)
	}
	r.totalWritten += int64(len(pcm))
}

// Snapshot returns the buffered audio in chronological order. The result is
// a copy and safe to hold while the ring keeps writing.
func (r *Ring) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := min(r.totalWritten, int64(len(r.buffer)))
	if size == 0 {
		return nil
	}

	out := make([]byte, size)
	start := (r.totalWritten - size) % int64(len(r.buffer))
	for i := range out {
		out[i] = r.buffer[(start+int64(i))%int64(len(r.buffer))]
	}
	return out
}

// Reset discards all buffered audio.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.writePos = 0
	r.totalWritten = 0
	r.mu.Unlock()
}
