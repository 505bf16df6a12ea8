package audio

import (
	"sync"
	"time"
)

// meterStaleAfter is how long after the last capture buffer the meter keeps
// reporting its last reading. Sampling is duty-cycled, so between windows no
// buffers arrive; past this age the meter falls back to the floor.
const meterStaleAfter = 1500 * time.Millisecond

// Meter converts raw capture buffers into VU readings. It is fed from the
// capture callback and read from the status push loop, and is safe for
// concurrent use.
type Meter struct {
	mu     sync.Mutex
	rms    float64
	lastAt time.Time
	peaks  *PeakHolder
}

// NewMeter creates a meter initialized to the floor.
func NewMeter() *Meter {
	return &Meter{peaks: NewPeakHolder()}
}

// Feed updates the meter from a raw S16LE capture buffer.
func (m *Meter) Feed(pcm []byte) {
	rms := BufferRMS(pcm)
	peakDB := LinearToDB(BufferPeak(pcm))
	now := time.Now()

	m.peaks.Update(peakDB, now)

	m.mu.Lock()
	m.rms = rms
	m.lastAt = now
	m.mu.Unlock()
}

// Levels returns the current reading. Between sampling windows the last
// reading ages out and the meter reports the floor.
func (m *Meter) Levels() Levels {
	m.mu.Lock()
	rms := m.rms
	lastAt := m.lastAt
	m.mu.Unlock()

	now := time.Now()
	if lastAt.IsZero() || now.Sub(lastAt) > meterStaleAfter {
		return Levels{RMS: 0, RMSDB: MinDB, PeakDB: m.peaks.Update(MinDB, now)}
	}

	return Levels{
		RMS:    rms,
		RMSDB:  LinearToDB(rms),
		PeakDB: m.peaks.Update(MinDB, now),
	}
}
