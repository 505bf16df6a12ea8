package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long peak values are held before decaying.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder tracks peak-hold state for VU meters.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	heldPeak     float64
	peakHoldTime time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a new peak holder initialized to the metering floor.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{
		heldPeak:     MinDB,
		holdDuration: DefaultPeakHoldDuration,
	}
}

// Update updates the peak hold state with a new peak value in dB and returns
// the held peak.
func (p *PeakHolder) Update(peakDB float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peakDB >= p.heldPeak || now.Sub(p.peakHoldTime) > p.holdDuration {
		p.heldPeak = peakDB
		p.peakHoldTime = now
	}
	return p.heldPeak
}

// Reset clears the held peak back to the metering floor.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heldPeak = MinDB
	p.peakHoldTime = time.Time{}
}
