package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcmBuffer(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestBufferRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"full scale", []int16{32767, -32767, 32767, -32767}, 32767.0 / 32768.0},
		{"half scale", []int16{16384, -16384}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BufferRMS(pcmBuffer(tt.samples))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("BufferRMS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBufferRMSOddTrailingByte(t *testing.T) {
	buf := append(pcmBuffer([]int16{16384, -16384}), 0x7f)
	if got := BufferRMS(buf); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("BufferRMS() with trailing byte = %v, want 0.5", got)
	}
}

func TestLinearToDB(t *testing.T) {
	tests := []struct {
		name  string
		level float64
		want  float64
	}{
		{"zero clamps to floor", 0, MinDB},
		{"negative clamps to floor", -1, MinDB},
		{"unity", 1.0, 0},
		{"half", 0.5, 20 * math.Log10(0.5)},
		{"below floor clamps", 1e-9, MinDB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LinearToDB(tt.level); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("LinearToDB(%v) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestPeakHolderHoldsAndDecays(t *testing.T) {
	p := NewPeakHolder()
	now := time.Now()

	if held := p.Update(-10, now); held != -10 {
		t.Fatalf("initial peak = %v, want -10", held)
	}

	// A lower peak within the hold window does not displace the held value.
	if held := p.Update(-30, now.Add(time.Second)); held != -10 {
		t.Errorf("held peak = %v, want -10", held)
	}

	// A higher peak always wins.
	if held := p.Update(-5, now.Add(2*time.Second)); held != -5 {
		t.Errorf("held peak = %v, want -5", held)
	}

	// After the hold duration the current value takes over.
	if held := p.Update(-40, now.Add(2*time.Second+DefaultPeakHoldDuration+time.Millisecond)); held != -40 {
		t.Errorf("decayed peak = %v, want -40", held)
	}
}
