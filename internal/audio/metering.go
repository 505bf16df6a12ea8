// Package audio provides the hardware-facing layer: capture-device
// enumeration, default-input switching, duty-cycled amplitude sampling,
// and level metering.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the metering floor (treated as silence on VU displays).
	MinDB = -60.0
	// maxSampleValue is the maximum absolute value for 16-bit signed audio.
	maxSampleValue = 32768.0
)

// BufferRMS computes the normalized linear RMS of an S16LE mono buffer.
// The result is in [0,1]; an all-zero buffer yields 0.
func BufferRMS(buf []byte) float64 {
	n := len(buf) &^ 1
	if n == 0 {
		return 0
	}

	var sumSquares float64
	for i := 0; i+1 < n; i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(buf[i:])))
		sumSquares += s * s
	}

	return math.Sqrt(sumSquares/float64(n/2)) / maxSampleValue
}

// BufferPeak returns the normalized peak absolute sample value of an S16LE
// mono buffer, in [0,1].
func BufferPeak(buf []byte) float64 {
	n := len(buf) &^ 1
	var peak float64
	for i := 0; i+1 < n; i += 2 {
		if abs := math.Abs(float64(int16(binary.LittleEndian.Uint16(buf[i:])))); abs > peak {
			peak = abs
		}
	}
	return peak / maxSampleValue
}

// LinearToDB converts a normalized linear level to dBFS, clamped at MinDB.
func LinearToDB(level float64) float64 {
	if level <= 0 {
		return MinDB
	}
	return max(20*math.Log10(level), MinDB)
}
