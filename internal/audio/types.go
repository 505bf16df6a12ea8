package audio

import "errors"

// Sentinel errors for device operations.
var (
	// ErrNoCaptureDevice is returned when no audio capture device is available.
	ErrNoCaptureDevice = errors.New("no audio capture device found")
	// ErrDeviceGone is returned when a device handle no longer resolves.
	ErrDeviceGone = errors.New("capture device no longer present")
	// ErrSwitchNotConfirmed is returned when the platform accepted a default-input
	// change but read-back still reports a different device.
	ErrSwitchNotConfirmed = errors.New("default input switch not confirmed by read-back")
)

// Device is a read-only snapshot of an audio capture device. Snapshots are
// obtained fresh from the Directory on each query; a handle is never trusted
// across a directory refresh without re-validation.
type Device struct {
	// ID is the stable device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
	// Default reports whether this device was the OS default input
	// at enumeration time.
	Default bool `json:"default,omitzero"`

	raw rawDeviceID
}

// IsZero reports whether d is the empty device.
func (d Device) IsZero() bool {
	return d.ID == "" && d.Name == ""
}

// Levels is the current signal measurement for status reporting and VU meters.
type Levels struct {
	// RMS is the linear RMS level in [0,1].
	RMS float64 `json:"rms"`
	// RMSDB is the RMS level in dBFS.
	RMSDB float64 `json:"rms_db"`
	// PeakDB is the held peak level in dBFS.
	PeakDB float64 `json:"peak_db"`
}
