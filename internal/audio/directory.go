package audio

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gen2brain/malgo"
)

type rawDeviceID = malgo.DeviceID

// Context owns the shared miniaudio context used for device enumeration and
// capture. Create one per process and Close it on shutdown.
type Context struct {
	ctx *malgo.AllocatedContext
}

// NewContext initializes the miniaudio backend.
func NewContext() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &Context{ctx: mctx}, nil
}

// Close releases the miniaudio context.
func (c *Context) Close() error {
	if err := c.ctx.Uninit(); err != nil {
		return err
	}
	c.ctx.Free()
	return nil
}

// Directory enumerates capture devices and switches the OS default input.
// Every query re-enumerates; callers get fresh snapshots, never cached handles.
type Directory struct {
	ctx *Context
}

// NewDirectory returns a Directory backed by the shared audio context.
func NewDirectory(ctx *Context) *Directory {
	return &Directory{ctx: ctx}
}

// Devices returns a fresh snapshot of all capture devices.
func (d *Directory) Devices() ([]Device, error) {
	infos, err := d.ctx.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:      info.ID.String(),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
			raw:     info.ID,
		})
	}
	return devices, nil
}

// IsAlive reports whether dev is present in a fresh enumeration.
func (d *Directory) IsAlive(dev Device) bool {
	devices, err := d.Devices()
	if err != nil {
		return false
	}
	for _, candidate := range devices {
		if candidate.ID == dev.ID {
			return true
		}
	}
	return false
}

// Default returns the current OS default capture device, if any.
func (d *Directory) Default() (Device, bool) {
	devices, err := d.Devices()
	if err != nil {
		return Device{}, false
	}
	for _, dev := range devices {
		if dev.Default {
			return dev, true
		}
	}
	return Device{}, false
}

// Refresh re-resolves a previously obtained snapshot by ID.
func (d *Directory) Refresh(dev Device) (Device, error) {
	devices, err := d.Devices()
	if err != nil {
		return Device{}, err
	}
	for _, candidate := range devices {
		if candidate.ID == dev.ID {
			return candidate, nil
		}
	}
	return Device{}, ErrDeviceGone
}

// Read-back settings for SetDefault. Platform mixers apply default-input
// changes asynchronously, so confirmation polls briefly.
const (
	switchConfirmAttempts = 5
	switchConfirmInterval = 200 * time.Millisecond
)

// SetDefault makes dev the OS default capture device and confirms the change
// via read-back. The switch is not considered to have happened until a fresh
// enumeration reports dev as the default.
func (d *Directory) SetDefault(dev Device) error {
	if err := setDefaultInput(dev.Name); err != nil {
		return err
	}

	for attempt := 0; attempt < switchConfirmAttempts; attempt++ {
		if current, ok := d.Default(); ok && current.ID == dev.ID {
			return nil
		}
		time.Sleep(switchConfirmInterval)
	}
	return fmt.Errorf("%w: %s", ErrSwitchNotConfirmed, dev.Name)
}
