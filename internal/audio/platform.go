package audio

import (
	"fmt"
	"os/exec"

	"github.com/micguard/micguard/internal/util"
)

// SwitchConfig defines how to change the OS default capture device
// on a platform.
type SwitchConfig struct {
	// Command is the executable used to switch the default input.
	Command string

	// BuildArgs returns the arguments that make the named device the
	// default input.
	BuildArgs func(name string) []string
}

// setDefaultInput asks the platform mixer to make the named device the
// default capture source. Confirmation is the caller's responsibility.
func setDefaultInput(name string) error {
	cfg := getPlatformConfig()

	cmd := exec.Command(cfg.Command, cfg.BuildArgs(name)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if detail := util.ExtractLastError(string(output)); detail != "" {
			return fmt.Errorf("failed to set default input %q: %s", name, detail)
		}
		return util.WrapError("set default input", err)
	}
	return nil
}
