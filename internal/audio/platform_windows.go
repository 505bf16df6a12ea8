//go:build windows

package audio

import "fmt"

func getPlatformConfig() SwitchConfig {
	return SwitchConfig{
		Command: "powershell",
		BuildArgs: func(name string) []string {
			// Requires the AudioDeviceCmdlets module.
			return []string{
				"-NoProfile", "-Command",
				fmt.Sprintf("Get-AudioDevice -List | Where-Object { $_.Type -eq 'Recording' -and $_.Name -eq %q } | Set-AudioDevice", name),
			}
		},
	}
}
