//go:build linux

package audio

func getPlatformConfig() SwitchConfig {
	return SwitchConfig{
		Command: "pactl",
		BuildArgs: func(name string) []string {
			// pactl accepts either a source name or description.
			return []string{"set-default-source", name}
		},
	}
}
