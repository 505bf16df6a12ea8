//go:build darwin

package audio

func getPlatformConfig() SwitchConfig {
	return SwitchConfig{
		Command: "SwitchAudioSource",
		BuildArgs: func(name string) []string {
			return []string{"-t", "input", "-s", name}
		},
	}
}
