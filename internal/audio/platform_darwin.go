//go:build darwin

package audio

import "github.com/gen2brain/malgo"

// Core Audio has no loopback; system output is only reachable through a
// virtual device that the user routes playback into.
func getPlatformConfig() platformConfig {
	return platformConfig{
		Backends:       []malgo.Backend{malgo.BackendCoreaudio},
		NativeLoopback: false,
		MonitorHints:   []string{"blackhole", "loopback", "soundflower"},
	}
}
