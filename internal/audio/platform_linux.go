//go:build linux

package audio

import "github.com/gen2brain/malgo"

// PulseAudio and PipeWire expose every sink as a "Monitor of ..." capture source.
func getPlatformConfig() platformConfig {
	return platformConfig{
		Backends:       []malgo.Backend{malgo.BackendPulseaudio, malgo.BackendAlsa},
		NativeLoopback: false,
		MonitorHints:   []string{"monitor of", ".monitor"},
	}
}
