//go:build windows

package audio

import "github.com/gen2brain/malgo"

func getPlatformConfig() platformConfig {
	return platformConfig{
		Backends:       []malgo.Backend{malgo.BackendWasapi},
		NativeLoopback: true,
	}
}
