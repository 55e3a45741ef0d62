//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux process probes.

package control

import (
	"os"
	"runtime"
)

// RegisterPlatformProbes adds CPU and open-descriptor probes.
func RegisterPlatformProbes(p *Probes) {
	p.Register("platform.cpus", func() int64 {
		return int64(runtime.NumCPU())
	})
	p.Register("process.open_fds", func() int64 {
		ents, err := os.ReadDir("/proc/self/fd")
		if err != nil {
			return -1
		}
		return int64(len(ents))
	})
}
