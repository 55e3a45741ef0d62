// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named runtime probes dumped as structured log fields.

package control

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Probes holds registered probe functions.
type Probes struct {
	probes *xsync.MapOf[string, func() int64]
}

// NewProbes creates a probe registry.
func NewProbes() *Probes {
	return &Probes{probes: xsync.NewMapOf[string, func() int64]()}
}

// Register inserts or replaces a named probe.
func (p *Probes) Register(name string, fn func() int64) {
	p.probes.Store(name, fn)
}

// Unregister removes a probe.
func (p *Probes) Unregister(name string) {
	p.probes.Delete(name)
}

// DumpState evaluates all probes.
func (p *Probes) DumpState() map[string]int64 {
	out := make(map[string]int64, p.probes.Size())
	p.probes.Range(func(k string, fn func() int64) bool {
		out[k] = fn()
		return true
	})
	return out
}

// Fields renders DumpState as zap fields sorted by name.
func (p *Probes) Fields() []zap.Field {
	state := p.DumpState()
	names := make([]string, 0, len(state))
	for k := range state {
		names = append(names, k)
	}
	sort.Strings(names)
	fields := make([]zap.Field, 0, len(names))
	for _, k := range names {
		fields = append(fields, zap.Int64(k, state[k]))
	}
	return fields
}
