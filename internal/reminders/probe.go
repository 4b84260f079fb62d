package reminders

import (
	"strings"
	"sync"

	"github.com/medrex/healthon/pkg/types"
)

// HostCapabilities describes what the embedding runtime exposes
type HostCapabilities struct {
	// Platform is the runtime platform name: "ios", "android", "web" or "auto"
	Platform string
	// NativeBridge is true when a native scheduling bridge is wired in
	NativeBridge bool
}

// Detect selects the backend family for the given capabilities. It is pure;
// a missing bridge always means a web host, and an explicit "web" platform
// wins over a bridge that happens to be wired in.
func Detect(caps HostCapabilities) types.HostKind {
	if !caps.NativeBridge {
		return types.WebHost
	}
	if strings.EqualFold(strings.TrimSpace(caps.Platform), "web") {
		return types.WebHost
	}
	return types.NativeHost
}

// HostProbe evaluates Detect once and keeps the answer for the process lifetime
type HostProbe struct {
	caps HostCapabilities
	once sync.Once
	kind types.HostKind
}

// NewHostProbe creates a probe for the given capabilities
func NewHostProbe(caps HostCapabilities) *HostProbe {
	return &HostProbe{caps: caps}
}

// Kind returns the detected host kind
func (p *HostProbe) Kind() types.HostKind {
	p.once.Do(func() {
		p.kind = Detect(p.caps)
	})
	return p.kind
}
