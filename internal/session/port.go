package session

import "sync/atomic"

// firstUDPPort and udpPortStep implement spec section 4.5/9: the server's
// UDP-port counter is the only process-wide mutable state, incremented
// with a sequentially-consistent fetch-add. Ports are never reclaimed.
const (
	firstUDPPort = 30000
	udpPortStep  = 10
)

// PortAllocator hands out ephemeral UDP ports for new server sessions.
type PortAllocator struct {
	next atomic.Uint32
}

// NewPortAllocator returns an allocator whose first Next() call yields
// firstUDPPort.
func NewPortAllocator() *PortAllocator {
	p := &PortAllocator{}
	p.next.Store(firstUDPPort)
	return p
}

// Next atomically returns the next port and advances the counter by
// udpPortStep.
func (p *PortAllocator) Next() uint32 {
	return p.next.Add(udpPortStep) - udpPortStep
}
