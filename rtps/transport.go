package rtps

import (
	"context"
	"net"
	"sync"
)

// Datagram is one received message group and where it came from.
type Datagram struct {
	Payload []byte
	Source  Locator
}

// Transport is the external collaborator that moves opaque byte buffers.
// Send is best-effort and must not block on the network; Receive yields
// datagrams as they arrive.
type Transport interface {
	Send(loc Locator, b []byte) error
	Receive(ctx context.Context) (Datagram, error)
	// LocalUnicast lists the locators remote peers can reach us on.
	LocalUnicast() []Locator
	Close() error
}

// MemBus is an in-process transport fabric for tests and examples: every
// endpoint sees traffic sent to its own locator, and traffic sent to the
// bus's multicast locator fans out to all endpoints.
type MemBus struct {
	mu        sync.Mutex
	multicast Locator
	endpoints map[string]*memEndpoint
	nextHost  byte
}

func NewMemBus(multicast Locator) *MemBus {
	return &MemBus{
		multicast: multicast,
		endpoints: make(map[string]*memEndpoint),
		nextHost:  1,
	}
}

// Endpoint attaches a new transport to the bus with its own unicast locator.
func (bus *MemBus) Endpoint() *memEndpoint {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	loc := NewUDPv4Locator(net.IPv4(127, 0, 0, bus.nextHost), 7400)
	bus.nextHost++
	ep := &memEndpoint{
		bus:     bus,
		locator: loc,
		rx:      make(chan Datagram, 128),
	}
	bus.endpoints[loc.key()] = ep
	return ep
}

func (bus *MemBus) deliver(from, to Locator, b []byte) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	dg := Datagram{Payload: append([]byte(nil), b...), Source: from}
	if sameLocator(to, bus.multicast) {
		for _, ep := range bus.endpoints {
			ep.offer(dg)
		}
		return
	}
	if ep, ok := bus.endpoints[to.key()]; ok {
		ep.offer(dg)
	}
	// unknown destination: dropped, like the real network
}

type memEndpoint struct {
	bus     *MemBus
	locator Locator
	rx      chan Datagram
}

func (ep *memEndpoint) offer(dg Datagram) {
	select {
	case ep.rx <- dg:
	default:
		// receiver too slow; drop, reliability recovers it
	}
}

func (ep *memEndpoint) Send(loc Locator, b []byte) error {
	ep.bus.deliver(ep.locator, loc, b)
	return nil
}

func (ep *memEndpoint) Receive(ctx context.Context) (Datagram, error) {
	select {
	case dg := <-ep.rx:
		return dg, nil
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

func (ep *memEndpoint) LocalUnicast() []Locator {
	return []Locator{ep.locator}
}

func (ep *memEndpoint) Close() error {
	return nil
}
