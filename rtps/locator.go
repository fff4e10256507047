package rtps

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	LocatorKindInvalid  = -1
	LocatorKindReserved = 0
	LocatorKindUDPv4    = 1
	LocatorKindUDPv6    = 2

	locatorWireLen = 24
)

// Locator is a place to send bytes: transport kind, port, address.
type Locator struct {
	Kind int32
	Port uint32
	Addr net.IP
}

func NewUDPv4Locator(ip net.IP, port uint32) Locator {
	return Locator{
		Kind: LocatorKindUDPv4,
		Port: port,
		Addr: ip,
	}
}

// wire form: kind(4) port(4) address(16), ipv4 in the last four bytes
func locatorFromBytes(order binary.ByteOrder, b []byte) (Locator, error) {
	if len(b) < locatorWireLen {
		return Locator{}, fmt.Errorf("%w: locator needs %d bytes, have %d", ErrFormat, locatorWireLen, len(b))
	}
	loc := Locator{
		Kind: int32(order.Uint32(b[0:])),
		Port: order.Uint32(b[4:]),
	}
	switch loc.Kind {
	case LocatorKindUDPv4:
		loc.Addr = net.IPv4(b[20], b[21], b[22], b[23])
	case LocatorKindUDPv6:
		loc.Addr = append(net.IP(nil), b[8:24]...)
	}
	return loc, nil
}

func (loc Locator) bytes() []byte {
	b := make([]byte, locatorWireLen)
	binary.LittleEndian.PutUint32(b, uint32(loc.Kind))
	binary.LittleEndian.PutUint32(b[4:], loc.Port)
	if ip4 := loc.Addr.To4(); ip4 != nil {
		copy(b[20:], ip4)
	} else if loc.Addr != nil {
		copy(b[8:], loc.Addr.To16())
	}
	return b
}

func (loc Locator) valid() bool {
	return loc.Kind > LocatorKindReserved && loc.Port != 0 && loc.Addr != nil
}

func (loc Locator) String() string {
	return fmt.Sprintf("%s:%d", loc.Addr, loc.Port)
}

// key returns a comparable form for use in dedup maps.
func (loc Locator) key() string {
	return fmt.Sprintf("%d/%s:%d", loc.Kind, loc.Addr, loc.Port)
}

func sameLocator(a, b Locator) bool {
	return a.Kind == b.Kind && a.Port == b.Port && a.Addr.Equal(b.Addr)
}
