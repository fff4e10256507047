package rtps

import (
	"context"
	"fmt"
	"net"
	"sync"
)

const (
	udpReadBufSize = 64 * 1024
	// how many participant slots to probe for a free unicast port
	maxParticipantID = 16
)

// UDPTransport is the IPv4 UDP transport: multicast sockets on the domain's
// well-known discovery and user-traffic ports plus one unicast socket on a
// port derived from the first free participant id.
type UDPTransport struct {
	mconn   *net.UDPConn // discovery multicast
	umconn  *net.UDPConn // user-traffic multicast
	uconn   *net.UDPConn
	unicast []Locator
	rx      chan Datagram

	closeOnce sync.Once
	done      chan struct{}
}

// NewUDPTransport binds the sockets for one participant in the configured
// domain.
func NewUDPTransport(cfg Config) (*UDPTransport, error) {
	cfg.applyDefaults()

	group := net.ParseIP(cfg.MulticastGroup)
	if group == nil {
		return nil, fmt.Errorf("rtps: bad multicast group %q", cfg.MulticastGroup)
	}
	mconn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{
		IP:   group,
		Port: int(cfg.discoveryPort()),
	})
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", cfg.MulticastGroup, err)
	}
	umconn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{
		IP:   group,
		Port: int(cfg.userMulticastPort()),
	})
	if err != nil {
		mconn.Close()
		return nil, fmt.Errorf("join %s: %w", cfg.MulticastGroup, err)
	}

	// each participant on a host gets its own id, and with it its own
	// unicast port; probe upward until a bind succeeds
	var uconn *net.UDPConn
	var uport uint32
	for pid := uint32(0); pid < maxParticipantID; pid++ {
		uport = cfg.userUnicastPort(pid)
		uconn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: int(uport)})
		if err == nil {
			break
		}
	}
	if uconn == nil {
		mconn.Close()
		umconn.Close()
		return nil, fmt.Errorf("rtps: no free unicast port in domain %d: %w", cfg.DomainID, err)
	}

	ip, err := localIPv4()
	if err != nil {
		mconn.Close()
		umconn.Close()
		uconn.Close()
		return nil, err
	}

	t := &UDPTransport{
		mconn:   mconn,
		umconn:  umconn,
		uconn:   uconn,
		unicast: []Locator{NewUDPv4Locator(ip, uport)},
		rx:      make(chan Datagram, 128),
		done:    make(chan struct{}),
	}
	go t.readLoop(mconn)
	go t.readLoop(umconn)
	go t.readLoop(uconn)
	return t, nil
}

func (t *UDPTransport) readLoop(conn *net.UDPConn) {
	buf := make([]byte, udpReadBufSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		dg := Datagram{
			Payload: append([]byte(nil), buf[:n]...),
			Source:  NewUDPv4Locator(src.IP, uint32(src.Port)),
		}
		select {
		case t.rx <- dg:
		case <-t.done:
			return
		default:
			// receiver is saturated; drop, reliability recovers
		}
	}
}

func (t *UDPTransport) Send(loc Locator, b []byte) error {
	if !loc.valid() {
		return fmt.Errorf("rtps: send to invalid locator %s", loc)
	}
	_, err := t.uconn.WriteToUDP(b, &net.UDPAddr{IP: loc.Addr, Port: int(loc.Port)})
	return err
}

func (t *UDPTransport) Receive(ctx context.Context) (Datagram, error) {
	select {
	case dg := <-t.rx:
		return dg, nil
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	case <-t.done:
		return Datagram{}, ErrClosed
	}
}

func (t *UDPTransport) LocalUnicast() []Locator { return t.unicast }

func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mconn.Close()
		t.umconn.Close()
		t.uconn.Close()
	})
	return nil
}

// localIPv4 finds the first usable non-loopback IPv4 address, the one we
// advertise in discovery locators.
func localIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, fmt.Errorf("rtps: no usable IPv4 interface")
}
