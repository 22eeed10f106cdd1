package socket

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/dogmatiq/dodeca/logging"
	ipv4x "golang.org/x/net/ipv4"
	ipv6x "golang.org/x/net/ipv6"
	"golang.org/x/sync/errgroup"
)

// Socket is a multicast mDNS endpoint bound to a single network interface.
// It is not safe for concurrent use except that Send and Receive may be
// called concurrently with each other and with Destroy; every other method
// must be called from a single owning goroutine (the interface's worker).
type Socket struct {
	Interface *net.Interface
	logger    logging.Logger

	pc4 *ipv4x.PacketConn
	pc6 *ipv6x.PacketConn

	joinedV4 bool
	joinedV6 bool

	packets       chan *InboundPacket
	errs          chan error
	done          chan struct{}
	readLoopsDone chan struct{}
	closeMu       sync.Mutex
	closed        bool
}

// New opens a dual-stack UDP socket bound to the wildcard address on Port,
// restricted to delivering datagrams received on iface, and begins
// delivering them to Receive. Either family may be disabled by the caller
// if the host does not support it on this interface.
func New(iface *net.Interface, logger logging.Logger, enableIPv4, enableIPv6 bool) (*Socket, error) {
	if logger == nil {
		logger = logging.DiscardLogger
	}

	s := &Socket{
		Interface:     iface,
		logger:        logger,
		packets:       make(chan *InboundPacket, 64),
		errs:          make(chan error, 2),
		done:          make(chan struct{}),
		readLoopsDone: make(chan struct{}),
	}

	if enableIPv4 {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
		if err != nil {
			return nil, fmt.Errorf("listen udp4 on %s: %w", iface.Name, err)
		}

		s.pc4 = ipv4x.NewPacketConn(conn)
		_ = s.pc4.SetMulticastTTL(TTL)
		_ = s.pc4.SetControlMessage(ipv4x.FlagInterface, true)
	}

	if enableIPv6 {
		conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: Port})
		if err != nil {
			if s.pc4 != nil {
				_ = s.pc4.Close()
			}
			return nil, fmt.Errorf("listen udp6 on %s: %w", iface.Name, err)
		}

		s.pc6 = ipv6x.NewPacketConn(conn)
		_ = s.pc6.SetMulticastHopLimit(TTL)
		_ = s.pc6.SetControlMessage(ipv6x.FlagInterface, true)
	}

	// The two read loops are supervised by an errgroup: each loop's
	// terminal error is reported on s.errs for Receive to surface, and the
	// group is waited out so Destroy can tell once both have actually
	// unwound before returning.
	var g errgroup.Group
	if s.pc4 != nil {
		g.Go(func() error {
			s.readLoopV4()
			return nil
		})
	}
	if s.pc6 != nil {
		g.Go(func() error {
			s.readLoopV6()
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(s.readLoopsDone)
	}()

	return s, nil
}

func (s *Socket) readLoopV4() {
	for {
		buf := getBuffer()
		n, cm, src, err := s.pc4.ReadFrom(buf)
		if err != nil {
			putBuffer(buf)
			s.reportErr(err)
			return
		}

		ifIndex := s.Interface.Index
		if cm != nil {
			ifIndex = cm.IfIndex
		}

		s.deliver(&InboundPacket{
			Source: Endpoint{InterfaceIndex: ifIndex, Address: src.(*net.UDPAddr)},
			Data:   buf[:n],
		})
	}
}

func (s *Socket) readLoopV6() {
	for {
		buf := getBuffer()
		n, cm, src, err := s.pc6.ReadFrom(buf)
		if err != nil {
			putBuffer(buf)
			s.reportErr(err)
			return
		}

		ifIndex := s.Interface.Index
		if cm != nil {
			ifIndex = cm.IfIndex
		}

		s.deliver(&InboundPacket{
			Source: Endpoint{InterfaceIndex: ifIndex, Address: src.(*net.UDPAddr)},
			Data:   buf[:n],
		})
	}
}

func (s *Socket) deliver(p *InboundPacket) {
	// The socket is bound to the wildcard address, so datagrams that
	// arrived on other interfaces are dropped here.
	if p.Source.InterfaceIndex != s.Interface.Index {
		p.Close()
		return
	}

	select {
	case s.packets <- p:
	case <-s.done:
		p.Close()
	}
}

// reportErr delivers err to Receive. The non-blocking attempt first means a
// terminal error is never lost to a stray pick of the done case below: errs
// is sized to hold one error per read loop, so this attempt always
// succeeds unless Destroy has already drained and closed things out from
// under it.
func (s *Socket) reportErr(err error) {
	select {
	case s.errs <- err:
		return
	default:
	}
	select {
	case s.errs <- err:
	case <-s.done:
	}
}

// JoinGroup joins the mDNS multicast group for each address family present
// in addrs, and leaves the group for any family no longer present. Joins
// and leaves are idempotent: a family already in the desired state is left
// untouched.
func (s *Socket) JoinGroup(addrs []net.IP) error {
	wantV4, wantV6 := false, false
	for _, a := range addrs {
		if a.To4() != nil {
			wantV4 = true
		} else {
			wantV6 = true
		}
	}

	if s.pc4 != nil {
		if wantV4 && !s.joinedV4 {
			if err := s.pc4.JoinGroup(s.Interface, &IPv4Group); err != nil {
				logging.Debug(s.logger, "unable to join %s on %s: %s", IPv4Group.IP, s.Interface.Name, err)
				return err
			}
			s.joinedV4 = true
		} else if !wantV4 && s.joinedV4 {
			_ = s.pc4.LeaveGroup(s.Interface, &IPv4Group)
			s.joinedV4 = false
		}
	}

	if s.pc6 != nil {
		if wantV6 && !s.joinedV6 {
			if err := s.pc6.JoinGroup(s.Interface, &IPv6Group); err != nil {
				logging.Debug(s.logger, "unable to join %s on %s: %s", IPv6Group.IP, s.Interface.Name, err)
				return err
			}
			s.joinedV6 = true
		} else if !wantV6 && s.joinedV6 {
			_ = s.pc6.LeaveGroup(s.Interface, &IPv6Group)
			s.joinedV6 = false
		}
	}

	return nil
}

// Send transmits p on this socket's interface only.
func (s *Socket) Send(p *OutboundPacket) error {
	dest := p.Destination.Address

	if v4 := dest.IP.To4(); v4 != nil {
		if s.pc4 == nil {
			return fmt.Errorf("socket: IPv4 is not enabled on %s", s.Interface.Name)
		}
		_, err := s.pc4.WriteTo(p.Data, &ipv4x.ControlMessage{IfIndex: s.Interface.Index}, dest)
		return err
	}

	if s.pc6 == nil {
		return fmt.Errorf("socket: IPv6 is not enabled on %s", s.Interface.Name)
	}
	_, err := s.pc6.WriteTo(p.Data, &ipv6x.ControlMessage{IfIndex: s.Interface.Index}, dest)
	return err
}

// Receive blocks until a datagram arrives or ctx is canceled. The returned
// packet's Close method must be called to return its buffer to the pool.
func (s *Socket) Receive(ctx context.Context) (*InboundPacket, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-s.packets:
		return p, nil
	case err := <-s.errs:
		return nil, err
	}
}

// Destroy leaves any joined multicast groups and closes the socket.
func (s *Socket) Destroy() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	var firstErr error
	if s.pc4 != nil {
		if s.joinedV4 {
			_ = s.pc4.LeaveGroup(s.Interface, &IPv4Group)
		}
		if err := s.pc4.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.pc6 != nil {
		if s.joinedV6 {
			_ = s.pc6.LeaveGroup(s.Interface, &IPv6Group)
		}
		if err := s.pc6.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	<-s.readLoopsDone
	return firstErr
}
