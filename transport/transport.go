// Package transport wraps the datagram socket primitive the server runs on:
// bind with optional address reuse, receive with source address, unicast and
// broadcast send, and a small closed taxonomy over the transport errors the
// server reacts to.
package transport

import (
	"context"
	"net"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Socket is the narrow contract the session server consumes. The production
// implementation is a UDP socket; tests substitute in-memory fakes.
type Socket interface {
	// LocalAddr reports the bound local endpoint.
	LocalAddr() *net.UDPAddr

	// ReadFrom blocks for the next datagram and its source address.
	ReadFrom(b []byte) (int, *net.UDPAddr, error)

	// WriteTo sends one datagram to addr.
	WriteTo(b []byte, addr *net.UDPAddr) (int, error)

	// SetBroadcast toggles the broadcast socket option.
	SetBroadcast(enabled bool) error

	// Close shuts the socket down, unblocking pending reads.
	Close() error
}

// Listen binds a UDP socket to laddr. With reuse set, SO_REUSEADDR is
// applied before the bind takes effect.
func Listen(laddr *net.UDPAddr, reuse bool) (Socket, error) {
	lc := net.ListenConfig{}
	if reuse {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		}
	}

	conn, err := lc.ListenPacket(context.Background(), "udp", laddr.String())
	if err != nil {
		return nil, errors.Wrapf(err, "transport: failed to bind %s", laddr)
	}

	return &udpSocket{conn: conn.(*net.UDPConn)}, nil
}

type udpSocket struct {
	conn *net.UDPConn

	mu        sync.Mutex
	broadcast bool
}

func (s *udpSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *udpSocket) ReadFrom(b []byte) (int, *net.UDPAddr, error) {
	return s.conn.ReadFromUDP(b)
}

func (s *udpSocket) WriteTo(b []byte, addr *net.UDPAddr) (int, error) {
	return s.conn.WriteToUDP(b, addr)
}

func (s *udpSocket) SetBroadcast(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broadcast == enabled {
		return nil
	}

	raw, err := s.conn.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "transport: no raw socket access")
	}

	flag := 0
	if enabled {
		flag = 1
	}

	var opErr error
	err = raw.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, flag)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return errors.Wrap(err, "transport: failed to toggle broadcast option")
	}

	s.broadcast = enabled
	return nil
}

func (s *udpSocket) Close() error {
	return s.conn.Close()
}

// Class partitions transport errors into the categories the receive cycle
// reacts to differently.
type Class uint8

const (
	// ClassOther covers everything the server only logs.
	ClassOther Class = iota

	// ClassTooLarge marks a datagram exceeding the receive buffer.
	ClassTooLarge

	// ClassPeerReset marks a reset reported for a specific remote peer.
	ClassPeerReset

	// ClassPeerAborted marks a connection abort for a specific remote peer.
	ClassPeerAborted
)

// Classify maps err onto the transport error taxonomy. Unknown and nil
// errors classify as ClassOther.
func Classify(err error) Class {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return ClassOther
	}

	switch errno {
	case unix.EMSGSIZE:
		return ClassTooLarge
	case unix.ECONNRESET, unix.ECONNREFUSED:
		return ClassPeerReset
	case unix.ECONNABORTED:
		return ClassPeerAborted
	}
	return ClassOther
}

// PeerAddr extracts the remote endpoint an error was reported against, when
// the platform attached one.
func PeerAddr(err error) *net.UDPAddr {
	var op *net.OpError
	if errors.As(err, &op) {
		if addr, ok := op.Addr.(*net.UDPAddr); ok {
			return addr
		}
	}
	return nil
}
