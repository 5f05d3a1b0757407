package dgram

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavemesh/dgram/match"
	"github.com/wavemesh/dgram/payload"
	"github.com/wavemesh/dgram/trace"
)

// Session is the conversation context bound to exactly one remote peer, or
// to one local port for a broadcast sender accepting replies from any
// address. Sessions are created lazily on the first datagram from, or the
// first send to, a new peer, and live until closed by the application or by
// the owning server.
type Session struct {
	id     uint64
	server *Server

	remote *net.UDPAddr
	key    string

	queue     *match.Queue
	inboundMu sync.Mutex
	inbound   chan Datagram

	cleanupMu sync.Mutex
	cleanup   []func()

	logger zerolog.Logger

	open uint32
}

const inboundBacklog = 64

func newSession(id uint64, server *Server, remote *net.UDPAddr) *Session {
	s := &Session{
		id:     id,
		server: server,
		remote: remote,
		key:    remote.String(),
		queue: match.NewQueue(
			match.WithCapacity(server.capacity),
			match.WithExecutor(server.exec),
			match.WithTracer(server.tracer),
			match.WithLogger(server.logger),
		),
		inbound: make(chan Datagram, inboundBacklog),
		logger:  server.logger.With().Uint64("session", id).Str("peer", remote.String()).Logger(),
	}
	return s
}

func (s *Session) start() {
	atomic.StoreUint32(&s.open, 1)
}

// ID returns the session's unique identifier. Identifiers increase
// monotonically in creation order.
func (s *Session) ID() uint64 {
	return s.id
}

// Remote returns the peer endpoint the session is bound to.
func (s *Session) Remote() *net.UDPAddr {
	return s.remote
}

// Key returns the canonical peer identity the session is registered under.
func (s *Session) Key() string {
	return s.key
}

// Open reports whether the session is live.
func (s *Session) Open() bool {
	return atomic.LoadUint32(&s.open) == 1
}

// Pending reports the number of in-flight requests awaiting a response.
func (s *Session) Pending() int {
	return s.queue.Len()
}

// Inbound returns the channel carrying datagrams that matched no pending
// request. When nobody drains it, overflowing datagrams are dropped with a
// log entry rather than stalling the receive path. The channel is closed
// when the session is disposed, so ranging over it terminates.
func (s *Session) Inbound() <-chan Datagram {
	return s.inbound
}

// onClose registers fn to run exactly once when the session is disposed.
func (s *Session) onClose(fn func()) {
	s.cleanupMu.Lock()
	s.cleanup = append(s.cleanup, fn)
	s.cleanupMu.Unlock()
}

// Send transmits one payload to the session's peer. It returns the number
// of bytes accepted by the transport.
func (s *Session) Send(p payload.Buffer) (int, error) {
	if !s.Open() {
		return 0, ErrSessionClosed
	}
	return s.server.send(p, s.remote)
}

// Request registers req as pending, sends it to the peer, and blocks until
// a response matches it, the timeout elapses, the session is disposed, or
// ctx is done. A non-positive timeout uses the server default.
//
// Request fails immediately with match.ErrFull when the session already
// has its full capacity of requests in flight.
func (s *Session) Request(ctx context.Context, req payload.Buffer, timeout time.Duration) (payload.Buffer, error) {
	if !s.Open() {
		return payload.Buffer{}, ErrSessionClosed
	}

	if timeout <= 0 {
		timeout = s.server.defaultTimeout
	}

	handle := match.NewPending()
	if err := s.queue.Add(s, req, timeout, handle, s.key); err != nil {
		return payload.Buffer{}, err
	}

	if _, err := s.server.send(req, s.remote); err != nil {
		// The registered slot is left to the expiry sweep; the caller
		// already knows the request never left the host.
		return payload.Buffer{}, err
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		return payload.Buffer{}, err
	}
	return result.(payload.Buffer), nil
}

// deliver routes one accepted datagram into the session: first against the
// match queue, then to the inbound channel when no request claimed it.
// deliver never blocks; it runs on the receive path.
func (s *Session) deliver(data Datagram) {
	span := s.server.tracer.SpanStart(trace.OpReceive)
	span.Tag("peer", s.key)
	span.Tag("bytes", data.Payload.Len())
	defer span.End(nil)

	if s.queue.Match(s, data.Payload, data.Payload, s.server.matcher) {
		span.Tag("matched", true)
		return
	}

	// Close closes the inbound channel under the same mutex, so the send
	// below can never race a concurrent close.
	s.inboundMu.Lock()
	defer s.inboundMu.Unlock()

	if !s.Open() {
		s.logger.Debug().Int("bytes", data.Payload.Len()).Msg("Dropped datagram for a closed session.")
		return
	}

	select {
	case s.inbound <- data:
	default:
		s.logger.Debug().Int("bytes", data.Payload.Len()).Msg("Dropped unmatched datagram; inbound backlog is full.")
	}
}

// Close disposes the session: outstanding requests are cancelled, cleanup
// hooks run, and the session is removed from the owning server's registry.
// Closing an already closed session is a no-op.
func (s *Session) Close() error {
	if !atomic.CompareAndSwapUint32(&s.open, 1, 0) {
		return nil
	}

	s.queue.Close()

	s.inboundMu.Lock()
	close(s.inbound)
	s.inboundMu.Unlock()

	s.cleanupMu.Lock()
	cleanup := s.cleanup
	s.cleanup = nil
	s.cleanupMu.Unlock()

	for _, fn := range cleanup {
		fn()
	}

	s.server.sessions.Delete(s.key)
	s.logger.Debug().Msg("Session closed.")
	return nil
}
