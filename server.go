package dgram

import (
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/wavemesh/dgram/internal/sched"
	"github.com/wavemesh/dgram/log"
	"github.com/wavemesh/dgram/match"
	"github.com/wavemesh/dgram/payload"
	"github.com/wavemesh/dgram/resolve"
	"github.com/wavemesh/dgram/trace"
	"github.com/wavemesh/dgram/transport"
	"github.com/wavemesh/dgram/uri"
)

const (
	// receiveWorkersPerCPU sets the receive concurrency width relative to
	// the available processing units.
	receiveWorkersPerCPU = 2

	initialBufferSize = 4096

	// maxBufferSize caps adaptive receive-buffer growth.
	maxBufferSize = 64 * 1024
)

// Server owns a bound datagram socket, runs the receive cycle, and keeps
// one session per remote peer. Aside from Open and Close, all methods are
// safe for concurrent use.
type Server struct {
	addr   *net.UDPAddr
	target *net.UDPAddr

	reuse          bool
	acceptLoopback bool
	defaultTimeout time.Duration
	capacity       int
	matcher        match.Predicate

	resolver resolve.Resolver
	tracer   trace.Tracer
	logger   zerolog.Logger
	listen   func(*net.UDPAddr, bool) (transport.Socket, error)

	socket transport.Socket
	sendMu sync.Mutex

	// sessions maps peer identity keys to sessions; broadcast maps the
	// socket's local port to the session awaiting replies from arbitrary
	// senders. Lookups on both are lock-free; only creation takes createMu.
	sessions  sync.Map
	broadcast sync.Map
	createMu  sync.Mutex

	nextID      uint64
	broadcaston uint32

	subsMu sync.RWMutex
	subs   []chan *Session

	exec    *sched.Executor
	workers sync.WaitGroup

	localAddrs []net.IP

	active uint32
	closed uint32
}

// NewServer creates a datagram session server. The zero configuration
// binds to an ephemeral port on the unspecified address with the loopback
// filter enabled.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		addr:           &net.UDPAddr{},
		defaultTimeout: match.DefaultTimeout,
		capacity:       match.DefaultCapacity,
		matcher:        MatchAny,
		resolver:       resolve.NewService(nil, 0),
		tracer:         trace.Nop(),
		logger:         log.Logger(),
		listen:         transport.Listen,
		exec:           sched.New(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Addr returns the bound local endpoint, or the configured one before Open.
func (s *Server) Addr() *net.UDPAddr {
	if atomic.LoadUint32(&s.active) == 1 {
		return s.socket.LocalAddr()
	}
	return s.addr
}

// Active reports whether the socket is bound and the receive cycle running.
func (s *Server) Active() bool {
	return atomic.LoadUint32(&s.active) == 1
}

// Open binds the socket to the configured local endpoint and starts the
// receive cycle. An unspecified local address adapts its family to a known
// remote target before binding. Open fails the caller on a bind error; it
// does not retry. Opening an already open server is a no-op.
func (s *Server) Open() error {
	if atomic.LoadUint32(&s.closed) == 1 {
		return ErrClosed
	}
	if atomic.LoadUint32(&s.active) == 1 {
		return nil
	}

	return s.open(s.target)
}

func (s *Server) open(target *net.UDPAddr) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if atomic.LoadUint32(&s.active) == 1 {
		return nil
	}

	laddr := adaptFamily(s.addr, target)

	socket, err := s.listen(laddr, s.reuse)
	if err != nil {
		return errors.Wrap(err, "dgram: open failed")
	}

	s.socket = socket
	s.localAddrs = interfaceAddrs()
	atomic.StoreUint32(&s.active, 1)

	width := runtime.NumCPU() * receiveWorkersPerCPU
	s.workers.Add(width)
	for i := 0; i < width; i++ {
		go s.receiveLoop()
	}

	s.logger.Info().Stringer("addr", socket.LocalAddr()).Int("workers", width).Msg("Listening for datagrams.")
	return nil
}

// Close marks the server unusable for new operations, disposes every
// active session, and shuts the socket down. A shutdown error is logged
// and swallowed unless the socket was already closed, in which case it is
// ignored entirely. Closing an already closed server is a no-op.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return nil
	}

	s.sessions.Range(func(_, value interface{}) bool {
		value.(*Session).Close()
		return true
	})
	s.broadcast.Range(func(_, value interface{}) bool {
		value.(*Session).Close()
		return true
	})

	if atomic.CompareAndSwapUint32(&s.active, 1, 0) {
		if err := s.socket.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn().Err(err).Msg("Socket shutdown reported an error.")
		}
		s.workers.Wait()
	}

	s.exec.Close()

	s.logger.Info().Msg("Server closed.")
	return nil
}

// Session returns the live session for a peer key, if any.
func (s *Server) Session(key string) (*Session, bool) {
	if v, ok := s.sessions.Load(key); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Sessions snapshots the live sessions.
func (s *Server) Sessions() []*Session {
	var sessions []*Session
	s.sessions.Range(func(_, value interface{}) bool {
		sessions = append(sessions, value.(*Session))
		return true
	})
	return sessions
}

// Subscribe registers ch to be offered every newly created session. The
// offer never blocks session creation: a subscriber whose channel is full
// misses the notification.
func (s *Server) Subscribe(ch chan *Session) {
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
}

// Unsubscribe removes a previously subscribed channel.
func (s *Server) Unsubscribe(ch chan *Session) {
	s.subsMu.Lock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	s.subsMu.Unlock()
}

func (s *Server) notify(session *Session) {
	s.subsMu.RLock()
	for _, sub := range s.subs {
		select {
		case sub <- session:
		default:
		}
	}
	s.subsMu.RUnlock()
}

// CreateSession returns the session for a remote endpoint, creating it if
// none exists. An inactive server is opened first, adapting its local
// address family to the remote's; a bind failure yields no session. When
// two callers race on the same new peer, exactly one session is created
// and both receive it.
func (s *Server) CreateSession(remote *net.UDPAddr) (*Session, error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return nil, ErrClosed
	}

	if atomic.LoadUint32(&s.active) == 0 {
		if err := s.open(remote); err != nil {
			return nil, err
		}
	}

	key := remote.String()

	if v, ok := s.sessions.Load(key); ok {
		return v.(*Session), nil
	}
	if atomic.LoadUint32(&s.broadcaston) == 1 {
		if v, ok := s.broadcast.Load(s.socket.LocalAddr().Port); ok {
			return v.(*Session), nil
		}
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	// Re-check under the lock: a concurrent datagram from the same peer
	// may have won the race, and its session is then canonical.
	if v, ok := s.sessions.Load(key); ok {
		return v.(*Session), nil
	}
	if atomic.LoadUint32(&s.broadcaston) == 1 {
		if v, ok := s.broadcast.Load(s.socket.LocalAddr().Port); ok {
			return v.(*Session), nil
		}
	}

	session := newSession(atomic.AddUint64(&s.nextID, 1), s, remote)

	if isBroadcast(remote.IP) {
		port := s.socket.LocalAddr().Port
		s.broadcast.Store(port, session)
		session.onClose(func() {
			s.broadcast.Delete(port)
		})
	}

	session.start()
	s.notify(session)
	s.sessions.Store(key, session)

	s.logger.Debug().Uint64("session", session.ID()).Str("peer", key).Msg("Session created.")
	return session, nil
}

// CreateSessionTo resolves a peer URI through the server's resolver and
// returns the session for its first endpoint.
func (s *Server) CreateSessionTo(u *uri.URI) (*Session, error) {
	endpoints, err := u.Endpoints(s.resolver)
	if err != nil {
		return nil, err
	}
	return s.CreateSession(endpoints[0])
}

// send serializes all outbound traffic on the socket. In point-to-point
// mode every payload goes to the configured target; otherwise it goes to
// dest, enabling the broadcast socket option first when dest is a
// broadcast address.
func (s *Server) send(p payload.Buffer, dest *net.UDPAddr) (int, error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return 0, ErrClosed
	}
	if atomic.LoadUint32(&s.active) == 0 {
		return 0, ErrNotOpen
	}

	span := s.tracer.SpanStart(trace.OpSend)
	span.Tag("bytes", p.Len())

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.target != nil {
		dest = s.target
	} else if isBroadcast(dest.IP) {
		if err := s.socket.SetBroadcast(true); err != nil {
			span.End(err)
			return 0, err
		}
		atomic.StoreUint32(&s.broadcaston, 1)
	}

	span.Tag("dest", dest.String())

	n, err := s.socket.WriteTo(p.Bytes(), dest)
	if err != nil {
		span.End(err)
		return n, errors.Wrapf(err, "dgram: send to %s failed", dest)
	}

	span.End(nil)
	return n, nil
}

// Send transmits one payload to dest, creating the session for dest on
// first use.
func (s *Server) Send(p payload.Buffer, dest *net.UDPAddr) (int, error) {
	session, err := s.CreateSession(dest)
	if err != nil {
		return 0, err
	}
	return session.Send(p)
}

// receiveLoop is one lane of the receive cycle. Each lane owns its buffer
// and grows it when the transport reports a datagram too large, up to the
// internal cap. Per-datagram errors never stop the cycle.
func (s *Server) receiveLoop() {
	defer s.workers.Done()

	buf := make([]byte, initialBufferSize)

	for {
		if atomic.LoadUint32(&s.closed) == 1 {
			return
		}

		n, src, err := s.socket.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || atomic.LoadUint32(&s.closed) == 1 {
				return
			}

			switch transport.Classify(err) {
			case transport.ClassTooLarge:
				if len(buf) < maxBufferSize {
					grown := len(buf) * 2
					if grown > maxBufferSize {
						grown = maxBufferSize
					}
					buf = make([]byte, grown)
					s.logger.Debug().Int("size", grown).Msg("Grew receive buffer.")
				}
			case transport.ClassPeerReset, transport.ClassPeerAborted:
				s.closePeer(transport.PeerAddr(err))
			default:
				s.logger.Warn().Err(err).Msg("Receive failed; continuing.")
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		s.ingest(Datagram{Payload: payload.From(data), From: src})
	}
}

// closePeer closes only the session a peer-level transport error was
// reported against. The server itself keeps serving.
func (s *Server) closePeer(peer *net.UDPAddr) {
	if peer == nil {
		return
	}
	if v, ok := s.sessions.Load(peer.String()); ok {
		s.logger.Debug().Str("peer", peer.String()).Msg("Peer reset; closing its session.")
		v.(*Session).Close()
	}
}

// ingest pre-processes one received datagram: self-originated loopback
// traffic is dropped before session resolution, everything else is
// dispatched to its session.
func (s *Server) ingest(data Datagram) {
	if !s.acceptLoopback && selfOriginated(data.From, s.socket.LocalAddr(), s.localAddrs) {
		s.logger.Debug().Stringer("src", data.From).Msg("Filtered self-originated datagram.")
		return
	}

	session, err := s.CreateSession(data.From)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("src", data.From).Msg("No session resolved for datagram.")
		return
	}

	session.deliver(data)
}
