package dgram

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavemesh/dgram/match"
	"github.com/wavemesh/dgram/resolve"
	"github.com/wavemesh/dgram/trace"
	"github.com/wavemesh/dgram/transport"
)

// ServerOption represents a functional option that may be passed to
// NewServer for instantiating a server with configured values.
type ServerOption func(s *Server)

// WithAddr sets the local address the server binds to. By default the
// server binds to the unspecified ("any") address.
func WithAddr(ip net.IP) ServerOption {
	return func(s *Server) {
		s.addr.IP = ip
	}
}

// WithPort sets the local listening port. By default an ephemeral port is
// chosen by the operating system.
func WithPort(port int) ServerOption {
	return func(s *Server) {
		s.addr.Port = port
	}
}

// WithTarget pins the server to a single remote endpoint. A targeted server
// operates in point-to-point mode: every send goes to the target, and an
// unspecified local address adapts to the target's address family before
// binding.
func WithTarget(target *net.UDPAddr) ServerOption {
	return func(s *Server) {
		s.target = target
	}
}

// WithReuseAddress maps to the platform's reuse-address socket option,
// applied before the bind takes effect.
func WithReuseAddress(reuse bool) ServerOption {
	return func(s *Server) {
		s.reuse = reuse
	}
}

// WithAcceptLoopback disables the self-reception filter, delivering the
// server's own looped-back transmissions like any other datagram. The
// filter is enabled by default.
func WithAcceptLoopback(accept bool) ServerOption {
	return func(s *Server) {
		s.acceptLoopback = accept
	}
}

// WithDefaultTimeout sets the request timeout applied when a caller does
// not supply one. By default requests time out after 15 seconds.
func WithDefaultTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		if timeout <= 0 {
			timeout = match.DefaultTimeout
		}
		s.defaultTimeout = timeout
	}
}

// WithCapacity sets the per-session match queue capacity. Exceeding the
// capacity fails further requests immediately rather than queueing them.
// By default each session holds up to 256 in-flight requests.
func WithCapacity(capacity int) ServerOption {
	return func(s *Server) {
		if capacity < 1 {
			capacity = match.DefaultCapacity
		}
		s.capacity = capacity
	}
}

// WithMatcher sets the predicate pairing inbound responses with pending
// requests. By default the oldest pending request of the session wins.
func WithMatcher(matcher match.Predicate) ServerOption {
	return func(s *Server) {
		if matcher != nil {
			s.matcher = matcher
		}
	}
}

// WithResolver sets the host resolver consulted for named peers. By
// default a caching resolver over the system resolver is used.
func WithResolver(resolver resolve.Resolver) ServerOption {
	return func(s *Server) {
		if resolver != nil {
			s.resolver = resolver
		}
	}
}

// WithTracer attaches tracing hooks around send, receive, match and expire
// events.
func WithTracer(tracer trace.Tracer) ServerOption {
	return func(s *Server) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// withListen substitutes the socket factory. Tests use it to run the
// server over in-memory sockets.
func withListen(listen func(*net.UDPAddr, bool) (transport.Socket, error)) ServerOption {
	return func(s *Server) {
		s.listen = listen
	}
}
