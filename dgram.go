// Package dgram is a session-oriented transport layer over unordered,
// unreliable datagrams. It tracks one conversation per remote peer, routes
// broadcast replies back to the session that initiated them, and pairs
// outbound requests with later inbound responses so applications get
// call/response semantics without their own peer bookkeeping or timeout
// machinery.
//
// Correlation, not reliability, is what the package provides: datagrams may
// still be lost, duplicated or reordered by the network.
package dgram

import (
	"net"

	"github.com/wavemesh/dgram/match"
	"github.com/wavemesh/dgram/payload"
)

// Datagram is one received payload together with its source endpoint.
type Datagram struct {
	Payload payload.Buffer
	From    *net.UDPAddr
}

// MatchAny pairs a response with the oldest pending request of the session,
// regardless of contents. It is the default matcher for protocols where at
// most one request is in flight per peer.
func MatchAny(request, response interface{}) bool {
	return true
}

var _ match.Predicate = MatchAny
