// Package uri implements the peer address model used to identify remote
// endpoints: a protocol tag, a host or literal address, and a port, with a
// canonical string rendering and on-demand host resolution.
package uri

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/wavemesh/dgram/resolve"
)

// Protocol tags a URI with the transport scheme it was parsed from.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolHTTP
	ProtocolHTTPS
	ProtocolWebSocket
)

var protocolNames = map[string]Protocol{
	"tcp": ProtocolTCP,
	"udp": ProtocolUDP,
}

// String returns the scheme text for the protocol, or an empty string for
// ProtocolUnknown.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolHTTP:
		return "http"
	case ProtocolHTTPS:
		return "https"
	case ProtocolWebSocket:
		return "ws"
	}
	return ""
}

// URI identifies one remote peer: a protocol, a host name or literal
// address, and a port. Host and address are two views of the same identity;
// assigning a literal address replaces the stored host with its textual
// form, and reading the address of a URI that only carries a host name
// resolves it on demand.
type URI struct {
	Protocol Protocol
	Port     uint16

	host string
	addr net.IP
}

// New creates a URI from a protocol, host and port. The host may be a name
// or a literal address.
func New(protocol Protocol, host string, port uint16) *URI {
	u := &URI{Protocol: protocol, Port: port}
	u.SetHost(host)
	return u
}

// Parse derives a protocol, host and port from a textual peer address such
// as "udp://192.168.1.5:502" or "https://example.com/path". An empty or
// blank input yields a zero URI and no error.
func Parse(text string) (*URI, error) {
	u := &URI{}

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return u, nil
	}

	if idx := strings.Index(text, "://"); idx >= 0 {
		scheme := strings.ToLower(text[:idx])
		text = text[idx+3:]

		switch scheme {
		case "http":
			u.Protocol = ProtocolHTTP
			u.Port = 80
		case "https":
			u.Protocol = ProtocolHTTPS
			u.Port = 443
		case "ws":
			u.Protocol = ProtocolWebSocket
			u.Port = 80
		case "wss":
			u.Protocol = ProtocolWebSocket
			u.Port = 443
		default:
			u.Protocol = protocolNames[scheme]
		}
	}

	// Anything past the authority is not part of the peer identity.
	if idx := strings.IndexAny(text, "/?"); idx >= 0 {
		text = text[:idx]
	}

	// A trailing ":port" counts only when the rune before the last colon is
	// not itself a colon, which keeps unbracketed IPv6 literals intact.
	if idx := strings.LastIndex(text, ":"); idx > 0 && text[idx-1] != ':' {
		if port, err := strconv.ParseUint(text[idx+1:], 10, 16); err == nil {
			u.Port = uint16(port)
			text = text[:idx]
		}
	}

	text = strings.TrimPrefix(strings.TrimSuffix(text, "]"), "[")

	if ip := net.ParseIP(text); ip != nil {
		u.SetAddr(ip)
	} else {
		u.host = text
	}

	return u, nil
}

// Host returns the stored host name, or the textual form of the stored
// address when no name is known.
func (u *URI) Host() string {
	return u.host
}

// SetHost stores a host name, dropping any previously resolved address
// unless the name is itself a literal address.
func (u *URI) SetHost(host string) {
	if ip := net.ParseIP(host); ip != nil {
		u.SetAddr(ip)
		return
	}
	u.host = host
	u.addr = nil
}

// SetAddr stores a concrete address, overwriting the host with its textual
// form.
func (u *URI) SetAddr(ip net.IP) {
	u.addr = ip
	u.host = ip.String()
}

// Addr returns the effective address of the peer. A stored host name is
// resolved on demand through r; resolution failure falls back to the
// unspecified address.
func (u *URI) Addr(r resolve.Resolver) net.IP {
	if u.addr != nil {
		return u.addr
	}
	if len(u.host) == 0 {
		return net.IPv4zero
	}

	ips, err := r.LookupHost(u.host)
	if err != nil || len(ips) == 0 {
		return net.IPv4zero
	}
	return ips[0]
}

// Addresses resolves the host to every address it maps to, or returns the
// single stored address when no host name is present. Errors name the host
// that failed to resolve.
func (u *URI) Addresses(r resolve.Resolver) ([]net.IP, error) {
	if u.addr != nil {
		return []net.IP{u.addr}, nil
	}
	if len(u.host) == 0 {
		return nil, errors.New("uri: no host to resolve")
	}

	ips, err := r.LookupHost(u.host)
	if err != nil {
		return nil, errors.Wrapf(err, "uri: failed to resolve host %q", u.host)
	}
	if len(ips) == 0 {
		return nil, errors.Errorf("uri: host %q resolved to no addresses", u.host)
	}
	return ips, nil
}

// Endpoints resolves the host and pairs every resulting address with the
// URI's port.
func (u *URI) Endpoints(r resolve.Resolver) ([]*net.UDPAddr, error) {
	ips, err := u.Addresses(r)
	if err != nil {
		return nil, err
	}

	endpoints := make([]*net.UDPAddr, 0, len(ips))
	for _, ip := range ips {
		endpoints = append(endpoints, &net.UDPAddr{IP: ip, Port: int(u.Port)})
	}
	return endpoints, nil
}

// String renders the canonical "scheme://host[:port]" form. The scheme is
// omitted for ProtocolUnknown, WebSocket renders as ws or wss depending on
// whether the port is 443, IPv6 literals are bracketed, and a zero port is
// suppressed.
func (u *URI) String() string {
	host := u.host
	if u.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(int(u.Port)))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	scheme := u.Protocol.String()
	if u.Protocol == ProtocolWebSocket && u.Port == 443 {
		scheme = "wss"
	}
	if len(scheme) == 0 {
		return host
	}
	return scheme + "://" + host
}
