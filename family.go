package dgram

import (
	"net"
)

// adaptFamily returns the local bind address adjusted so that an
// unspecified ("any") local address takes the address family of the remote
// target. A concrete local address, or an absent target, passes through
// unchanged. The function is pure; it never mutates its arguments.
func adaptFamily(local, target *net.UDPAddr) *net.UDPAddr {
	if target == nil || target.IP == nil {
		return local
	}
	if local != nil && local.IP != nil && !local.IP.IsUnspecified() {
		return local
	}

	adapted := &net.UDPAddr{}
	if local != nil {
		adapted.Port = local.Port
		adapted.Zone = local.Zone
	}

	if target.IP.To4() != nil {
		adapted.IP = net.IPv4zero
	} else {
		adapted.IP = net.IPv6zero
	}
	return adapted
}
