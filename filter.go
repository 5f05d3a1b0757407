package dgram

import (
	"net"
)

// interfaceAddrs snapshots the host's own addresses. The server takes the
// snapshot at open time for the loopback self-filter when bound to "any".
func interfaceAddrs() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			ips = append(ips, ipnet.IP)
		}
	}
	return ips
}

// selfOriginated reports whether a datagram from src is the server's own
// transmission looped back: same port as the bound socket, and a source
// address equal to the bound address, or to any local interface address
// when bound to "any".
func selfOriginated(src, local *net.UDPAddr, localAddrs []net.IP) bool {
	if src == nil || local == nil || src.Port != local.Port {
		return false
	}

	if local.IP != nil && !local.IP.IsUnspecified() {
		return src.IP.Equal(local.IP)
	}

	for _, ip := range localAddrs {
		if src.IP.Equal(ip) {
			return true
		}
	}
	return false
}

// isBroadcast reports whether ip is the limited broadcast address or the
// directed broadcast of one of the host's own IPv4 networks.
func isBroadcast(ip net.IP) bool {
	if ip.Equal(net.IPv4bcast) {
		return true
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}

	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil {
			continue
		}

		if !ipnet.Contains(ip4) {
			continue
		}

		directed := make(net.IP, len(ipnet.IP.To4()))
		copy(directed, ipnet.IP.To4())
		for i, m := range ipnet.Mask {
			if len(ipnet.Mask) == 16 {
				if i < 12 {
					continue
				}
				directed[i-12] |= ^m
			} else {
				directed[i] |= ^m
			}
		}

		if ip4.Equal(directed) {
			return true
		}
	}
	return false
}
