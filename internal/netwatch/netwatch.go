// Package netwatch raises the agent's network-ready latch once the host
// has usable connectivity. On Linux it subscribes to address updates via
// netlink; elsewhere it falls back to polling.
package netwatch

import "net"

// hasConnectivity reports whether any interface carries a global unicast
// address.
func hasConnectivity() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipnet.IP.IsGlobalUnicast() {
			return true
		}
	}
	return false
}
