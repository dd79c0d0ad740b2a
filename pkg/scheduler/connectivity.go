package scheduler

import "net"

// InterfaceConnectivity is the default Connectivity check: any up,
// non-loopback interface with an address counts as online. No probe traffic.
type InterfaceConnectivity struct{}

// Online reports whether any usable network interface is up
func (c *InterfaceConnectivity) Online() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return true // can't tell, let the pings find out
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if len(addrs) > 0 {
			return true
		}
	}
	return false
}
