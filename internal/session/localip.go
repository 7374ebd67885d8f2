package session

import "net"

const fallbackIP = "127.0.0.1"

// LocalIP returns the first IPv4 address of an up, non-loopback interface,
// or 127.0.0.1 when there is none.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fallbackIP
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			ip4 := ip.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			return ip4.String()
		}
	}
	return fallbackIP
}
