package artnet

import (
	"fmt"
	"net"
	"strings"
)

// FindIP finds the matching interface with an IP address inside the cidr.
func FindIP(cidr string) (net.IP, error) {
	_, cidrNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid art-net cidr %q: %w", cidr, err)
	}
	address, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips: %w", err)
	}

	for _, addr := range address {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP

		if strings.Contains(ip.String(), ":") {
			continue
		}

		if cidrNet.Contains(ip) {
			return ip, nil
		}
	}

	return nil, fmt.Errorf("no interface found in %s", cidr)
}
