package utils

import (
	"net"
	"net/netip"
	"regexp"
	"strings"
)

var dottedQuad = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`)

// IsAddress reports whether s is an address literal: a dotted quad or an
// IPv6 address.
func IsAddress(s string) bool {
	if dottedQuad.MatchString(s) {
		return true
	}
	if strings.Contains(s, ":") {
		addr, err := netip.ParseAddr(s)
		return err == nil && addr.Is6()
	}
	return false
}

// IsIPv6 reports whether s is an IPv6 address literal.
func IsIPv6(s string) bool {
	return strings.Contains(s, ":") && IsAddress(s)
}

// LocalAddresses returns the unicast addresses assigned to this host.
func LocalAddresses() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		out = append(out, ipnet.IP.String())
	}
	return out, nil
}
