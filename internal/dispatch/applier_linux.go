//go:build linux

package dispatch

import "github.com/coreos/go-iptables/iptables"

func openIPTables(ipv6 bool) (ruleAppender, error) {
	protocol := iptables.ProtocolIPv4
	if ipv6 {
		protocol = iptables.ProtocolIPv6
	}
	ipt, err := iptables.NewWithProtocol(protocol)
	if err != nil {
		return nil, err
	}
	return ipt, nil
}
