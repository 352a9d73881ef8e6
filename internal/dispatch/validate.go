package dispatch

import (
	"fmt"
	"regexp"
	"strings"

	"policy-compiler/internal/model"
	"policy-compiler/internal/utils"
)

var (
	allowedArgChars = regexp.MustCompile(`^[a-zA-Z0-9\s.\-/=:*]+$`)
	protocolName    = regexp.MustCompile(`^[a-z0-9]+$`)
)

// Validate checks a rule before it is handed to the packet filter.
func Validate(rule model.ConcreteRule) error {
	switch rule.Chain {
	case model.Inbound, model.Outbound, model.Relay:
	default:
		return fmt.Errorf("invalid chain %q", rule.Chain)
	}
	if rule.Action != model.Allow && rule.Action != model.Deny {
		return fmt.Errorf("invalid action %q", rule.Action)
	}
	if !utils.IsAddress(rule.EnforcementDevice) {
		return fmt.Errorf("invalid enforcement device %q", rule.EnforcementDevice)
	}
	for _, addr := range []string{rule.SourceAddress, rule.DestinationAddress} {
		if addr != "" && !utils.IsAddress(addr) {
			return fmt.Errorf("invalid address %q", addr)
		}
	}
	if rule.SourceAddress != "" && rule.DestinationAddress != "" &&
		utils.IsIPv6(rule.SourceAddress) != utils.IsIPv6(rule.DestinationAddress) {
		return fmt.Errorf("source %s and destination %s are different address families", rule.SourceAddress, rule.DestinationAddress)
	}
	if rule.Protocol != "" && !protocolName.MatchString(string(rule.Protocol)) {
		return fmt.Errorf("invalid protocol %q", rule.Protocol)
	}
	if rule.Port < 0 || rule.Port > 65535 {
		return fmt.Errorf("invalid port %d", rule.Port)
	}
	if rule.Port > 0 && rule.Protocol != model.TCP && rule.Protocol != model.UDP {
		return fmt.Errorf("port %d requires tcp or udp", rule.Port)
	}
	if args := strings.Join(rule.Args(), " "); !allowedArgChars.MatchString(args) {
		return fmt.Errorf("rule contains disallowed characters: %q", args)
	}
	return nil
}
