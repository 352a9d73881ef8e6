package model

import (
	"strconv"
	"strings"
)

type Action string // "ALLOW", "DENY"

const (
	Allow Action = "ALLOW"
	Deny  Action = "DENY"
)

// Target returns the iptables jump target for the action.
func (a Action) Target() string {
	if a == Allow {
		return "ACCEPT"
	}
	return "DROP"
}

type Chain string

const (
	Inbound  Chain = "INBOUND"
	Outbound Chain = "OUTBOUND"
	Relay    Chain = "RELAY"
)

// IPTables returns the built-in filter chain enforcing c.
func (c Chain) IPTables() string {
	switch c {
	case Outbound:
		return "OUTPUT"
	case Relay:
		return "FORWARD"
	default:
		return "INPUT"
	}
}

type Protocol string // "tcp", "udp", "icmp", ...

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// Preposition is the role word governing an address in a clause.
type Preposition string

const (
	PrepNone        Preposition = "NONE"
	PrepTarget      Preposition = "TARGET"
	PrepSource      Preposition = "SOURCE"
	PrepDestination Preposition = "DESTINATION"
)

type AddressMention struct {
	Address     string
	Preposition Preposition
	Position    int
}

// Intent is the action/service/address structure of one clause. The
// extractor fills Action, Service and Mentions; role resolution fills the
// address fields.
type Intent struct {
	Action   Action
	Service  string
	Mentions []AddressMention

	SourceAddress      string
	DestinationAddress string
	TargetAddress      string
	TargetWasExplicit  bool
}

type ResolvedRule struct {
	EnforcementDevice  string
	Chain              Chain
	Action             Action
	Service            string
	SourceAddress      string
	DestinationAddress string
}

type ServicePort struct {
	Protocol Protocol
	Port     int // 0 when the entry has no port
}

type ConcreteRule struct {
	EnforcementDevice  string
	Chain              Chain
	Action             Action
	SourceAddress      string
	DestinationAddress string
	Protocol           Protocol
	Port               int
}

// Args renders the rule as iptables arguments:
// -A <CHAIN> [-s <src>] [-d <dst>] [-p <proto> [--dport <port>]] -j <TARGET>
func (r ConcreteRule) Args() []string {
	args := []string{"-A", r.Chain.IPTables()}
	args = append(args, r.RuleSpec()...)
	return args
}

// RuleSpec is Args without the leading "-A <CHAIN>".
func (r ConcreteRule) RuleSpec() []string {
	var spec []string
	if r.SourceAddress != "" {
		spec = append(spec, "-s", r.SourceAddress)
	}
	if r.DestinationAddress != "" {
		spec = append(spec, "-d", r.DestinationAddress)
	}
	if r.Protocol != "" {
		spec = append(spec, "-p", string(r.Protocol))
		if r.Port > 0 && (r.Protocol == TCP || r.Protocol == UDP) {
			spec = append(spec, "--dport", strconv.Itoa(r.Port))
		}
	}
	return append(spec, "-j", r.Action.Target())
}

func (r ConcreteRule) String() string {
	return strings.Join(r.Args(), " ")
}

type Reason string

const (
	NoActionFound       Reason = "NoActionFound"
	NoEnforcementTarget Reason = "NoEnforcementTarget"
	NoAddressContext    Reason = "NoAddressContext"
	UnknownService      Reason = "UnknownService"
	CatalogUnavailable  Reason = "CatalogUnavailable"
	AliasConflict       Reason = "AliasConflict"

	// Non-fatal role resolution notes.
	TargetConflict     Reason = "TargetConflict"
	DuplicateRole      Reason = "DuplicateRole"
	UnresolvedAddress  Reason = "UnresolvedAddress"
	PortIgnored        Reason = "PortIgnored"
	PreferredTargetSet Reason = "PreferredTargetSet"
)

type Diagnostic struct {
	Code    Reason
	Message string
}

type ClauseResult struct {
	Index       int
	Clause      string
	Intent      *Intent
	Resolved    *ResolvedRule
	Rules       []ConcreteRule
	Reason      Reason // set when Rules is empty
	Diagnostics []Diagnostic
}

// OK reports whether the clause produced at least one rule.
func (c *ClauseResult) OK() bool {
	return len(c.Rules) > 0
}

func (c *ClauseResult) Note(code Reason, msg string) {
	c.Diagnostics = append(c.Diagnostics, Diagnostic{Code: code, Message: msg})
}

// Reject records a terminal reason for a clause that yields no rules.
func (c *ClauseResult) Reject(code Reason, msg string) {
	c.Reason = code
	c.Note(code, msg)
}
