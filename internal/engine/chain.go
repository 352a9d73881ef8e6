package engine

import "policy-compiler/internal/model"

type chainRule struct {
	name  string
	match func(target, source, destination string) bool
	chain model.Chain
}

// chainTable is evaluated top to bottom; the first match wins.
var chainTable = []chainRule{
	{
		name:  "target is the source of traffic to a destination",
		match: func(t, s, d string) bool { return s != "" && d != "" && t == s },
		chain: model.Outbound,
	},
	{
		name:  "target is the destination of traffic from a source",
		match: func(t, s, d string) bool { return s != "" && d != "" && t == d },
		chain: model.Inbound,
	},
	{
		name:  "target relays between source and destination",
		match: func(t, s, d string) bool { return s != "" && d != "" },
		chain: model.Relay,
	},
	{
		name:  "source only, target is the source",
		match: func(t, s, d string) bool { return s != "" && t == s },
		chain: model.Outbound,
	},
	{
		name:  "source only, target elsewhere",
		match: func(t, s, d string) bool { return s != "" },
		chain: model.Inbound,
	},
	{
		// A third-party target with only a destination also lands here.
		name:  "destination only",
		match: func(t, s, d string) bool { return d != "" },
		chain: model.Inbound,
	},
	{
		name:  "explicit target without addresses",
		match: func(t, s, d string) bool { return true },
		chain: model.Inbound,
	},
}

// ResolveChain picks the filter chain for a rule enforced on target.
func ResolveChain(target, source, destination string) model.Chain {
	chain, _ := resolveChain(target, source, destination)
	return chain
}

func resolveChain(target, source, destination string) (model.Chain, string) {
	for _, rule := range chainTable {
		if rule.match(target, source, destination) {
			return rule.chain, rule.name
		}
	}
	return model.Inbound, ""
}
