package engine

import (
	"fmt"

	"policy-compiler/internal/model"
)

// roleState carries the mentions not yet consumed by earlier rules.
type roleState struct {
	intent    *model.Intent
	remaining []model.AddressMention
	notes     []model.Diagnostic
}

func (s *roleState) note(code model.Reason, format string, args ...any) {
	s.notes = append(s.notes, model.Diagnostic{Code: code, Message: fmt.Sprintf(format, args...)})
}

type roleRule struct {
	name  string
	apply func(*roleState)
}

// roleRules run in order; each consumes the mentions it assigns.
var roleRules = []roleRule{
	{"explicit target", assignTarget},
	{"source", assignSource},
	{"destination", assignDestination},
	{"lone address defaults to source", assignLoneAddress},
	{"unresolved", reportUnresolved},
}

func assignTarget(s *roleState) {
	var rest []model.AddressMention
	for _, m := range s.remaining {
		if m.Preposition != model.PrepTarget {
			rest = append(rest, m)
			continue
		}
		if !s.intent.TargetWasExplicit {
			s.intent.TargetAddress = m.Address
			s.intent.TargetWasExplicit = true
			continue
		}
		// Surplus targets stay available to later rules.
		s.note(model.TargetConflict, "multiple targets, using %s and keeping %s", s.intent.TargetAddress, m.Address)
		rest = append(rest, m)
	}
	s.remaining = rest
}

func assignSource(s *roleState) {
	s.remaining = assignFirst(s, model.PrepSource, &s.intent.SourceAddress)
}

func assignDestination(s *roleState) {
	s.remaining = assignFirst(s, model.PrepDestination, &s.intent.DestinationAddress)
}

func assignFirst(s *roleState, prep model.Preposition, field *string) []model.AddressMention {
	var rest []model.AddressMention
	for _, m := range s.remaining {
		if m.Preposition != prep {
			rest = append(rest, m)
			continue
		}
		if *field == "" {
			*field = m.Address
			continue
		}
		s.note(model.DuplicateRole, "multiple %s addresses, using %s and discarding %s", prep, *field, m.Address)
	}
	return rest
}

func assignLoneAddress(s *roleState) {
	in := s.intent
	if len(s.remaining) != 1 || in.SourceAddress != "" || in.DestinationAddress != "" {
		return
	}
	if m := s.remaining[0]; m.Address != in.TargetAddress {
		in.SourceAddress = m.Address
		s.remaining = nil
	}
}

func reportUnresolved(s *roleState) {
	for _, m := range s.remaining {
		s.note(model.UnresolvedAddress, "address %s plays no role in the rule", m.Address)
	}
	s.remaining = nil
}

// ResolveRoles fills the source, destination and target fields of intent
// from its mentions and applies preferredTarget. The returned diagnostics are
// informational; callers validate the resulting intent themselves.
func ResolveRoles(intent *model.Intent, preferredTarget string) []model.Diagnostic {
	s := &roleState{intent: intent, remaining: append([]model.AddressMention(nil), intent.Mentions...)}
	for _, rule := range roleRules {
		rule.apply(s)
	}

	if !intent.TargetWasExplicit {
		switch {
		case intent.DestinationAddress != "":
			intent.TargetAddress = intent.DestinationAddress
		case intent.SourceAddress != "":
			intent.TargetAddress = intent.SourceAddress
		}
	}

	if preferredTarget != "" && !intent.TargetWasExplicit && preferredTarget != intent.TargetAddress {
		if intent.TargetAddress == "" {
			s.note(model.PreferredTargetSet, "no target found, using preferred target %s", preferredTarget)
		} else {
			s.note(model.PreferredTargetSet, "implicit target %s replaced by preferred target %s", intent.TargetAddress, preferredTarget)
		}
		intent.TargetAddress = preferredTarget
	}
	return s.notes
}
