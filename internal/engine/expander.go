package engine

import (
	"fmt"
	"strings"

	"policy-compiler/internal/model"
)

// ServiceLookup is the read-only view of the service catalog used during a
// compile.
type ServiceLookup interface {
	Lookup(name string) ([]model.ServicePort, bool)
	Available() bool
}

var ignoredServices = map[string]bool{"any": true, "all": true, "traffic": true, "": true}

// Expand turns rule into concrete rules, one per protocol/port pair of its
// service. It returns no rules only when the service is unknown and the rule
// has no address to scope an unqualified rule to.
func Expand(rule *model.ResolvedRule, catalog ServiceLookup) ([]model.ConcreteRule, []model.Diagnostic) {
	base := model.ConcreteRule{
		EnforcementDevice:  rule.EnforcementDevice,
		Chain:              rule.Chain,
		Action:             rule.Action,
		SourceAddress:      rule.SourceAddress,
		DestinationAddress: rule.DestinationAddress,
	}
	service := strings.ToLower(rule.Service)
	if ignoredServices[service] {
		return []model.ConcreteRule{base}, nil
	}

	var ports []model.ServicePort
	found := false
	if catalog != nil {
		ports, found = catalog.Lookup(service)
	}

	var diags []model.Diagnostic
	if !found || len(ports) == 0 {
		diags = append(diags, model.Diagnostic{Code: model.UnknownService, Message: fmt.Sprintf("service %q not in catalog", service)})
		if catalog == nil || !catalog.Available() {
			diags = append(diags, model.Diagnostic{Code: model.CatalogUnavailable, Message: "service catalog unavailable"})
		}
		if rule.SourceAddress == "" && rule.DestinationAddress == "" {
			return nil, diags
		}
		return []model.ConcreteRule{base}, diags
	}

	rules := make([]model.ConcreteRule, 0, len(ports))
	for _, p := range ports {
		r := base
		r.Protocol = p.Protocol
		if p.Port > 0 {
			if p.Protocol == model.TCP || p.Protocol == model.UDP {
				r.Port = p.Port
			} else {
				diags = append(diags, model.Diagnostic{
					Code:    model.PortIgnored,
					Message: fmt.Sprintf("service %q: port %d dropped for protocol %s", service, p.Port, p.Protocol),
				})
			}
		}
		rules = append(rules, r)
	}
	return rules, diags
}
