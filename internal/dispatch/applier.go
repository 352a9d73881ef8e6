package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"policy-compiler/internal/model"
	"policy-compiler/internal/utils"
)

const filterTable = "filter"

type ruleAppender interface {
	AppendUnique(table, chain string, rulespec ...string) error
}

// LocalApplier installs rules whose enforcement device is one of this
// host's addresses into the local packet filter.
type LocalApplier struct {
	mu     sync.Mutex
	local  StaticRegistry
	open   func(ipv6 bool) (ruleAppender, error)
	tables map[bool]ruleAppender
	logger *slog.Logger
}

func NewLocalApplier(logger *slog.Logger) (*LocalApplier, error) {
	addrs, err := utils.LocalAddresses()
	if err != nil {
		return nil, fmt.Errorf("failed to list local addresses: %w", err)
	}
	return newLocalApplier(addrs, openIPTables, logger), nil
}

func newLocalApplier(addrs []string, open func(bool) (ruleAppender, error), logger *slog.Logger) *LocalApplier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalApplier{
		local:  NewStaticRegistry(addrs),
		open:   open,
		tables: make(map[bool]ruleAppender),
		logger: logger,
	}
}

// IsConnected reports whether address belongs to this host.
func (a *LocalApplier) IsConnected(address string) bool {
	return a.local.IsConnected(address)
}

func (a *LocalApplier) Deliver(_ context.Context, device string, rule model.ConcreteRule) error {
	if !a.local.IsConnected(device) {
		return fmt.Errorf("%w: %s is not a local address", ErrDeviceUnreachable, device)
	}
	if err := Validate(rule); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	ipt, err := a.table(isIPv6Rule(rule))
	if err != nil {
		return fmt.Errorf("%w: failed to open iptables: %v", ErrTransport, err)
	}
	if err := ipt.AppendUnique(filterTable, rule.Chain.IPTables(), rule.RuleSpec()...); err != nil {
		return fmt.Errorf("%w: failed to add rule: %v", ErrTransport, err)
	}
	a.logger.Info("Applied rule", "device", device, "rule", rule.String())
	return nil
}

// isIPv6Rule picks the address family from the rule's addresses, falling back
// to the enforcement device for rules without any.
func isIPv6Rule(rule model.ConcreteRule) bool {
	switch {
	case rule.SourceAddress != "":
		return utils.IsIPv6(rule.SourceAddress)
	case rule.DestinationAddress != "":
		return utils.IsIPv6(rule.DestinationAddress)
	default:
		return utils.IsIPv6(rule.EnforcementDevice)
	}
}

func (a *LocalApplier) table(ipv6 bool) (ruleAppender, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tables[ipv6]; ok {
		return t, nil
	}
	t, err := a.open(ipv6)
	if err != nil {
		return nil, err
	}
	a.tables[ipv6] = t
	return t, nil
}
