// Package dispatch delivers compiled rules to the devices that enforce them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"policy-compiler/internal/metrics"
	"policy-compiler/internal/model"
)

var (
	ErrDeviceUnreachable = errors.New("device unreachable")
	ErrTransport         = errors.New("transport error")
)

// Dispatcher delivers one rule to one enforcement device. Implementations
// own any retry policy; Run never retries.
type Dispatcher interface {
	Deliver(ctx context.Context, device string, rule model.ConcreteRule) error
}

// DeviceRegistry reports whether a device can currently receive rules.
type DeviceRegistry interface {
	IsConnected(address string) bool
}

// StaticRegistry is a fixed set of reachable devices.
type StaticRegistry map[string]bool

func NewStaticRegistry(addresses []string) StaticRegistry {
	r := make(StaticRegistry, len(addresses))
	for _, a := range addresses {
		r[a] = true
	}
	return r
}

func (r StaticRegistry) IsConnected(address string) bool {
	return r[address]
}

type Delivery struct {
	Device string
	Rule   model.ConcreteRule
	Err    error
}

type Report struct {
	Delivered   int
	Unreachable int
	Failed      int
	Deliveries  []Delivery
}

func (r *Report) add(d Delivery) {
	r.Deliveries = append(r.Deliveries, d)
	switch {
	case d.Err == nil:
		r.Delivered++
	case errors.Is(d.Err, ErrDeviceUnreachable):
		r.Unreachable++
	default:
		r.Failed++
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDeviceUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}

// Run delivers every rule in byDevice, device by device in address order.
// Devices the registry reports as disconnected are skipped with
// ErrDeviceUnreachable. A nil registry treats every device as connected.
func Run(ctx context.Context, d Dispatcher, devices DeviceRegistry, byDevice map[string][]model.ConcreteRule, logger *slog.Logger) Report {
	if logger == nil {
		logger = slog.Default()
	}
	m := metrics.Get()

	names := make([]string, 0, len(byDevice))
	for device := range byDevice {
		names = append(names, device)
	}
	sort.Strings(names)

	var report Report
	for _, device := range names {
		connected := devices == nil || devices.IsConnected(device)
		if !connected {
			logger.Warn("Device not connected, skipping its rules", "device", device, "rules", len(byDevice[device]))
		}
		for _, rule := range byDevice[device] {
			var err error
			switch {
			case ctx.Err() != nil:
				err = fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
			case !connected:
				err = fmt.Errorf("%w: %s", ErrDeviceUnreachable, device)
			default:
				err = d.Deliver(ctx, device, rule)
			}
			if err != nil {
				logger.Error("Rule delivery failed", "device", device, "rule", rule.String(), "error", err)
			}
			m.Deliveries.WithLabelValues(resultLabel(err)).Inc()
			report.add(Delivery{Device: device, Rule: rule, Err: err})
		}
	}
	return report
}
