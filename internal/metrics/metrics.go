package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all compiler metrics.
type Registry struct {
	Gatherer *prometheus.Registry

	// Compile metrics
	Clauses      *prometheus.CounterVec // by outcome reason ("ok" for success)
	RulesEmitted *prometheus.CounterVec // by chain
	Diagnostics  *prometheus.CounterVec // by code

	// Catalog metrics
	CatalogReloads  *prometheus.CounterVec // by result
	CatalogServices prometheus.Gauge

	// Alias metrics
	Aliases        prometheus.Gauge
	AliasConflicts prometheus.Counter

	// Dispatch metrics
	Deliveries *prometheus.CounterVec // by result
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	r := &Registry{Gatherer: reg}

	r.Clauses = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "policyc_clauses_total",
		Help: "Policy clauses compiled, by outcome",
	}, []string{"outcome"})
	r.RulesEmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "policyc_rules_emitted_total",
		Help: "Concrete filter rules emitted, by chain",
	}, []string{"chain"})
	r.Diagnostics = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "policyc_diagnostics_total",
		Help: "Diagnostics recorded while compiling, by code",
	}, []string{"code"})

	r.CatalogReloads = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "policyc_catalog_reloads_total",
		Help: "Service catalog reloads, by result",
	}, []string{"result"})
	r.CatalogServices = factory.NewGauge(prometheus.GaugeOpts{
		Name: "policyc_catalog_services",
		Help: "Services currently defined in the catalog",
	})

	r.Aliases = factory.NewGauge(prometheus.GaugeOpts{
		Name: "policyc_aliases",
		Help: "Aliases currently registered",
	})
	r.AliasConflicts = factory.NewCounter(prometheus.CounterOpts{
		Name: "policyc_alias_conflicts_total",
		Help: "Alias bindings dropped to keep names and addresses one-to-one",
	})

	r.Deliveries = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "policyc_deliveries_total",
		Help: "Rule deliveries to enforcement devices, by result",
	}, []string{"result"})

	return r
}

// WriteTextfile writes all metrics in the node_exporter textfile format.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Gatherer)
}
