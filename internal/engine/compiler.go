package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"policy-compiler/internal/alias"
	"policy-compiler/internal/metrics"
	"policy-compiler/internal/model"
	"policy-compiler/internal/parser"
	"policy-compiler/pkg/wellknown"
)

// AliasSource hands out an immutable alias table; *alias.Registry is one.
type AliasSource interface {
	Snapshot() *alias.Snapshot
}

// CatalogSource hands out the current service table; *wellknown.Catalog and
// *wellknown.Table both qualify.
type CatalogSource interface {
	Snapshot() *wellknown.Table
}

type Options struct {
	// PreferredTarget replaces implicit enforcement targets. Explicit
	// "on"/"at" targets are kept.
	PreferredTarget string
}

// Result is the outcome of compiling one input text.
type Result struct {
	ID         uuid.UUID
	Input      string
	Normalized string // cleaned and alias-substituted text
	Clauses    []*model.ClauseResult
}

// Rules returns every concrete rule in clause order.
func (r *Result) Rules() []model.ConcreteRule {
	var rules []model.ConcreteRule
	for _, c := range r.Clauses {
		rules = append(rules, c.Rules...)
	}
	return rules
}

// ByDevice groups the rules by enforcement device.
func (r *Result) ByDevice() map[string][]model.ConcreteRule {
	out := make(map[string][]model.ConcreteRule)
	for _, rule := range r.Rules() {
		out[rule.EnforcementDevice] = append(out[rule.EnforcementDevice], rule)
	}
	return out
}

// Devices lists enforcement devices in order of first appearance.
func (r *Result) Devices() []string {
	seen := make(map[string]bool)
	var devices []string
	for _, rule := range r.Rules() {
		if !seen[rule.EnforcementDevice] {
			seen[rule.EnforcementDevice] = true
			devices = append(devices, rule.EnforcementDevice)
		}
	}
	return devices
}

// Rejected returns the clauses that produced no rules.
func (r *Result) Rejected() []*model.ClauseResult {
	var out []*model.ClauseResult
	for _, c := range r.Clauses {
		if !c.OK() {
			out = append(out, c)
		}
	}
	return out
}

// Compiler turns policy text into concrete rules. It keeps no state between
// calls and is safe for concurrent use.
type Compiler struct {
	aliases   AliasSource
	catalog   CatalogSource
	extractor *parser.Extractor
	logger    *slog.Logger
}

// NewCompiler wires a compiler. A nil aliases source disables substitution,
// a nil catalog uses the embedded table and a nil tokenizer uses
// parser.SimpleTokenizer.
func NewCompiler(aliases AliasSource, catalog CatalogSource, tokenizer parser.Tokenizer, logger *slog.Logger) *Compiler {
	if catalog == nil {
		catalog = wellknown.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		aliases:   aliases,
		catalog:   catalog,
		extractor: parser.NewExtractor(tokenizer),
		logger:    logger,
	}
}

// Compile processes every clause of text. Clause failures are reported on
// the returned clause results, never as errors.
func (c *Compiler) Compile(text string, opts Options) *Result {
	res := &Result{ID: uuid.New(), Input: text}

	normalized := parser.Clean(text)
	if c.aliases != nil {
		normalized = c.aliases.Snapshot().Substitute(normalized)
	}
	res.Normalized = normalized
	table := c.catalog.Snapshot()

	for i, clause := range c.extractor.Tokenizer().Clauses(normalized) {
		cr := c.compileClause(i, clause, table, opts)
		res.Clauses = append(res.Clauses, cr)
		c.record(res.ID, cr)
	}

	c.logger.Info("Compiled policy", "compile_id", res.ID.String(), "clauses", len(res.Clauses), "rules", len(res.Rules()))
	return res
}

func (c *Compiler) compileClause(idx int, clause string, table *wellknown.Table, opts Options) *model.ClauseResult {
	cr := &model.ClauseResult{Index: idx, Clause: clause}

	intent, ok := c.extractor.Extract(clause)
	if !ok {
		cr.Reject(model.NoActionFound, "no action verb in clause")
		return cr
	}
	cr.Intent = intent

	cr.Diagnostics = append(cr.Diagnostics, ResolveRoles(intent, opts.PreferredTarget)...)

	if intent.SourceAddress == "" && intent.DestinationAddress == "" && !intent.TargetWasExplicit {
		cr.Reject(model.NoAddressContext, "no source or destination address")
		return cr
	}
	if intent.TargetAddress == "" {
		cr.Reject(model.NoEnforcementTarget, "could not determine the enforcement device")
		return cr
	}

	chain, why := resolveChain(intent.TargetAddress, intent.SourceAddress, intent.DestinationAddress)
	cr.Resolved = &model.ResolvedRule{
		EnforcementDevice:  intent.TargetAddress,
		Chain:              chain,
		Action:             intent.Action,
		Service:            intent.Service,
		SourceAddress:      intent.SourceAddress,
		DestinationAddress: intent.DestinationAddress,
	}
	c.logger.Debug("Resolved clause", "clause", clause, "target", intent.TargetAddress, "chain", chain, "rule", why)

	rules, diags := Expand(cr.Resolved, table)
	cr.Diagnostics = append(cr.Diagnostics, diags...)
	cr.Rules = rules
	if len(rules) == 0 {
		cr.Reason = model.UnknownService
	}
	return cr
}

func (c *Compiler) record(id uuid.UUID, cr *model.ClauseResult) {
	m := metrics.Get()
	outcome := "ok"
	if !cr.OK() {
		outcome = string(cr.Reason)
	}
	m.Clauses.WithLabelValues(outcome).Inc()
	for _, r := range cr.Rules {
		m.RulesEmitted.WithLabelValues(string(r.Chain)).Inc()
	}

	for _, d := range cr.Diagnostics {
		m.Diagnostics.WithLabelValues(string(d.Code)).Inc()
		level := slog.LevelWarn
		if d.Code == model.PreferredTargetSet {
			level = slog.LevelInfo
		}
		c.logger.Log(context.Background(), level, d.Message, "compile_id", id.String(), "clause", cr.Clause, "code", string(d.Code))
	}
	if !cr.OK() {
		c.logger.Warn("Clause produced no rules", "compile_id", id.String(), "clause", cr.Clause, "reason", string(cr.Reason))
	}
}

// Describe renders a one-line summary of a clause result for logs and CSV
// output.
func Describe(cr *model.ClauseResult) string {
	if !cr.OK() {
		return fmt.Sprintf("rejected: %s", cr.Reason)
	}
	parts := make([]string, 0, len(cr.Rules))
	for _, r := range cr.Rules {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "; ")
}
