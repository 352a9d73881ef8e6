// Package alias keeps the bidirectional name/address table used to rewrite
// operator text before compilation.
package alias

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"policy-compiler/internal/metrics"
	"policy-compiler/internal/model"
)

var (
	ErrEmptyName    = errors.New("alias name is empty")
	ErrEmptyAddress = errors.New("alias address is empty")
	ErrNotFound     = errors.New("alias not found")
)

type Entry struct {
	Name    string
	Address string
}

// Conflict describes a binding dropped by Assign to keep the table a
// bijection.
type Conflict struct {
	Name    string
	Address string
}

// Registry is safe for concurrent use. Writers are serialized by a mutex and
// publish a fresh immutable Snapshot; readers never take the lock.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.current.Store(newSnapshot(map[string]string{}))
	return r
}

// NormalizeName lower-cases name and collapses inner whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Assign binds name to address. Any previous address of name and any other
// name bound to address are dropped and reported as conflicts.
func (r *Registry) Assign(name, address string) ([]Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().Map()
	conflicts, err := assignInto(next, name, address)
	if err != nil {
		r.logger.Warn("Rejected alias assignment", "name", name, "address", address, "error", err)
		return nil, err
	}
	r.publish(next, len(conflicts))

	for _, c := range conflicts {
		r.logger.Warn("Alias binding replaced", "code", string(model.AliasConflict), "name", c.Name, "previous_address", c.Address, "new_name", NormalizeName(name), "new_address", address)
	}
	r.logger.Info("Alias assigned", "name", NormalizeName(name), "address", address)
	return conflicts, nil
}

// Load assigns every entry in order, as if Assign were called for each.
func (r *Registry) Load(entries []Entry) ([]Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().Map()
	var all []Conflict
	for _, e := range entries {
		conflicts, err := assignInto(next, e.Name, e.Address)
		if err != nil {
			return nil, err
		}
		all = append(all, conflicts...)
	}
	r.publish(next, len(all))
	return all, nil
}

// Unassign removes the alias bound to address.
func (r *Registry) Unassign(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()
	name, ok := snap.ReverseLookup(address)
	if !ok {
		r.logger.Warn("No alias to remove", "address", address)
		return ErrNotFound
	}
	next := snap.Map()
	delete(next, name)
	r.publish(next, 0)
	r.logger.Info("Alias removed", "name", name, "address", address)
	return nil
}

func (r *Registry) Resolve(name string) (string, bool) {
	return r.current.Load().Resolve(name)
}

func (r *Registry) ReverseLookup(address string) (string, bool) {
	return r.current.Load().ReverseLookup(address)
}

// Snapshot returns the current immutable view of the table.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

func (r *Registry) publish(byName map[string]string, conflicts int) {
	r.current.Store(newSnapshot(byName))
	m := metrics.Get()
	m.Aliases.Set(float64(len(byName)))
	m.AliasConflicts.Add(float64(conflicts))
}

func assignInto(byName map[string]string, name, address string) ([]Conflict, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if address == "" {
		return nil, ErrEmptyAddress
	}

	var conflicts []Conflict
	if old, ok := byName[name]; ok && old != address {
		conflicts = append(conflicts, Conflict{Name: name, Address: old})
	}
	for n, a := range byName {
		if a == address && n != name {
			conflicts = append(conflicts, Conflict{Name: n, Address: a})
			delete(byName, n)
		}
	}
	byName[name] = address
	return conflicts, nil
}

// Snapshot is an immutable name/address table.
type Snapshot struct {
	byName   map[string]string
	byAddr   map[string]string
	patterns []namePattern // longest name first
}

func newSnapshot(byName map[string]string) *Snapshot {
	s := &Snapshot{
		byName: byName,
		byAddr: make(map[string]string, len(byName)),
	}
	names := make([]string, 0, len(byName))
	for n, a := range byName {
		s.byAddr[a] = n
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, n := range names {
		s.patterns = append(s.patterns, compileName(n, byName[n]))
	}
	return s
}

func (s *Snapshot) Resolve(name string) (string, bool) {
	addr, ok := s.byName[NormalizeName(name)]
	return addr, ok
}

func (s *Snapshot) ReverseLookup(address string) (string, bool) {
	name, ok := s.byAddr[address]
	return name, ok
}

func (s *Snapshot) Len() int {
	return len(s.byName)
}

// Map returns a copy of the name to address mapping.
func (s *Snapshot) Map() map[string]string {
	out := make(map[string]string, len(s.byName))
	for n, a := range s.byName {
		out[n] = a
	}
	return out
}

// Entries returns the table sorted by name.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, 0, len(s.byName))
	for n, a := range s.byName {
		out = append(out, Entry{Name: n, Address: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
