package wellknown

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	_ "embed"

	"gopkg.in/yaml.v2"

	"policy-compiler/internal/model"
)

//go:embed services.csv
var defaultServicesData string

var defaultTable *Table

func init() {
	entries, err := ParseCSV(bytes.NewBufferString(defaultServicesData))
	if err != nil {
		log.Fatalf("Failed to parse embedded services.csv: %v", err)
	}
	defaultTable = newTable(entries, "embedded")
}

// Table is an immutable service catalog keyed by lower-case service name.
type Table struct {
	entries   map[string][]model.ServicePort
	available bool
	source    string
}

func newTable(entries map[string][]model.ServicePort, source string) *Table {
	return &Table{entries: entries, available: true, source: source}
}

func unavailableTable(source string) *Table {
	return &Table{entries: map[string][]model.ServicePort{}, source: source}
}

// Default returns the catalog compiled into the binary.
func Default() *Table {
	return defaultTable
}

// GetService returns the protocol/port pairs for a well-known service name.
func GetService(name string) ([]model.ServicePort, bool) {
	return defaultTable.Lookup(name)
}

// Lookup returns the ordered protocol/port pairs for name. An unavailable
// table never finds anything.
func (t *Table) Lookup(name string) ([]model.ServicePort, bool) {
	ports, ok := t.entries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	out := make([]model.ServicePort, len(ports))
	copy(out, ports)
	return out, true
}

// Snapshot lets a fixed table stand in wherever a reloadable Catalog is
// accepted.
func (t *Table) Snapshot() *Table {
	return t
}

func (t *Table) Available() bool {
	return t.available
}

func (t *Table) Source() string {
	return t.source
}

func (t *Table) Len() int {
	return len(t.entries)
}

func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for n := range t.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseCSV reads "service,protocol,port" records. Rows for the same service
// keep their file order; an empty port means the entry has none.
func ParseCSV(r io.Reader) (map[string][]model.ServicePort, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}

	cols := make(map[string]int)
	for i, col := range header {
		cols[strings.ToLower(strings.TrimSpace(col))] = i
	}
	svcCol, ok1 := cols["service"]
	protoCol, ok2 := cols["protocol"]
	portCol, ok3 := cols["port"]
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("services file must have 'service', 'protocol' and 'port' columns")
	}

	entries := make(map[string][]model.ServicePort)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		port := 0
		if raw := strings.TrimSpace(record[portCol]); raw != "" {
			port, err = strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("service %q: invalid port %q", record[svcCol], raw)
			}
		}
		if err := addEntry(entries, record[svcCol], record[protoCol], port); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

type documentEntry struct {
	Proto string `yaml:"proto"`
	Dport *int   `yaml:"dport,omitempty"`
}

// ParseDocument reads a JSON or YAML mapping of service name to a list of
// {proto, dport} objects, e.g. {"dns": [{"proto": "udp", "dport": 53}]}.
func ParseDocument(data []byte) (map[string][]model.ServicePort, error) {
	var doc map[string][]documentEntry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal services: %w", err)
	}

	entries := make(map[string][]model.ServicePort)
	for name, list := range doc {
		if len(list) == 0 {
			return nil, fmt.Errorf("service %q has no protocol entries", name)
		}
		for _, e := range list {
			port := 0
			if e.Dport != nil {
				port = *e.Dport
			}
			if err := addEntry(entries, name, e.Proto, port); err != nil {
				return nil, err
			}
		}
	}
	return entries, nil
}

func addEntry(entries map[string][]model.ServicePort, name, proto string, port int) error {
	name = strings.ToLower(strings.TrimSpace(name))
	proto = strings.ToLower(strings.TrimSpace(proto))
	if name == "" {
		return fmt.Errorf("service entry without a name")
	}
	if proto == "" {
		return fmt.Errorf("service %q: missing protocol", name)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("service %q: port %d out of range", name, port)
	}
	entries[name] = append(entries[name], model.ServicePort{Protocol: model.Protocol(proto), Port: port})
	return nil
}
