package wellknown

import (
	"reflect"
	"strings"
	"testing"

	"policy-compiler/internal/model"
)

func TestGetService(t *testing.T) {
	testCases := []struct {
		name      string
		service   string
		wantPorts []model.ServicePort
		wantFound bool
	}{
		{"ssh", "ssh", []model.ServicePort{{Protocol: model.TCP, Port: 22}}, true},
		{"mixed case", "HTTP", []model.ServicePort{{Protocol: model.TCP, Port: 80}}, true},
		{"dns keeps catalog order", "dns", []model.ServicePort{{Protocol: model.UDP, Port: 53}, {Protocol: model.TCP, Port: 53}}, true},
		{"web has two ports", "web", []model.ServicePort{{Protocol: model.TCP, Port: 80}, {Protocol: model.TCP, Port: 443}}, true},
		{"ping has no port", "ping", []model.ServicePort{{Protocol: "icmp"}}, true},
		{"unknown service", "unknownservice", nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ports, found := GetService(tc.service)
			if found != tc.wantFound {
				t.Fatalf("GetService(%q) found = %v, want %v", tc.service, found, tc.wantFound)
			}
			if !reflect.DeepEqual(ports, tc.wantPorts) {
				t.Errorf("GetService(%q) = %v, want %v", tc.service, ports, tc.wantPorts)
			}
		})
	}
}

// This test ensures callers cannot mutate the shared table through a lookup result.
func TestLookupReturnsCopy(t *testing.T) {
	ports, _ := GetService("dns")
	ports[0].Port = 9999

	again, _ := GetService("dns")
	if again[0].Port != 53 {
		t.Errorf("catalog was mutated through lookup result: %v", again)
	}
}

func TestParseCSV(t *testing.T) {
	input := "Service,Protocol,Port\nalt,tcp,8080\nalt,udp,8080\nicmpish,icmp,\n"
	entries, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	want := map[string][]model.ServicePort{
		"alt":     {{Protocol: model.TCP, Port: 8080}, {Protocol: model.UDP, Port: 8080}},
		"icmpish": {{Protocol: "icmp"}},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("ParseCSV() = %v, want %v", entries, want)
	}
}

func TestParseCSVErrors(t *testing.T) {
	testCases := map[string]string{
		"missing column": "service,protocol\nssh,tcp\n",
		"bad port":       "service,protocol,port\nssh,tcp,twenty\n",
		"port too large": "service,protocol,port\nssh,tcp,70000\n",
		"no protocol":    "service,protocol,port\nssh,,22\n",
		"empty input":    "",
	}
	for name, input := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(input)); err == nil {
				t.Errorf("ParseCSV(%q) expected error, got nil", input)
			}
		})
	}
}

func TestParseDocument(t *testing.T) {
	jsonDoc := `{"dns": [{"proto": "udp", "dport": 53}, {"proto": "tcp", "dport": 53}], "PING": [{"proto": "icmp"}]}`
	entries, err := ParseDocument([]byte(jsonDoc))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	want := map[string][]model.ServicePort{
		"dns":  {{Protocol: model.UDP, Port: 53}, {Protocol: model.TCP, Port: 53}},
		"ping": {{Protocol: "icmp"}},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("ParseDocument() = %v, want %v", entries, want)
	}

	if _, err := ParseDocument([]byte(`{"empty": []}`)); err == nil {
		t.Error("ParseDocument() with an empty protocol list expected error, got nil")
	}
}

func TestDefaultTable(t *testing.T) {
	table := Default()
	if !table.Available() {
		t.Fatal("embedded table should be available")
	}
	names := table.Names()
	if len(names) != table.Len() {
		t.Errorf("Names() returned %d names, Len() = %d", len(names), table.Len())
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Names() not sorted: %v", names)
		}
	}
}
