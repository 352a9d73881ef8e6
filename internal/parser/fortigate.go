package parser

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"policy-compiler/internal/alias"
)

// FortiGateParser collects host address objects from the
// "config firewall address" sections of a FortiGate configuration so they
// can be imported as aliases.
type FortiGateParser struct {
	scanner *bufio.Scanner

	Entries []alias.Entry
	// Skipped lists objects that do not name a single host (networks,
	// ranges, FQDNs).
	Skipped []string
}

func NewFortiGateParser(reader io.Reader) *FortiGateParser {
	return &FortiGateParser{scanner: bufio.NewScanner(reader)}
}

func (p *FortiGateParser) Parse() error {
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "config firewall address" || line == "config firewall address6" {
			if err := p.parseAddressConfig(); err != nil {
				return fmt.Errorf("failed to parse firewall address config: %w", err)
			}
		}
	}
	if err := p.scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

type addressObject struct {
	name string
	host string
}

func (p *FortiGateParser) parseAddressConfig() error {
	var current *addressObject
	// depth counts config blocks nested inside an object, e.g. "config tagging".
	depth := 0
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			if depth == 0 {
				return nil
			}
			depth--
			continue
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if parts[0] == "config" {
			depth++
			continue
		}
		if depth > 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			if len(parts) < 2 {
				continue
			}
			current = &addressObject{name: unquote(strings.Join(parts[1:], " "))}
		case "set":
			if current == nil || len(parts) < 3 {
				continue
			}
			switch parts[1] {
			case "subnet", "ip6":
				current.host = hostAddress(parts[2:])
			case "start-ip":
				current.host = parts[2]
			case "end-ip":
				if current.host != parts[2] {
					current.host = ""
				}
			}
		case "next":
			if current != nil {
				p.finish(current)
			}
			current = nil
		}
	}
	return io.ErrUnexpectedEOF
}

func (p *FortiGateParser) finish(obj *addressObject) {
	if obj.host == "" || net.ParseIP(obj.host) == nil {
		p.Skipped = append(p.Skipped, obj.name)
		return
	}
	p.Entries = append(p.Entries, alias.Entry{Name: alias.NormalizeName(obj.name), Address: obj.host})
}

// hostAddress returns the address of a /32 (or /128) subnet, accepting both
// "1.1.1.1 255.255.255.255" and "1.1.1.1/32" forms, or "" for networks.
func hostAddress(args []string) string {
	if len(args) >= 2 {
		mask := net.IPMask(net.ParseIP(args[1]).To4())
		if ones, bits := mask.Size(); bits == 32 && ones == 32 {
			return args[0]
		}
		return ""
	}
	ip, ipnet, err := net.ParseCIDR(args[0])
	if err != nil {
		return ""
	}
	if ones, bits := ipnet.Mask.Size(); ones != bits {
		return ""
	}
	return ip.String()
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}
