package parser

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"policy-compiler/internal/alias"
	"policy-compiler/internal/utils"
)

// Statement is one policy line of a batch input file.
type Statement struct {
	Line int
	Text string
}

// ReadPolicies returns the non-empty lines of r. Lines starting with '#' are
// comments.
func ReadPolicies(r io.Reader) ([]Statement, error) {
	scanner := bufio.NewScanner(r)
	var statements []Statement
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		statements = append(statements, Statement{Line: lineNo, Text: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading policy file: %w", err)
	}
	return statements, nil
}

// ParseAliasCSV reads alias bindings from a CSV with "Alias" and "Address"
// columns. Rows without a name or with an invalid address are skipped.
func ParseAliasCSV(r io.Reader) ([]alias.Entry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}

	colMap := make(map[string]int)
	for i, colName := range header {
		colMap[strings.ToLower(strings.TrimSpace(colName))] = i
	}
	nameCol, ok := colMap["alias"]
	if !ok {
		return nil, fmt.Errorf("could not find 'Alias' column in alias file")
	}
	addrCol, ok := colMap["address"]
	if !ok {
		return nil, fmt.Errorf("could not find 'Address' column in alias file")
	}

	var entries []alias.Entry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		name := alias.NormalizeName(record[nameCol])
		address := strings.TrimSpace(record[addrCol])
		if name == "" || !utils.IsAddress(address) {
			continue // Skip invalid entries
		}
		entries = append(entries, alias.Entry{Name: name, Address: address})
	}
	return entries, nil
}
