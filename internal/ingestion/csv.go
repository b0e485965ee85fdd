// Package ingestion turns uploaded CSV files into typed datasets.
package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// ParseResult is the outcome of Parse
type ParseResult struct {
	OK      bool             `json:"ok"`
	Headers []string         `json:"headers,omitempty"`
	Rows    []map[string]any `json:"rows,omitempty"`
	Error   string           `json:"error,omitempty"`
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse reads raw as a CSV with a header row. Blank lines are skipped,
// numeric and boolean cells are typed and empty cells become nil.
func Parse(raw []byte) ParseResult {
	ds, err := ParseDataset("", raw)
	if err != nil {
		return ParseResult{Error: err.Error()}
	}
	return ParseResult{OK: true, Headers: ds.Headers, Rows: ds.Rows}
}

// ParseDataset is Parse returning a dataset or a *ParseError
func ParseDataset(fileName string, raw []byte) (*types.Dataset, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Message: "file is empty"}
	}

	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, readError(err)
	}
	headers := normalizeHeaders(header)

	var rows []map[string]any
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(err)
		}
		if blank(record) {
			continue
		}
		row := make(map[string]any, len(headers))
		for i, name := range headers {
			if i < len(record) {
				row[name] = typedCell(record[i])
			} else {
				row[name] = nil
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, &ParseError{Message: "file has a header row but no data rows"}
	}
	return &types.Dataset{FileName: fileName, Headers: headers, Rows: rows}, nil
}

func readError(err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &ParseError{Line: perr.Line, Message: "malformed CSV", Cause: perr.Err}
	}
	return &ParseError{Message: "failed to read CSV", Cause: err}
}

// normalizeHeaders trims names, fills blanks and disambiguates duplicates
func normalizeHeaders(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// typedCell converts a cell to float64, bool, nil or the trimmed string
func typedCell(cell string) any {
	v := strings.TrimSpace(cell)
	if v == "" {
		return nil
	}
	if strings.EqualFold(v, "true") {
		return true
	}
	if strings.EqualFold(v, "false") {
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return v
}

// Summarize describes a dataset for the ingest completion event
func Summarize(ds *types.Dataset) map[string]any {
	columns := ds.Headers
	if len(columns) > 10 {
		columns = columns[:10]
	}
	summary := map[string]any{
		"rows":    ds.RowCount(),
		"columns": len(ds.Headers),
		"headers": columns,
	}
	if ds.FileName != "" {
		summary["file_name"] = ds.FileName
	}
	return summary
}
