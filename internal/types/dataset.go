package types

// Dataset is a parsed tabular upload. Rows map header names to typed cell
// values (float64, bool, string or nil).
type Dataset struct {
	FileName string           `json:"file_name,omitempty"`
	Headers  []string         `json:"headers"`
	Rows     []map[string]any `json:"rows"`
}

// RowCount returns the number of data rows
func (d *Dataset) RowCount() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Preview returns at most n rows. n <= 0 returns every row.
func (d *Dataset) Preview(n int) []map[string]any {
	if d == nil {
		return nil
	}
	if n <= 0 || n >= len(d.Rows) {
		return d.Rows
	}
	return d.Rows[:n]
}
