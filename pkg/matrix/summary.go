package matrix

// ColumnMissing describes the share of missing cells in one column.
type ColumnMissing struct {
	Column  int     `json:"column"`
	Name    string  `json:"name,omitempty"`
	Missing int     `json:"missing"`
	Percent float64 `json:"percent"`
}

// MissingSummary reports, for every column whose missing percentage is
// strictly greater than threshold, how many cells are missing. names is
// optional; when it has one entry per column the entries are attached to
// the report.
func MissingSummary(data [][]float64, names []string, threshold float64) []ColumnMissing {
	rows, cols := Shape(data)
	if rows == 0 {
		return nil
	}

	counts := make([]int, cols)
	for _, row := range data {
		for j := 0; j < cols && j < len(row); j++ {
			if IsMissing(row[j]) {
				counts[j]++
			}
		}
	}

	var out []ColumnMissing
	for j, c := range counts {
		pct := 100 * float64(c) / float64(rows)
		if pct <= threshold {
			continue
		}
		cm := ColumnMissing{Column: j, Missing: c, Percent: pct}
		if len(names) == cols {
			cm.Name = names[j]
		}
		out = append(out, cm)
	}
	return out
}
