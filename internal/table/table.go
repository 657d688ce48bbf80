package table

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Row maps a column name to its value. Values are string, float64 or nil.
type Row map[string]any

// Table is an ordered column list plus rows keyed by those columns.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Len reports the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Empty reports whether the table carries no rows.
func (t Table) Empty() bool { return len(t.Rows) == 0 }

// HasColumn reports whether name is one of the table's columns.
func (t Table) HasColumn(name string) bool { return slices.Contains(t.Columns, name) }

// Filter returns the rows for which keep returns true. Columns are preserved.
func (t Table) Filter(keep func(Row) bool) Table {
	out := Table{Columns: slices.Clone(t.Columns), Rows: make([]Row, 0, len(t.Rows))}
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Strings returns the non-empty string values of column in first-seen order
// without duplicates.
func (t Table) Strings(column string) []string {
	seen := make(map[string]struct{}, len(t.Rows))
	out := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		value := String(row[column])
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// Clone copies the table so callers can mutate rows without aliasing.
func (t Table) Clone() Table {
	out := Table{Columns: slices.Clone(t.Columns), Rows: make([]Row, len(t.Rows))}
	for i, row := range t.Rows {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out.Rows[i] = cp
	}
	return out
}

// Concat appends the rows of every table under columns. Values for columns a
// table does not carry become nil. Row order follows argument order.
func Concat(columns []string, tables ...Table) Table {
	total := 0
	for _, t := range tables {
		total += len(t.Rows)
	}
	out := Table{Columns: slices.Clone(columns), Rows: make([]Row, 0, total)}
	for _, t := range tables {
		for _, row := range t.Rows {
			out.Rows = append(out.Rows, pick(row, columns))
		}
	}
	return out
}

// Dedupe drops rows whose values match an earlier row on every column.
func Dedupe(t Table) Table {
	seen := make(map[string]struct{}, len(t.Rows))
	out := Table{Columns: slices.Clone(t.Columns), Rows: make([]Row, 0, len(t.Rows))}
	for _, row := range t.Rows {
		key := rowKey(row, t.Columns)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// String renders a cell as text. Nil renders as the empty string.
func String(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprint(value)
	}
}

// ToFloat coerces a cell to float64. Nil and blank strings are errors so
// callers can distinguish missing data from zero.
func ToFloat(v any) (float64, error) {
	switch value := v.(type) {
	case float64:
		return value, nil
	case float32:
		return float64(value), nil
	case int:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return 0, fmt.Errorf("table: empty numeric value")
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("table: parse %q: %w", trimmed, err)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("table: missing numeric value")
	default:
		return 0, fmt.Errorf("table: unsupported numeric type %T", v)
	}
}

func pick(row Row, columns []string) Row {
	out := make(Row, len(columns))
	for _, col := range columns {
		out[col] = row[col]
	}
	return out
}

func rowKey(row Row, columns []string) string {
	var b strings.Builder
	for _, col := range columns {
		v := row[col]
		if v == nil {
			b.WriteString("\x00")
		} else {
			b.WriteString(String(v))
		}
		b.WriteString("\x1f")
	}
	return b.String()
}
