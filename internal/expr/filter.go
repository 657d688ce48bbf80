package expr

import (
	"github.com/l0p7/netpharm/internal/table"
)

// Filter keeps the rows of a table for which a CEL predicate holds.
type Filter struct {
	program Program
}

// CompileFilter compiles expression into a row filter. The expression sees
// the current row as `row` and the fetched identifier as `query`.
func (e *Environment) CompileFilter(expression string) (*Filter, error) {
	program, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return &Filter{program: program}, nil
}

// Source returns the filter expression.
func (f *Filter) Source() string {
	if f == nil {
		return ""
	}
	return f.program.Source()
}

// Apply evaluates the predicate for every row. Rows whose evaluation fails
// (for example a comparison against a null value) are dropped and counted
// in the returned error total. A nil filter keeps every row.
func (f *Filter) Apply(query string, t table.Table) (table.Table, int) {
	if f == nil {
		return t, 0
	}
	failed := 0
	out := t.Filter(func(row table.Row) bool {
		keep, err := f.program.EvalBool(map[string]any{"row": map[string]any(row), "query": query})
		if err != nil {
			failed++
			return false
		}
		return keep
	})
	return out, failed
}
