package fetch

import (
	"context"
	"fmt"

	"github.com/l0p7/netpharm/internal/table"
)

// Strategy retrieves data for one identifier from one source and maps it onto
// a phase's canonical schema.
type Strategy interface {
	// Name identifies the source. It names the artifact directory and appears
	// in logs and metrics.
	Name() string
	// Query fetches the raw table for name. Transport and parse failures are
	// returned as errors.
	Query(ctx context.Context, name string) (table.Table, error)
	// Normalize maps a raw table onto the canonical schema. An empty raw
	// table yields an empty table with the canonical columns.
	Normalize(raw table.Table) table.Table
}

// PostProcessor is implemented by strategies that filter or coerce their
// normalized output.
type PostProcessor interface {
	PostProcess(t table.Table) table.Table
}

// Phase identifies the pipeline stage a strategy contributes to.
type Phase struct {
	// Dir names the artifact directory for the phase.
	Dir    string
	Schema table.Schema
}

var (
	PhaseComponents     = Phase{Dir: "DrugComponentFinder", Schema: table.ComponentSchema}
	PhaseTargets        = Phase{Dir: "ComponentTargetPredictor", Schema: table.TargetSchema}
	PhaseDiseaseTargets = Phase{Dir: "DiseaseTargetFinder", Schema: table.DiseaseTargetSchema}
)

// Error reports a failed strategy query.
type Error struct {
	Strategy string
	Name     string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch: %s query %q: %v", e.Strategy, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Merge concatenates tables that share columns and drops exact duplicate rows.
func Merge(tables ...table.Table) table.Table {
	if len(tables) == 0 {
		return table.Table{Columns: []string{}, Rows: []table.Row{}}
	}
	return table.Dedupe(table.Concat(tables[0].Columns, tables...))
}
