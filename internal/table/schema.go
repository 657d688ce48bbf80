package table

import "slices"

// Schema names the canonical column set of a phase. Numeric columns hold
// float64 values once normalized.
type Schema struct {
	Name    string
	Columns []string
	Numeric []string
}

var (
	// ComponentSchema describes drug components with their ADME screening values.
	ComponentSchema = Schema{
		Name:    "components",
		Columns: []string{"component_name", "smiles", "inchikey", "oral_bioavailability", "drug_likeness"},
		Numeric: []string{"oral_bioavailability", "drug_likeness"},
	}
	// TargetSchema describes compound to target predictions.
	TargetSchema = Schema{
		Name:    "targets",
		Columns: []string{"smiles", "targets", "source"},
	}
	// DiseaseTargetSchema describes disease to target associations.
	DiseaseTargetSchema = Schema{
		Name:    "disease_targets",
		Columns: []string{"name", "target_name", "source"},
	}
)

// Empty returns a table with the schema's columns and no rows.
func (s Schema) Empty() Table {
	return Table{Columns: slices.Clone(s.Columns), Rows: []Row{}}
}

// IsNumeric reports whether column is declared numeric.
func (s Schema) IsNumeric(column string) bool { return slices.Contains(s.Numeric, column) }

// Project renames raw columns through mapping (raw name to canonical name)
// and returns exactly the schema's columns. Canonical columns absent from the
// raw table are nil. Raw columns not named by mapping keep their name when it
// is already canonical.
func (s Schema) Project(raw Table, mapping map[string]string) Table {
	out := s.Empty()
	if raw.Empty() {
		return out
	}
	source := make(map[string]string, len(s.Columns))
	for rawName, canonical := range mapping {
		if raw.HasColumn(rawName) {
			source[canonical] = rawName
		}
	}
	for _, col := range s.Columns {
		if _, ok := source[col]; !ok && raw.HasColumn(col) {
			source[col] = col
		}
	}
	out.Rows = make([]Row, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		projected := make(Row, len(s.Columns))
		for _, col := range s.Columns {
			rawName, ok := source[col]
			if !ok {
				projected[col] = nil
				continue
			}
			projected[col] = blankToNil(row[rawName])
		}
		out.Rows = append(out.Rows, projected)
	}
	return out
}

// Conform reorders t into the schema's columns, filling missing columns with nil.
func (s Schema) Conform(t Table) Table {
	return Concat(s.Columns, t)
}

func blankToNil(v any) any {
	if str, ok := v.(string); ok && str == "" {
		return nil
	}
	return v
}
