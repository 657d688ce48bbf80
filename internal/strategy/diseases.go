package strategy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/l0p7/netpharm/internal/fsutil"
	"github.com/l0p7/netpharm/internal/reference"
	"github.com/l0p7/netpharm/internal/table"
)

var diseaseRawColumns = []string{"disease", "dis_targets", "source"}

func normalizeDisease(raw table.Table) table.Table {
	return table.DiseaseTargetSchema.Project(raw, map[string]string{
		"disease":     "name",
		"dis_targets": "target_name",
	})
}

func diseaseRow(disease, target any, source string) table.Row {
	return table.Row{"disease": disease, "dis_targets": target, "source": source}
}

// GeneCardsDiseases reads GeneCards search exports. The export for a disease
// lives at <dir>/<disease>.csv; every gene symbol in it is attributed to the
// queried disease.
type GeneCardsDiseases struct {
	store *reference.Store
	dir   string
}

func NewGeneCardsDiseases(store *reference.Store, dir string) *GeneCardsDiseases {
	return &GeneCardsDiseases{store: store, dir: dir}
}

func (s *GeneCardsDiseases) Name() string { return "GeneCards" }

func (s *GeneCardsDiseases) Query(_ context.Context, disease string) (table.Table, error) {
	export, err := s.store.Load(filepath.Join(s.dir, fsutil.SafeName(disease)+".csv"))
	if err != nil {
		return table.Table{}, fmt.Errorf("genecards: %w", err)
	}
	if !export.HasColumn("Gene Symbol") {
		return table.Table{}, fmt.Errorf("genecards: export for %q has no Gene Symbol column", disease)
	}
	out := table.Table{Columns: diseaseRawColumns, Rows: make([]table.Row, 0, export.Len())}
	for _, row := range export.Rows {
		symbol := strings.TrimSpace(table.String(row["Gene Symbol"]))
		if symbol == "" {
			continue
		}
		out.Rows = append(out.Rows, diseaseRow(disease, symbol, "GeneCards"))
	}
	return out, nil
}

func (s *GeneCardsDiseases) Normalize(raw table.Table) table.Table { return normalizeDisease(raw) }

// OMIMDiseases searches the OMIM morbid map for phenotypes containing the
// disease name and emits each associated gene symbol once.
type OMIMDiseases struct {
	store *reference.Store
	path  string
}

func NewOMIMDiseases(store *reference.Store, path string) *OMIMDiseases {
	return &OMIMDiseases{store: store, path: path}
}

func (s *OMIMDiseases) Name() string { return "OMIM" }

func (s *OMIMDiseases) Query(_ context.Context, disease string) (table.Table, error) {
	morbid, err := s.store.Load(s.path)
	if err != nil {
		return table.Table{}, fmt.Errorf("omim: %w", err)
	}
	if !morbid.HasColumn("Phenotype") || !morbid.HasColumn("Gene Symbols") {
		return table.Table{}, fmt.Errorf("omim: morbid map missing Phenotype or Gene Symbols")
	}
	needle := strings.ToLower(disease)
	seen := make(map[string]struct{})
	out := table.Table{Columns: diseaseRawColumns, Rows: []table.Row{}}
	for _, row := range morbid.Rows {
		phenotype := table.String(row["Phenotype"])
		if !strings.Contains(strings.ToLower(phenotype), needle) {
			continue
		}
		for _, symbol := range strings.Split(table.String(row["Gene Symbols"]), ",") {
			symbol = strings.TrimSpace(symbol)
			if symbol == "" {
				continue
			}
			if _, ok := seen[symbol]; ok {
				continue
			}
			seen[symbol] = struct{}{}
			out.Rows = append(out.Rows, diseaseRow(phenotype, symbol, "OMIM"))
		}
	}
	return out, nil
}

func (s *OMIMDiseases) Normalize(raw table.Table) table.Table { return normalizeDisease(raw) }

// TTDDiseases searches the Therapeutic Target Database disease mapping.
type TTDDiseases struct {
	store *reference.Store
	path  string
}

func NewTTDDiseases(store *reference.Store, path string) *TTDDiseases {
	return &TTDDiseases{store: store, path: path}
}

func (s *TTDDiseases) Name() string { return "TTD" }

func (s *TTDDiseases) Query(_ context.Context, disease string) (table.Table, error) {
	ttd, err := s.store.Load(s.path)
	if err != nil {
		return table.Table{}, fmt.Errorf("ttd: %w", err)
	}
	if !ttd.HasColumn("Disease Entry") || !ttd.HasColumn("GENENAME") {
		return table.Table{}, fmt.Errorf("ttd: table missing Disease Entry or GENENAME")
	}
	needle := strings.ToLower(disease)
	out := table.Table{Columns: diseaseRawColumns, Rows: []table.Row{}}
	for _, row := range ttd.Rows {
		entry := table.String(row["Disease Entry"])
		if !strings.Contains(strings.ToLower(entry), needle) {
			continue
		}
		out.Rows = append(out.Rows, diseaseRow(entry, row["GENENAME"], "TTD"))
	}
	return out, nil
}

func (s *TTDDiseases) Normalize(raw table.Table) table.Table { return normalizeDisease(raw) }
