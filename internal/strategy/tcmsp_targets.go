package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/l0p7/netpharm/internal/reference"
	"github.com/l0p7/netpharm/internal/table"
)

// TCMSPTargets looks SMILES strings up in the bundled TCMSP molecule and
// target tables, joined on molecule_ID.
type TCMSPTargets struct {
	store     *reference.Store
	molecules string
	targets   string
	logger    *slog.Logger
}

func NewTCMSPTargets(store *reference.Store, molecules, targets string, logger *slog.Logger) *TCMSPTargets {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCMSPTargets{
		store:     store,
		molecules: molecules,
		targets:   targets,
		logger:    logger.With(slog.String("strategy", "TCMSP"), slog.String("phase", "targets")),
	}
}

func (s *TCMSPTargets) Name() string { return "TCMSP" }

// Query returns one row per matched molecule and target. A SMILES string with
// no matching molecule still yields a single row with a null target.
func (s *TCMSPTargets) Query(_ context.Context, smiles string) (table.Table, error) {
	molecules, err := s.store.Load(s.molecules)
	if err != nil {
		return table.Table{}, fmt.Errorf("tcmsp targets: molecules: %w", err)
	}
	targets, err := s.store.Load(s.targets)
	if err != nil {
		return table.Table{}, fmt.Errorf("tcmsp targets: targets: %w", err)
	}
	for _, col := range []string{"molecule_ID", "smiles"} {
		if !molecules.HasColumn(col) {
			return table.Table{}, fmt.Errorf("tcmsp targets: molecules table missing %q", col)
		}
	}
	if !targets.HasColumn("molecule_ID") || !targets.HasColumn("Gene Names") {
		return table.Table{}, fmt.Errorf("tcmsp targets: targets table missing molecule_ID or Gene Names")
	}

	out := table.Table{Columns: []string{"smiles", "Gene Names", "source"}, Rows: []table.Row{}}
	var ids []string
	for _, row := range molecules.Rows {
		if table.String(row["smiles"]) == smiles {
			ids = append(ids, table.String(row["molecule_ID"]))
		}
	}
	if len(ids) == 0 {
		s.logger.Debug("no molecule matches smiles", slog.String("smiles", smiles))
		out.Rows = append(out.Rows, table.Row{"smiles": smiles, "Gene Names": nil, "source": "TCMSP"})
		return out, nil
	}

	byMolecule := make(map[string][]any)
	for _, row := range targets.Rows {
		id := table.String(row["molecule_ID"])
		byMolecule[id] = append(byMolecule[id], row["Gene Names"])
	}
	for _, id := range ids {
		genes := byMolecule[id]
		if len(genes) == 0 {
			genes = []any{nil}
		}
		for _, gene := range genes {
			out.Rows = append(out.Rows, table.Row{"smiles": smiles, "Gene Names": gene, "source": "TCMSP"})
		}
	}
	return out, nil
}

func (s *TCMSPTargets) Normalize(raw table.Table) table.Table {
	return table.TargetSchema.Project(raw, map[string]string{"Gene Names": "targets"})
}
