package executor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/l0p7/netpharm/internal/fetch"
	"github.com/l0p7/netpharm/internal/table"
)

// ComponentFinder resolves drugs or herbs to their components.
type ComponentFinder struct {
	r runner
}

func NewComponentFinder(opts Options) *ComponentFinder {
	return &ComponentFinder{r: newRunner(fetch.PhaseComponents, "components_", "component_finder", opts)}
}

// Execute resolves each drug name in turn, each under its own cache key, and
// concatenates the results in argument order.
func (e *ComponentFinder) Execute(ctx context.Context, drugNames ...string) (table.Table, error) {
	parts := make([]table.Table, 0, len(drugNames))
	for _, name := range drugNames {
		out, err := e.r.run(ctx, name)
		if err != nil {
			return table.ComponentSchema.Empty(), err
		}
		parts = append(parts, out)
	}
	return table.Concat(table.ComponentSchema.Columns, parts...), nil
}

// SmilesTargetPredictor predicts targets for every distinct SMILES string
// in a component table.
type SmilesTargetPredictor struct {
	r runner
}

func NewSmilesTargetPredictor(opts Options) *SmilesTargetPredictor {
	return &SmilesTargetPredictor{r: newRunner(fetch.PhaseTargets, "targets_", "smiles_target_predictor", opts)}
}

// Execute deduplicates the non-empty smiles values of components and fans
// out one resolution per SMILES under the worker bound. Results follow
// first-seen SMILES order.
func (e *SmilesTargetPredictor) Execute(ctx context.Context, components table.Table) (table.Table, error) {
	smiles := components.Strings("smiles")
	results := make([]table.Table, len(smiles))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.r.workers)
	for i, s := range smiles {
		i, s := i, s
		g.Go(func() error {
			out, err := e.r.run(groupCtx, s)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return table.TargetSchema.Empty(), err
	}
	return table.Concat(table.TargetSchema.Columns, results...), nil
}

// DiseaseTargetFinder resolves a disease name to associated targets.
type DiseaseTargetFinder struct {
	r runner
}

func NewDiseaseTargetFinder(opts Options) *DiseaseTargetFinder {
	return &DiseaseTargetFinder{r: newRunner(fetch.PhaseDiseaseTargets, "disease_targets_", "disease_target_finder", opts)}
}

// Execute resolves disease under the key disease_targets_<disease>.
func (e *DiseaseTargetFinder) Execute(ctx context.Context, disease string) (table.Table, error) {
	return e.r.run(ctx, disease)
}
