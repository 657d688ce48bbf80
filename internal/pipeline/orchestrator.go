package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/l0p7/netpharm/internal/fsutil"
	"github.com/l0p7/netpharm/internal/report"
	"github.com/l0p7/netpharm/internal/table"
)

// ErrInvalidInput reports a run request without drugs or disease.
var ErrInvalidInput = errors.New("pipeline: invalid input")

// ComponentExecutor resolves drugs to components.
type ComponentExecutor interface {
	Execute(ctx context.Context, drugNames ...string) (table.Table, error)
}

// TargetExecutor resolves component SMILES to targets.
type TargetExecutor interface {
	Execute(ctx context.Context, components table.Table) (table.Table, error)
}

// DiseaseExecutor resolves a disease to targets.
type DiseaseExecutor interface {
	Execute(ctx context.Context, disease string) (table.Table, error)
}

// Options wires the three phase executors.
type Options struct {
	Components ComponentExecutor
	Targets    TargetExecutor
	Diseases   DiseaseExecutor
	// Report renders summary.md after the phases. Nil skips the report.
	Report *report.Template
	Logger *slog.Logger
	Now    func() time.Time
}

// Input is one run request.
type Input struct {
	DrugNames   []string
	DiseaseName string
	OutputDir   string
}

// Result carries the phase tables and the files written.
type Result struct {
	Components     table.Table
	Targets        table.Table
	DiseaseTargets table.Table
	Summary        Summary
	Files          []string
}

// Orchestrator runs components, targets and disease targets in sequence and
// writes each phase's table under the output directory.
type Orchestrator struct {
	components ComponentExecutor
	targets    TargetExecutor
	diseases   DiseaseExecutor
	report     *report.Template
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		components: opts.Components,
		targets:    opts.Targets,
		diseases:   opts.Diseases,
		report:     opts.Report,
		logger:     logger.With(slog.String("agent", "pipeline")),
		now:        now,
	}
}

// Validate checks a run request before any phase starts.
func (in Input) Validate() error {
	var problems []string
	drugs := 0
	for _, name := range in.DrugNames {
		if strings.TrimSpace(name) != "" {
			drugs++
		}
	}
	if drugs == 0 {
		problems = append(problems, "at least one drug name is required")
	}
	if strings.TrimSpace(in.DiseaseName) == "" {
		problems = append(problems, "disease name is required")
	}
	if strings.TrimSpace(in.OutputDir) == "" {
		problems = append(problems, "output directory is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// Run executes the three phases strictly in order. Phase output files are
// written before the next phase starts; a write failure aborts the run.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	drugs := make([]string, 0, len(in.DrugNames))
	for _, name := range in.DrugNames {
		if name = strings.TrimSpace(name); name != "" {
			drugs = append(drugs, name)
		}
	}
	disease := strings.TrimSpace(in.DiseaseName)
	var res Result

	start := o.now()
	components, err := o.components.Execute(ctx, drugs...)
	if err != nil {
		return res, fmt.Errorf("pipeline: components: %w", err)
	}
	res.Components = components
	if err := o.write(in.OutputDir, table.ComponentSchema, components, &res, start); err != nil {
		return res, err
	}

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("pipeline: before targets: %w", err)
	}
	start = o.now()
	targets, err := o.targets.Execute(ctx, components)
	if err != nil {
		return res, fmt.Errorf("pipeline: targets: %w", err)
	}
	res.Targets = targets
	if err := o.write(in.OutputDir, table.TargetSchema, targets, &res, start); err != nil {
		return res, err
	}

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("pipeline: before disease targets: %w", err)
	}
	start = o.now()
	diseaseTargets, err := o.diseases.Execute(ctx, disease)
	if err != nil {
		return res, fmt.Errorf("pipeline: disease targets: %w", err)
	}
	res.DiseaseTargets = diseaseTargets
	if err := o.write(in.OutputDir, table.DiseaseTargetSchema, diseaseTargets, &res, start); err != nil {
		return res, err
	}

	res.Summary = summarize(drugs, disease, o.now().UTC(), res)
	if o.report != nil {
		rendered, err := o.report.Render(res.Summary)
		if err != nil {
			o.logger.Warn("report render failed", slog.String("template", o.report.Name()), slog.Any("error", err))
			return res, nil
		}
		path := filepath.Join(in.OutputDir, "summary.md")
		if err := fsutil.WriteAtomic(path, []byte(rendered), 0o644); err != nil {
			return res, fmt.Errorf("pipeline: write report: %w", err)
		}
		res.Files = append(res.Files, path)
	}
	return res, nil
}

func (o *Orchestrator) write(dir string, schema table.Schema, t table.Table, res *Result, start time.Time) error {
	path := filepath.Join(dir, schema.Name+".csv")
	if err := table.WriteFile(path, schema.Conform(t)); err != nil {
		return fmt.Errorf("pipeline: write %s: %w", schema.Name, err)
	}
	res.Files = append(res.Files, path)
	o.logger.Info("phase complete",
		slog.String("phase", schema.Name),
		slog.Int("rows", t.Len()),
		slog.String("path", path),
		slog.Duration("duration", o.now().Sub(start)),
	)
	return nil
}

// PhaseSummary counts a phase's rows, split by source when the phase has one.
type PhaseSummary struct {
	Name    string
	Rows    int
	Sources map[string]int
}

// Summary is the data handed to the report template.
type Summary struct {
	Drugs         []string
	Disease       string
	GeneratedAt   time.Time
	Phases        []PhaseSummary
	SharedTargets []string
}

func summarize(drugs []string, disease string, at time.Time, res Result) Summary {
	return Summary{
		Drugs:       drugs,
		Disease:     disease,
		GeneratedAt: at,
		Phases: []PhaseSummary{
			phaseSummary(table.ComponentSchema.Name, res.Components),
			phaseSummary(table.TargetSchema.Name, res.Targets),
			phaseSummary(table.DiseaseTargetSchema.Name, res.DiseaseTargets),
		},
		SharedTargets: sharedTargets(res.Targets, res.DiseaseTargets),
	}
}

func phaseSummary(name string, t table.Table) PhaseSummary {
	out := PhaseSummary{Name: name, Rows: t.Len()}
	if !t.HasColumn("source") || t.Empty() {
		return out
	}
	out.Sources = make(map[string]int)
	for _, row := range t.Rows {
		out.Sources[table.String(row["source"])]++
	}
	return out
}

// sharedTargets intersects compound targets with disease targets,
// case-insensitively. Results are upper-cased and sorted.
func sharedTargets(targets, diseases table.Table) []string {
	compound := make(map[string]struct{})
	for _, gene := range targets.Strings("targets") {
		compound[strings.ToUpper(strings.TrimSpace(gene))] = struct{}{}
	}
	seen := make(map[string]struct{})
	var shared []string
	for _, gene := range diseases.Strings("target_name") {
		g := strings.ToUpper(strings.TrimSpace(gene))
		if _, ok := compound[g]; !ok {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		shared = append(shared, g)
	}
	slices.Sort(shared)
	return shared
}
