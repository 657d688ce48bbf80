package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/netpharm/internal/report"
	"github.com/l0p7/netpharm/internal/table"
)

type stubComponents struct {
	got []string
	out table.Table
	err error
}

func (s *stubComponents) Execute(_ context.Context, names ...string) (table.Table, error) {
	s.got = names
	return s.out, s.err
}

type stubTargets struct {
	got table.Table
	out table.Table
	err error
}

func (s *stubTargets) Execute(_ context.Context, components table.Table) (table.Table, error) {
	s.got = components
	return s.out, s.err
}

type stubDiseases struct {
	got   string
	calls int
	out   table.Table
}

func (s *stubDiseases) Execute(_ context.Context, disease string) (table.Table, error) {
	s.got = disease
	s.calls++
	return s.out, nil
}

func fixtures() (*stubComponents, *stubTargets, *stubDiseases) {
	components := &stubComponents{out: table.Table{Columns: table.ComponentSchema.Columns, Rows: []table.Row{
		{"component_name": "quercetin", "smiles": "C1", "oral_bioavailability": 46.4, "drug_likeness": 0.28},
	}}}
	targets := &stubTargets{out: table.Table{Columns: table.TargetSchema.Columns, Rows: []table.Row{
		{"smiles": "C1", "targets": "egfr", "source": "TCMSP"},
		{"smiles": "C1", "targets": "PTGS2", "source": "chembl"},
		{"smiles": "C1", "targets": "IL4", "source": "TCMSP"},
	}}}
	diseases := &stubDiseases{out: table.Table{Columns: table.DiseaseTargetSchema.Columns, Rows: []table.Row{
		{"name": "asthma", "target_name": "IL4", "source": "OMIM"},
		{"name": "asthma", "target_name": "EGFR", "source": "TTD"},
		{"name": "asthma", "target_name": "IL13", "source": "OMIM"},
	}}}
	return components, targets, diseases
}

func TestRunWritesPhaseFilesAndSummary(t *testing.T) {
	components, targets, diseases := fixtures()
	tmpl, err := report.NewRenderer().Compile("summary", report.DefaultSummary)
	require.NoError(t, err)

	out := t.TempDir()
	o := New(Options{
		Components: components,
		Targets:    targets,
		Diseases:   diseases,
		Report:     tmpl,
		Now:        func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	res, err := o.Run(context.Background(), Input{
		DrugNames:   []string{" ginseng ", "", "licorice"},
		DiseaseName: " asthma ",
		OutputDir:   out,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"ginseng", "licorice"}, components.got)
	require.Equal(t, components.out, targets.got, "targets phase receives the component table")
	require.Equal(t, "asthma", diseases.got)

	require.Len(t, res.Files, 4)
	for _, name := range []string{"components.csv", "targets.csv", "disease_targets.csv", "summary.md"} {
		require.FileExists(t, filepath.Join(out, name))
	}

	written, err := table.ReadFile(filepath.Join(out, "targets.csv"), table.TargetSchema)
	require.NoError(t, err)
	require.Equal(t, 3, written.Len())

	require.Equal(t, []string{"EGFR", "IL4"}, res.Summary.SharedTargets)
	require.Equal(t, map[string]int{"TCMSP": 2, "chembl": 1}, res.Summary.Phases[1].Sources)
	require.Nil(t, res.Summary.Phases[0].Sources)

	summary, err := os.ReadFile(filepath.Join(out, "summary.md"))
	require.NoError(t, err)
	require.Contains(t, string(summary), "EGFR, IL4")
	require.Contains(t, string(summary), "2024-05-01 12:00:00 UTC")
}

func TestRunRejectsMissingInput(t *testing.T) {
	components, targets, diseases := fixtures()
	o := New(Options{Components: components, Targets: targets, Diseases: diseases})

	_, err := o.Run(context.Background(), Input{DrugNames: []string{"  "}, DiseaseName: "asthma", OutputDir: t.TempDir()})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = o.Run(context.Background(), Input{DrugNames: []string{"ginseng"}, OutputDir: t.TempDir()})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Nil(t, components.got, "no phase runs on invalid input")
}

func TestRunStopsAtFailedPhase(t *testing.T) {
	components, targets, diseases := fixtures()
	boom := errors.New("boom")
	targets.err = boom
	out := t.TempDir()

	res, err := New(Options{Components: components, Targets: targets, Diseases: diseases}).Run(context.Background(), Input{
		DrugNames: []string{"ginseng"}, DiseaseName: "asthma", OutputDir: out,
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, diseases.calls)
	require.Equal(t, []string{filepath.Join(out, "components.csv")}, res.Files)
	require.NoFileExists(t, filepath.Join(out, "targets.csv"))
}

func TestRunWithoutReportSkipsSummaryFile(t *testing.T) {
	components, targets, diseases := fixtures()
	diseases.out = table.DiseaseTargetSchema.Empty()
	out := t.TempDir()

	res, err := New(Options{Components: components, Targets: targets, Diseases: diseases}).Run(context.Background(), Input{
		DrugNames: []string{"ginseng"}, DiseaseName: "asthma", OutputDir: out,
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 3)
	require.Empty(t, res.Summary.SharedTargets)
	require.NoFileExists(t, filepath.Join(out, "summary.md"))

	written, err := table.ReadFile(filepath.Join(out, "disease_targets.csv"), table.DiseaseTargetSchema)
	require.NoError(t, err)
	require.True(t, written.Empty())
}

type cancellingComponents struct {
	stubComponents
	cancel context.CancelFunc
}

func (c *cancellingComponents) Execute(ctx context.Context, names ...string) (table.Table, error) {
	c.cancel()
	return c.stubComponents.Execute(ctx, names...)
}

func TestRunAbortsWhenCancelledBetweenPhases(t *testing.T) {
	base, targets, diseases := fixtures()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components := &cancellingComponents{stubComponents: *base, cancel: cancel}

	_, err := New(Options{Components: components, Targets: targets, Diseases: diseases}).Run(ctx, Input{
		DrugNames: []string{"ginseng"}, DiseaseName: "asthma", OutputDir: t.TempDir(),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, targets.got.Columns, "targets phase never starts")
}
