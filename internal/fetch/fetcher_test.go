package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/netpharm/internal/expr"
	"github.com/l0p7/netpharm/internal/table"
)

type stubStrategy struct {
	name  string
	rows  []table.Row
	err   error
	calls atomic.Int32
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Query(_ context.Context, name string) (table.Table, error) {
	s.calls.Add(1)
	if s.err != nil {
		return table.Table{}, s.err
	}
	rows := make([]table.Row, 0, len(s.rows))
	for _, row := range s.rows {
		cp := table.Row{"gene": row["gene"], "smiles": name}
		rows = append(rows, cp)
	}
	return table.Table{Columns: []string{"smiles", "gene"}, Rows: rows}, nil
}

func (s *stubStrategy) Normalize(raw table.Table) table.Table {
	out := table.TargetSchema.Project(raw, map[string]string{"gene": "targets"})
	for _, row := range out.Rows {
		row["source"] = s.name
	}
	return out
}

type postProcessingStrategy struct {
	*stubStrategy
}

func (s postProcessingStrategy) PostProcess(t table.Table) table.Table {
	return t.Filter(func(row table.Row) bool { return row["targets"] != "DROP" })
}

func TestFetchQueriesAndPersistsArtifact(t *testing.T) {
	dir := t.TempDir()
	strategy := &stubStrategy{name: "ChEMBL", rows: []table.Row{{"gene": "EGFR"}, {"gene": "ALB"}}}
	fetcher := New(strategy, Options{Phase: PhaseTargets, ResultsDir: dir})

	out, err := fetcher.Fetch(context.Background(), "C/C=C/O")
	require.NoError(t, err)
	require.Equal(t, table.TargetSchema.Columns, out.Columns)
	require.Equal(t, 2, out.Len())
	require.Equal(t, "EGFR", out.Rows[0]["targets"])
	require.Equal(t, "ChEMBL", out.Rows[0]["source"])

	path := fetcher.ArtifactPath("C/C=C/O")
	require.FileExists(t, path)
	require.Contains(t, path, "ComponentTargetPredictor")
}

func TestFetchShortCircuitsOnArtifact(t *testing.T) {
	dir := t.TempDir()
	strategy := &stubStrategy{name: "TCMSP", rows: []table.Row{{"gene": "EGFR"}}}
	fetcher := New(strategy, Options{Phase: PhaseTargets, ResultsDir: dir})
	ctx := context.Background()

	first, err := fetcher.Fetch(ctx, "CCO")
	require.NoError(t, err)
	second, err := fetcher.Fetch(ctx, "CCO")
	require.NoError(t, err)

	require.Equal(t, int32(1), strategy.calls.Load(), "second fetch reads the artifact")
	require.Equal(t, first.Rows, second.Rows)
}

func TestFetchRequeriesWhenArtifactCorrupt(t *testing.T) {
	dir := t.TempDir()
	strategy := &stubStrategy{name: "TCMSP", rows: []table.Row{{"gene": "EGFR"}}}
	fetcher := New(strategy, Options{Phase: PhaseTargets, ResultsDir: dir})

	path := fetcher.ArtifactPath("CCO")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("unrelated,header\n"), 0o644))

	out, err := fetcher.Fetch(context.Background(), "CCO")
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	require.Equal(t, int32(1), strategy.calls.Load())
}

func TestFetchWrapsQueryError(t *testing.T) {
	boom := errors.New("connection refused")
	strategy := &stubStrategy{name: "ChEMBL", err: boom}
	fetcher := New(strategy, Options{Phase: PhaseTargets, ResultsDir: t.TempDir()})

	out, err := fetcher.Fetch(context.Background(), "CCO")
	require.ErrorIs(t, err, boom)
	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "ChEMBL", fetchErr.Strategy)
	require.Equal(t, "CCO", fetchErr.Name)
	require.Equal(t, table.TargetSchema.Columns, out.Columns)
	require.NoFileExists(t, fetcher.ArtifactPath("CCO"), "failures are not persisted")
}

func TestFetchAppliesPostProcessAndFilter(t *testing.T) {
	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	filter, err := env.CompileFilter(`row.targets != "ALB"`)
	require.NoError(t, err)

	strategy := postProcessingStrategy{&stubStrategy{name: "TCMSP", rows: []table.Row{
		{"gene": "EGFR"}, {"gene": "DROP"}, {"gene": "ALB"},
	}}}
	fetcher := New(strategy, Options{Phase: PhaseTargets, Filter: filter})

	out, err := fetcher.Fetch(context.Background(), "CCO")
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	require.Equal(t, "EGFR", out.Rows[0]["targets"])
	require.Empty(t, fetcher.ArtifactPath("CCO"), "artifacts disabled without a results dir")
}

func TestMergeDropsDuplicates(t *testing.T) {
	a := table.Table{Columns: table.DiseaseTargetSchema.Columns, Rows: []table.Row{
		{"name": "asthma", "target_name": "IL4", "source": "OMIM"},
	}}
	b := table.Table{Columns: table.DiseaseTargetSchema.Columns, Rows: []table.Row{
		{"name": "asthma", "target_name": "IL4", "source": "OMIM"},
		{"name": "asthma", "target_name": "IL13", "source": "OMIM"},
	}}
	out := Merge(a, b)
	require.Equal(t, 2, out.Len())
	require.Equal(t, 0, Merge().Len())
}
