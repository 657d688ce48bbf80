package expr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/netpharm/internal/table"
)

func TestLookupMapValue(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`lookup(row, "source") == "TCMSP"`)
	require.NoError(t, err)

	matched, err := program.EvalBool(map[string]any{"row": map[string]any{"source": "TCMSP"}, "query": ""})
	require.NoError(t, err)
	require.True(t, matched)

	matched, err = program.EvalBool(map[string]any{"row": map[string]any{}, "query": ""})
	require.NoError(t, err)
	require.False(t, matched, "expected lookup to return null for missing key")
}

func TestCompileRejectsNonBoolean(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile(`"text"`)
	require.Error(t, err)
	_, err = env.Compile(`   `)
	require.Error(t, err)
	_, err = env.Compile(`row.`)
	require.Error(t, err)
}

func TestProgramSource(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	program, err := env.Compile(`  true `)
	require.NoError(t, err)
	require.Equal(t, "true", program.Source())
}

func TestFilterApply(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	filter, err := env.CompileFilter(`row.oral_bioavailability >= 30 && row.component_name != query`)
	require.NoError(t, err)
	require.Contains(t, filter.Source(), "oral_bioavailability")

	in := table.Table{
		Columns: table.ComponentSchema.Columns,
		Rows: []table.Row{
			{"component_name": "quercetin", "oral_bioavailability": 46.43},
			{"component_name": "ginseng", "oral_bioavailability": 50.0},
			{"component_name": "low", "oral_bioavailability": 10.0},
			{"component_name": "unknown", "oral_bioavailability": nil},
		},
	}
	out, failed := filter.Apply("ginseng", in)
	require.Equal(t, 1, out.Len())
	require.Equal(t, "quercetin", out.Rows[0]["component_name"])
	require.Equal(t, 1, failed, "null comparison counts as an evaluation failure")
	require.Equal(t, in.Columns, out.Columns)
}

func TestNilFilterKeepsRows(t *testing.T) {
	var filter *Filter
	in := table.Table{Columns: []string{"a"}, Rows: []table.Row{{"a": "x"}}}
	out, failed := filter.Apply("q", in)
	require.Equal(t, in, out)
	require.Zero(t, failed)
}
