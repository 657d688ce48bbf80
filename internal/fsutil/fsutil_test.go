package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeNameProducesSingleSegment(t *testing.T) {
	cases := []string{
		"ginseng",
		"C/C=C/C(=O)O",
		"..",
		"",
		"a\\b:c*d",
		strings.Repeat("C1=CC=CC=C1", 40),
	}
	seen := make(map[string]string)
	for _, in := range cases {
		name := SafeName(in)
		require.NotEmpty(t, name, in)
		require.NotContains(t, name, "/", in)
		require.NotContains(t, name, "\\", in)
		require.NotEqual(t, ".", name)
		require.NotEqual(t, "..", name)
		require.LessOrEqual(t, len(name), maxNameLength, in)
		require.Equal(t, name, SafeName(in), "deterministic")
		if prev, ok := seen[name]; ok {
			t.Fatalf("collision between %q and %q", prev, in)
		}
		seen[name] = in
	}
	require.Equal(t, "ginseng", SafeName("ginseng"))
}

func TestWriteAtomicCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "value.json")
	require.NoError(t, WriteAtomic(path, []byte("one"), 0o600))
	require.NoError(t, WriteAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are renamed away")
}
