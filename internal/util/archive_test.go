package util

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestZipBuilderMakesNamesUnique(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	builder := NewZipBuilder(&buf)

	first, _, err := builder.AddFile("docs/report.txt", strings.NewReader("a"), time.Time{})
	require.NoError(t, err)
	second, _, err := builder.AddFile("docs/Report.txt", strings.NewReader("b"), time.Time{})
	require.NoError(t, err)
	third, _, err := builder.AddFile("docs/report.txt", strings.NewReader("c"), time.Time{})
	require.NoError(t, err)
	dir, err := builder.AddDir("empty")
	require.NoError(t, err)
	require.NoError(t, builder.Close())

	require.Equal(t, "docs/report.txt", first)
	require.Equal(t, "docs/Report (1).txt", second)
	require.Equal(t, "docs/report (2).txt", third)
	require.Equal(t, "empty/", dir)

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	contents := map[string]string{}
	for _, f := range reader.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		contents[f.Name] = string(data)
	}
	require.Equal(t, map[string]string{
		"docs/report.txt":     "a",
		"docs/Report (1).txt": "b",
		"docs/report (2).txt": "c",
		"empty/":              "",
	}, contents)
}

func TestEntryPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a.txt", EntryPath("", "a.txt", 10, "long_path"))
	require.Equal(t, "x/y/a.txt", EntryPath("x/y/", "a.txt", 10, "long_path"))
	require.Equal(t, "long_path/a.txt", EntryPath(strings.Repeat("d/", 10), "a.txt", 10, "long_path"))
	require.Equal(t, strings.Repeat("d/", 10)+"a.txt", EntryPath(strings.Repeat("d/", 10), "a.txt", 0, "long_path"))
}

func TestNameSetReserve(t *testing.T) {
	t.Parallel()

	names := NewNameSet()
	require.Equal(t, "A/", names.Reserve("A/"))
	require.Equal(t, "a (1)/", names.Reserve("a/"))
	require.Equal(t, "A/x.txt", names.Reserve("A/x.txt"))
	require.Equal(t, "A/x (1).txt", names.Unique("A/X.txt"))
	require.Equal(t, "A/x (1).txt", names.Reserve("A/x.txt"))
	// files and directories of the same name do not collide
	require.Equal(t, "A", names.Reserve("A"))
}
