package filtertable

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/gnarly-extract/locuskey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	ctx := context.Background()
	f, err := file.Create(ctx, path)
	require.NoError(t, err)
	_, err = f.Writer(ctx).Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))
	return path
}

const header = "location\tref\talt\tvqslod\tyng_status\tfilter_set_name\n"

func TestLoadBasic(t *testing.T) {
	path := writeFixture(t, "basic.tsv", header+
		"100\tA\tC\t1.5\tG\tcohort1\n"+
		"100\tA\tT\t\tN\tcohort1\n"+
		"200\tAG\tA\t-2.0\tY\tcohort1\n"+
		"300\tA\tC\t9.0\tG\tother_cohort\n")

	table, err := Load(context.Background(), path, 0, math.MaxInt64, "cohort1")
	require.NoError(t, err)
	assert.Equal(t, 3, table.NumEntries)

	e, ok := table.Lookup(locuskey.LocationKey(100), "A", "C")
	require.True(t, ok)
	assert.Equal(t, Entry{VQSLOD: 1.5, HasVQSLOD: true, YNG: "G"}, e)

	e, ok = table.Lookup(locuskey.LocationKey(100), "A", "T")
	require.True(t, ok)
	assert.False(t, e.HasVQSLOD)
	assert.Equal(t, "N", e.YNG)

	_, ok = table.Lookup(locuskey.LocationKey(300), "A", "C")
	assert.False(t, ok, "rows for other filter sets must be excluded")
}

func TestLoadRespectsLocationRange(t *testing.T) {
	path := writeFixture(t, "range.tsv", header+
		"50\tA\tC\t1.0\tG\tc\n"+
		"150\tA\tC\t2.0\tG\tc\n"+
		"250\tA\tC\t3.0\tG\tc\n")

	table, err := Load(context.Background(), path, 100, 200, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, table.NumEntries)
	_, ok := table.Lookup(locuskey.LocationKey(150), "A", "C")
	assert.True(t, ok)
	_, ok = table.Lookup(locuskey.LocationKey(50), "A", "C")
	assert.False(t, ok)
}

func TestLoadRejectsConflictingDuplicate(t *testing.T) {
	path := writeFixture(t, "conflict.tsv", header+
		"100\tA\tC\t1.0\tG\tc\n"+
		"100\tA\tC\t2.0\tG\tc\n")

	_, err := Load(context.Background(), path, 0, math.MaxInt64, "c")
	require.Error(t, err)
}

func TestLoadAllowsIdenticalDuplicate(t *testing.T) {
	path := writeFixture(t, "identical-dup.tsv", header+
		"100\tA\tC\t1.0\tG\tc\n"+
		"100\tA\tC\t1.0\tG\tc\n")

	table, err := Load(context.Background(), path, 0, math.MaxInt64, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, table.NumEntries)
}

func TestNilTableIsPassThrough(t *testing.T) {
	var table *Table
	_, ok := table.Lookup(locuskey.LocationKey(1), "A", "C")
	assert.False(t, ok)
}

func TestLoadRejectsBadYNG(t *testing.T) {
	path := writeFixture(t, "bad-yng.tsv", header+"100\tA\tC\t1.0\tBOGUS\tc\n")
	_, err := Load(context.Background(), path, 0, math.MaxInt64, "c")
	require.Error(t, err)
}
