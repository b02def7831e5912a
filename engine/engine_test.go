package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/gnarly-extract/callmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile writes body to path under t.TempDir(), matching the
// file.Create + Writer(ctx).Write pattern used throughout this module's
// other fixture helpers (filtertable/table_test.go, filterapply/apply_test.go).
func writeFile(t *testing.T, path, body string) {
	t.Helper()
	ctx := context.Background()
	f, err := file.Create(ctx, path)
	require.NoError(t, err)
	_, err = f.Writer(ctx).Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))
}

func readAll(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

const cohortHeader = "contig\tlocation\tsample_name\tstate\tref\talt\tcall_GT\tAS_QUALapprox\n"

func baseConfig(t *testing.T, dir string) Config {
	t.Helper()
	fastaPath := filepath.Join(dir, "ref.fa")
	faiPath := filepath.Join(dir, "ref.fa.fai")
	writeFile(t, fastaPath, ">chr1\nAAAAAAAAAA\n")
	writeFile(t, faiPath, "chr1\t10\t6\t10\t11\n")

	return Config{
		Cohort:                   []string{"A", "B"},
		Mode:                     callmode.Genomes,
		WholeTable:               true,
		VQSLODSNPThreshold:       3.0,
		VQSLODIndelThreshold:     3.0,
		RefSequencePath:          fastaPath,
		RefIndexPath:             faiPath,
		OutputPath:               filepath.Join(dir, "out.vcf"),
		LocalSortMaxRecordsInRAM: 10,
		SortParallelism:          1,
	}
}

func TestEngineRunOrderedQueryProducesVCF(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t, dir)
	cfg.QueryMode = OrderedQuery
	cfg.CohortTablePath = filepath.Join(dir, "cohort.tsv")
	writeFile(t, cfg.CohortTablePath, cohortHeader+
		"chr1\t1\tA\tv\tA\tC\t0/1\t|500\n"+
		"chr1\t1\tB\t2\tA\t\t\t\n")

	e, err := New(cfg)
	require.NoError(t, err)
	stats, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, stats.Cancelled)
	assert.EqualValues(t, 2, stats.RecordsRead)
	assert.EqualValues(t, 1, stats.LociEmitted)

	text := readAll(t, cfg.OutputPath)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	dataLine := lines[len(lines)-1]
	cols := strings.Split(dataLine, "\t")
	require.Len(t, cols, 11)
	assert.Equal(t, "chr1", cols[0])
	assert.Equal(t, "1", cols[1])
	assert.Equal(t, "A", cols[3])
	assert.Equal(t, "C", cols[4])
	assert.Equal(t, "PASS", cols[6], "no filter table configured: every call must pass")
}

func TestEngineRunLocalSortOrdersOutOfOrderInput(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t, dir)
	cfg.QueryMode = LocalSort
	cfg.CohortTablePath = filepath.Join(dir, "cohort.tsv")
	// Two loci, fed in descending order; LOCAL_SORT must restore ascending
	// LocationKey order before the assembler ever sees them.
	writeFile(t, cfg.CohortTablePath, cohortHeader+
		"chr1\t2\tA\tv\tA\tG\t0/1\t|500\n"+
		"chr1\t2\tB\t2\tA\t\t\t\n"+
		"chr1\t1\tA\tv\tA\tC\t0/1\t|500\n"+
		"chr1\t1\tB\t2\tA\t\t\t\n")

	e, err := New(cfg)
	require.NoError(t, err)
	stats, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.LociEmitted)

	text := readAll(t, cfg.OutputPath)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var dataLines []string
	for _, l := range lines {
		if !strings.HasPrefix(l, "#") && !strings.HasPrefix(l, "##") && l != "" {
			dataLines = append(dataLines, l)
		}
	}
	require.Len(t, dataLines, 2)
	firstPos := strings.Split(dataLines[0], "\t")[1]
	secondPos := strings.Split(dataLines[1], "\t")[1]
	assert.Equal(t, "1", firstPos)
	assert.Equal(t, "2", secondPos)
}

func TestEngineRunCancelledStopsEarlyAndReportsStats(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t, dir)
	cfg.QueryMode = OrderedQuery
	cfg.CohortTablePath = filepath.Join(dir, "cohort.tsv")
	writeFile(t, cfg.CohortTablePath, cohortHeader+
		"chr1\t1\tA\tv\tA\tC\t0/1\t|500\n"+
		"chr1\t1\tB\t2\tA\t\t\t\n")

	e, err := New(cfg)
	require.NoError(t, err)
	cancel := make(chan struct{})
	close(cancel)
	stats, err := e.Run(context.Background(), cancel)
	require.NoError(t, err)
	assert.True(t, stats.Cancelled)
	assert.EqualValues(t, 0, stats.RecordsRead)
}

func TestConfigValidateRejectsMissingFields(t *testing.T) {
	var cfg Config
	_, err := New(cfg)
	assert.Error(t, err)
}
