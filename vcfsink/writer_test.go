package vcfsink

import (
	"context"
	"io"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/gnarly-extract/callmode"
	"github.com/grailbio/gnarly-extract/colio"
	"github.com/grailbio/gnarly-extract/filterapply"
	"github.com/grailbio/gnarly-extract/gnarly"
	"github.com/grailbio/gnarly-extract/locuskey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, path string) string {
	t.Helper()
	ctx := context.Background()
	f, err := file.Open(ctx, path)
	require.NoError(t, err)
	defer f.Close(ctx)
	b, err := io.ReadAll(f.Reader(ctx))
	require.NoError(t, err)
	return string(b)
}

func testDict(t *testing.T) *locuskey.Dictionary {
	t.Helper()
	d, err := locuskey.NewDictionary([]string{"chr1", "chr2"})
	require.NoError(t, err)
	return d
}

func TestWriterHeaderAndRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.vcf")
	w, err := Create(context.Background(), path, false, 1)
	require.NoError(t, err)

	th := filterapply.Thresholds{SNP: 3.0, Indel: 3.0}
	require.NoError(t, w.WriteHeader(testDict(t), []string{"sampleA", "sampleB"}, callmode.Genomes, th))

	fv := &gnarly.FinalizedVariant{
		Contig: "chr1", Position: 100001, Ref: "A", Alts: []string{"C"},
		QUAL: 50.2, QualApprox: 500,
		AC: []int{1}, AN: 4, AF: []float64{0.25}, MLEAC: []int{1}, MLEAF: []float64{0.25},
		Genotypes: []gnarly.Genotype{
			{SampleName: "sampleA", GT: colio.GenotypeCall{A: 0, B: 1}, GQ: 50, PL: []int32{50, 0, 50}, AD: []int32{10, 5}, DP: 15},
			{SampleName: "sampleB", GT: colio.GenotypeCall{A: 0, B: 0}, GQ: 20, PL: []int32{0, 20, 60}, AD: []int32{12, 0}, DP: 12},
		},
	}
	applied := &filterapply.Applied{
		FinalizedVariant: fv,
		Filter:           []string{filterapply.FilterPass},
		ASVQSLOD:         []float64{4.5},
		ASYNGStatus:      []string{"G"},
	}
	require.NoError(t, w.WriteRecord(applied))
	require.NoError(t, w.Close(context.Background()))

	text := readAll(t, path)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	assert.Equal(t, fileFormat, lines[0])
	chromLine := ""
	var dataLine string
	for _, l := range lines {
		if strings.HasPrefix(l, "#CHROM") {
			chromLine = l
		}
	}
	dataLine = lines[len(lines)-1]
	require.NotEmpty(t, chromLine)
	assert.Equal(t, "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tsampleA\tsampleB", chromLine)

	cols := strings.Split(dataLine, "\t")
	require.Len(t, cols, 11)
	assert.Equal(t, "chr1", cols[0])
	assert.Equal(t, "100001", cols[1])
	assert.Equal(t, "A", cols[3])
	assert.Equal(t, "C", cols[4])
	assert.Equal(t, "50.20", cols[5])
	assert.Equal(t, "PASS", cols[6])
	assert.Contains(t, cols[7], "AC=1")
	assert.Contains(t, cols[7], "AS_VQSLOD=4.5000")
	assert.Contains(t, cols[7], "AS_YNG_STATUS=G")
	assert.Equal(t, "GT:GQ:PL:AD:DP", cols[8])
	assert.Equal(t, "0/1:50:50,0,50:10,5:15", cols[9])
	assert.Equal(t, "0/0:20:0,20,60:12,0:12", cols[10])
}

func TestWriterEmitsMissingAsDotForAbsentFilterScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.vcf")
	w, err := Create(context.Background(), path, false, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(testDict(t), []string{"sampleA"}, callmode.Genomes, filterapply.Thresholds{SNP: 3, Indel: 3}))

	fv := &gnarly.FinalizedVariant{
		Contig: "chr2", Position: 5, Ref: "A", Alts: []string{"G"},
		AC: []int{2}, AN: 2, AF: []float64{1.0}, MLEAC: []int{2}, MLEAF: []float64{1.0},
		Genotypes: []gnarly.Genotype{
			{SampleName: "sampleA", GT: colio.GenotypeCall{A: 1, B: 1}, GQ: 30, DP: 8},
		},
	}
	applied := &filterapply.Applied{
		FinalizedVariant: fv,
		Filter:           []string{filterapply.FilterNAY},
		ASVQSLOD:         []float64{math.NaN()},
		ASYNGStatus:      []string{""},
	}
	require.NoError(t, w.WriteRecord(applied))
	require.NoError(t, w.Close(context.Background()))

	text := readAll(t, path)
	assert.Contains(t, text, "AS_VQSLOD=.")
	assert.Contains(t, text, "AS_YNG_STATUS=.")
	// PL/AD absent on this sample render as the VCF missing sentinel, not an
	// empty field.
	assert.Contains(t, text, "1/1:30:.:.:8")
}

func TestWriterPreservesNonAlphabeticalCohortOrder(t *testing.T) {
	// Header columns follow the caller-supplied cohort order, not sorted
	// order; WriteRecord must match that order without re-sorting.
	path := filepath.Join(t.TempDir(), "out.vcf")
	w, err := Create(context.Background(), path, false, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(testDict(t), []string{"Zack", "Amy", "Mike"}, callmode.Genomes, filterapply.Thresholds{SNP: 3, Indel: 3}))

	fv := &gnarly.FinalizedVariant{
		Contig: "chr1", Position: 1, Ref: "A", Alts: []string{"C"},
		AC: []int{3}, AN: 6, AF: []float64{0.5},
		Genotypes: []gnarly.Genotype{
			{SampleName: "Zack", GT: colio.GenotypeCall{A: 0, B: 0}, GQ: 1, DP: 1},
			{SampleName: "Amy", GT: colio.GenotypeCall{A: 1, B: 1}, GQ: 2, DP: 2},
			{SampleName: "Mike", GT: colio.GenotypeCall{A: 0, B: 1}, GQ: 3, DP: 3},
		},
	}
	applied := &filterapply.Applied{FinalizedVariant: fv, Filter: []string{filterapply.FilterPass}, ASVQSLOD: []float64{1}, ASYNGStatus: []string{"G"}}
	require.NoError(t, w.WriteRecord(applied))
	require.NoError(t, w.Close(context.Background()))

	text := readAll(t, path)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var chromLine, dataLine string
	for _, l := range lines {
		if strings.HasPrefix(l, "#CHROM") {
			chromLine = l
		}
	}
	dataLine = lines[len(lines)-1]
	assert.Equal(t, "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tZack\tAmy\tMike", chromLine)

	cols := strings.Split(dataLine, "\t")
	require.Len(t, cols, 12)
	assert.Equal(t, "0/0:1:.:.:1", cols[9], "column 9 under the Zack/Amy/Mike header must be Zack's genotype")
	assert.Equal(t, "1/1:2:.:.:2", cols[10], "column 10 must be Amy's genotype")
	assert.Equal(t, "0/1:3:.:.:3", cols[11], "column 11 must be Mike's genotype")
}

func TestWriterRejectsSampleCountMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.vcf")
	w, err := Create(context.Background(), path, false, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(testDict(t), []string{"sampleA", "sampleB"}, callmode.Genomes, filterapply.Thresholds{SNP: 3, Indel: 3}))

	fv := &gnarly.FinalizedVariant{
		Contig: "chr1", Position: 1, Ref: "A", Alts: []string{"C"},
		AC: []int{1}, AN: 2, AF: []float64{0.5},
		Genotypes: []gnarly.Genotype{{SampleName: "sampleA", GT: colio.GenotypeCall{A: 0, B: 1}}},
	}
	applied := &filterapply.Applied{FinalizedVariant: fv, Filter: []string{filterapply.FilterPass}, ASVQSLOD: []float64{1}, ASYNGStatus: []string{"G"}}
	err = w.WriteRecord(applied)
	assert.Error(t, err)
}
