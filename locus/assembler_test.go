package locus

import (
	"bytes"
	"testing"

	"github.com/grailbio/gnarly-extract/callmode"
	"github.com/grailbio/gnarly-extract/colio"
	"github.com/grailbio/gnarly-extract/locuskey"
	"github.com/grailbio/gnarly-extract/refseq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOracle(t *testing.T) *refseq.Oracle {
	t.Helper()
	fasta := []byte(">chr1\n" + "AAAAAAAAAA" + "\n")
	fai := "chr1\t10\t6\t10\t11\n"
	oracle, err := refseq.NewOracle(bytes.NewReader(fasta), bytesReader(fai))
	require.NoError(t, err)
	return oracle
}

func bytesReader(s string) *bytes.Reader { return bytes.NewReader([]byte(s)) }

func newTestDictionary(t *testing.T) *locuskey.Dictionary {
	t.Helper()
	d, err := locuskey.NewDictionary([]string{"chr1"})
	require.NoError(t, err)
	return d
}

func record(loc locuskey.LocationKey, sample string, state colio.State) *colio.SampleRecord {
	return &colio.SampleRecord{Location: loc, SampleName: sample, State: state, Ref: "A"}
}

func TestAssemblerSingleSNPTwoSamples(t *testing.T) {
	// spec.md §8 S1.
	dict := newTestDictionary(t)
	loc, err := dict.Encode("chr1", 1)
	require.NoError(t, err)

	a := NewAssembler([]string{"A", "B"}, dict, newTestOracle(t), callmode.Genomes)

	recA := record(loc, "A", colio.StateVariant)
	recA.Alts = []string{"C"}
	recA.GT = colio.GenotypeCall{A: 0, B: 1}
	recA.ASQualApprox = []float64{nan(), 500}

	recB := record(loc, "B", colio.State('2'))

	g1, err := a.Add(recA)
	require.NoError(t, err)
	assert.Nil(t, g1)
	g2, err := a.Add(recB)
	require.NoError(t, err)
	assert.Nil(t, g2)

	g, err := a.Finish()
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.Equal(t, "A", g.Ref)
	assert.Equal(t, []string{"C", NonRefAllele}, g.Alts)
	assert.EqualValues(t, 500, g.QualApprox)
	require.Len(t, g.Samples, 2)

	bySample := map[string]PerSampleContext{}
	for _, s := range g.Samples {
		bySample[s.SampleName] = s
	}
	assert.Equal(t, colio.GenotypeCall{A: 0, B: 1}, bySample["A"].GT)
	assert.Equal(t, colio.GenotypeCall{A: 0, B: 0}, bySample["B"].GT)
	assert.EqualValues(t, 20, bySample["B"].GQ)
}

func TestAssemblerSumsQualApproxAcrossVariantSamples(t *testing.T) {
	// Two variant-state samples at the same locus must have their QUALapprox
	// fields summed, not overwritten by whichever is processed last.
	dict := newTestDictionary(t)
	loc, err := dict.Encode("chr1", 1)
	require.NoError(t, err)

	a := NewAssembler([]string{"A", "B"}, dict, newTestOracle(t), callmode.Genomes)

	recA := record(loc, "A", colio.StateVariant)
	recA.Alts = []string{"C"}
	recA.GT = colio.GenotypeCall{A: 0, B: 1}
	recA.QualApprox = 300
	recA.HasQualApprox = true

	recB := record(loc, "B", colio.StateVariant)
	recB.Alts = []string{"C"}
	recB.GT = colio.GenotypeCall{A: 0, B: 1}
	recB.QualApprox = 700
	recB.HasQualApprox = true

	_, err = a.Add(recA)
	require.NoError(t, err)
	_, err = a.Add(recB)
	require.NoError(t, err)

	g, err := a.Finish()
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.EqualValues(t, 1000, g.QualApprox)
}

func TestAssemblerMissingSampleSynthesis(t *testing.T) {
	// spec.md §8 S3: cohort {A,B,C}, only A (v) and B (0) present.
	dict := newTestDictionary(t)
	loc, err := dict.Encode("chr1", 1)
	require.NoError(t, err)

	a := NewAssembler([]string{"A", "B", "C"}, dict, newTestOracle(t), callmode.Genomes)

	recA := record(loc, "A", colio.StateVariant)
	recA.Alts = []string{"C"}
	recA.GT = colio.GenotypeCall{A: 0, B: 1}
	recA.ASQualApprox = []float64{nan(), 1000}

	recB := record(loc, "B", colio.State('0'))

	_, err = a.Add(recA)
	require.NoError(t, err)
	_, err = a.Add(recB)
	require.NoError(t, err)
	g, err := a.Finish()
	require.NoError(t, err)
	require.NotNil(t, g)

	var cGQ int32
	var cHasGQ bool
	found := false
	for _, s := range g.Samples {
		if s.SampleName == "C" {
			found = true
			cGQ, cHasGQ = s.GQ, s.HasGQ
		}
	}
	assert.True(t, found)
	assert.True(t, cHasGQ)
	assert.EqualValues(t, 60, cGQ)
}

func TestAssemblerArraysModeSynthesizesGQAbsent(t *testing.T) {
	dict := newTestDictionary(t)
	loc, err := dict.Encode("chr1", 1)
	require.NoError(t, err)

	a := NewAssembler([]string{"A", "C"}, dict, newTestOracle(t), callmode.Arrays)
	recA := record(loc, "A", colio.StateVariant)
	recA.Alts = []string{"C"}
	recA.ASQualApprox = []float64{nan(), 1000}
	_, err = a.Add(recA)
	require.NoError(t, err)
	g, err := a.Finish()
	require.NoError(t, err)
	require.NotNil(t, g)

	for _, s := range g.Samples {
		if s.SampleName == "C" {
			assert.False(t, s.HasGQ)
		}
	}
}

func TestAssemblerRejectsLowQualIndel(t *testing.T) {
	// spec.md §8 S4.
	dict := newTestDictionary(t)
	loc, err := dict.Encode("chr1", 1)
	require.NoError(t, err)

	a := NewAssembler([]string{"A"}, dict, newTestOracle(t), callmode.Genomes)
	recA := record(loc, "A", colio.StateVariant)
	recA.Alts = []string{"ATG"} // insertion, not same length as ref
	recA.ASQualApprox = []float64{nan(), 5}
	_, err = a.Add(recA)
	require.NoError(t, err)
	g, err := a.Finish()
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestAssemblerSuppressesRefBlockOnlyLocus(t *testing.T) {
	dict := newTestDictionary(t)
	loc, err := dict.Encode("chr1", 1)
	require.NoError(t, err)

	a := NewAssembler([]string{"A"}, dict, newTestOracle(t), callmode.Genomes)
	_, err = a.Add(record(loc, "A", colio.State('3')))
	require.NoError(t, err)
	g, err := a.Finish()
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestAssemblerUnknownStateIsFatal(t *testing.T) {
	dict := newTestDictionary(t)
	loc, err := dict.Encode("chr1", 1)
	require.NoError(t, err)

	a := NewAssembler([]string{"A"}, dict, newTestOracle(t), callmode.Genomes)
	_, err = a.Add(record(loc, "A", colio.State('X')))
	require.NoError(t, err)
	_, err = a.Finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean")
}

func nan() float64 {
	var zero float64
	return zero / zero
}
