// Package gnarly implements C9, the quality-recomputation finalizer: it
// takes a merged, multi-sample locus and recomputes each sample's GT/GQ/PL
// and the site-level QUAL/AF/MLEAC/MLEAF annotations, stripping the
// non-ref pseudo-allele from the output allele list. Grounded on
// pileup/snp/qual.go's phred-space combination style, generalized from
// per-base-quality combination to per-sample genotype-likelihood
// combination.
package gnarly

import (
	"math"

	"github.com/grailbio/gnarly-extract/colio"
	"github.com/grailbio/gnarly-extract/locus"
)

// maxGQ caps a recomputed genotype quality, matching the common VCF
// convention of not reporting arbitrarily large GQ values.
const maxGQ = 99

// Genotype is one sample's finalized call.
type Genotype struct {
	SampleName string
	GT         colio.GenotypeCall
	GQ         int32
	PL         []int32
	AD         []int32
	DP         int32

	ASVarDP             string
	ASSBTable           string
	ASRawMQ             string
	ASRawMQRankSum      string
	ASRawReadPosRankSum string
}

// FinalizedVariant is C9's output: a merged call with recomputed genotypes
// and site-level stats, ready for C10's filter application.
type FinalizedVariant struct {
	Contig     string
	Position   int64
	Ref        string
	Alts       []string // real alts only; locus.NonRefAllele has been stripped
	Genotypes  []Genotype
	QUAL       float64
	QualApprox int64 // carried forward unchanged from C7 (spec.md §4.7 step 7)

	AC    []int
	AN    int
	AF    []float64
	MLEAC []int
	MLEAF []float64
}

// Finalize recomputes GT/GQ/PL for every sample in g and the site-level
// QUAL/AF/MLEAC/MLEAF annotations, per spec.md §4.8. A sample whose PL does
// not cover the full genotype count keeps its own called GT and GQ (a
// no-call is still recomputed from the GQ-synthesized PL). It returns (nil, nil)
// to mean "suppress this call" -- an explicit Option<MergedVariant>-shaped
// result (spec.md §9's design note), used here when every sample's
// recomputed genotype turns out hom-ref.
func Finalize(g *locus.LocusGroup) (*FinalizedVariant, error) {
	realAlts, nonRefOldIndex := stripNonRef(g.Alts)
	numRealAlleles := 1 + len(realAlts)
	fullNumAlleles := numRealAlleles
	if nonRefOldIndex >= 0 {
		fullNumAlleles++
	}
	fullGenotypes := numGenotypes(fullNumAlleles)

	genotypes := make([]Genotype, 0, len(g.Samples))
	ac := make([]int, len(realAlts))
	an := 0
	homRefPhred := make([]int32, 0, len(g.Samples))

	for _, s := range g.Samples {
		pl := samplePL(s, fullGenotypes)
		a, b, gq := bestRealGenotype(pl, numRealAlleles)
		if len(s.PL) != fullGenotypes && !s.GT.NoCall && s.GT.A >= 0 && s.GT.B >= 0 &&
			s.GT.A < numRealAlleles && s.GT.B < numRealAlleles {
			// No full-shape PL to recompute from: keep the sample's own call
			// and GQ, and center the synthesized PL on that call.
			a, b, gq = s.GT.A, s.GT.B, s.GQ
			pl[genotypeIndex(0, 0)] = s.GQ
			pl[genotypeIndex(a, b)] = 0
		}

		gt := colio.GenotypeCall{A: a, B: b}
		if a > 0 {
			ac[a-1]++
		}
		if b > 0 {
			ac[b-1]++
		}
		an += 2

		homRefPhred = append(homRefPhred, pl[genotypeIndex(0, 0)])

		genotypes = append(genotypes, Genotype{
			SampleName: s.SampleName, GT: gt, GQ: gq, PL: pl, AD: s.AD, DP: s.DP,
			ASVarDP: s.ASVarDP, ASSBTable: s.ASSBTable, ASRawMQ: s.ASRawMQ,
			ASRawMQRankSum: s.ASRawMQRankSum, ASRawReadPosRankSum: s.ASRawReadPosRankSum,
		})
	}

	totalAC := 0
	for _, c := range ac {
		totalAC += c
	}
	if totalAC == 0 {
		return nil, nil
	}

	af := make([]float64, len(ac))
	for i, c := range ac {
		if an > 0 {
			af[i] = float64(c) / float64(an)
		}
	}

	return &FinalizedVariant{
		Contig: g.Contig, Position: g.Position, Ref: g.Ref, Alts: realAlts,
		Genotypes: genotypes, QUAL: combinePhred(homRefPhred),
		QualApprox: int64(math.Round(g.QualApprox)),
		AC:         ac, AN: an, AF: af,
		// MLEAC/MLEAF: this engine recomputes genotypes, it does not run the
		// EM allele-frequency optimizer the name implies upstream; the
		// empirical AC/AF are used as their point estimate, since spec.md is
		// silent on the exact MLE algorithm (§9 open questions).
		MLEAC: append([]int(nil), ac...),
		MLEAF: append([]float64(nil), af...),
	}, nil
}

// stripNonRef removes locus.NonRefAllele from alts if present, returning the
// remaining alts and the pseudo-allele's original index (-1 if absent).
func stripNonRef(alts []string) (real []string, nonRefIndex int) {
	nonRefIndex = -1
	real = make([]string, 0, len(alts))
	for i, alt := range alts {
		if alt == locus.NonRefAllele {
			nonRefIndex = i
			continue
		}
		real = append(real, alt)
	}
	return real, nonRefIndex
}

// samplePL returns a PL array of length fullGenotypes for s: the sample's
// own PL when it already has the right shape, otherwise one synthesized
// from GQ (0 at hom-ref, GQ everywhere else), which is how this engine
// represents ref-block and missing-sample-synthesized contexts.
func samplePL(s locus.PerSampleContext, fullGenotypes int) []int32 {
	if len(s.PL) == fullGenotypes {
		return s.PL
	}
	pl := make([]int32, fullGenotypes)
	gq := s.GQ
	for i := range pl {
		pl[i] = gq
	}
	pl[genotypeIndex(0, 0)] = 0
	return pl
}

// bestRealGenotype finds the minimum-PL genotype restricted to allele pairs
// that don't involve the (already-stripped) non-ref pseudo-allele, and the
// GQ implied by the gap to the second-best such genotype.
func bestRealGenotype(pl []int32, numRealAlleles int) (a, b int, gq int32) {
	bestIdx, secondIdx := -1, -1
	var bestPL, secondPL int32
	for x := 0; x < numRealAlleles; x++ {
		for y := x; y < numRealAlleles; y++ {
			idx := genotypeIndex(x, y)
			v := pl[idx]
			if bestIdx == -1 || v < bestPL {
				secondIdx, secondPL = bestIdx, bestPL
				bestIdx, bestPL = idx, v
				a, b = x, y
			} else if secondIdx == -1 || v < secondPL {
				secondIdx, secondPL = idx, v
			}
		}
	}
	gq = secondPL - bestPL
	if gq > maxGQ {
		gq = maxGQ
	}
	if gq < 0 {
		gq = 0
	}
	return a, b, gq
}
