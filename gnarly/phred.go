package gnarly

import "math"

// maxPhred bounds any phred-scaled value this package produces, mirroring
// pileup/snp/qual.go's qualSumTable clamp (there, nQual-1; here, a generous
// ceiling since site-level QUALs can run much higher than a base quality).
const maxPhred = 3000.0

// genotypeIndex returns the standard VCF PL/GL triangular index for the
// unordered allele pair (a, b), a <= b.
func genotypeIndex(a, b int) int {
	if a > b {
		a, b = b, a
	}
	return b*(b+1)/2 + a
}

// numGenotypes returns the number of unordered diploid genotypes over
// numAlleles alleles (including the reference).
func numGenotypes(numAlleles int) int {
	return numAlleles * (numAlleles + 1) / 2
}

// phredToProb converts a phred-scaled value to a probability.
func phredToProb(phred float64) float64 {
	return math.Pow(10, -phred/10)
}

// combinePhred combines several samples' phred-scaled evidence against the
// same hypothesis (here, "this site is hom-ref everywhere") into one
// site-level phred score, generalizing pileup/snp/qual.go's
// phred-to-probability-and-back combination of two base qualities into a
// per-sample product over arbitrarily many samples.
func combinePhred(perSample []int32) float64 {
	var logProb float64
	for _, p := range perSample {
		logProb += math.Log(phredToProb(float64(p)))
	}
	phred := -10 * logProb / math.Ln10
	if phred > maxPhred {
		return maxPhred
	}
	return phred
}
