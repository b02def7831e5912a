// Package qualapprox implements C8, the quality-approximation gate: the
// SNP-vs-indel low-quality rejection spec.md §4.7 step 5 runs before a
// locus is handed to the gnarly finalizer.
package qualapprox

import "math"

// Constants from spec.md §6.
const (
	DefaultCallingThreshold = 30.0
	IndelHeterozygosity     = 1.25e-4
	SNPHeterozygosity       = 1.0e-3
)

// Thresholds returns T_indel and T_snp, spec.md §4.7's per-class calling
// thresholds: default_calling_threshold − 10·log10(heterozygosity).
func Thresholds() (tIndel, tSNP float64) {
	tIndel = DefaultCallingThreshold - 10*math.Log10(IndelHeterozygosity)
	tSNP = DefaultCallingThreshold - 10*math.Log10(SNPHeterozygosity)
	return tIndel, tSNP
}

// Gate reports whether a locus clears the calling threshold and should
// proceed to C9. hasSNPAllele selects which threshold applies; qualApprox
// is the locus's accumulated QUALapprox. A false result means the locus
// must be suppressed with no output.
func Gate(hasSNPAllele bool, qualApprox float64) bool {
	tIndel, tSNP := Thresholds()
	if hasSNPAllele {
		return qualApprox >= tSNP
	}
	return qualApprox >= tIndel
}
