// Package filterapply implements C10, the filter applier: it remaps
// filter-table alleles into the finalized call's allele space, attaches
// AS_VQSLOD/AS_YNG_STATUS, and decides FILTER. Grounded on
// encoding/converter/convert.go's allele/representation remapping style and
// markduplicates/duplicate_key.go's pattern of a small explicit decision
// table for a multi-way classification.
package filterapply

import (
	"math"
	"strings"

	"github.com/grailbio/gnarly-extract/callmode"
	"github.com/grailbio/gnarly-extract/filtertable"
	"github.com/grailbio/gnarly-extract/gnarly"
	"github.com/grailbio/gnarly-extract/locuskey"
)

// FILTER values spec.md §6 names.
const (
	FilterPass         = "PASS"
	FilterNAY          = "NAY"
	FilterTrancheSNP   = "VQSRTrancheSNP"
	FilterTrancheIndel = "VQSRTrancheINDEL"
)

// Thresholds holds the two configured VQSLOD cutoffs (spec.md §6).
type Thresholds struct {
	SNP   float64
	Indel float64
}

// Applied is C10's output: the finalized call plus FILTER and the per-alt
// filter-table scores.
type Applied struct {
	*gnarly.FinalizedVariant
	Filter      []string
	ASVQSLOD    []float64 // per-alt, NaN where absent
	ASYNGStatus []string  // per-alt, "" where absent
}

// Apply runs C10 over a finalized call. In ARRAYS mode filtering is
// bypassed entirely (spec.md §4.9): FILTER is always PASS and no scores are
// attached. Likewise, when no filter table is configured at all (table is
// nil), spec.md §4.4's "no-filter mode" applies and every call passes --
// this is distinct from a configured table simply having no entry for a
// given allele, which still falls through decideFilter's NAY branch.
func Apply(loc locuskey.LocationKey, fv *gnarly.FinalizedVariant, table *filtertable.Table, mode callmode.Mode, th Thresholds) *Applied {
	asVQSLOD := naNs(len(fv.Alts))
	asYNG := make([]string, len(fv.Alts))

	if mode == callmode.Arrays || table == nil {
		return &Applied{FinalizedVariant: fv, Filter: []string{FilterPass}, ASVQSLOD: asVQSLOD, ASYNGStatus: asYNG}
	}

	for filterRef, byAlt := range table.AtLocation(loc) {
		for filterAlt, entry := range byAlt {
			remapped, ok := remapAllele(filterRef, filterAlt, fv.Ref)
			if !ok {
				continue // spec.md invariant 4: filter ref longer than assembled ref
			}
			for i, alt := range fv.Alts {
				if alt != remapped {
					continue
				}
				asYNG[i] = entry.YNG
				if entry.HasVQSLOD {
					asVQSLOD[i] = entry.VQSLOD
				}
			}
		}
	}

	return &Applied{
		FinalizedVariant: fv,
		Filter:           decideFilter(fv.Alts, fv.Ref, asVQSLOD, asYNG, th),
		ASVQSLOD:         asVQSLOD,
		ASYNGStatus:      asYNG,
	}
}

// remapAllele translates a filter-table (ref, alt) pair into mergedRef's
// frame (spec.md §4.9 step 1). When mergedRef is longer than ref, the alt is
// padded with mergedRef's left-extended suffix (spec.md §8 S6). When
// mergedRef is shorter, the filter entry describes a deletion allele no
// longer represented in the cohort and is discarded.
func remapAllele(ref, alt, mergedRef string) (remappedAlt string, ok bool) {
	if ref == mergedRef {
		return alt, true
	}
	if len(mergedRef) <= len(ref) {
		return "", false
	}
	if !strings.HasPrefix(mergedRef, ref) {
		return "", false
	}
	return alt + mergedRef[len(ref):], true
}

// decideFilter implements spec.md §4.9 step 3's Y > N > G > absent
// short-circuit (DESIGN.md Open Question decision #2).
func decideFilter(alts []string, ref string, asVQSLOD []float64, asYNG []string, th Thresholds) []string {
	anyY, anyN, anyG := false, false, false
	for _, yng := range asYNG {
		switch yng {
		case "Y":
			anyY = true
		case "N":
			anyN = true
		case "G":
			anyG = true
		}
	}

	switch {
	case anyY:
		return []string{FilterPass}
	case anyN:
		return []string{FilterNAY}
	case anyG:
		return trancheFilters(alts, ref, asVQSLOD, th)
	default:
		return []string{FilterNAY}
	}
}

func trancheFilters(alts []string, ref string, asVQSLOD []float64, th Thresholds) []string {
	var snpMax, indelMax float64
	haveSNP, haveIndel := false, false
	for i, alt := range alts {
		v := asVQSLOD[i]
		if math.IsNaN(v) {
			continue
		}
		if len(alt) == len(ref) {
			if !haveSNP || v > snpMax {
				snpMax, haveSNP = v, true
			}
		} else {
			if !haveIndel || v > indelMax {
				indelMax, haveIndel = v, true
			}
		}
	}

	var filters []string
	if haveSNP && snpMax < th.SNP {
		filters = append(filters, FilterTrancheSNP)
	}
	if haveIndel && indelMax < th.Indel {
		filters = append(filters, FilterTrancheIndel)
	}
	if len(filters) == 0 {
		return []string{FilterPass}
	}
	return filters
}

func naNs(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
