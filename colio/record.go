// Package colio reads per-sample genomic records out of a columnar cohort
// store. A Reader produces a lazy, finite, non-restartable sequence of
// SampleRecords from its backend; it does not filter by LocationKey range
// and does not guarantee any particular order (see extsort for that).
package colio

import (
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/gnarly-extract/locuskey"
)

// State is the per-sample, per-locus call state tag described in spec.md
// §4.7.
type State byte

const (
	// StateVariant ("v") is a concrete variant call: ref/alt/GT/... present.
	StateVariant State = 'v'
	// StateSpanningDeletion ("*") marks this locus as covered by a spanning
	// deletion from an upstream variant.
	StateSpanningDeletion State = '*'
	// StateMissing ("m") is an explicitly recorded missing call.
	StateMissing State = 'm'
	// StateUnknownGQ ("u") is a reference block whose GQ wasn't recorded
	// (array data).
	StateUnknownGQ State = 'u'
)

// IsRefBlockDigit reports whether s is one of the '0'..'6' ref-block states,
// and if so returns the GQ lower bound (10 * digit).
func IsRefBlockDigit(s State) (gq int, ok bool) {
	if s >= '0' && s <= '6' {
		return 10 * int(s-'0'), true
	}
	return 0, false
}

// SampleRecord is the typed decode of one row from the cohort columnar
// store (spec.md §6). Decoding happens once, here, at the reader boundary;
// downstream components never touch raw columns.
type SampleRecord struct {
	Location   locuskey.LocationKey
	SampleName string
	State      State

	Ref  string
	Alts []string // decoded from the comma-joined "alt" column; may include "*"

	GT  GenotypeCall
	GQ  int32
	HasGQ bool
	AD  []int32
	PL  []int32
	DP  int32
	RGQ int32

	ASQualApprox []float64 // per-alt, decoded from "|"-joined AS_QUALapprox; NaN where absent
	QualApprox   float64
	HasQualApprox bool

	ASVQSLOD   float64
	HasASVQSLOD bool
	YNGStatus  string

	// Opaque per-allele/site strings forwarded unchanged to the gnarly
	// finalizer; this engine never interprets them.
	ASVarDP              string
	ASSBTable             string
	ASRawMQ               string
	ASRawMQRankSum        string
	ASRawReadPosRankSum   string
}

// GenotypeCall is a parsed "a/b" or "a|b" genotype, where -1 marks "./.".
type GenotypeCall struct {
	A, B  int
	Phased bool
	NoCall bool
}

// ParseGT parses a VCF-style genotype string ("0/1", "1|1", "./.").
func ParseGT(s string) (GenotypeCall, error) {
	if s == "" || s == "./." || s == ".|." {
		return GenotypeCall{A: -1, B: -1, NoCall: true}, nil
	}
	sep := "/"
	phased := false
	if strings.Contains(s, "|") {
		sep = "|"
		phased = true
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return GenotypeCall{}, errors.E("colio: malformed GT", s)
	}
	a, err := strconv.Atoi(parts[0])
	if err != nil {
		return GenotypeCall{}, errors.E(err, "colio: malformed GT allele", s)
	}
	b, err := strconv.Atoi(parts[1])
	if err != nil {
		return GenotypeCall{}, errors.E(err, "colio: malformed GT allele", s)
	}
	return GenotypeCall{A: a, B: b, Phased: phased}, nil
}

// String renders the genotype back to VCF text.
func (g GenotypeCall) String() string {
	sep := "/"
	if g.Phased {
		sep = "|"
	}
	a, b := ".", "."
	if !g.NoCall {
		a = strconv.Itoa(g.A)
		b = strconv.Itoa(g.B)
	}
	return a + sep + b
}
