// Package locus implements C7, the locus assembler: it consumes the
// LocationKey-sorted record stream, groups records into per-locus sample
// sets, synthesizes calls for samples the stream never mentions, runs the
// C8 qual-approx gate, and merges every sample's alleles into one ordered
// locus-level allele list. Grounded on pileup/snp/pileup.go's streaming
// group-by-position main loop, simplified because grouping here is
// exact-key-match rather than interval overlap.
package locus

import (
	"math"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/gnarly-extract/callmode"
	"github.com/grailbio/gnarly-extract/colio"
	"github.com/grailbio/gnarly-extract/locuskey"
	"github.com/grailbio/gnarly-extract/qualapprox"
	"github.com/grailbio/gnarly-extract/refseq"
	"github.com/grailbio/gnarly-extract/samplemerge"
)

// NonRefAllele is the synthetic "any other alt" allele spec.md's Glossary
// describes; it is always present after merging and is ordinarily stripped
// by the gnarly finalizer.
const NonRefAllele = "<NON_REF>"

// missingConfThreshold is the synthesized GQ for a cohort sample the sorted
// stream never mentions at this locus (spec.md §6).
const missingConfThreshold = 60

// PerSampleContext is one sample's contribution to a LocusGroup, already
// rewritten onto the locus-level allele list (spec.md §4.7 step 6).
type PerSampleContext struct {
	SampleName string
	GT         colio.GenotypeCall
	GQ         int32
	HasGQ      bool
	AD         []int32
	PL         []int32
	DP         int32
	RGQ        int32

	// Present only for samples with a variant-state record; empty otherwise.
	ASQualApprox        []float64
	ASVarDP             string
	ASSBTable           string
	ASRawMQ             string
	ASRawMQRankSum      string
	ASRawReadPosRankSum string
}

// LocusGroup is C7's output: every cohort sample's context over one shared,
// ordered allele list.
type LocusGroup struct {
	Location   locuskey.LocationKey
	Contig     string
	Position   int64 // 1-based
	Ref        string
	Alts       []string // locus-level ordered alt list, always ending in NonRefAllele
	Samples    []PerSampleContext
	QualApprox float64
}

// ErrUnknownState is returned when a SampleRecord's state tag is not one of
// v, 0-6, *, m, u.
var ErrUnknownState = errors.New("locus: unknown state")

var knownStates = []string{"v", "*", "m", "u", "0", "1", "2", "3", "4", "5", "6"}

// Decoder resolves a LocationKey back to (contig, 1-based position);
// *locuskey.Dictionary satisfies this.
type Decoder interface {
	Decode(key locuskey.LocationKey) (contig string, position int64)
}

// Assembler drives C7 over a LocationKey-sorted stream of SampleRecords fed
// one at a time through Add.
type Assembler struct {
	cohort  []string
	decoder Decoder
	oracle  *refseq.Oracle
	mode    callmode.Mode

	curLoc  locuskey.LocationKey
	curSet  bool
	pending map[string]*colio.SampleRecord
	order   []string
}

// NewAssembler builds an Assembler for the given cohort (every sample name
// that must appear in every emitted LocusGroup).
func NewAssembler(cohort []string, decoder Decoder, oracle *refseq.Oracle, mode callmode.Mode) *Assembler {
	return &Assembler{
		cohort:  append([]string(nil), cohort...),
		decoder: decoder,
		oracle:  oracle,
		mode:    mode,
		pending: make(map[string]*colio.SampleRecord),
	}
}

// Add feeds one SampleRecord from the sorted stream into the assembler. If
// rec opens a new locus, the previously accumulated group is assembled and
// returned; it may be nil if that locus was suppressed (no variant record,
// or rejected by the qual-approx gate) without being an error.
func (a *Assembler) Add(rec *colio.SampleRecord) (*LocusGroup, error) {
	if !a.curSet {
		a.curLoc = rec.Location
		a.curSet = true
	}
	if rec.Location == a.curLoc {
		a.addToPending(rec)
		return nil, nil
	}
	g, err := a.flush()
	a.curLoc = rec.Location
	a.addToPending(rec)
	return g, err
}

// Finish flushes any locus still accumulated once the input stream is
// exhausted. Call exactly once, after the last Add.
func (a *Assembler) Finish() (*LocusGroup, error) {
	if !a.curSet || len(a.order) == 0 {
		return nil, nil
	}
	return a.flush()
}

func (a *Assembler) addToPending(rec *colio.SampleRecord) {
	if existing, ok := a.pending[rec.SampleName]; ok {
		a.pending[rec.SampleName] = samplemerge.Merge(existing, rec)
		return
	}
	a.pending[rec.SampleName] = rec
	a.order = append(a.order, rec.SampleName)
}

// variantSample holds the parts of a variant-state record the merge step
// still needs after per-sample context building.
type variantSample struct {
	name  string
	ref   string
	alts  []string // original per-sample alt list, "*" included verbatim
	gt    colio.GenotypeCall
	gq    int32
	hasGQ bool
	ad    []int32
	pl    []int32
	dp    int32
	rgq   int32

	asQualApprox        []float64
	asVarDP             string
	asSBTable           string
	asRawMQ             string
	asRawMQRankSum      string
	asRawReadPosRankSum string
}

func (a *Assembler) flush() (*LocusGroup, error) {
	loc := a.curLoc
	pending := a.pending
	order := a.order
	a.pending = make(map[string]*colio.SampleRecord)
	a.order = nil

	contig, pos := a.decoder.Decode(loc)

	type refBlock struct {
		name  string
		gq    int32
		hasGQ bool
	}

	var variants []variantSample
	var refBlocks []refBlock
	var qualFromField float64
	var haveQualFromField bool
	var summedASQual float64
	var hasSNPAllele bool

	for _, name := range order {
		rec := pending[name]

		if rec.State == colio.StateVariant {
			variants = append(variants, variantSample{
				name: name, ref: rec.Ref, alts: rec.Alts, gt: rec.GT, gq: rec.GQ, hasGQ: rec.HasGQ,
				ad: rec.AD, pl: rec.PL, dp: rec.DP, rgq: rec.RGQ, asQualApprox: rec.ASQualApprox,
				asVarDP: rec.ASVarDP, asSBTable: rec.ASSBTable, asRawMQ: rec.ASRawMQ,
				asRawMQRankSum: rec.ASRawMQRankSum, asRawReadPosRankSum: rec.ASRawReadPosRankSum,
			})
			if rec.HasQualApprox {
				qualFromField += rec.QualApprox
				haveQualFromField = true
			}
			for i, alt := range rec.Alts {
				if alt == "*" {
					continue
				}
				if len(alt) == len(rec.Ref) {
					hasSNPAllele = true
				}
				idx := i + 1 // index 0 of AS_QUALapprox is the reference's own slot
				if idx < len(rec.ASQualApprox) {
					if v := rec.ASQualApprox[idx]; !math.IsNaN(v) {
						summedASQual += v
					}
				}
			}
			continue
		}
		if gq, ok := colio.IsRefBlockDigit(rec.State); ok {
			refBlocks = append(refBlocks, refBlock{name: name, gq: int32(gq), hasGQ: true})
			continue
		}
		switch rec.State {
		case colio.StateUnknownGQ:
			refBlocks = append(refBlocks, refBlock{name: name})
		case colio.StateSpanningDeletion, colio.StateMissing:
			// Seen, contributes no context (spec.md §4.7 step 3).
		default:
			return nil, a.unknownStateError(rec)
		}
	}

	// Invariant: ref-block-only loci are suppressed (DESIGN.md Open Question 3).
	if len(variants) == 0 {
		return nil, nil
	}

	qualApprox := summedASQual
	if haveQualFromField {
		qualApprox = qualFromField
	}
	if !qualapprox.Gate(hasSNPAllele, qualApprox) {
		return nil, nil
	}

	maxRefLen := 1
	for _, v := range variants {
		if len(v.ref) > maxRefLen {
			maxRefLen = len(v.ref)
		}
	}
	ref, err := a.readRef(contig, pos, maxRefLen)
	if err != nil {
		return nil, errors.E(err, "locus: reference lookup", contig, pos)
	}

	starUsed := false
	for _, v := range variants {
		for _, idx := range []int{v.gt.A, v.gt.B} {
			if idx >= 1 && idx-1 < len(v.alts) && v.alts[idx-1] == "*" {
				starUsed = true
			}
		}
	}

	// padSuffix fixes up an alt called against a shorter reference so it
	// reads correctly against the locus-wide ref (standard left-extended
	// padding, spec.md §4.7 step 6).
	padSuffix := func(sampleRef string) string {
		if len(sampleRef) >= len(ref) {
			return ""
		}
		return ref[len(sampleRef):]
	}

	globalAlts := make([]string, 0, len(variants)+1)
	altIndex := make(map[string]int)
	for _, v := range variants {
		suffix := padSuffix(v.ref)
		for _, alt := range v.alts {
			if alt == "*" {
				if !starUsed {
					continue
				}
				if _, ok := altIndex["*"]; !ok {
					altIndex["*"] = len(globalAlts) + 1
					globalAlts = append(globalAlts, "*")
				}
				continue
			}
			padded := alt + suffix
			if _, ok := altIndex[padded]; !ok {
				altIndex[padded] = len(globalAlts) + 1
				globalAlts = append(globalAlts, padded)
			}
		}
	}
	globalAlts = append(globalAlts, NonRefAllele)

	remapGT := func(v variantSample, idx int) int {
		if idx <= 0 {
			return idx
		}
		if idx-1 >= len(v.alts) {
			return idx
		}
		allele := v.alts[idx-1]
		if allele == "*" {
			if gi, ok := altIndex["*"]; ok {
				return gi
			}
			return idx
		}
		padded := allele + padSuffix(v.ref)
		if gi, ok := altIndex[padded]; ok {
			return gi
		}
		return idx
	}

	samples := make([]PerSampleContext, 0, len(a.cohort))
	bySample := make(map[string]PerSampleContext, len(variants)+len(refBlocks))
	for _, v := range variants {
		gt := colio.GenotypeCall{
			A: remapGT(v, v.gt.A), B: remapGT(v, v.gt.B),
			Phased: v.gt.Phased, NoCall: v.gt.NoCall,
		}
		bySample[v.name] = PerSampleContext{
			SampleName: v.name, GT: gt, GQ: v.gq, HasGQ: v.hasGQ,
			AD: v.ad, PL: v.pl, DP: v.dp, RGQ: v.rgq,
			ASQualApprox: v.asQualApprox, ASVarDP: v.asVarDP, ASSBTable: v.asSBTable,
			ASRawMQ: v.asRawMQ, ASRawMQRankSum: v.asRawMQRankSum,
			ASRawReadPosRankSum: v.asRawReadPosRankSum,
		}
	}
	for _, rb := range refBlocks {
		gq, hasGQ := rb.gq, rb.hasGQ
		bySample[rb.name] = PerSampleContext{
			SampleName: rb.name, GT: colio.GenotypeCall{A: 0, B: 0}, GQ: gq, HasGQ: hasGQ,
		}
	}
	for _, name := range a.cohort {
		if ctx, ok := bySample[name]; ok {
			samples = append(samples, ctx)
			continue
		}
		gq, hasGQ := int32(missingConfThreshold), true
		if a.mode == callmode.Arrays {
			hasGQ = false
		}
		samples = append(samples, PerSampleContext{
			SampleName: name, GT: colio.GenotypeCall{A: 0, B: 0}, GQ: gq, HasGQ: hasGQ,
		})
	}
	return &LocusGroup{
		Location: loc, Contig: contig, Position: pos, Ref: ref, Alts: globalAlts,
		Samples: samples, QualApprox: qualApprox,
	}, nil
}

// readRef fetches n consecutive reference bases starting at the locus's
// 1-based position, via repeated Oracle.BaseAt calls.
func (a *Assembler) readRef(contig string, pos1Based int64, n int) (string, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := a.oracle.BaseAt(contig, pos1Based-1+int64(i))
		if err != nil {
			return "", err
		}
		buf[i] = b
	}
	return string(buf), nil
}

// unknownStateError builds ErrUnknownState with a Jaro-Winkler "did you
// mean" suggestion against the known state tags (spec.md §4.7 step 3: fatal,
// not a skip).
func (a *Assembler) unknownStateError(rec *colio.SampleRecord) error {
	got := string(rec.State)
	best, bestScore := "", -1.0
	for _, cand := range knownStates {
		score := matchr.JaroWinkler(got, cand, false)
		if score > bestScore {
			best, bestScore = cand, score
		}
	}
	return errors.E(ErrUnknownState, "state", got, "sample", rec.SampleName, "did you mean", best)
}
