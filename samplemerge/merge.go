// Package samplemerge implements C6, the per-sample merger: when two
// SampleRecords exist for the same (sample_name, location) in the sorted
// stream, it picks a single winner per the precedence table in spec.md
// §4.6.
package samplemerge

import "github.com/grailbio/gnarly-extract/colio"

// Merge resolves two SampleRecords for the same (sample_name, location)
// into one, per this table on (a.State, b.State):
//
//	a \ b      *          m            other
//	*          keep b     keep a       keep b (drop spanning-del)
//	m          keep b     keep either  keep b
//	other      keep a     keep a       keep b
//
// The rationale (spec.md §4.6): prefer a concrete call over a spanning
// deletion, and prefer anything over a missing record. Merge does not
// mutate a or b.
func Merge(a, b *colio.SampleRecord) *colio.SampleRecord {
	aKind := classify(a.State)
	bKind := classify(b.State)

	switch aKind {
	case kindSpanningDeletion:
		switch bKind {
		case kindMissing:
			return a
		default: // spanningDeletion or other
			return b
		}
	case kindMissing:
		// keep b unconditionally: b over * (anything over missing), b over m
		// (either is correct, b is the deterministic choice), b over other.
		return b
	default: // other
		switch bKind {
		case kindOther:
			return b
		default: // spanningDeletion or missing
			return a
		}
	}
}

type kind int

const (
	kindSpanningDeletion kind = iota
	kindMissing
	kindOther
)

func classify(s colio.State) kind {
	switch s {
	case colio.StateSpanningDeletion:
		return kindSpanningDeletion
	case colio.StateMissing:
		return kindMissing
	default:
		return kindOther
	}
}
