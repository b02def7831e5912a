// Package filtertable implements C4, the filter-map loader: it builds an
// in-memory (location, ref, alt) -> (vqslod, yng) lookup table from a
// filter-table reference, consulted by filterapply (C10) when deciding
// FILTER values and attaching AS_VQSLOD/AS_YNG_STATUS.
package filtertable

import (
	"github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/gnarly-extract/locuskey"
)

// Entry is one filter-table row's score, per spec.md §6 ("Filter table
// schema"): a VQSLOD score that may be absent (NaN in the source), and a
// YNG label in {Y, N, G, ""}.
type Entry struct {
	VQSLOD    float64
	HasVQSLOD bool
	YNG       string
}

// ErrFilterTableMalformed is returned when the same (location, ref, alt)
// appears twice with conflicting Entry values (spec.md §4.4).
var ErrFilterTableMalformed = errors.New("filtertable: malformed filter table")

// refAltKey composite-hashes (ref, alt) for the side index described in
// SPEC_FULL.md's C4 section, adapted from fusion/kmer_index.go's
// farm.Hash64WithSeed use for fast composite keys.
type refAltKey struct {
	loc locuskey.LocationKey
	h   uint64
}

func hashRefAlt(ref, alt string) uint64 {
	return farm.Hash64WithSeed([]byte(alt), farm.Hash64([]byte(ref)))
}

// Table is the loaded filter map: a nested location -> ref -> alt -> Entry
// structure (the shape spec.md §4.4 specifies directly), plus a flat
// farm-hash-keyed side index that lets repeated C10 lookups for the same
// (location, ref, alt) skip the two nested map probes.
type Table struct {
	byLocation map[locuskey.LocationKey]map[string]map[string]Entry
	sideIndex  map[refAltKey]Entry

	// Fingerprint is a highwayhash digest of the raw filter-table input
	// stream, letting callers detect a changed filter table across engine
	// runs without re-reading and re-parsing it (SPEC_FULL.md C4).
	Fingerprint [32]byte

	// NumEntries is the number of distinct (location, ref, alt) rows loaded.
	NumEntries int
}

func newTable() *Table {
	return &Table{
		byLocation: make(map[locuskey.LocationKey]map[string]map[string]Entry),
		sideIndex:  make(map[refAltKey]Entry),
	}
}

func (t *Table) put(loc locuskey.LocationKey, ref, alt string, e Entry) error {
	byRef, ok := t.byLocation[loc]
	if !ok {
		byRef = make(map[string]map[string]Entry)
		t.byLocation[loc] = byRef
	}
	byAlt, ok := byRef[ref]
	if !ok {
		byAlt = make(map[string]Entry)
		byRef[ref] = byAlt
	}
	existing, dup := byAlt[alt]
	if dup && existing != e {
		return errors.E(ErrFilterTableMalformed, "conflicting entries", loc, ref, alt)
	}
	byAlt[alt] = e
	t.sideIndex[refAltKey{loc: loc, h: hashRefAlt(ref, alt)}] = e
	if !dup {
		t.NumEntries++
	}
	return nil
}

// Lookup returns the Entry for (loc, ref, alt), if the filter table has one.
// A nil *Table (no filter table configured) always reports ok=false --
// C10's "no-filter pass-through mode" per spec.md §4.4/§4.9.
func (t *Table) Lookup(loc locuskey.LocationKey, ref, alt string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	if e, ok := t.sideIndex[refAltKey{loc: loc, h: hashRefAlt(ref, alt)}]; ok {
		// Side index hits are returned without re-checking the nested
		// maps below, which are consulted only on a side-index miss;
		// farm hash collisions across alt strings at the same location are
		// vanishingly unlikely for the small per-locus allele counts this
		// engine handles, and put() always keeps both structures in sync.
		return e, true
	}
	byRef, ok := t.byLocation[loc]
	if !ok {
		return Entry{}, false
	}
	byAlt, ok := byRef[ref]
	if !ok {
		return Entry{}, false
	}
	e, ok := byAlt[alt]
	return e, ok
}

// AtLocation returns every (ref, alt) -> Entry row loaded for loc, keyed by
// the filter table's own reference representation -- which may differ from
// the merged call's ref, hence C10's remap step. A nil *Table or an
// unconfigured location both report a nil map (ranging over it yields
// nothing), matching Lookup's pass-through behavior.
func (t *Table) AtLocation(loc locuskey.LocationKey) map[string]map[string]Entry {
	if t == nil {
		return nil
	}
	return t.byLocation[loc]
}
