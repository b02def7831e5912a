// Package locuskey packs (contig, 1-based position) pairs into a single
// uint64 that is comparable in (contig_index, position) order. All other
// components in this repository order and group records by this key.
package locuskey

import (
	"github.com/grailbio/base/errors"
)

// LocationKey is a packed (contig_index, position) coordinate. Ordering on
// LocationKey is equivalent to lexicographic ordering on (contig_index,
// position).
type LocationKey uint64

// positionScale is the multiplier used to pack the contig index into the high
// digits of the key, leaving room for positions up to positionLimit-1.
const positionScale = uint64(1e12)

// PositionLimit is one more than the largest position this codec can encode.
const PositionLimit = int64(1e12)

// ErrPositionOutOfRange is returned when a position does not fit in the
// [1, PositionLimit) range this codec can pack.
var ErrPositionOutOfRange = errors.New("locuskey: position out of range")

// ErrUnknownContig is returned when a contig name is absent from a
// Dictionary.
var ErrUnknownContig = errors.New("locuskey: unknown contig")

// Dictionary maps contig names to the dense, ordered indices used to pack
// LocationKeys. The order is caller-supplied (typically: autosomes, then sex
// chromosomes, then mitochondrial, then any extra contigs, in reference
// dictionary load order -- see NewDictionary).
type Dictionary struct {
	names   []string
	indexOf map[string]int
}

// NewDictionary builds a Dictionary from an ordered list of contig names.
// The order of names defines contig_index: names[0] is index 0, and so on.
// Duplicate names are an error.
func NewDictionary(names []string) (*Dictionary, error) {
	d := &Dictionary{
		names:   append([]string(nil), names...),
		indexOf: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if _, ok := d.indexOf[name]; ok {
			return nil, errors.E("locuskey: duplicate contig in dictionary", name)
		}
		d.indexOf[name] = i
	}
	return d, nil
}

// NumContigs returns the number of contigs in the dictionary.
func (d *Dictionary) NumContigs() int { return len(d.names) }

// ContigName returns the name of the contig at the given dense index.
func (d *Dictionary) ContigName(index int) string { return d.names[index] }

// ContigIndex returns the dense index of the named contig, or
// ErrUnknownContig.
func (d *Dictionary) ContigIndex(contig string) (int, error) {
	idx, ok := d.indexOf[contig]
	if !ok {
		return 0, errors.E(ErrUnknownContig, contig)
	}
	return idx, nil
}

// Encode packs (contig, position) into a LocationKey. position is 1-based
// and must satisfy 1 <= position < PositionLimit.
func (d *Dictionary) Encode(contig string, position int64) (LocationKey, error) {
	idx, err := d.ContigIndex(contig)
	if err != nil {
		return 0, err
	}
	if position < 1 || position >= PositionLimit {
		return 0, errors.E(ErrPositionOutOfRange, contig, position)
	}
	return LocationKey(uint64(idx)*positionScale + uint64(position)), nil
}

// Decode unpacks a LocationKey into its (contig, position) pair. It panics if
// key encodes a contig index outside the dictionary -- callers should only
// decode keys this Dictionary (or an equivalent one) produced.
func (d *Dictionary) Decode(key LocationKey) (contig string, position int64) {
	idx := int(uint64(key) / positionScale)
	pos := int64(uint64(key) % positionScale)
	return d.names[idx], pos
}

// MinKeyForContig returns the smallest possible LocationKey for the given contig
// index, useful for building half-open/closed scan ranges.
func MinKeyForContig(contigIndex int) LocationKey {
	return LocationKey(uint64(contigIndex) * positionScale)
}
