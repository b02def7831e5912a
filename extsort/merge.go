package extsort

import (
	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/gnarly-extract/colio"
	"v.io/x/lib/vlog"
)

// mergeLeaf wraps one run's cursor so llrb.Tree can order leaves by the
// current record's LocationKey, falling back to run sequence number to keep
// the merge stable (spec.md §4.3: ties broken by the run the record came
// from). This mirrors cmd/bio-bam-sort/sorter/sort.go's mergeLeaf/Compare
// almost exactly, with sam.Record's packed coordinate replaced by
// colio.SampleRecord.Location.
type mergeLeaf struct {
	seq  int
	r    *runReader
	cur  *colio.SampleRecord
	done bool
}

func newMergeLeaf(seq int, r *runReader) (*mergeLeaf, error) {
	leaf := &mergeLeaf{seq: seq, r: r}
	rec, ok, err := r.next()
	if err != nil {
		return nil, err
	}
	if !ok {
		leaf.done = true
		return leaf, nil
	}
	leaf.cur = rec
	return leaf, nil
}

func (l *mergeLeaf) Compare(other llrb.Comparable) int {
	o := other.(*mergeLeaf)
	if l.cur.Location != o.cur.Location {
		if l.cur.Location < o.cur.Location {
			return -1
		}
		return 1
	}
	return l.seq - o.seq
}

// mergeRuns performs an N-way merge of already internally-sorted runs,
// invoking emit once per record in ascending LocationKey order (ties broken
// by run sequence), exactly as internalMergeShards drives readCallback in
// the teacher's sorter. Stops early, without error, if emit returns false.
func mergeRuns(readers []*runReader, emit func(rec *colio.SampleRecord) bool) error {
	tree := llrb.Tree{}
	for i, r := range readers {
		leaf, err := newMergeLeaf(i, r)
		if err != nil {
			return errors.E(err, "extsort: open merge leaf")
		}
		if !leaf.done {
			tree.Insert(leaf)
		}
	}
	vlog.VI(1).Infof("extsort: merging %d runs, %d active", len(readers), tree.Len())

	for tree.Len() > 0 {
		var top, next *mergeLeaf
		i := 0
		tree.Do(func(item llrb.Comparable) bool {
			i++
			switch i {
			case 1:
				top = item.(*mergeLeaf)
				return false
			case 2:
				next = item.(*mergeLeaf)
				return true
			default:
				return false
			}
		})

		for {
			if !emit(top.cur) {
				return nil
			}
			rec, ok, err := top.r.next()
			if err != nil {
				return errors.E(err, "extsort: advance merge leaf")
			}
			if !ok {
				top.done = true
				break
			}
			top.cur = rec
			// Break on <= , not <: an equal Location still requires the full
			// Compare() (location then run-seq) to pick the new top, since
			// this fast path never consults seq. Breaking only on strict
			// advance would let top's run keep winning ties against next's
			// lower-seq run without ever re-checking run-id precedence.
			if next != nil && next.cur.Location <= top.cur.Location {
				break
			}
		}

		before := tree.Len()
		tree.DeleteMin()
		if !top.done {
			tree.Insert(top)
			if after := tree.Len(); before != after {
				return errors.E("extsort: merge tree size changed unexpectedly on reinsert")
			}
		}
	}
	return nil
}
