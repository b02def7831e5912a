// Package extsort implements C3, the external sorter that reorders a stream
// of colio.SampleRecords into ascending LocationKey order (spec.md §4.3),
// spilling to disk once the in-memory batch grows past a configured bound.
package extsort

import (
	"io/ioutil"
	"os"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/gnarly-extract/colio"
	"v.io/x/lib/vlog"
)

// DefaultBatchSize is the number of records kept in memory before a batch is
// handed off to a background goroutine for sorting and spilling (spec.md
// §4.3's "bounded in-memory batch").
const DefaultBatchSize = 1 << 20

// DefaultParallelism bounds how many batches may be sorted and spilled
// concurrently.
const DefaultParallelism = 2

// Options configures a Sorter.
type Options struct {
	// BatchSize is the number of records accumulated in memory before a
	// spill. Zero selects DefaultBatchSize.
	BatchSize int
	// Parallelism bounds concurrent background spill goroutines. Zero
	// selects DefaultParallelism.
	Parallelism int
	// TmpDir is where spilled run files are created. Empty selects the
	// system default temp directory.
	TmpDir string
}

type batch struct {
	recs []*colio.SampleRecord
	seq  int
}

// Sorter accepts SampleRecords in arbitrary order via AddRecord and, once
// Close is called, produces them back out in ascending LocationKey order
// (ties broken by arrival order) via the Merged value's Drain. It is not safe for concurrent use
// by multiple goroutines calling AddRecord simultaneously -- records must be
// fed in from a single producer, matching C2's single Reader contract.
type Sorter struct {
	opts    Options
	recs    []*colio.SampleRecord
	nbatch  int
	bgCh    chan batch
	wg      sync.WaitGroup
	mu      sync.Mutex
	runs    []string
	err     errors.Once
	closed  bool
}

// NewSorter creates a Sorter that spills temporary runs under opts.TmpDir.
func NewSorter(opts Options) *Sorter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	s := &Sorter{
		opts: opts,
		bgCh: make(chan batch, opts.Parallelism),
	}
	for i := 0; i < opts.Parallelism; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for b := range s.bgCh {
				path := s.spillBatch(b)
				if path == "" {
					continue
				}
				// Place runs by batch sequence, not spill completion order,
				// so the merge's run-index tie-break follows arrival order.
				s.mu.Lock()
				for len(s.runs) < b.seq {
					s.runs = append(s.runs, "")
				}
				s.runs[b.seq-1] = path
				s.mu.Unlock()
			}
		}()
	}
	return s
}

// AddRecord takes ownership of rec; the caller must not reuse it afterward.
func (s *Sorter) AddRecord(rec *colio.SampleRecord) {
	s.recs = append(s.recs, rec)
	if len(s.recs) >= s.opts.BatchSize {
		s.flushBatch()
	}
}

func (s *Sorter) flushBatch() {
	s.nbatch++
	s.bgCh <- batch{recs: s.recs, seq: s.nbatch}
	s.recs = nil
}

// spillBatch stable-sorts one in-memory batch by LocationKey and writes it
// to a fresh temp run file, returning its path (or "" on error, recorded on
// s.err).
func (s *Sorter) spillBatch(b batch) string {
	vlog.VI(1).Infof("extsort: sorting batch %d (%d records)", b.seq, len(b.recs))
	sort.SliceStable(b.recs, func(i, j int) bool {
		return b.recs[i].Location < b.recs[j].Location
	})
	f, err := ioutil.TempFile(s.opts.TmpDir, "extsort-run")
	if err != nil {
		s.err.Set(errors.E(err, "extsort: create run file"))
		return ""
	}
	w := newRunWriter(f)
	for _, rec := range b.recs {
		if err := w.write(rec); err != nil {
			s.err.Set(err)
			_ = w.close()
			_ = os.Remove(f.Name())
			return ""
		}
	}
	if err := w.close(); err != nil {
		s.err.Set(err)
		_ = os.Remove(f.Name())
		return ""
	}
	return f.Name()
}

// Close must be called exactly once, after the last AddRecord. It blocks
// until every batch has spilled and returns a Merged iterator over the
// fully sorted output, or an error. The Merged value owns the underlying
// run files and must be closed (scoped temp-file acquisition per spec.md
// §4.3) whether or not the caller reads it to completion.
func (s *Sorter) Close() (*Merged, error) {
	if s.closed {
		return nil, errors.E("extsort: Close called twice")
	}
	s.closed = true
	if len(s.recs) > 0 || s.nbatch == 0 {
		s.flushBatch()
	}
	close(s.bgCh)
	s.wg.Wait()
	if err := s.err.Err(); err != nil {
		s.cleanupRuns()
		return nil, err
	}

	readers := make([]*runReader, 0, len(s.runs))
	for _, path := range s.runs {
		f, err := os.Open(path)
		if err != nil {
			closeReaders(readers)
			s.cleanupRuns()
			return nil, errors.E(err, "extsort: open run", path)
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			closeReaders(readers)
			s.cleanupRuns()
			return nil, errors.E(err, "extsort: stat run", path)
		}
		r, err := newRunReader(f, info.Size())
		if err != nil {
			_ = f.Close()
			closeReaders(readers)
			s.cleanupRuns()
			return nil, err
		}
		readers = append(readers, r)
	}
	return &Merged{readers: readers, paths: append([]string(nil), s.runs...)}, nil
}

func closeReaders(readers []*runReader) {
	for _, r := range readers {
		_ = r.close()
	}
}

func (s *Sorter) cleanupRuns() {
	for _, path := range s.runs {
		if path == "" {
			continue // batch whose spill failed
		}
		if err := os.Remove(path); err != nil {
			log.Error.Printf("extsort: failed to remove run file %v: %v", path, err)
		}
	}
}

// Merged is a one-shot iterator over the fully merged, sorted output of a
// Sorter. Close must be called exactly once, whether or not Drain was run to
// exhaustion, to release the run files it holds open.
type Merged struct {
	readers []*runReader
	paths   []string
	closed  bool
}

// Drain streams every merged record to emit, in ascending LocationKey order,
// stopping early if emit returns false. This is the intended entry point for
// C7's assembler, which consumes the merge output one locus group at a time
// without materializing it all in memory.
func (m *Merged) Drain(emit func(rec *colio.SampleRecord) bool) error {
	return mergeRuns(m.readers, emit)
}

// Close releases every run file Merged holds, and removes the backing temp
// files from disk -- the scoped-cleanup half of spec.md §4.3's TempRun
// lifecycle invariant.
func (m *Merged) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	closeReaders(m.readers)
	var firstErr error
	for _, path := range m.paths {
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = errors.E(err, "extsort: remove run file", path)
		}
	}
	return firstErr
}
