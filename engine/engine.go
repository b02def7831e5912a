package engine

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/gnarly-extract/colio"
	"github.com/grailbio/gnarly-extract/extsort"
	"github.com/grailbio/gnarly-extract/filterapply"
	"github.com/grailbio/gnarly-extract/filtertable"
	"github.com/grailbio/gnarly-extract/gnarly"
	"github.com/grailbio/gnarly-extract/locus"
	"github.com/grailbio/gnarly-extract/locuskey"
	"github.com/grailbio/gnarly-extract/refseq"
	"github.com/grailbio/gnarly-extract/vcfsink"
)

// Engine holds every component C12 wires together for one Run.
type Engine struct {
	cfg  Config
	dict *locuskey.Dictionary

	lastProgress time.Time
}

// New validates cfg and builds an Engine. It does not open any files --
// that happens in Run, so a single Engine value can't leak file handles
// across failed or repeated construction attempts.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Run drives the full pipeline once: C2 -> (C3 if LOCAL_SORT) -> C7/C8 ->
// C9 -> C10 -> C11, in the single cooperative loop spec.md §5 describes.
// cancel is checked at the three suspension points (record fetch, C3
// spill/read, reference fetch is checked indirectly via cancel between
// Add calls, since C5 fetches happen synchronously inside Add). On
// cancellation Run stops draining input, still closes C11 (flushing
// whatever was already written) and releases C3's temp files, and returns
// Stats.Cancelled=true with a nil error.
func (e *Engine) Run(ctx context.Context, cancel <-chan struct{}) (stats Stats, err error) {
	e.lastProgress = time.Now()

	refFile, err := os.Open(e.cfg.RefSequencePath)
	if err != nil {
		return stats, errors.E(err, "engine: open reference", e.cfg.RefSequencePath)
	}
	defer refFile.Close()

	faiFile, err := file.Open(ctx, e.cfg.RefIndexPath)
	if err != nil {
		return stats, errors.E(err, "engine: open reference index", e.cfg.RefIndexPath)
	}
	defer file.CloseAndReport(ctx, faiFile, &err)

	oracle, err := refseq.NewOracle(refFile, faiFile.Reader(ctx))
	if err != nil {
		return stats, err
	}

	e.dict, err = locuskey.NewDictionary(oracle.ContigNames())
	if err != nil {
		return stats, err
	}

	// "Whole table" is represented to filtertable.Load as documented on
	// Load: 0..MaxUint64, not a dictionary-derived bound.
	minLoc, maxLoc := e.cfg.MinLocation, e.cfg.MaxLocation
	if e.cfg.WholeTable {
		minLoc = locuskey.LocationKey(0)
		maxLoc = locuskey.LocationKey(math.MaxUint64)
	}

	var table *filtertable.Table
	if e.cfg.FilterTablePath != "" {
		table, err = filtertable.Load(ctx, e.cfg.FilterTablePath, minLoc, maxLoc, e.cfg.FilterSetName)
		if err != nil {
			return stats, err
		}
	}

	reader, err := colio.NewLocalBackendWithDict(ctx, e.cfg.CohortTablePath, e.dict)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil && err == nil {
			err = errors.E(cerr, "engine: close cohort reader")
		}
	}()

	sink, err := vcfsink.Create(ctx, e.cfg.OutputPath, e.cfg.Gzip, e.cfg.OutputParallelism)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := sink.Close(ctx); cerr != nil && err == nil {
			err = errors.E(cerr, "engine: close vcf sink")
		}
	}()

	thresholds := filterapply.Thresholds{SNP: e.cfg.VQSLODSNPThreshold, Indel: e.cfg.VQSLODIndelThreshold}
	if err := sink.WriteHeader(e.dict, e.cfg.Cohort, e.cfg.Mode, thresholds); err != nil {
		return stats, err
	}

	assembler := locus.NewAssembler(e.cfg.Cohort, e.dict, oracle, e.cfg.Mode)

	emit := func(rec *colio.SampleRecord) (bool, error) {
		stats.RecordsRead++
		e.reportProgress(&stats)
		group, aerr := assembler.Add(rec)
		if aerr != nil {
			return false, aerr
		}
		if perr := e.processGroup(group, table, thresholds, sink, &stats); perr != nil {
			return false, perr
		}
		return true, nil
	}

	inRange := func(rec *colio.SampleRecord) bool {
		return e.cfg.WholeTable || (rec.Location >= e.cfg.MinLocation && rec.Location <= e.cfg.MaxLocation)
	}

	switch e.cfg.QueryMode {
	case OrderedQuery:
		err = e.runOrdered(ctx, cancel, reader, inRange, emit, &stats)
	default:
		err = e.runLocalSort(ctx, cancel, reader, inRange, emit, &stats)
	}
	if err != nil {
		return stats, err
	}
	if stats.Cancelled {
		return stats, nil
	}

	group, ferr := assembler.Finish()
	if ferr != nil {
		return stats, ferr
	}
	if perr := e.processGroup(group, table, thresholds, sink, &stats); perr != nil {
		return stats, perr
	}

	log.Printf("engine: done: %d records read, %d loci emitted, %d suppressed",
		stats.RecordsRead, stats.LociEmitted, stats.LociSuppressed)
	return stats, nil
}

// runOrdered trusts the backend's own ordering (ORDERED_QUERY): C3 is
// bypassed entirely and records are fed straight from C2 into the
// assembler.
func (e *Engine) runOrdered(ctx context.Context, cancel <-chan struct{}, reader *colio.Reader,
	inRange func(*colio.SampleRecord) bool, emit func(*colio.SampleRecord) (bool, error), stats *Stats) error {
	for {
		if cancelled(cancel) {
			stats.Cancelled = true
			return nil
		}
		rec, ok, err := reader.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !inRange(rec) {
			continue
		}
		if cont, err := emit(rec); err != nil {
			return err
		} else if !cont {
			stats.Cancelled = true
			return nil
		}
	}
}

// runLocalSort spills C2's stream through C3's external sorter before
// feeding it to the assembler, guaranteeing the ascending-LocationKey
// order spec.md §5 requires even when the backend doesn't.
func (e *Engine) runLocalSort(ctx context.Context, cancel <-chan struct{}, reader *colio.Reader,
	inRange func(*colio.SampleRecord) bool, emit func(*colio.SampleRecord) (bool, error), stats *Stats) error {
	sorter := extsort.NewSorter(extsort.Options{
		BatchSize:   e.cfg.LocalSortMaxRecordsInRAM,
		Parallelism: e.cfg.SortParallelism,
		TmpDir:      e.cfg.SortTmpDir,
	})

	for {
		if cancelled(cancel) {
			stats.Cancelled = true
			break
		}
		rec, ok, err := reader.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if !inRange(rec) {
			continue
		}
		sorter.AddRecord(rec)
	}

	merged, err := sorter.Close()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := merged.Close(); cerr != nil {
			log.Error.Printf("engine: releasing sort run files: %v", cerr)
		}
	}()

	if stats.Cancelled {
		return nil
	}

	var emitErr error
	drainErr := merged.Drain(func(rec *colio.SampleRecord) bool {
		if cancelled(cancel) {
			stats.Cancelled = true
			return false
		}
		cont, err := emit(rec)
		if err != nil {
			emitErr = err
			return false
		}
		return cont
	})
	if emitErr != nil {
		return emitErr
	}
	return drainErr
}

// processGroup runs a completed LocusGroup through C9/C10/C11. group may
// be nil (no locus completed, or it was suppressed upstream); that is not
// an error.
func (e *Engine) processGroup(group *locus.LocusGroup, table *filtertable.Table, thresholds filterapply.Thresholds, sink *vcfsink.Writer, stats *Stats) error {
	if group == nil {
		return nil
	}
	fv, err := gnarly.Finalize(group)
	if err != nil {
		return err
	}
	if fv == nil {
		stats.LociSuppressed++
		return nil
	}
	applied := filterapply.Apply(group.Location, fv, table, e.cfg.Mode, thresholds)
	if err := sink.WriteRecord(applied); err != nil {
		return err
	}
	stats.LociEmitted++
	return nil
}

// reportProgress implements spec.md §4.11's "every N records or T seconds"
// progress signal, following markduplicates' log.Debug.Printf-per-shard
// cadence generalized to two independent triggers.
func (e *Engine) reportProgress(stats *Stats) {
	every := e.cfg.ProgressEvery
	dueByCount := every > 0 && stats.RecordsRead%every == 0

	dueByTime := false
	if e.cfg.ProgressInterval > 0 {
		elapsed := time.Since(e.lastProgress).Seconds()
		dueByTime = elapsed >= e.cfg.ProgressInterval
	}

	if !dueByCount && !dueByTime {
		return
	}
	e.lastProgress = time.Now()
	log.Printf("engine: progress: %d records read, %d loci emitted, %d suppressed",
		stats.RecordsRead, stats.LociEmitted, stats.LociSuppressed)
}

func cancelled(cancel <-chan struct{}) bool {
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}
