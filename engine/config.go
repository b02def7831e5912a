// Package engine implements C12, the engine orchestrator: it wires C2
// (colio) through (C3 if LOCAL_SORT) into C7/C8 (locus+qualapprox), C9
// (gnarly), C10 (filterapply), and C11 (vcfsink) in the single cooperative
// loop spec.md §5 describes. Grounded on markduplicates.Opts's
// commandline-options-struct shape and SetupAndMark's validate/run
// sequencing, and cmd/bio-bam-sort/main.go's flag-driven CLI.
package engine

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/gnarly-extract/callmode"
	"github.com/grailbio/gnarly-extract/locuskey"
)

// QueryMode selects whether the engine trusts the backend's own ordering
// (ORDERED_QUERY) or must externally sort the stream itself (LOCAL_SORT),
// per spec.md §4.11/§6.
type QueryMode int

const (
	LocalSort QueryMode = iota
	OrderedQuery
)

func (m QueryMode) String() string {
	switch m {
	case LocalSort:
		return "LOCAL_SORT"
	case OrderedQuery:
		return "ORDERED_QUERY"
	default:
		return "UNKNOWN"
	}
}

// ErrUnknownQueryMode is returned by ParseQueryMode for any string other
// than "LOCAL_SORT" or "ORDERED_QUERY".
var ErrUnknownQueryMode = errors.New("engine: unknown query mode")

// ParseQueryMode converts a configuration string (spec.md §6) into a
// QueryMode.
func ParseQueryMode(s string) (QueryMode, error) {
	switch s {
	case "LOCAL_SORT":
		return LocalSort, nil
	case "ORDERED_QUERY":
		return OrderedQuery, nil
	default:
		return 0, errors.E(ErrUnknownQueryMode, s)
	}
}

// Config enumerates every engine input spec.md §6 names.
type Config struct {
	// Backend refs.
	CohortTablePath string
	FilterTablePath string // empty selects C10's no-filter pass-through mode
	FilterSetName   string

	// Cohort is every sample name that must appear in every emitted call
	// (spec.md §3 invariant); missing-from-stream samples are synthesized.
	Cohort []string

	// MinLocation/MaxLocation bound the scan (inclusive); with WholeTable
	// set the whole table is scanned and both are ignored (spec.md §6).
	MinLocation, MaxLocation locuskey.LocationKey
	WholeTable               bool

	Mode      callmode.Mode
	QueryMode QueryMode

	// LocalSortMaxRecordsInRAM configures C3's in-memory batch size; zero
	// selects extsort.DefaultBatchSize. Unused in ORDERED_QUERY mode.
	LocalSortMaxRecordsInRAM int
	SortTmpDir               string
	SortParallelism          int

	VQSLODSNPThreshold   float64
	VQSLODIndelThreshold float64

	RefSequencePath string
	RefIndexPath    string

	OutputPath        string
	Gzip              bool
	OutputParallelism int

	// ProgressEvery/ProgressInterval govern C12's progress signal cadence
	// (spec.md §4.11: "every N records or T seconds").
	ProgressEvery    int64
	ProgressInterval float64 // seconds
}

// Stats summarizes one Run.
type Stats struct {
	RecordsRead    int64
	LociEmitted    int64
	LociSuppressed int64
	Cancelled      bool
}

func (c *Config) validate() error {
	if c.CohortTablePath == "" {
		return errors.E("engine: CohortTablePath is required")
	}
	if len(c.Cohort) == 0 {
		return errors.E("engine: Cohort must list at least one sample")
	}
	if c.RefSequencePath == "" || c.RefIndexPath == "" {
		return errors.E("engine: RefSequencePath and RefIndexPath are required")
	}
	if c.OutputPath == "" {
		return errors.E("engine: OutputPath is required")
	}
	if !c.WholeTable && c.MinLocation > c.MaxLocation {
		return errors.E("engine: MinLocation must not exceed MaxLocation")
	}
	if c.FilterTablePath != "" && c.FilterSetName == "" {
		return errors.E("engine: FilterSetName is required when FilterTablePath is set")
	}
	return nil
}
