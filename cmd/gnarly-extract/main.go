package main

// gnarly-extract reads a cohort columnar store and a reference sequence,
// joint-genotypes every locus across a sample cohort, applies a VQSR filter
// table, and writes the result as a single joint VCF.
//
// Usage: gnarly-extract -cohort cohort.tsv -samples A,B,C -ref ref.fa -ref-index ref.fa.fai -out out.vcf

import (
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/gnarly-extract/callmode"
	"github.com/grailbio/gnarly-extract/colio"
	"github.com/grailbio/gnarly-extract/engine"
	"github.com/grailbio/gnarly-extract/locuskey"
)

var (
	cohortTableFlag = flag.String("cohort", "", "Path to the cohort columnar store")
	filterTableFlag = flag.String("filter-table", "", "Path to the VQSR filter table; empty disables filtering")
	filterSetFlag   = flag.String("filter-set", "", "filter_set_name to select within -filter-table")
	samplesFlag     = flag.String("samples", "", "Comma-separated cohort sample names")

	modeFlag      = flag.String("mode", "GENOMES", "Sequencing mode: EXOMES, GENOMES, or ARRAYS")
	queryModeFlag = flag.String("query-mode", "LOCAL_SORT", "LOCAL_SORT or ORDERED_QUERY")

	minLocationFlag = flag.Uint64("min-location", 0, "Lower bound LocationKey (inclusive); ignored with -whole-table")
	maxLocationFlag = flag.Uint64("max-location", 0, "Upper bound LocationKey (inclusive); ignored with -whole-table")
	wholeTableFlag  = flag.Bool("whole-table", true, "Scan the entire cohort table instead of [-min-location, -max-location]")

	sortMaxRecordsFlag  = flag.Int("sort-max-records-in-ram", 1<<20, "C3 in-memory batch size before spilling, LOCAL_SORT only")
	sortTmpDirFlag      = flag.String("sort-tmp-dir", os.TempDir(), "Directory for LOCAL_SORT's spill files")
	sortParallelismFlag = flag.Int("sort-parallelism", 4, "LOCAL_SORT concurrent spill goroutines")

	vqslodSNPFlag   = flag.Float64("vqslod-snp-threshold", 0, "VQSLOD tranche threshold below which a SNP is filtered")
	vqslodIndelFlag = flag.Float64("vqslod-indel-threshold", 0, "VQSLOD tranche threshold below which an indel is filtered")

	refFlag      = flag.String("ref", "", "Path to the reference FASTA")
	refIndexFlag = flag.String("ref-index", "", "Path to the reference .fai index")

	outFlag         = flag.String("out", "", "Output VCF path")
	gzipFlag        = flag.Bool("gzip", true, "bgzf-compress the output VCF")
	outParallelism  = flag.Int("out-parallelism", 4, "bgzf compression parallelism")
	progressEvery   = flag.Int64("progress-every", 1_000_000, "Log progress every N records read; 0 disables")
	progressSeconds = flag.Float64("progress-interval-seconds", 30, "Log progress at least every T seconds; 0 disables")
)

func parseCohort(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func buildConfig() engine.Config {
	mode, err := callmode.Parse(*modeFlag)
	if err != nil {
		log.Panicf("gnarly-extract: %v", err)
	}
	qmode, err := engine.ParseQueryMode(*queryModeFlag)
	if err != nil {
		log.Panicf("gnarly-extract: %v", err)
	}

	return engine.Config{
		CohortTablePath: *cohortTableFlag,
		FilterTablePath: *filterTableFlag,
		FilterSetName:   *filterSetFlag,
		Cohort:          parseCohort(*samplesFlag),

		MinLocation: locuskey.LocationKey(*minLocationFlag),
		MaxLocation: locuskey.LocationKey(*maxLocationFlag),
		WholeTable:  *wholeTableFlag,

		Mode:      mode,
		QueryMode: qmode,

		LocalSortMaxRecordsInRAM: *sortMaxRecordsFlag,
		SortTmpDir:               *sortTmpDirFlag,
		SortParallelism:          *sortParallelismFlag,

		VQSLODSNPThreshold:   *vqslodSNPFlag,
		VQSLODIndelThreshold: *vqslodIndelFlag,

		RefSequencePath: *refFlag,
		RefIndexPath:    *refIndexFlag,

		OutputPath:        *outFlag,
		Gzip:              *gzipFlag,
		OutputParallelism: *outParallelism,

		ProgressEvery:    *progressEvery,
		ProgressInterval: *progressSeconds,
	}
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage: gnarly-extract -cohort <path> -samples A,B,C -ref <fasta> -ref-index <fai> -out <vcf>

Joint-genotypes a sample cohort over a columnar cohort store and writes the
result as a single VCF, applying a VQSR filter table when -filter-table is
set.
`)
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	// cohort_table/filter_table (spec.md §6) may be s3:// URIs; registering
	// the scheme here, once, lets colio.NewLocalBackendWithDict open them
	// the same way it opens a local path.
	colio.RegisterS3()

	cfg := buildConfig()
	e, err := engine.New(cfg)
	if err != nil {
		log.Panicf("gnarly-extract: %v", err)
	}

	ctx := vcontext.Background()
	cancel := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("gnarly-extract: signal received, cancelling run")
		close(cancel)
	}()

	stats, err := e.Run(ctx, cancel)
	if err != nil {
		log.Fatalf("gnarly-extract: %v", err)
	}

	log.Printf("gnarly-extract: records_read=%d loci_emitted=%d loci_suppressed=%d cancelled=%s",
		stats.RecordsRead, stats.LociEmitted, stats.LociSuppressed, strconv.FormatBool(stats.Cancelled))
	if stats.Cancelled {
		os.Exit(1)
	}
}
