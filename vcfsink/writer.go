// Package vcfsink implements C11, the joint VCF writer: it streams header
// and record lines for the cohort's finalized, filtered calls. Grounded on
// pileup/snp/output.go's open-destination/write-header-once/stream-rows
// shape, including its optional bgzf-compressed destination.
//
// No VCF-specific writer library is available anywhere in the reference
// stack this engine is built from (only sam/bam/bgzf sub-packages of
// github.com/grailbio/hts are used anywhere in it), so the VCF text itself
// is assembled with github.com/grailbio/base/tsv the same way
// pileup/snp/output.go assembles its own tab-delimited genomic text
// columns -- VCF is tab-delimited line-oriented text, which is exactly
// what tsv.Writer is for. Optional gzip/bgzf compression is still the
// teacher's own github.com/grailbio/hts/bgzf.
package vcfsink

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/gnarly-extract/callmode"
	"github.com/grailbio/gnarly-extract/filterapply"
	"github.com/grailbio/gnarly-extract/gnarly"
	"github.com/grailbio/gnarly-extract/locuskey"
	"github.com/grailbio/hts/bgzf"
)

// vcfMissing is the VCF text sentinel for "no value".
const vcfMissing = "."

// fileFormat is the VCF version line this writer emits.
const fileFormat = "##fileformat=VCFv4.2"

// Writer streams a joint VCF: a header, written once by WriteHeader, then
// one line per call via WriteRecord, in ascending (contig, position) order
// per spec.md §5's output-ordering invariant.
type Writer struct {
	dst         file.File
	bgzfw       *bgzf.Writer
	tsv         *tsv.Writer
	wroteHeader bool
	numSamples  int
}

// Create opens path for writing a joint VCF. When bgzip is true, the
// stream is wrapped in a github.com/grailbio/hts/bgzf.Writer, matching
// pileup/snp/output.go's own optional-bgzf destination.
func Create(ctx context.Context, path string, bgzip bool, parallelism int) (*Writer, error) {
	dst, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	w := &Writer{dst: dst}
	if bgzip {
		w.bgzfw = bgzf.NewWriter(dst.Writer(ctx), parallelism)
		w.tsv = tsv.NewWriter(w.bgzfw)
	} else {
		w.tsv = tsv.NewWriter(dst.Writer(ctx))
	}
	return w, nil
}

// WriteHeader writes the ##fileformat/##INFO/##FILTER/##FORMAT meta lines
// and the #CHROM column header naming samples, in sampleNames order.
// dict's contigs are emitted as ##contig lines so downstream VCF readers
// can validate coordinates without re-deriving the dictionary.
func (w *Writer) WriteHeader(dict *locuskey.Dictionary, sampleNames []string, mode callmode.Mode, th filterapply.Thresholds) error {
	if w.wroteHeader {
		return nil
	}
	lines := []string{
		fileFormat,
		fmt.Sprintf("##source=gnarly-extract(%s)", mode),
		`##INFO=<ID=AC,Number=A,Type=Integer,Description="Allele count in genotypes, for each ALT allele">`,
		`##INFO=<ID=AN,Number=1,Type=Integer,Description="Total number of alleles in called genotypes">`,
		`##INFO=<ID=AF,Number=A,Type=Float,Description="Allele frequency, for each ALT allele">`,
		`##INFO=<ID=MLEAC,Number=A,Type=Integer,Description="Maximum likelihood expectation for allele count, for each ALT allele">`,
		`##INFO=<ID=MLEAF,Number=A,Type=Float,Description="Maximum likelihood expectation for allele frequency, for each ALT allele">`,
		`##INFO=<ID=QUALapprox,Number=1,Type=Integer,Description="Sum of PL[0] values; used for quality recalibration">`,
		`##INFO=<ID=AS_VQSLOD,Number=A,Type=Float,Description="Allele-specific log odds of being a true variant versus being false under the trained VQSR gaussian mixture model">`,
		`##INFO=<ID=AS_YNG_STATUS,Number=A,Type=String,Description="Allele-specific YNG filter status">`,
		fmt.Sprintf(`##FILTER=<ID=%s,Description="Site passes all filters">`, filterapply.FilterPass),
		fmt.Sprintf(`##FILTER=<ID=%s,Description="Site failed the YNG/tranche filter with no passing allele">`, filterapply.FilterNAY),
		fmt.Sprintf(`##FILTER=<ID=%s,Description="SNP VQSLOD below the configured tranche threshold %g">`, filterapply.FilterTrancheSNP, th.SNP),
		fmt.Sprintf(`##FILTER=<ID=%s,Description="Indel VQSLOD below the configured tranche threshold %g">`, filterapply.FilterTrancheIndel, th.Indel),
		`##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">`,
		`##FORMAT=<ID=GQ,Number=1,Type=Integer,Description="Genotype Quality">`,
		`##FORMAT=<ID=PL,Number=G,Type=Integer,Description="Normalized, Phred-scaled likelihoods for genotypes as defined in the VCF specification">`,
		`##FORMAT=<ID=AD,Number=R,Type=Integer,Description="Allelic depths for the ref and alt alleles in the order listed">`,
		`##FORMAT=<ID=DP,Number=1,Type=Integer,Description="Approximate read depth">`,
	}
	if dict != nil {
		for i := 0; i < dict.NumContigs(); i++ {
			lines = append(lines, fmt.Sprintf("##contig=<ID=%s>", dict.ContigName(i)))
		}
	}
	for _, l := range lines {
		w.tsv.WriteString(l)
		if err := w.tsv.EndLine(); err != nil {
			return err
		}
	}

	cols := append([]string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO", "FORMAT"}, sampleNames...)
	w.tsv.WriteString(strings.Join(cols, "\t"))
	if err := w.tsv.EndLine(); err != nil {
		return err
	}
	w.numSamples = len(sampleNames)
	w.wroteHeader = true
	return nil
}

// WriteRecord writes one filtered, finalized call as a VCF data line.
func (w *Writer) WriteRecord(a *filterapply.Applied) error {
	fv := a.FinalizedVariant
	if len(fv.Genotypes) != w.numSamples {
		return fmt.Errorf("vcfsink: record at %s:%d has %d genotypes, header declared %d samples",
			fv.Contig, fv.Position, len(fv.Genotypes), w.numSamples)
	}

	w.tsv.WriteString(fv.Contig)
	w.tsv.WriteUint32(uint32(fv.Position))
	w.tsv.WriteString(vcfMissing) // ID
	w.tsv.WriteString(fv.Ref)
	w.tsv.WriteString(strings.Join(fv.Alts, ","))
	w.tsv.WriteString(formatQUAL(fv.QUAL))
	w.tsv.WriteString(strings.Join(a.Filter, ";"))
	w.tsv.WriteString(formatInfo(a))
	w.tsv.WriteString("GT:GQ:PL:AD:DP")

	// fv.Genotypes is already in the cohort order WriteHeader used for the
	// #CHROM sample columns (engine.go threads the same Cohort slice through
	// locus.Assembler and gnarly.Finalize unsorted); re-sorting here would
	// misattribute columns for any non-alphabetical cohort.
	for _, gt := range fv.Genotypes {
		w.tsv.WriteString(formatSample(gt))
	}
	return w.tsv.EndLine()
}

// Close flushes and closes the underlying writer(s).
func (w *Writer) Close(ctx context.Context) (err error) {
	if ferr := w.tsv.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if w.bgzfw != nil {
		if berr := w.bgzfw.Close(); berr != nil && err == nil {
			err = berr
		}
	}
	if cerr := w.dst.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func formatQUAL(q float64) string {
	return strconv.FormatFloat(q, 'f', 2, 64)
}

func formatInfo(a *filterapply.Applied) string {
	fv := a.FinalizedVariant
	fields := []string{
		"AC=" + joinInts(fv.AC),
		fmt.Sprintf("AN=%d", fv.AN),
		"AF=" + joinFloats(fv.AF),
		"MLEAC=" + joinInts(fv.MLEAC),
		"MLEAF=" + joinFloats(fv.MLEAF),
		fmt.Sprintf("QUALapprox=%d", fv.QualApprox),
		"AS_VQSLOD=" + joinScores(a.ASVQSLOD),
		"AS_YNG_STATUS=" + joinYNG(a.ASYNGStatus),
	}
	return strings.Join(fields, ";")
}

func formatSample(gt gnarly.Genotype) string {
	gq := strconv.Itoa(int(gt.GQ))
	dp := strconv.Itoa(int(gt.DP))
	return strings.Join([]string{gt.GT.String(), gq, joinInt32s(gt.PL), joinInt32s(gt.AD), dp}, ":")
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func joinInt32s(xs []int32) string {
	if len(xs) == 0 {
		return vcfMissing
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(int(x))
	}
	return strings.Join(parts, ",")
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatFloat(x, 'f', 6, 64)
	}
	return strings.Join(parts, ",")
}

func joinScores(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		if math.IsNaN(x) {
			parts[i] = vcfMissing
			continue
		}
		parts[i] = strconv.FormatFloat(x, 'f', 4, 64)
	}
	return strings.Join(parts, ",")
}

func joinYNG(xs []string) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		if x == "" {
			parts[i] = vcfMissing
			continue
		}
		parts[i] = x
	}
	return strings.Join(parts, ",")
}
