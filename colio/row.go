package colio

import (
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/gnarly-extract/locuskey"
)

// Row is the raw, untyped decode of one cohort-store row (spec.md §6). It is
// produced by a Backend and converted to a SampleRecord by Decode; nothing
// outside this file ever sees a Row.
type Row struct {
	Location   int64  `tsv:"location"`
	SampleName string `tsv:"sample_name"`
	State      string `tsv:"state"`
	Ref        string `tsv:"ref"`
	Alt        string `tsv:"alt"`

	CallGT  string `tsv:"call_GT"`
	CallGQ  string `tsv:"call_GQ"`
	CallAD  string `tsv:"call_AD"`
	CallPL  string `tsv:"call_PL"`
	CallDP  string `tsv:"call_DP"`
	CallRGQ string `tsv:"call_RGQ"`

	ASQualApprox string `tsv:"AS_QUALapprox"`
	QualApprox   string `tsv:"QUALapprox"`

	ASVQSLOD  string `tsv:"AS_VQS_LOD"`
	YNGStatus string `tsv:"YNG_STATUS"`

	ASVarDP             string `tsv:"AS_VarDP"`
	ASSBTable           string `tsv:"AS_SB_TABLE"`
	ASRawMQ             string `tsv:"AS_RAW_MQ"`
	ASRawMQRankSum      string `tsv:"AS_RAW_MQRankSum"`
	ASRawReadPosRankSum string `tsv:"AS_RAW_ReadPosRankSum"`

	// Contig is carried alongside Location so that the decode step can run
	// LocationKey encoding without a second lookup; some backends fold this
	// into Location directly (it is already a packed LocationKey) and leave
	// Contig empty.
	Contig string `tsv:"contig"`
}

// parseCSInts parses a comma-separated list of int32s. An empty string
// yields a nil slice.
func parseCSInts(s string) ([]int32, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return nil, errors.E(err, "colio: malformed integer list", s)
		}
		out[i] = int32(v)
	}
	return out, nil
}

// parsePipeFloats parses a "|"-separated list of float64s, one per alt
// allele. A component that is empty or "NaN" decodes to math.NaN().
func parsePipeFloats(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "|")
	out := make([]float64, len(parts))
	for i, p := range parts {
		if p == "" || p == "NaN" || p == "." {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, errors.E(err, "colio: malformed AS_QUALapprox component", s)
		}
		out[i] = v
	}
	return out, nil
}

// Decode converts a raw Row into a typed SampleRecord, using dict to encode
// (contig, position) when the row carries them separately rather than as a
// pre-packed LocationKey. Malformed fields produce an error; the caller
// (Reader) is responsible for logging and skipping per spec.md §7's
// "malformed record" policy -- Decode itself never drops data silently.
func Decode(row Row, dict *locuskey.Dictionary) (*SampleRecord, error) {
	rec := &SampleRecord{
		SampleName: row.SampleName,
		Ref:        row.Ref,
		ASVarDP:              row.ASVarDP,
		ASSBTable:            row.ASSBTable,
		ASRawMQ:              row.ASRawMQ,
		ASRawMQRankSum:       row.ASRawMQRankSum,
		ASRawReadPosRankSum:  row.ASRawReadPosRankSum,
		YNGStatus:            row.YNGStatus,
	}

	if row.Contig != "" {
		key, err := dict.Encode(row.Contig, row.Location)
		if err != nil {
			return nil, err
		}
		rec.Location = key
	} else {
		rec.Location = locuskey.LocationKey(row.Location)
	}

	if len(row.State) != 1 {
		return nil, errors.E("colio: malformed state tag", row.State)
	}
	rec.State = State(row.State[0])

	if row.Alt != "" {
		rec.Alts = strings.Split(row.Alt, ",")
	}

	if row.CallGT != "" {
		gt, err := ParseGT(row.CallGT)
		if err != nil {
			return nil, err
		}
		rec.GT = gt
	} else {
		rec.GT = GenotypeCall{A: -1, B: -1, NoCall: true}
	}

	if row.CallGQ != "" {
		v, err := strconv.ParseInt(row.CallGQ, 10, 32)
		if err != nil {
			return nil, errors.E(err, "colio: malformed call_GQ", row.CallGQ)
		}
		rec.GQ = int32(v)
		rec.HasGQ = true
	}

	var err error
	if rec.AD, err = parseCSInts(row.CallAD); err != nil {
		return nil, err
	}
	if rec.PL, err = parseCSInts(row.CallPL); err != nil {
		return nil, err
	}
	if row.CallDP != "" {
		v, err := strconv.ParseInt(row.CallDP, 10, 32)
		if err != nil {
			return nil, errors.E(err, "colio: malformed call_DP", row.CallDP)
		}
		rec.DP = int32(v)
	}
	if row.CallRGQ != "" {
		v, err := strconv.ParseInt(row.CallRGQ, 10, 32)
		if err != nil {
			return nil, errors.E(err, "colio: malformed call_RGQ", row.CallRGQ)
		}
		rec.RGQ = int32(v)
	}

	if rec.ASQualApprox, err = parsePipeFloats(row.ASQualApprox); err != nil {
		return nil, err
	}
	if row.QualApprox != "" {
		v, err := strconv.ParseFloat(row.QualApprox, 64)
		if err != nil {
			return nil, errors.E(err, "colio: malformed QUALapprox", row.QualApprox)
		}
		rec.QualApprox = v
		rec.HasQualApprox = true
	}

	if row.ASVQSLOD != "" {
		v, err := strconv.ParseFloat(row.ASVQSLOD, 64)
		if err == nil {
			rec.ASVQSLOD = v
			rec.HasASVQSLOD = true
		}
	}

	return rec, nil
}
