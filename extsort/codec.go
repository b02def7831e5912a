package extsort

import (
	"encoding/binary"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/gnarly-extract/colio"
	"github.com/grailbio/gnarly-extract/locuskey"
)

// This file implements a manual binary codec for colio.SampleRecord, in the
// same spirit as pileup/snp/row.go's MarshalPileupRow/unmarshalPileupRow:
// fixed-size header fields followed by length-prefixed variable fields, with
// a single scratch buffer reused by the writer across records.

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func getString(in []byte) (s string, rest []byte, err error) {
	if len(in) < 4 {
		return "", nil, errors.E(ErrCodecError, "truncated string length")
	}
	n := binary.LittleEndian.Uint32(in[:4])
	in = in[4:]
	if uint32(len(in)) < n {
		return "", nil, errors.E(ErrCodecError, "truncated string body")
	}
	return string(in[:n]), in[n:], nil
}

func putStringSlice(buf []byte, ss []string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(ss)))
	buf = append(buf, lenBuf[:]...)
	for _, s := range ss {
		buf = putString(buf, s)
	}
	return buf
}

func getStringSlice(in []byte) (ss []string, rest []byte, err error) {
	if len(in) < 4 {
		return nil, nil, errors.E(ErrCodecError, "truncated string-slice length")
	}
	n := binary.LittleEndian.Uint32(in[:4])
	in = in[4:]
	ss = make([]string, n)
	for i := range ss {
		ss[i], in, err = getString(in)
		if err != nil {
			return nil, nil, err
		}
	}
	return ss, in, nil
}

func putInt32Slice(buf []byte, xs []int32) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(xs)))
	buf = append(buf, lenBuf[:]...)
	for _, x := range xs {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(x))
		buf = append(buf, b[:]...)
	}
	return buf
}

func getInt32Slice(in []byte) (xs []int32, rest []byte, err error) {
	if len(in) < 4 {
		return nil, nil, errors.E(ErrCodecError, "truncated int32-slice length")
	}
	n := binary.LittleEndian.Uint32(in[:4])
	in = in[4:]
	if uint32(len(in)) < n*4 {
		return nil, nil, errors.E(ErrCodecError, "truncated int32-slice body")
	}
	xs = make([]int32, n)
	for i := range xs {
		xs[i] = int32(binary.LittleEndian.Uint32(in[:4]))
		in = in[4:]
	}
	return xs, in, nil
}

func putFloat64Slice(buf []byte, xs []float64) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(xs)))
	buf = append(buf, lenBuf[:]...)
	for _, x := range xs {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(x))
		buf = append(buf, b[:]...)
	}
	return buf
}

func getFloat64Slice(in []byte) (xs []float64, rest []byte, err error) {
	if len(in) < 4 {
		return nil, nil, errors.E(ErrCodecError, "truncated float64-slice length")
	}
	n := binary.LittleEndian.Uint32(in[:4])
	in = in[4:]
	if uint32(len(in)) < n*8 {
		return nil, nil, errors.E(ErrCodecError, "truncated float64-slice body")
	}
	xs = make([]float64, n)
	for i := range xs {
		xs[i] = math.Float64frombits(binary.LittleEndian.Uint64(in[:8]))
		in = in[8:]
	}
	return xs, in, nil
}

func putBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func getBool(in []byte) (bool, []byte, error) {
	if len(in) < 1 {
		return false, nil, errors.E(ErrCodecError, "truncated bool")
	}
	return in[0] != 0, in[1:], nil
}

// marshalRecord appends the binary encoding of rec to scratch and returns
// the extended slice.
func marshalRecord(scratch []byte, rec *colio.SampleRecord) []byte {
	buf := scratch
	var locBuf [8]byte
	binary.LittleEndian.PutUint64(locBuf[:], uint64(rec.Location))
	buf = append(buf, locBuf[:]...)

	buf = putString(buf, rec.SampleName)
	buf = append(buf, byte(rec.State))
	buf = putString(buf, rec.Ref)
	buf = putStringSlice(buf, rec.Alts)

	buf = putString(buf, rec.GT.String())
	var gqBuf [4]byte
	binary.LittleEndian.PutUint32(gqBuf[:], uint32(rec.GQ))
	buf = append(buf, gqBuf[:]...)
	buf = putBool(buf, rec.HasGQ)
	buf = putInt32Slice(buf, rec.AD)
	buf = putInt32Slice(buf, rec.PL)

	var dpBuf, rgqBuf [4]byte
	binary.LittleEndian.PutUint32(dpBuf[:], uint32(rec.DP))
	buf = append(buf, dpBuf[:]...)
	binary.LittleEndian.PutUint32(rgqBuf[:], uint32(rec.RGQ))
	buf = append(buf, rgqBuf[:]...)

	buf = putFloat64Slice(buf, rec.ASQualApprox)
	var qaBuf [8]byte
	binary.LittleEndian.PutUint64(qaBuf[:], math.Float64bits(rec.QualApprox))
	buf = append(buf, qaBuf[:]...)
	buf = putBool(buf, rec.HasQualApprox)

	var vqslodBuf [8]byte
	binary.LittleEndian.PutUint64(vqslodBuf[:], math.Float64bits(rec.ASVQSLOD))
	buf = append(buf, vqslodBuf[:]...)
	buf = putBool(buf, rec.HasASVQSLOD)
	buf = putString(buf, rec.YNGStatus)

	buf = putString(buf, rec.ASVarDP)
	buf = putString(buf, rec.ASSBTable)
	buf = putString(buf, rec.ASRawMQ)
	buf = putString(buf, rec.ASRawMQRankSum)
	buf = putString(buf, rec.ASRawReadPosRankSum)
	return buf
}

// ErrCodecError is returned when a spilled run is malformed -- truncated,
// or with a field length that doesn't fit the remaining bytes. This is
// the C3 "CodecError" fatal failure mode from spec.md §4.3.
var ErrCodecError = errors.New("extsort: codec error")

func unmarshalRecord(in []byte) (*colio.SampleRecord, error) {
	if len(in) < 8 {
		return nil, errors.E(ErrCodecError, "truncated location")
	}
	rec := &colio.SampleRecord{Location: locuskey.LocationKey(binary.LittleEndian.Uint64(in[:8]))}
	in = in[8:]

	var err error
	if rec.SampleName, in, err = getString(in); err != nil {
		return nil, err
	}
	if len(in) < 1 {
		return nil, errors.E(ErrCodecError, "truncated state")
	}
	rec.State = colio.State(in[0])
	in = in[1:]
	if rec.Ref, in, err = getString(in); err != nil {
		return nil, err
	}
	if rec.Alts, in, err = getStringSlice(in); err != nil {
		return nil, err
	}

	var gtStr string
	if gtStr, in, err = getString(in); err != nil {
		return nil, err
	}
	if rec.GT, err = colio.ParseGT(gtStr); err != nil {
		return nil, errors.E(ErrCodecError, err)
	}
	if len(in) < 4 {
		return nil, errors.E(ErrCodecError, "truncated GQ")
	}
	rec.GQ = int32(binary.LittleEndian.Uint32(in[:4]))
	in = in[4:]
	if rec.HasGQ, in, err = getBool(in); err != nil {
		return nil, err
	}
	if rec.AD, in, err = getInt32Slice(in); err != nil {
		return nil, err
	}
	if rec.PL, in, err = getInt32Slice(in); err != nil {
		return nil, err
	}
	if len(in) < 8 {
		return nil, errors.E(ErrCodecError, "truncated DP/RGQ")
	}
	rec.DP = int32(binary.LittleEndian.Uint32(in[:4]))
	rec.RGQ = int32(binary.LittleEndian.Uint32(in[4:8]))
	in = in[8:]

	if rec.ASQualApprox, in, err = getFloat64Slice(in); err != nil {
		return nil, err
	}
	if len(in) < 8 {
		return nil, errors.E(ErrCodecError, "truncated QUALapprox")
	}
	rec.QualApprox = math.Float64frombits(binary.LittleEndian.Uint64(in[:8]))
	in = in[8:]
	if rec.HasQualApprox, in, err = getBool(in); err != nil {
		return nil, err
	}

	if len(in) < 8 {
		return nil, errors.E(ErrCodecError, "truncated AS_VQS_LOD")
	}
	rec.ASVQSLOD = math.Float64frombits(binary.LittleEndian.Uint64(in[:8]))
	in = in[8:]
	if rec.HasASVQSLOD, in, err = getBool(in); err != nil {
		return nil, err
	}
	if rec.YNGStatus, in, err = getString(in); err != nil {
		return nil, err
	}

	if rec.ASVarDP, in, err = getString(in); err != nil {
		return nil, err
	}
	if rec.ASSBTable, in, err = getString(in); err != nil {
		return nil, err
	}
	if rec.ASRawMQ, in, err = getString(in); err != nil {
		return nil, err
	}
	if rec.ASRawMQRankSum, in, err = getString(in); err != nil {
		return nil, err
	}
	if rec.ASRawReadPosRankSum, _, err = getString(in); err != nil {
		return nil, err
	}
	return rec, nil
}
