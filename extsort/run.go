package extsort

import (
	"encoding/binary"
	"hash"
	"io"
	"os"

	"github.com/blainsmith/seahash"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/gnarly-extract/colio"
)

// A run is a single spilled, already-sorted shard of SampleRecords written to
// a temp file by runWriter and replayed by runReader during the k-way merge.
// This is a simplified stand-in for cmd/bio-bam-sort/sorter/sortshard.go's
// recordio-plus-protobuf-trailer format: each record becomes one
// snappy-compressed, length-prefixed block, and the whole run ends with an
// 8-byte seahash checksum of every block's length prefix and compressed
// bytes, so a truncated
// or corrupted run is detected at merge time rather than silently
// mis-sorted.

var (
	// ErrRunChecksum indicates a spilled run's trailing seahash checksum
	// didn't match its contents -- truncated write or disk corruption.
	ErrRunChecksum = errors.New("extsort: run checksum mismatch")
	// ErrRunTruncated indicates a run ended mid-block.
	ErrRunTruncated = errors.New("extsort: run truncated")
)

type runWriter struct {
	f       *os.File
	h       hash.Hash64
	scratch []byte
	comp    []byte
	nrecs   int
}

func newRunWriter(f *os.File) *runWriter {
	return &runWriter{f: f, h: seahash.New()}
}

// write appends rec as one length-prefixed snappy block and folds its
// compressed bytes into the running checksum.
func (w *runWriter) write(rec *colio.SampleRecord) error {
	w.scratch = marshalRecord(w.scratch[:0], rec)
	w.comp = snappy.Encode(w.comp[:cap(w.comp)], w.scratch)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(w.comp)))
	if _, err := w.f.Write(lenBuf[:]); err != nil {
		return errors.E(err, "extsort: write run block length")
	}
	if _, err := w.f.Write(w.comp); err != nil {
		return errors.E(err, "extsort: write run block")
	}
	w.h.Write(lenBuf[:])
	w.h.Write(w.comp)
	w.nrecs++
	return nil
}

// close writes the trailing checksum and syncs the file.
func (w *runWriter) close() error {
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], w.h.Sum64())
	if _, err := w.f.Write(sumBuf[:]); err != nil {
		return errors.E(err, "extsort: write run checksum")
	}
	if err := w.f.Sync(); err != nil {
		return errors.E(err, "extsort: sync run")
	}
	return w.f.Close()
}

type runReader struct {
	f       *os.File
	h       hash.Hash64
	remain  int64 // bytes remaining before the trailing checksum
	scratch []byte
	comp    []byte
}

// newRunReader wraps the already-open run file f for sequential replay
// during merge. size is the
// total file size, used to know where the block stream ends and the
// trailing checksum begins.
func newRunReader(f *os.File, size int64) (*runReader, error) {
	if size < 8 {
		return nil, errors.E(ErrRunTruncated, "run shorter than checksum trailer")
	}
	return &runReader{f: f, h: seahash.New(), remain: size - 8}, nil
}

// next reads the next record, or returns ok=false at the expected end of the
// block stream, having verified the trailing checksum.
func (r *runReader) next() (rec *colio.SampleRecord, ok bool, err error) {
	if r.remain == 0 {
		return nil, false, r.verifyChecksum()
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.f, lenBuf[:]); err != nil {
		return nil, false, errors.E(ErrRunTruncated, err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if int64(n) > r.remain-4 {
		return nil, false, errors.E(ErrRunTruncated, "block length exceeds remaining run bytes")
	}
	if cap(r.comp) < int(n) {
		r.comp = make([]byte, n)
	}
	r.comp = r.comp[:n]
	if _, err := io.ReadFull(r.f, r.comp); err != nil {
		return nil, false, errors.E(ErrRunTruncated, err)
	}
	r.h.Write(lenBuf[:])
	r.h.Write(r.comp)
	r.remain -= 4 + int64(n)

	r.scratch, err = snappy.Decode(r.scratch[:cap(r.scratch)], r.comp)
	if err != nil {
		return nil, false, errors.E(ErrRunChecksum, "snappy decode", err)
	}
	rec, err = unmarshalRecord(r.scratch)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (r *runReader) verifyChecksum() error {
	var sumBuf [8]byte
	if _, err := io.ReadFull(r.f, sumBuf[:]); err != nil {
		return errors.E(ErrRunTruncated, err)
	}
	want := binary.LittleEndian.Uint64(sumBuf[:])
	if want != r.h.Sum64() {
		return errors.E(ErrRunChecksum)
	}
	return nil
}

func (r *runReader) close() error { return r.f.Close() }
