package colio

import (
	"context"
	"io"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/gnarly-extract/locuskey"
)

// ErrReadError is returned when a Backend read fails permanently -- either
// it reported a non-transient error, or retries were exhausted (spec.md §7).
var ErrReadError = errors.New("colio: read error")

// maxReadRetries and maxReadBackoff implement the "retried with exponential
// backoff up to a configured cap" policy from spec.md §4.2 / §7: cap 5
// attempts, max 30s between attempts.
const (
	maxReadRetries = 5
	maxReadBackoff = 30 * time.Second
)

var readRetryPolicy = retry.Backoff(100*time.Millisecond, maxReadBackoff, 2.0)

// rawBackend produces raw Rows in unspecified order over a location range.
// Transient errors (network blips, throttling) should be returned wrapped so
// Transient(err) reports true; Reader retries those and surfaces everything
// else immediately as ErrReadError.
type rawBackend interface {
	// next returns the next raw row. ok is false at end of input. Errors are
	// classified by Transient.
	next(ctx context.Context) (row Row, ok bool, err error)
	close() error
}

// Transient reports whether err represents a transient backend condition
// that's worth retrying (as opposed to a permanent failure).
type Transient interface {
	Transient() bool
}

func isTransient(err error) bool {
	if t, ok := err.(Transient); ok {
		return t.Transient()
	}
	return false
}

// Reader produces a lazy, finite, non-restartable sequence of SampleRecords
// from whatever rows its backend yields (spec.md §4.2); Reader itself does
// not filter by LocationKey range. It
// retries transient backend errors with exponential backoff and logs +
// skips malformed records, counting them for the C12 metric (spec.md §7,
// §8).
type Reader struct {
	backend rawBackend
	dict    *locuskey.Dictionary
	dropped uint64

	// RetryPolicy defaults to readRetryPolicy (100ms..30s, 2.0 factor); tests
	// may override it to avoid real sleeps.
	RetryPolicy retry.Policy
}

// NewReader wraps a raw backend with retry and record-decode logic.
func NewReader(backend rawBackend, dict *locuskey.Dictionary) *Reader {
	return &Reader{backend: backend, dict: dict, RetryPolicy: readRetryPolicy}
}

// Next returns the next SampleRecord, or ok=false once the backend is
// exhausted. It never returns ok=true with a nil record.
func (r *Reader) Next(ctx context.Context) (rec *SampleRecord, ok bool, err error) {
	for {
		row, ok, err := r.nextRowWithRetry(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		decoded, derr := Decode(row, r.dict)
		if derr != nil {
			// Malformed record: logged and dropped, never fatal (spec.md §7).
			log.Error.Printf("colio: dropping malformed record for sample %q: %v", row.SampleName, derr)
			r.dropped++
			continue
		}
		return decoded, true, nil
	}
}

func (r *Reader) nextRowWithRetry(ctx context.Context) (Row, bool, error) {
	var retries int
	for {
		row, ok, err := r.backend.next(ctx)
		if err == nil {
			return row, ok, nil
		}
		if !isTransient(err) || retries+1 >= maxReadRetries {
			return Row{}, false, errors.E(ErrReadError, err)
		}
		if waitErr := retry.Wait(ctx, r.RetryPolicy, retries); waitErr != nil {
			return Row{}, false, errors.E(ErrReadError, waitErr)
		}
		retries++
	}
}

// Dropped returns the running count of malformed records skipped so far.
func (r *Reader) Dropped() uint64 { return r.dropped }

// Close releases the underlying backend.
func (r *Reader) Close() error { return r.backend.close() }

// localBackend reads rows from a tsv-formatted io.Reader (the "no filter
// table"/ORDERED_QUERY local fixture path, and the shape every other
// backend is tested against). It never reports a transient error --
// local/file-backed reads are assumed to fail permanently (spec.md §5,
// "C3 and C5 operate on local files and do not [honor timeouts]"; the same
// reasoning applies to local record sources).
type localBackend struct {
	ctx context.Context
	f   file.File
	r   *tsv.Reader
}

// NewLocalBackendWithDict opens path (local filesystem or any
// github.com/grailbio/base/file-supported URI) as a tsv cohort-store shard,
// decoding rows against dict.
func NewLocalBackendWithDict(ctx context.Context, path string, dict *locuskey.Dictionary) (*Reader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "colio: open", path)
	}
	tr := tsv.NewReader(f.Reader(ctx))
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	return NewReader(&localBackend{ctx: ctx, f: f, r: tr}, dict), nil
}

func (b *localBackend) next(ctx context.Context) (Row, bool, error) {
	var row Row
	if err := b.r.Read(&row); err != nil {
		if err == io.EOF {
			return Row{}, false, nil
		}
		return Row{}, false, err
	}
	return row, true, nil
}

func (b *localBackend) close() error { return b.f.Close(b.ctx) }
