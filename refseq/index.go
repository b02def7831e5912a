package refseq

import (
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// indexEntry is one contig's .fai-style index record, adapted from
// encoding/fasta/fasta_indexed.go's indexEntry: byte offset of the contig's
// first base, and the two numbers needed to account for embedded newlines
// when translating a base-coordinate range to a byte range.
type indexEntry struct {
	Name      string `tsv:"name"`
	Length    int64  `tsv:"length"`
	Offset    int64  `tsv:"offset"`
	LineBases int64  `tsv:"line_bases"`
	LineWidth int64  `tsv:"line_width"`
}

// parseIndex reads a tab-separated .fai-shaped index (one row per contig),
// generalizing encoding/fasta/fasta_indexed.go's regexp-based NewIndexed
// parse into the tsv struct-tag idiom used everywhere else in this engine.
func parseIndex(r io.Reader) (byName map[string]indexEntry, names []string, err error) {
	tr := tsv.NewReader(r)
	byName = make(map[string]indexEntry)
	for {
		var e indexEntry
		if err := tr.Read(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, errors.E(err, "refseq: read index row")
		}
		if _, dup := byName[e.Name]; dup {
			return nil, nil, errors.E(ErrMalformedIndex, "duplicate contig", e.Name)
		}
		byName[e.Name] = e
		names = append(names, e.Name)
	}
	return byName, names, nil
}

// ErrMalformedIndex is returned when a .fai-style index can't be parsed.
var ErrMalformedIndex = errors.New("refseq: malformed index")
