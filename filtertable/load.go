package filtertable

import (
	"context"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/gnarly-extract/locuskey"
	"github.com/klauspost/compress/gzip"
	"github.com/minio/highwayhash"
)

// Row mirrors the filter-table schema in spec.md §6: location, ref, alt,
// vqslod, yng_status, filter_set_name.
type Row struct {
	Location      int64  `tsv:"location"`
	Ref           string `tsv:"ref"`
	Alt           string `tsv:"alt"`
	VQSLOD        string `tsv:"vqslod"`
	YNGStatus     string `tsv:"yng_status"`
	FilterSetName string `tsv:"filter_set_name"`
}

var highwayhashZeroKey [32]byte

func parseVQSLOD(s string) (float64, bool, error) {
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, errors.E(err, "filtertable: malformed vqslod", s)
	}
	if math.IsNaN(v) {
		return 0, false, nil
	}
	return v, true, nil
}

func parseYNG(s string) (string, error) {
	switch s {
	case "Y", "N", "G", "":
		return s, nil
	default:
		return "", errors.E(ErrFilterTableMalformed, "unrecognized yng_status", s)
	}
}

// Load reads a filter table from path (local or any github.com/grailbio/
// base/file-supported URI, transparently gzip-decoded per fileio.
// DetermineType, matching pileup/common.go's LoadFa), keeping only rows for
// filterSetName whose location falls within [minLoc, maxLoc] inclusive (a
// zero-value range with minLoc > maxLoc after defaulting is treated as
// "whole table" by passing locuskey.LocationKey(0) and
// locuskey.LocationKey(math.MaxUint64) respectively -- see engine's config
// translation). Built eagerly, as spec.md §4.4 requires.
func Load(ctx context.Context, path string, minLoc, maxLoc locuskey.LocationKey, filterSetName string) (table *Table, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "filtertable: open", path)
	}
	defer file.CloseAndReport(ctx, f, &err)

	var src io.Reader = f.Reader(ctx)
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, errors.E(err, "filtertable: open gzip", path)
		}
		defer gz.Close()
		src = gz
	}

	fingerprinter, err := highwayhash.New(highwayhashZeroKey[:])
	if err != nil {
		return nil, errors.E(err, "filtertable: init fingerprinter")
	}
	src = io.TeeReader(src, fingerprinter)

	tr := tsv.NewReader(src)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true

	t := newTable()
	for {
		var row Row
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(err, "filtertable: read row")
		}
		if row.FilterSetName != filterSetName {
			continue
		}
		loc := locuskey.LocationKey(row.Location)
		if loc < minLoc || loc > maxLoc {
			continue
		}
		vqslod, hasVQSLOD, err := parseVQSLOD(row.VQSLOD)
		if err != nil {
			return nil, err
		}
		yng, err := parseYNG(row.YNGStatus)
		if err != nil {
			return nil, err
		}
		if err := t.put(loc, row.Ref, row.Alt, Entry{VQSLOD: vqslod, HasVQSLOD: hasVQSLOD, YNG: yng}); err != nil {
			return nil, err
		}
	}
	copy(t.Fingerprint[:], fingerprinter.Sum(nil))
	return t, nil
}
