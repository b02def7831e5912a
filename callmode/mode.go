// Package callmode defines the engine-wide sequencing mode: EXOMES, GENOMES,
// or ARRAYS. A handful of components (missing-sample synthesis in locus,
// FILTER evaluation in filterapply) branch on it.
package callmode

import "github.com/grailbio/base/errors"

// Mode selects how missing samples are synthesized and whether filtering
// runs at all (spec.md §4.7, §4.9).
type Mode int

const (
	// Exomes and Genomes are treated identically by every component that
	// branches on Mode; they are kept distinct because the engine's
	// configuration surface (spec.md §6) names them separately.
	Exomes Mode = iota
	Genomes
	Arrays
)

func (m Mode) String() string {
	switch m {
	case Exomes:
		return "EXOMES"
	case Genomes:
		return "GENOMES"
	case Arrays:
		return "ARRAYS"
	default:
		return "UNKNOWN"
	}
}

// ErrUnknownMode is returned by Parse for any string other than "EXOMES",
// "GENOMES", or "ARRAYS".
var ErrUnknownMode = errors.New("callmode: unknown mode")

// Parse converts a configuration string (spec.md §6) into a Mode.
func Parse(s string) (Mode, error) {
	switch s {
	case "EXOMES":
		return Exomes, nil
	case "GENOMES":
		return Genomes, nil
	case "ARRAYS":
		return Arrays, nil
	default:
		return 0, errors.E(ErrUnknownMode, s)
	}
}
