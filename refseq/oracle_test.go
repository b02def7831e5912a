package refseq

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFasta writes seqs (name -> bases) as a FASTA file wrapped at
// lineWidth bases per line, and returns the FASTA bytes plus a matching .fai
// index built by hand (mirroring what "samtools faidx" would produce).
func buildFasta(t *testing.T, lineWidth int, seqs []struct {
	name string
	seq  string
}) (fasta []byte, fai string) {
	t.Helper()
	var buf bytes.Buffer
	var faiLines []string
	for _, s := range seqs {
		buf.WriteString(">" + s.name + "\n")
		offset := int64(buf.Len())
		for i := 0; i < len(s.seq); i += lineWidth {
			end := i + lineWidth
			if end > len(s.seq) {
				end = len(s.seq)
			}
			buf.WriteString(s.seq[i:end])
			buf.WriteString("\n")
		}
		faiLines = append(faiLines, strings.Join([]string{
			s.name,
			strconv.Itoa(len(s.seq)),
			strconv.Itoa(int(offset)),
			strconv.Itoa(lineWidth),
			strconv.Itoa(lineWidth + 1),
		}, "\t"))
	}
	return buf.Bytes(), strings.Join(faiLines, "\n") + "\n"
}

func TestBaseAtReadsAcrossLineWrapsAndWindowRefills(t *testing.T) {
	seq := strings.Repeat("ACGT", 50) // 200 bases
	fastaBytes, fai := buildFasta(t, 10, []struct {
		name string
		seq  string
	}{{"chr1", seq}})

	oracle, err := NewOracle(bytes.NewReader(fastaBytes), strings.NewReader(fai))
	require.NoError(t, err)

	for pos := 0; pos < len(seq); pos++ {
		b, err := oracle.BaseAt("chr1", int64(pos))
		require.NoError(t, err, "pos=%d", pos)
		assert.Equal(t, seq[pos], b, "pos=%d", pos)
	}
}

func TestBaseAtMultipleContigs(t *testing.T) {
	fastaBytes, fai := buildFasta(t, 5, []struct {
		name string
		seq  string
	}{
		{"chr1", "AAAAACCCCC"},
		{"chr2", "GGGGGTTTTT"},
	})
	oracle, err := NewOracle(bytes.NewReader(fastaBytes), strings.NewReader(fai))
	require.NoError(t, err)

	b, err := oracle.BaseAt("chr2", 5)
	require.NoError(t, err)
	assert.Equal(t, byte('T'), b)

	b, err = oracle.BaseAt("chr1", 0)
	require.NoError(t, err)
	assert.Equal(t, byte('A'), b)
}

func TestBaseAtUnknownContig(t *testing.T) {
	fastaBytes, fai := buildFasta(t, 5, []struct {
		name string
		seq  string
	}{{"chr1", "ACGTACGTAC"}})
	oracle, err := NewOracle(bytes.NewReader(fastaBytes), strings.NewReader(fai))
	require.NoError(t, err)

	_, err = oracle.BaseAt("chrZ", 0)
	require.Error(t, err)
}

func TestBaseAtOutOfRange(t *testing.T) {
	fastaBytes, fai := buildFasta(t, 5, []struct {
		name string
		seq  string
	}{{"chr1", "ACGTACGTAC"}})
	oracle, err := NewOracle(bytes.NewReader(fastaBytes), strings.NewReader(fai))
	require.NoError(t, err)

	_, err = oracle.BaseAt("chr1", 10)
	require.Error(t, err)
	_, err = oracle.BaseAt("chr1", -1)
	require.Error(t, err)
}

func TestContigLengthAndNames(t *testing.T) {
	fastaBytes, fai := buildFasta(t, 5, []struct {
		name string
		seq  string
	}{
		{"chr1", "ACGTACGTAC"},
		{"chr2", "GGGGG"},
	})
	oracle, err := NewOracle(bytes.NewReader(fastaBytes), strings.NewReader(fai))
	require.NoError(t, err)

	length, err := oracle.ContigLength("chr2")
	require.NoError(t, err)
	assert.EqualValues(t, 5, length)
	assert.Equal(t, []string{"chr1", "chr2"}, oracle.ContigNames())
}
