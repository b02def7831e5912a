package samplemerge

import (
	"testing"

	"github.com/grailbio/gnarly-extract/colio"
	"github.com/stretchr/testify/assert"
)

func rec(name string, state colio.State) *colio.SampleRecord {
	return &colio.SampleRecord{SampleName: name, State: state}
}

func TestMergeTable(t *testing.T) {
	variant := colio.StateVariant
	refBlock := colio.State('3')

	cases := []struct {
		name     string
		aState   colio.State
		bState   colio.State
		wantName string
	}{
		{"spanning+spanning keeps b", colio.StateSpanningDeletion, colio.StateSpanningDeletion, "b"},
		{"spanning+missing keeps a", colio.StateSpanningDeletion, colio.StateMissing, "a"},
		{"spanning+other keeps b", colio.StateSpanningDeletion, variant, "b"},

		{"missing+spanning keeps b", colio.StateMissing, colio.StateSpanningDeletion, "b"},
		{"missing+missing keeps either (b)", colio.StateMissing, colio.StateMissing, "b"},
		{"missing+other keeps b", colio.StateMissing, variant, "b"},

		{"other+spanning keeps a", variant, colio.StateSpanningDeletion, "a"},
		{"other+missing keeps a", refBlock, colio.StateMissing, "a"},
		{"other+other keeps b", variant, refBlock, "b"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := rec("a", c.aState)
			b := rec("b", c.bState)
			got := Merge(a, b)
			assert.Equal(t, c.wantName, got.SampleName)
		})
	}
}
