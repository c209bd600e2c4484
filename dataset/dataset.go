// Package dataset loads labeled query strings and turns them into the
// aligned input and label arrays used for training.
package dataset

import (
	"fmt"

	"github.com/snort3/libml/querystring"
)

// LabeledExample is one training row.
type LabeledExample struct {
	Text     string
	IsAttack bool
}

// Dataset holds encoded inputs and their labels, index-aligned with the
// example order it was built from.
type Dataset struct {
	MaxLen int
	Inputs [][]float32
	Labels []float32
}

// Len returns the number of examples.
func (d *Dataset) Len() int { return len(d.Inputs) }

// Build decodes and encodes every example in order. The first malformed
// example aborts the build; no partial dataset is returned.
func Build(examples []LabeledExample, maxlen int) (*Dataset, error) {
	if maxlen <= 0 {
		return nil, fmt.Errorf("dataset: maxlen must be positive, got %d", maxlen)
	}
	ds := &Dataset{
		MaxLen: maxlen,
		Inputs: make([][]float32, 0, len(examples)),
		Labels: make([]float32, 0, len(examples)),
	}
	for i, ex := range examples {
		seq, err := querystring.EncodeQuery(ex.Text, maxlen)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		ds.Inputs = append(ds.Inputs, seq)
		ds.Labels = append(ds.Labels, label(ex.IsAttack))
	}
	return ds, nil
}

func label(attack bool) float32 {
	if attack {
		return 1
	}
	return 0
}
