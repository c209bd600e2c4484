// Package export freezes trained parameters behind a fixed inference
// endpoint, writes a portable saved-model directory, and converts that
// directory into a quantized artifact.
package export

import (
	"errors"
	"fmt"

	"github.com/snort3/libml/artifact"
	"github.com/snort3/libml/model"
)

// EndpointName is the only endpoint a classifier exposes.
const EndpointName = "serve"

// ErrExportSignatureMismatch is matched by every *ExportSignatureMismatchError.
var ErrExportSignatureMismatch = errors.New("export signature mismatch")

// ExportSignatureMismatchError reports a declared endpoint that disagrees
// with what the model accepts or produces.
type ExportSignatureMismatchError struct {
	Field    string
	Declared string
	Expected string
}

func (e *ExportSignatureMismatchError) Error() string {
	return fmt.Sprintf("export signature mismatch: %s declared %s, model expects %s", e.Field, e.Declared, e.Expected)
}

func (e *ExportSignatureMismatchError) Unwrap() error { return ErrExportSignatureMismatch }

// ServeSignature declares the endpoint for a given sequence width: one
// (1, maxlen) float32 input and one (1, 1) float32 output.
func ServeSignature(maxlen int) artifact.Signature {
	return artifact.Signature{
		Name:    EndpointName,
		Inputs:  []artifact.TensorSpec{{Name: "inputs", Shape: []int{1, maxlen}, DType: "float32"}},
		Outputs: []artifact.TensorSpec{{Name: "output_0", Shape: []int{1, 1}, DType: "float32"}},
	}
}

// GraphOf describes the layer stack built for cfg.
func GraphOf(cfg model.Config) artifact.Graph {
	return artifact.Graph{
		MaxLen: cfg.MaxLen,
		Seed:   cfg.Seed,
		Layers: []artifact.Layer{
			{Op: "embedding", Prefix: "layers.0", Units: cfg.EmbeddingDim, InputDim: model.VocabSize},
			{Op: "lstm", Prefix: "layers.1", Units: cfg.Hidden, InputDim: cfg.EmbeddingDim},
			{Op: "dense", Prefix: "layers.2", Units: 1, InputDim: cfg.Hidden, Activation: "sigmoid"},
		},
	}
}

// CheckSignature verifies sig against the graph it is meant to serve.
func CheckSignature(sig artifact.Signature, g artifact.Graph) error {
	want := ServeSignature(g.MaxLen)
	mismatch := func(field string, declared, expected any) error {
		return &ExportSignatureMismatchError{
			Field:    field,
			Declared: fmt.Sprint(declared),
			Expected: fmt.Sprint(expected),
		}
	}
	if sig.Name != want.Name {
		return mismatch("endpoint", sig.Name, want.Name)
	}
	if len(sig.Inputs) != 1 {
		return mismatch("input count", len(sig.Inputs), 1)
	}
	if len(sig.Outputs) != 1 {
		return mismatch("output count", len(sig.Outputs), 1)
	}
	in, out := sig.Inputs[0], sig.Outputs[0]
	if in.DType != "float32" {
		return mismatch("input dtype", in.DType, "float32")
	}
	if !sameShape(in.Shape, want.Inputs[0].Shape) {
		return mismatch("input shape", in.Shape, want.Inputs[0].Shape)
	}
	if out.DType != "float32" {
		return mismatch("output dtype", out.DType, "float32")
	}
	if out.Elements() != 1 {
		return mismatch("output shape", out.Shape, want.Outputs[0].Shape)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Frozen is a read-only snapshot of trained params bound to an endpoint.
type Frozen struct {
	Signature artifact.Signature
	Graph     artifact.Graph
	params    *model.Params
}

// Freeze binds a copy of p to the serve endpoint for maxlen. A maxlen other
// than the model's own is a signature mismatch.
func Freeze(p *model.Params, maxlen int) (*Frozen, error) {
	return FreezeSignature(p, ServeSignature(maxlen))
}

// FreezeSignature is Freeze with an explicitly declared endpoint.
func FreezeSignature(p *model.Params, sig artifact.Signature) (*Frozen, error) {
	g := GraphOf(p.Config())
	if err := CheckSignature(sig, g); err != nil {
		return nil, err
	}
	return &Frozen{Signature: sig, Graph: g, params: p.Clone()}, nil
}

// Predict evaluates the frozen params on one encoded sequence.
func (f *Frozen) Predict(seq []float32) (float32, error) {
	return model.Predict(f.params, seq)
}
