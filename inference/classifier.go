// Package inference loads a classifier artifact and scores request strings
// with it.
package inference

import (
	"errors"
	"fmt"
	"os"

	nn "github.com/openfluke/loom/nn"

	"github.com/snort3/libml/artifact"
	"github.com/snort3/libml/model"
	"github.com/snort3/libml/querystring"
)

// ErrEmptyInput is returned by Run for a zero-length buffer.
var ErrEmptyInput = errors.New("empty input")

// Classifier is a loaded artifact ready to score inputs. It is safe for
// concurrent use; nothing in it is mutated after Load.
type Classifier struct {
	header    *artifact.Header
	params    *model.Params
	inputSize int
}

// LoadFile reads and loads an artifact file.
func LoadFile(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load verifies the artifact's endpoint and restores its weights. The
// endpoint must take exactly one float32 tensor and return exactly one
// float32 value.
func Load(data []byte) (*Classifier, error) {
	h, blob, err := artifact.Decode(data)
	if err != nil {
		return nil, err
	}

	sig := h.Signature
	if len(sig.Inputs) != 1 || sig.Inputs[0].DType != "float32" {
		return nil, fmt.Errorf("%w: classifier needs one float32 input", artifact.ErrInvalidArtifact)
	}
	inputSize := sig.Inputs[0].Elements()
	if inputSize <= 0 {
		return nil, fmt.Errorf("%w: input has no elements", artifact.ErrInvalidArtifact)
	}
	if len(sig.Outputs) != 1 || sig.Outputs[0].DType != "float32" || sig.Outputs[0].Elements() != 1 {
		return nil, fmt.Errorf("%w: classifier needs one float32 output with one element", artifact.ErrInvalidArtifact)
	}

	cfg, err := configOf(h.Graph)
	if err != nil {
		return nil, err
	}
	if cfg.MaxLen != inputSize {
		return nil, fmt.Errorf("%w: input size %d does not match graph maxlen %d", artifact.ErrInvalidArtifact, inputSize, cfg.MaxLen)
	}

	stored, err := nn.LoadSafetensorsWithShapes(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", artifact.ErrInvalidArtifact, err)
	}
	values, err := dequantize(stored, h.Quantization)
	if err != nil {
		return nil, err
	}
	params, err := model.FromTensors(cfg, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", artifact.ErrInvalidArtifact, err)
	}
	return &Classifier{header: h, params: params, inputSize: inputSize}, nil
}

func configOf(g artifact.Graph) (model.Config, error) {
	if len(g.Layers) != 3 || g.Layers[0].Op != "embedding" || g.Layers[1].Op != "lstm" || g.Layers[2].Op != "dense" {
		return model.Config{}, fmt.Errorf("%w: unsupported layer graph", artifact.ErrInvalidArtifact)
	}
	if g.Layers[0].InputDim != model.VocabSize || g.Layers[2].Units != 1 || g.Layers[2].Activation != "sigmoid" {
		return model.Config{}, fmt.Errorf("%w: unsupported layer graph", artifact.ErrInvalidArtifact)
	}
	cfg := model.Config{
		MaxLen:       g.MaxLen,
		EmbeddingDim: g.Layers[0].Units,
		Hidden:       g.Layers[1].Units,
		Seed:         g.Seed,
	}
	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("%w: %v", artifact.ErrInvalidArtifact, err)
	}
	return cfg, nil
}

func dequantize(stored map[string]nn.TensorWithShape, q artifact.Quantization) (map[string][]float32, error) {
	values := make(map[string][]float32, len(stored))
	for name, t := range stored {
		values[name] = t.Values
	}
	for _, name := range q.Scaled {
		t, ok := stored[name]
		if !ok || len(t.Shape) != 2 {
			return nil, fmt.Errorf("%w: scaled tensor %s missing", artifact.ErrInvalidArtifact, name)
		}
		scales, ok := stored[name+".scale"]
		if !ok || len(scales.Values) != t.Shape[0] {
			return nil, fmt.Errorf("%w: scales for %s missing", artifact.ErrInvalidArtifact, name)
		}
		cols := t.Shape[1]
		out := make([]float32, len(t.Values))
		for i, v := range t.Values {
			out[i] = v * scales.Values[i/cols]
		}
		values[name] = out
	}
	return values, nil
}

// Header returns the artifact metadata.
func (c *Classifier) Header() *artifact.Header { return c.header }

// InputSize is the number of bytes the model looks at.
func (c *Classifier) InputSize() int { return c.inputSize }

// Run scores raw bytes as-is: no percent-decoding is applied. Longer input
// is cut to InputSize, shorter input is zero padded on the left.
func (c *Classifier) Run(buf []byte) (float32, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyInput
	}
	return c.Score(querystring.Encode(buf, c.inputSize))
}

// RunQuery percent-decodes text before scoring it.
func (c *Classifier) RunQuery(text string) (float32, error) {
	seq, err := querystring.EncodeQuery(text, c.inputSize)
	if err != nil {
		return 0, err
	}
	return c.Score(seq)
}

// Score evaluates an already encoded sequence of InputSize byte values.
func (c *Classifier) Score(seq []float32) (float32, error) {
	return model.Predict(c.params, seq)
}
