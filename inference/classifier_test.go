package inference

import (
	"errors"
	"strings"
	"testing"

	nn "github.com/openfluke/loom/nn"

	"github.com/snort3/libml/artifact"
	"github.com/snort3/libml/model"
	"github.com/snort3/libml/querystring"
)

const testMaxLen = 12

// buildArtifact packs p as a float32 artifact without going through the
// exporter.
func buildArtifact(t *testing.T, p *model.Params, edit func(*artifact.Header)) []byte {
	t.Helper()
	cfg := p.Config()
	tensors := map[string]nn.TensorWithShape{}
	for _, ts := range p.Tensors() {
		tensors[ts.Name] = nn.TensorWithShape{Values: ts.Data, Shape: ts.Shape, DType: "F32"}
	}
	blob, err := nn.SerializeSafetensors(tensors)
	if err != nil {
		t.Fatal(err)
	}
	h := &artifact.Header{
		Version: artifact.Version,
		Signature: artifact.Signature{
			Name:    "serve",
			Inputs:  []artifact.TensorSpec{{Name: "inputs", Shape: []int{1, cfg.MaxLen}, DType: "float32"}},
			Outputs: []artifact.TensorSpec{{Name: "output_0", Shape: []int{1, 1}, DType: "float32"}},
		},
		Graph: artifact.Graph{MaxLen: cfg.MaxLen, Layers: []artifact.Layer{
			{Op: "embedding", Prefix: "layers.0", Units: cfg.EmbeddingDim, InputDim: model.VocabSize},
			{Op: "lstm", Prefix: "layers.1", Units: cfg.Hidden, InputDim: cfg.EmbeddingDim},
			{Op: "dense", Prefix: "layers.2", Units: 1, InputDim: cfg.Hidden, Activation: "sigmoid"},
		}},
		Quantization: artifact.Quantization{Mode: "float32"},
	}
	if edit != nil {
		edit(h)
	}
	data, err := artifact.Encode(h, blob)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newParams(t *testing.T) *model.Params {
	t.Helper()
	p, err := model.New(model.Config{MaxLen: testMaxLen, EmbeddingDim: 6, Hidden: 5, Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadAndRun(t *testing.T) {
	p := newParams(t)
	c, err := Load(buildArtifact(t, p, nil))
	if err != nil {
		t.Fatal(err)
	}
	if c.InputSize() != testMaxLen {
		t.Fatalf("input size = %d", c.InputSize())
	}

	got, err := c.Run([]byte("foo=1"))
	if err != nil {
		t.Fatal(err)
	}
	want, _ := model.Predict(p, querystring.Encode([]byte("foo=1"), testMaxLen))
	if got != want {
		t.Errorf("Run = %v, want %v", got, want)
	}

	if _, err := c.Run(nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("empty input err = %v", err)
	}
}

func TestRunTruncatesAndSkipsDecoding(t *testing.T) {
	c, err := Load(buildArtifact(t, newParams(t), nil))
	if err != nil {
		t.Fatal(err)
	}

	long := []byte(strings.Repeat("a", testMaxLen) + "tail that is ignored")
	a, _ := c.Run(long)
	b, _ := c.Run(long[:testMaxLen])
	if a != b {
		t.Errorf("bytes past the input size changed the score: %v vs %v", a, b)
	}

	raw, _ := c.Run([]byte("a%27b"))
	decoded, err := c.RunQuery("a%27b")
	if err != nil {
		t.Fatal(err)
	}
	direct, _ := c.Run([]byte("a'b"))
	if decoded != direct {
		t.Errorf("RunQuery = %v, Run(decoded) = %v", decoded, direct)
	}
	if raw == decoded {
		t.Errorf("Run should not decode escapes")
	}

	if _, err := c.RunQuery("a%2"); !errors.Is(err, querystring.ErrMalformedEncoding) {
		t.Errorf("malformed err = %v", err)
	}
}

func TestLoadRejectsBadContracts(t *testing.T) {
	p := newParams(t)
	cases := map[string]func(*artifact.Header){
		"two inputs": func(h *artifact.Header) {
			h.Signature.Inputs = append(h.Signature.Inputs, h.Signature.Inputs[0])
		},
		"int input": func(h *artifact.Header) { h.Signature.Inputs[0].DType = "int8" },
		"wide output": func(h *artifact.Header) {
			h.Signature.Outputs[0].Shape = []int{1, 2}
		},
		"empty input": func(h *artifact.Header) { h.Signature.Inputs[0].Shape = []int{1, 0} },
		"size mismatch": func(h *artifact.Header) {
			h.Signature.Inputs[0].Shape = []int{1, testMaxLen + 1}
		},
		"graph": func(h *artifact.Header) { h.Graph.Layers = h.Graph.Layers[:2] },
		"missing scales": func(h *artifact.Header) {
			h.Quantization.Scaled = []string{"layers.0.weight"}
		},
	}
	for name, edit := range cases {
		if _, err := Load(buildArtifact(t, p, edit)); !errors.Is(err, artifact.ErrInvalidArtifact) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if _, err := Load([]byte("not an artifact")); !errors.Is(err, artifact.ErrInvalidArtifact) {
		t.Errorf("garbage: err = %v", err)
	}
}

func TestDequantize(t *testing.T) {
	stored := map[string]nn.TensorWithShape{
		"w":       {Values: []float32{2, -4, 1, 127}, Shape: []int{2, 2}, DType: "I8"},
		"w.scale": {Values: []float32{0.5, 0.01}, Shape: []int{2}, DType: "F32"},
		"b":       {Values: []float32{0.3}, Shape: []int{1}, DType: "F32"},
	}
	values, err := dequantize(stored, artifact.Quantization{Mode: "int8", Scaled: []string{"w"}})
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{1, -2, 0.01, 1.27}
	for i, w := range want {
		if d := values["w"][i] - w; d > 1e-6 || d < -1e-6 {
			t.Errorf("w[%d] = %v, want %v", i, values["w"][i], w)
		}
	}
	if values["b"][0] != 0.3 {
		t.Errorf("b = %v", values["b"])
	}
}
