// Package model holds the query classifier: a byte embedding feeding an LSTM
// whose final hidden state goes through a single sigmoid unit.
//
// The recurrence and the embedding lookup run on the loom nn kernels; the
// classification head and the loss live here.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	nn "github.com/openfluke/loom/nn"
)

// VocabSize is the number of distinct input tokens (one per byte value).
const VocabSize = 256

// Config fixes the layer widths and the initialization seed.
type Config struct {
	MaxLen       int   `yaml:"maxlen" json:"maxlen"`
	EmbeddingDim int   `yaml:"embedding_dim" json:"embedding_dim"`
	Hidden       int   `yaml:"hidden" json:"hidden"`
	Seed         int64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the production widths: 1024 input bytes, 32-wide
// embeddings and 16 recurrent units.
func DefaultConfig() Config {
	return Config{MaxLen: 1024, EmbeddingDim: 32, Hidden: 16, Seed: 1}
}

// Validate reports the first non-positive width.
func (c Config) Validate() error {
	switch {
	case c.MaxLen <= 0:
		return fmt.Errorf("model: maxlen must be positive, got %d", c.MaxLen)
	case c.EmbeddingDim <= 0:
		return fmt.Errorf("model: embedding_dim must be positive, got %d", c.EmbeddingDim)
	case c.Hidden <= 0:
		return fmt.Errorf("model: hidden must be positive, got %d", c.Hidden)
	}
	return nil
}

// Params is the full set of trainable weights.
type Params struct {
	cfg Config

	Embedding *nn.Tensor[float32] // [VocabSize, EmbeddingDim]
	LSTM      *nn.LSTMWeights[float32]
	DenseW    *nn.Tensor[float32] // [1, Hidden]
	DenseB    *nn.Tensor[float32] // [1]
}

// Config returns the configuration the params were built for.
func (p *Params) Config() Config { return p.cfg }

// New builds freshly initialized params. The same seed always yields the
// same weights.
func New(cfg Config) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	p := alloc(cfg)

	// Embeddings: uniform in [-0.05, 0.05].
	for i := range p.Embedding.Data {
		p.Embedding.Data[i] = float32(rng.Float64()*0.1 - 0.05)
	}

	// Glorot normal, forget gate biased open.
	stdIH := math.Sqrt(2.0 / float64(cfg.EmbeddingDim+cfg.Hidden))
	stdHH := math.Sqrt(2.0 / float64(cfg.Hidden+cfg.Hidden))
	for _, g := range p.gates() {
		for i := range g.ih.Data {
			g.ih.Data[i] = float32(rng.NormFloat64() * stdIH)
		}
		for i := range g.hh.Data {
			g.hh.Data[i] = float32(rng.NormFloat64() * stdHH)
		}
	}
	for i := range p.LSTM.BiasH_f.Data {
		p.LSTM.BiasH_f.Data[i] = 1.0
	}

	limit := math.Sqrt(6.0 / float64(cfg.Hidden+1))
	for i := range p.DenseW.Data {
		p.DenseW.Data[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	return p, nil
}

func alloc(cfg Config) *Params {
	h, in := cfg.Hidden, cfg.EmbeddingDim
	return &Params{
		cfg:       cfg,
		Embedding: nn.NewTensor[float32](VocabSize, in),
		LSTM: &nn.LSTMWeights[float32]{
			WeightIH_i: nn.NewTensor[float32](h, in), WeightHH_i: nn.NewTensor[float32](h, h), BiasH_i: nn.NewTensor[float32](h),
			WeightIH_f: nn.NewTensor[float32](h, in), WeightHH_f: nn.NewTensor[float32](h, h), BiasH_f: nn.NewTensor[float32](h),
			WeightIH_g: nn.NewTensor[float32](h, in), WeightHH_g: nn.NewTensor[float32](h, h), BiasH_g: nn.NewTensor[float32](h),
			WeightIH_o: nn.NewTensor[float32](h, in), WeightHH_o: nn.NewTensor[float32](h, h), BiasH_o: nn.NewTensor[float32](h),
		},
		DenseW: nn.NewTensor[float32](1, h),
		DenseB: nn.NewTensor[float32](1),
	}
}

type gate struct {
	name       string
	ih, hh, bh *nn.Tensor[float32]
}

func gatesOf(w *nn.LSTMWeights[float32]) []gate {
	return []gate{
		{"i", w.WeightIH_i, w.WeightHH_i, w.BiasH_i},
		{"f", w.WeightIH_f, w.WeightHH_f, w.BiasH_f},
		{"g", w.WeightIH_g, w.WeightHH_g, w.BiasH_g},
		{"o", w.WeightIH_o, w.WeightHH_o, w.BiasH_o},
	}
}

func (p *Params) gates() []gate { return gatesOf(p.LSTM) }

// Tensor is a named view onto one parameter array. Data aliases the params.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// Tensors lists every parameter in a fixed order. The names follow the
// layers.<index>.<field> convention of loom safetensors files.
func (p *Params) Tensors() []Tensor {
	return tensorsOf(p.cfg, p.Embedding, p.LSTM, p.DenseW, p.DenseB)
}

func tensorsOf(cfg Config, emb *nn.Tensor[float32], w *nn.LSTMWeights[float32], dw, db *nn.Tensor[float32]) []Tensor {
	h, in := cfg.Hidden, cfg.EmbeddingDim
	out := []Tensor{{Name: "layers.0.weight", Shape: []int{VocabSize, in}, Data: emb.Data}}
	for _, g := range gatesOf(w) {
		out = append(out,
			Tensor{Name: "layers.1.weight_ih_" + g.name, Shape: []int{h, in}, Data: g.ih.Data},
			Tensor{Name: "layers.1.weight_hh_" + g.name, Shape: []int{h, h}, Data: g.hh.Data},
			Tensor{Name: "layers.1.bias_" + g.name, Shape: []int{h}, Data: g.bh.Data},
		)
	}
	return append(out,
		Tensor{Name: "layers.2.weight", Shape: []int{1, h}, Data: dw.Data},
		Tensor{Name: "layers.2.bias", Shape: []int{1}, Data: db.Data},
	)
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	c := alloc(p.cfg)
	src := p.Tensors()
	for i, t := range c.Tensors() {
		copy(t.Data, src[i].Data)
	}
	return c
}

// FromTensors rebuilds params from named arrays, as produced by Tensors.
// Every expected name must be present with the right element count.
func FromTensors(cfg Config, values map[string][]float32) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := alloc(cfg)
	for _, t := range p.Tensors() {
		v, ok := values[t.Name]
		if !ok {
			return nil, fmt.Errorf("model: missing tensor %s", t.Name)
		}
		if len(v) != len(t.Data) {
			return nil, fmt.Errorf("model: tensor %s has %d values, want %d", t.Name, len(v), len(t.Data))
		}
		copy(t.Data, v)
	}
	return p, nil
}

// ErrInputShape is returned when a sequence does not match Config.MaxLen.
var ErrInputShape = errors.New("model: input length does not match maxlen")

// Trace keeps the intermediate values of one forward pass for Backward.
type Trace struct {
	tokens  *nn.Tensor[float32]
	emb     *nn.Tensor[float32]
	states  map[string]*nn.Tensor[float32]
	Summary []float32 // final hidden state
	Logit   float32
	Prob    float32
}

// Forward evaluates one sequence and records what Backward needs.
func Forward(p *Params, seq []float32) (*Trace, error) {
	cfg := p.cfg
	if len(seq) != cfg.MaxLen {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInputShape, len(seq), cfg.MaxLen)
	}
	tokens := nn.NewTensorFromSlice(seq, cfg.MaxLen)
	emb := nn.EmbeddingForward(tokens, p.Embedding, VocabSize, cfg.EmbeddingDim)
	_, hidden, cell, gates := nn.LSTMForward(emb, p.LSTM, 1, cfg.MaxLen, cfg.EmbeddingDim, cfg.Hidden)

	last := hidden.Data[cfg.MaxLen*cfg.Hidden : (cfg.MaxLen+1)*cfg.Hidden]
	z := float64(p.DenseB.Data[0])
	for j, h := range last {
		z += float64(p.DenseW.Data[j]) * float64(h)
	}

	gates["hidden"] = hidden
	gates["cell"] = cell
	return &Trace{
		tokens:  tokens,
		emb:     emb,
		states:  gates,
		Summary: last,
		Logit:   float32(z),
		Prob:    float32(sigmoid(z)),
	}, nil
}

// Predict returns the attack probability for one encoded sequence.
func Predict(p *Params, seq []float32) (float32, error) {
	tr, err := Forward(p, seq)
	if err != nil {
		return 0, err
	}
	return tr.Prob, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
