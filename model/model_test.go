package model

import (
	"errors"
	"math"
	"testing"
)

func tinyConfig() Config {
	return Config{MaxLen: 6, EmbeddingDim: 4, Hidden: 3, Seed: 7}
}

func tinySeq() []float32 {
	return []float32{0, 0, 'a', '=', '1', '\''}
}

func TestNewDeterministic(t *testing.T) {
	a, err := New(tinyConfig())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := New(tinyConfig())
	ta, tb := a.Tensors(), b.Tensors()
	for i := range ta {
		for j := range ta[i].Data {
			if ta[i].Data[j] != tb[i].Data[j] {
				t.Fatalf("%s[%d] differs between equal seeds", ta[i].Name, j)
			}
		}
	}

	cfg := tinyConfig()
	cfg.Seed = 8
	c, _ := New(cfg)
	if c.Embedding.Data[0] == a.Embedding.Data[0] && c.DenseW.Data[0] == a.DenseW.Data[0] {
		t.Error("different seeds produced identical weights")
	}
	for _, v := range a.LSTM.BiasH_f.Data {
		if v != 1 {
			t.Errorf("forget bias = %v, want 1", v)
		}
	}
}

func TestTensorsShapes(t *testing.T) {
	p, _ := New(DefaultConfig())
	tensors := p.Tensors()
	if len(tensors) != 15 {
		t.Fatalf("got %d tensors, want 15", len(tensors))
	}
	seen := map[string]bool{}
	for _, ts := range tensors {
		n := 1
		for _, d := range ts.Shape {
			n *= d
		}
		if n != len(ts.Data) {
			t.Errorf("%s: shape %v does not match %d values", ts.Name, ts.Shape, len(ts.Data))
		}
		if seen[ts.Name] {
			t.Errorf("duplicate name %s", ts.Name)
		}
		seen[ts.Name] = true
	}
	if tensors[0].Name != "layers.0.weight" || tensors[0].Shape[0] != VocabSize || tensors[0].Shape[1] != 32 {
		t.Errorf("embedding tensor = %s %v", tensors[0].Name, tensors[0].Shape)
	}
}

func TestPredictRange(t *testing.T) {
	p, _ := New(tinyConfig())
	prob, err := Predict(p, tinySeq())
	if err != nil {
		t.Fatal(err)
	}
	if prob < 0 || prob > 1 || math.IsNaN(float64(prob)) {
		t.Errorf("prob = %v", prob)
	}
	again, _ := Predict(p, tinySeq())
	if again != prob {
		t.Errorf("Predict not pure: %v then %v", prob, again)
	}
	if _, err := Predict(p, make([]float32, 5)); !errors.Is(err, ErrInputShape) {
		t.Errorf("short input: err = %v", err)
	}
}

func TestCloneAndFromTensors(t *testing.T) {
	p, _ := New(tinyConfig())
	c := p.Clone()
	c.DenseB.Data[0] = 42
	if p.DenseB.Data[0] == 42 {
		t.Fatal("Clone shares storage")
	}

	values := map[string][]float32{}
	for _, ts := range p.Tensors() {
		values[ts.Name] = ts.Data
	}
	r, err := FromTensors(tinyConfig(), values)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := Predict(p, tinySeq())
	b, _ := Predict(r, tinySeq())
	if a != b {
		t.Errorf("rebuilt params predict %v, want %v", b, a)
	}

	delete(values, "layers.2.bias")
	if _, err := FromTensors(tinyConfig(), values); err == nil {
		t.Error("expected missing tensor error")
	}
}

func TestLoss(t *testing.T) {
	if l := Loss(1, 1); l > 1e-6 {
		t.Errorf("Loss(1,1) = %v", l)
	}
	if l := Loss(0, 1); math.IsInf(l, 0) || l < 10 {
		t.Errorf("Loss(0,1) = %v, want large finite", l)
	}
	if l := Loss(0.5, 0); math.Abs(l-math.Ln2) > 1e-6 {
		t.Errorf("Loss(0.5,0) = %v", l)
	}
}

// Compares analytic gradients against central differences for a sample of
// parameters from every layer.
func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	p, _ := New(tinyConfig())
	seq := tinySeq()
	const label = 1

	tr, err := Forward(p, seq)
	if err != nil {
		t.Fatal(err)
	}
	grads := Backward(p, tr, label)
	params := p.Tensors()
	if len(grads) != len(params) {
		t.Fatalf("got %d gradients for %d params", len(grads), len(params))
	}

	loss := func() float64 {
		prob, _ := Predict(p, seq)
		return Loss(prob, label)
	}
	check := func(ti, idx int) {
		data := params[ti].Data
		orig := data[idx]
		const eps = 1e-2
		data[idx] = orig + eps
		up := loss()
		data[idx] = orig - eps
		down := loss()
		data[idx] = orig
		numeric := (up - down) / (2 * eps)
		analytic := float64(grads[ti].Data[idx])
		if math.Abs(numeric-analytic) > 2e-3+0.05*math.Abs(numeric) {
			t.Errorf("%s[%d]: analytic %.6f, numeric %.6f", params[ti].Name, idx, analytic, numeric)
		}
	}

	// Embedding row of 'a' (token 97) and of the padding token.
	check(0, 97*4)
	check(0, 0*4+1)
	for ti := 1; ti < len(params); ti++ {
		check(ti, 0)
		check(ti, len(params[ti].Data)-1)
	}

	// Tokens absent from the input get no gradient.
	for j := 0; j < 4; j++ {
		if g := grads[0].Data[200*4+j]; g != 0 {
			t.Errorf("unused token 200 has gradient %v", g)
		}
	}
}
