package model

import (
	"math"

	nn "github.com/openfluke/loom/nn"
)

// probEpsilon bounds probabilities away from 0 and 1 inside the loss.
const probEpsilon = 1e-7

// Loss is the binary cross-entropy of prob against a 0/1 label.
func Loss(prob, label float32) float64 {
	p := math.Min(math.Max(float64(prob), probEpsilon), 1-probEpsilon)
	y := float64(label)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// Gradients mirrors Params.Tensors: entry i is the gradient of entry i.
type Gradients []Tensor

// Backward returns the cross-entropy gradient of every parameter for the
// example recorded in tr.
func Backward(p *Params, tr *Trace, label float32) Gradients {
	cfg := p.cfg
	h := cfg.Hidden

	// d(loss)/d(logit) for sigmoid + cross-entropy.
	dz := float64(tr.Prob) - float64(label)

	dw := nn.NewTensor[float32](1, h)
	db := nn.NewTensor[float32](1)
	db.Data[0] = float32(dz)

	// Only the last timestep feeds the head.
	gradOut := nn.NewTensor[float32](cfg.MaxLen * h)
	lastStep := (cfg.MaxLen - 1) * h
	for j := 0; j < h; j++ {
		dw.Data[j] = float32(dz * float64(tr.Summary[j]))
		gradOut.Data[lastStep+j] = float32(dz * float64(p.DenseW.Data[j]))
	}

	gradEmb, gradLSTM := nn.LSTMBackward(gradOut, tr.emb, tr.states, p.LSTM, 1, cfg.MaxLen, cfg.EmbeddingDim, h)
	gradTable := nn.EmbeddingBackward(gradEmb, tr.tokens, VocabSize, cfg.EmbeddingDim)

	return Gradients(tensorsOf(cfg, gradTable, gradLSTM, dw, db))
}
