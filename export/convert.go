package export

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	nn "github.com/openfluke/loom/nn"

	"github.com/snort3/libml/artifact"
)

// Quantization modes accepted by Convert.
const (
	QuantizeInt8    = "int8"
	QuantizeFloat16 = "float16"
	QuantizeFloat32 = "float32"
)

// ValidQuantization reports whether mode is one Convert understands.
func ValidQuantization(mode string) bool {
	switch mode {
	case QuantizeInt8, QuantizeFloat16, QuantizeFloat32:
		return true
	}
	return false
}

// Convert turns a saved model into artifact bytes. It reads nothing but sm,
// so the artifact describes exactly what was saved.
//
// int8 stores every matrix as signed bytes with one float32 scale per row
// (symmetric, max-abs); vectors stay float32. float16 halves every tensor.
func Convert(sm *SavedModel, mode string) ([]byte, *artifact.Header, error) {
	if !ValidQuantization(mode) {
		return nil, nil, fmt.Errorf("unknown quantization mode %q", mode)
	}
	if err := CheckSignature(sm.Signature, sm.Graph); err != nil {
		return nil, nil, err
	}

	q := artifact.Quantization{Mode: mode}
	out := make(map[string]nn.TensorWithShape, len(sm.Variables))
	for _, v := range sm.Variables {
		t := sm.Values[v.Name]
		switch {
		case mode == QuantizeInt8 && len(t.Shape) == 2:
			values, scales := quantizeRows(t.Values, t.Shape[0], t.Shape[1])
			out[v.Name] = nn.TensorWithShape{Values: values, Shape: t.Shape, DType: "I8"}
			out[v.Name+".scale"] = nn.TensorWithShape{Values: scales, Shape: []int{t.Shape[0]}, DType: "F32"}
			q.Scaled = append(q.Scaled, v.Name)
		case mode == QuantizeFloat16:
			out[v.Name] = nn.TensorWithShape{Values: t.Values, Shape: t.Shape, DType: "F16"}
		default:
			out[v.Name] = nn.TensorWithShape{Values: t.Values, Shape: t.Shape, DType: "F32"}
		}
	}

	blob, err := nn.SerializeSafetensors(out)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize weights: %w", err)
	}
	h := &artifact.Header{
		Version:      artifact.Version,
		RunID:        uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		Signature:    sm.Signature,
		Graph:        sm.Graph,
		Quantization: q,
	}
	data, err := artifact.Encode(h, blob)
	if err != nil {
		return nil, nil, err
	}
	return data, h, nil
}

// quantizeRows maps each row onto [-127, 127]. The returned values are
// already whole numbers so the I8 writer stores them exactly.
func quantizeRows(values []float32, rows, cols int) (q, scales []float32) {
	q = make([]float32, len(values))
	scales = make([]float32, rows)
	for r := 0; r < rows; r++ {
		row := values[r*cols : (r+1)*cols]
		var maxAbs float64
		for _, v := range row {
			maxAbs = math.Max(maxAbs, math.Abs(float64(v)))
		}
		scale := maxAbs / 127
		if scale == 0 {
			scale = 1
		}
		scales[r] = float32(scale)
		for c, v := range row {
			x := math.Round(float64(v) / scale)
			q[r*cols+c] = float32(math.Max(-127, math.Min(127, x)))
		}
	}
	return q, scales
}
