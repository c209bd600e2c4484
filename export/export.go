package export

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	nn "github.com/openfluke/loom/nn"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/snort3/libml/inference"
	"github.com/snort3/libml/model"
)

// DefaultTolerance bounds how far a quantized artifact may drift from the
// in-memory model on any sample.
const DefaultTolerance = 0.05

// Options configures Export.
type Options struct {
	MaxLen        int
	OutputPath    string
	SavedModelDir string // empty: a temporary directory removed afterwards
	Quantization  string
	Tolerance     float64 // zero selects DefaultTolerance
	// Samples are encoded sequences used to compare the artifact with the
	// in-memory model before anything is written to OutputPath.
	Samples [][]float32
	Logger  *zap.Logger
}

// Report describes a written artifact.
type Report struct {
	Path          string
	SavedModelDir string
	RunID         string
	Bytes         int
	Samples       int
	MaxDeviation  float64
	Score         float64 // loom deviation score, 0-100
}

// ParityError reports an artifact whose outputs drift past the tolerance.
type ParityError struct {
	Index     int
	Want, Got float32
	Tolerance float64
}

func (e *ParityError) Error() string {
	return fmt.Sprintf("artifact output %v differs from model output %v on sample %d (tolerance %v)", e.Got, e.Want, e.Index, e.Tolerance)
}

// ErrNonFinite is returned when the weights or the outputs being exported
// contain NaN or infinity.
var ErrNonFinite = errors.New("non-finite value in exported model")

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func checkWeights(p *model.Params) error {
	for _, t := range p.Tensors() {
		for i, v := range t.Data {
			if !finite(float64(v)) {
				return fmt.Errorf("%w: %s[%d] = %v", ErrNonFinite, t.Name, i, v)
			}
		}
	}
	return nil
}

// Export freezes p, writes the saved model, converts it and writes the
// artifact to opts.OutputPath. The artifact file only appears once every
// step has succeeded.
func Export(p *model.Params, opts Options) (rep *Report, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Quantization == "" {
		opts.Quantization = QuantizeInt8
	}
	if opts.Tolerance == 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("export: output path required")
	}

	frozen, err := Freeze(p, opts.MaxLen)
	if err != nil {
		return nil, err
	}
	if err := checkWeights(p); err != nil {
		return nil, err
	}

	dir := opts.SavedModelDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "libml-saved-model-")
		if err != nil {
			return nil, err
		}
		defer func() { err = multierr.Append(err, os.RemoveAll(dir)) }()
	}
	if err := WriteSavedModel(dir, frozen); err != nil {
		return nil, err
	}
	logger.Info("Saved model written", zap.String("dir", dir))

	sm, err := LoadSavedModel(dir)
	if err != nil {
		return nil, err
	}
	data, header, err := Convert(sm, opts.Quantization)
	if err != nil {
		return nil, err
	}

	rep = &Report{
		Path:          opts.OutputPath,
		SavedModelDir: opts.SavedModelDir,
		RunID:         header.RunID,
		Bytes:         len(data),
	}
	if len(opts.Samples) > 0 {
		if err := verify(data, frozen, opts.Samples, opts.Tolerance, rep); err != nil {
			return nil, err
		}
		logger.Info("Artifact parity checked",
			zap.Int("samples", rep.Samples),
			zap.Float64("max_deviation", rep.MaxDeviation),
			zap.Float64("score", rep.Score),
		)
	}

	if err := writeAtomic(opts.OutputPath, data); err != nil {
		return nil, err
	}
	logger.Info("Artifact written",
		zap.String("path", opts.OutputPath),
		zap.String("run_id", rep.RunID),
		zap.String("quantization", opts.Quantization),
		zap.Int("bytes", rep.Bytes),
	)
	return rep, nil
}

func verify(data []byte, frozen *Frozen, samples [][]float32, tol float64, rep *Report) error {
	c, err := inference.Load(data)
	if err != nil {
		return fmt.Errorf("reload artifact: %w", err)
	}
	expected := make([]float64, len(samples))
	actual := make([]float64, len(samples))
	for i, seq := range samples {
		want, err := frozen.Predict(seq)
		if err != nil {
			return err
		}
		got, err := c.Score(seq)
		if err != nil {
			return err
		}
		expected[i], actual[i] = float64(want), float64(got)
		if !finite(expected[i]) || !finite(actual[i]) {
			return fmt.Errorf("%w: sample %d: model %v, artifact %v", ErrNonFinite, i, want, got)
		}
		d := math.Abs(expected[i] - actual[i])
		if d > rep.MaxDeviation {
			rep.MaxDeviation = d
		}
		if !(d <= tol) {
			return &ParityError{Index: i, Want: want, Got: got, Tolerance: tol}
		}
	}
	metrics, err := nn.EvaluateModel(expected, actual)
	if err != nil {
		return err
	}
	rep.Samples = len(samples)
	rep.Score = metrics.Score
	return nil
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return multierr.Append(err, tmp.Close())
	}
	if err = tmp.Sync(); err != nil {
		return multierr.Append(err, tmp.Close())
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
