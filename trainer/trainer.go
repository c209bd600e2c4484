// Package trainer fits model parameters to a dataset with binary
// cross-entropy and Adam, one example per update, in dataset order.
package trainer

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/snort3/libml/dataset"
	"github.com/snort3/libml/model"
)

// Config controls the training loop.
type Config struct {
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
}

// DefaultConfig is 100 epochs at batch size one with learning rate 0.001.
func DefaultConfig() Config {
	return Config{Epochs: 100, BatchSize: 1, LearningRate: 0.001}
}

// Validate rejects settings the loop cannot honor.
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("trainer: epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize != 1 {
		return fmt.Errorf("trainer: batch_size must be 1, got %d", c.BatchSize)
	}
	if !(c.LearningRate > 0) {
		return fmt.Errorf("trainer: learning_rate must be positive, got %v", c.LearningRate)
	}
	return nil
}

// EpochStats summarizes one pass over the dataset.
type EpochStats struct {
	Epoch    int
	Loss     float64 // mean per-example loss
	Accuracy float64
	Duration time.Duration
}

// Result is the per-epoch history of a finished run.
type Result struct {
	Epochs []EpochStats
}

// Final returns the stats of the last epoch.
func (r *Result) Final() EpochStats {
	if len(r.Epochs) == 0 {
		return EpochStats{}
	}
	return r.Epochs[len(r.Epochs)-1]
}

// Trainer runs the fit loop. The zero value of logger and metrics is
// allowed.
type Trainer struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
}

// New validates cfg and returns a Trainer.
func New(cfg Config, logger *zap.Logger, metrics *Metrics) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Train updates p in place. On a NaN or infinite loss or gradient it stops
// with a *NumericDivergenceError and p keeps the values it had before that
// step. Weights left non-finite by the last update are reported the same
// way.
func (tr *Trainer) Train(p *model.Params, ds *dataset.Dataset) (*Result, error) {
	if ds.Len() == 0 {
		return nil, fmt.Errorf("trainer: empty dataset")
	}
	if ds.MaxLen != p.Config().MaxLen {
		return nil, fmt.Errorf("trainer: dataset maxlen %d does not match model maxlen %d", ds.MaxLen, p.Config().MaxLen)
	}

	opt := NewAdam(tr.cfg.LearningRate)
	params := p.Tensors()
	res := &Result{Epochs: make([]EpochStats, 0, tr.cfg.Epochs)}

	tr.logger.Info("Training started",
		zap.Int("examples", ds.Len()),
		zap.Int("epochs", tr.cfg.Epochs),
		zap.Float64("learning_rate", tr.cfg.LearningRate),
	)

	for epoch := 1; epoch <= tr.cfg.Epochs; epoch++ {
		start := time.Now()
		var total float64
		correct := 0

		for i, seq := range ds.Inputs {
			label := ds.Labels[i]
			trace, err := model.Forward(p, seq)
			if err != nil {
				return nil, fmt.Errorf("epoch %d, example %d: %w", epoch, i, err)
			}
			loss := model.Loss(trace.Prob, label)
			if diverged(loss) || diverged(float64(trace.Logit)) {
				if !diverged(loss) {
					loss = float64(trace.Logit)
				}
				tr.logger.Error("Training diverged",
					zap.Int("epoch", epoch),
					zap.Int("example", i),
					zap.Float64("loss", loss),
				)
				return nil, &NumericDivergenceError{Epoch: epoch, Index: i, Loss: loss}
			}

			grads := model.Backward(p, trace, label)
			if name, ok := nonFinite(grads); ok {
				tr.logger.Error("Gradient diverged",
					zap.Int("epoch", epoch),
					zap.Int("example", i),
					zap.String("tensor", name),
				)
				return nil, &NumericDivergenceError{Epoch: epoch, Index: i, Loss: loss}
			}
			opt.Step()
			for k, t := range params {
				opt.Update(t.Name, t.Data, grads[k].Data)
			}

			total += loss
			if (trace.Prob >= 0.5) == (label >= 0.5) {
				correct++
			}
			if tr.metrics != nil {
				tr.metrics.Examples.Inc()
				tr.metrics.StepLoss.Observe(loss)
			}
		}

		stats := EpochStats{
			Epoch:    epoch,
			Loss:     total / float64(ds.Len()),
			Accuracy: float64(correct) / float64(ds.Len()),
			Duration: time.Since(start),
		}
		res.Epochs = append(res.Epochs, stats)
		if tr.metrics != nil {
			tr.metrics.Epoch.Set(float64(epoch))
			tr.metrics.EpochLoss.Set(stats.Loss)
			tr.metrics.EpochAccuracy.Set(stats.Accuracy)
		}
		tr.logger.Info("Epoch finished",
			zap.Int("epoch", epoch),
			zap.Int("epochs", tr.cfg.Epochs),
			zap.Float64("loss", stats.Loss),
			zap.Float64("accuracy", stats.Accuracy),
			zap.Duration("took", stats.Duration),
		)
	}

	// The last update is never followed by a forward pass, so check the
	// weights it produced directly.
	if name, ok := nonFinite(params); ok {
		last := res.Final()
		tr.logger.Error("Parameters diverged", zap.String("tensor", name))
		return nil, &NumericDivergenceError{Epoch: last.Epoch, Index: ds.Len() - 1, Loss: math.NaN()}
	}
	return res, nil
}

func nonFinite(tensors []model.Tensor) (string, bool) {
	for _, t := range tensors {
		for _, v := range t.Data {
			if diverged(float64(v)) {
				return t.Name, true
			}
		}
	}
	return "", false
}

func diverged(x float64) bool {
	return math.IsNaN(x) || math.IsInf(x, 0)
}
