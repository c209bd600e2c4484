// Package pipeline wires the stages together: load examples, build the
// dataset, train, and export the artifact. Each stage runs once, in order,
// and the first failure stops the run.
package pipeline

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/snort3/libml/config"
	"github.com/snort3/libml/dataset"
	"github.com/snort3/libml/export"
	"github.com/snort3/libml/model"
	"github.com/snort3/libml/trainer"
)

// Report summarizes a completed run.
type Report struct {
	Examples int
	Training *trainer.Result
	Export   *export.Report
}

// LoadExamples reads the examples selected by cfg.
func LoadExamples(cfg config.Data, logger *zap.Logger) (examples []dataset.LabeledExample, err error) {
	switch cfg.Source {
	case config.SourceStatic:
		return dataset.StaticSource(cfg.Examples).Load()
	case config.SourceJSONL:
		return dataset.JSONLSource{Path: cfg.Path}.Load()
	case config.SourceSQLite, config.SourcePostgres:
		var store *dataset.SQLStore
		store, err = dataset.OpenSQLStore(cfg.Source, cfg.DSN, cfg.Table, logger)
		if err != nil {
			return nil, err
		}
		defer multierr.AppendInvoke(&err, multierr.Close(store))
		return store.Load()
	}
	return nil, fmt.Errorf("unknown data source %q", cfg.Source)
}

// Run executes the whole pipeline described by cfg.
func Run(cfg *config.Config, logger *zap.Logger) (*Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	examples, err := LoadExamples(cfg.Data, logger)
	if err != nil {
		return nil, fmt.Errorf("load examples: %w", err)
	}
	ds, err := dataset.Build(examples, cfg.Model.MaxLen)
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	logger.Info("Dataset built", zap.String("source", cfg.Data.Source), zap.Int("examples", ds.Len()), zap.Int("maxlen", ds.MaxLen))

	params, err := model.New(cfg.Model)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	tr, err := trainer.New(cfg.Train, logger, trainer.NewMetrics(reg))
	if err != nil {
		return nil, err
	}
	result, err := tr.Train(params, ds)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	final := result.Final()
	logger.Info("Training finished", zap.Float64("loss", final.Loss), zap.Float64("accuracy", final.Accuracy))

	if cfg.Metrics.Textfile != "" {
		if err := prometheus.WriteToTextfile(cfg.Metrics.Textfile, reg); err != nil {
			return nil, fmt.Errorf("write metrics: %w", err)
		}
	}

	rep, err := export.Export(params, export.Options{
		MaxLen:        cfg.Model.MaxLen,
		OutputPath:    cfg.Export.Output,
		SavedModelDir: cfg.Export.SavedModelDir,
		Quantization:  cfg.Export.Quantization,
		Tolerance:     cfg.Export.Tolerance,
		Samples:       ds.Inputs,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	return &Report{Examples: ds.Len(), Training: result, Export: rep}, nil
}
