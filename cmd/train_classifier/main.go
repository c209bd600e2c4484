// Command train_classifier trains the query classifier and writes the
// quantized artifact.
//
//	train_classifier [-config configs/train.yml] [-import examples.jsonl]
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/snort3/libml"
	"github.com/snort3/libml/config"
	"github.com/snort3/libml/dataset"
	"github.com/snort3/libml/logging"
	"github.com/snort3/libml/pipeline"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (built-in defaults when empty)")
	importPath := flag.String("import", "", "append examples from a JSONL file to the configured SQL table, then train")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting train_classifier", zap.String("version", libml.Version))

	if *importPath != "" {
		if err := importExamples(cfg.Data, *importPath, logger); err != nil {
			logger.Fatal("Failed to import examples", zap.Error(err))
		}
	}

	rep, err := pipeline.Run(cfg, logger)
	if err != nil {
		logger.Fatal("Training pipeline failed", zap.Error(err))
	}
	final := rep.Training.Final()
	logger.Info("Done",
		zap.Int("examples", rep.Examples),
		zap.Float64("loss", final.Loss),
		zap.Float64("accuracy", final.Accuracy),
		zap.String("artifact", rep.Export.Path),
		zap.Int("bytes", rep.Export.Bytes),
		zap.String("run_id", rep.Export.RunID),
	)
}

func importExamples(cfg config.Data, path string, logger *zap.Logger) error {
	if cfg.Source != config.SourceSQLite && cfg.Source != config.SourcePostgres {
		return fmt.Errorf("-import needs a sqlite or postgres data source, have %q", cfg.Source)
	}
	examples, err := dataset.JSONLSource{Path: path}.Load()
	if err != nil {
		return err
	}
	store, err := dataset.OpenSQLStore(cfg.Source, cfg.DSN, cfg.Table, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(examples)
}
