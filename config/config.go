package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snort3/libml/dataset"
	"github.com/snort3/libml/export"
	"github.com/snort3/libml/model"
	"github.com/snort3/libml/trainer"
)

// Data source kinds.
const (
	SourceStatic   = "static"
	SourceJSONL    = "jsonl"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
)

// Log controls the process logger.
type Log struct {
	Level    string `yaml:"level"`    // debug, info, warn, error
	Encoding string `yaml:"encoding"` // console or json
	File     string `yaml:"file"`     // optional rotating file sink
	MaxSize  int    `yaml:"max_size_mb"`
	MaxAge   int    `yaml:"max_age_days"`
}

// Data selects where labeled examples come from.
type Data struct {
	Source   string           `yaml:"source"`
	Path     string           `yaml:"path"` // jsonl file
	DSN      string           `yaml:"dsn"`  // sqlite path or postgres URL
	Table    string           `yaml:"table"`
	Examples []dataset.Record `yaml:"examples"` // static source
}

// Export controls where and how the artifact is written.
type Export struct {
	SavedModelDir string  `yaml:"saved_model_dir"`
	Output        string  `yaml:"output"`
	Quantization  string  `yaml:"quantization"`
	Tolerance     float64 `yaml:"tolerance"`
}

// Metrics controls the optional Prometheus textfile written after training.
type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// Config holds the whole pipeline configuration.
type Config struct {
	Log     Log            `yaml:"log"`
	Data    Data           `yaml:"data"`
	Model   model.Config   `yaml:"model"`
	Train   trainer.Config `yaml:"train"`
	Export  Export         `yaml:"export"`
	Metrics Metrics        `yaml:"metrics"`
}

// Default returns the configuration used when no file is given: the two
// built-in examples, production widths, and classifier.model as output.
func Default() *Config {
	c := defaults()
	c.applyDefaults()
	return c
}

func defaults() *Config {
	return &Config{
		Log:   Log{Level: "info", Encoding: "console", MaxSize: 100, MaxAge: 30},
		Data:  Data{Source: SourceStatic, Table: "examples"},
		Model: model.DefaultConfig(),
		Train: trainer.DefaultConfig(),
		Export: Export{
			SavedModelDir: "model",
			Output:        "classifier.model",
			Quantization:  export.QuantizeInt8,
			Tolerance:     export.DefaultTolerance,
		},
	}
}

// LoadConfig loads configuration from a YAML file. The file is decoded over
// the defaults, so a key that is present keeps its value even when it is
// zero (seed: 0 stays 0) and only absent keys take the default.
func LoadConfig(configPath string) (*Config, error) {
	config := defaults()

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	config.Data.DSN = os.ExpandEnv(config.Data.DSN)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills the fields that are empty after decoding: the static
// source falls back to the built-in examples.
func (c *Config) applyDefaults() {
	if c.Data.Source == SourceStatic && len(c.Data.Examples) == 0 {
		c.Data.Examples = append([]dataset.Record(nil), dataset.DefaultRecords...)
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Encoding {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log encoding %q", c.Log.Encoding)
	}

	switch c.Data.Source {
	case SourceStatic:
	case SourceJSONL:
		if c.Data.Path == "" {
			return fmt.Errorf("config: data.path required for jsonl source")
		}
	case SourceSQLite, SourcePostgres:
		if c.Data.DSN == "" {
			return fmt.Errorf("config: data.dsn required for %s source", c.Data.Source)
		}
	default:
		return fmt.Errorf("config: unknown data source %q", c.Data.Source)
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Train.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !export.ValidQuantization(c.Export.Quantization) {
		return fmt.Errorf("config: unknown quantization %q", c.Export.Quantization)
	}
	if !(c.Export.Tolerance > 0) {
		return fmt.Errorf("config: export.tolerance must be positive, got %v", c.Export.Tolerance)
	}
	if c.Export.Output == "" {
		return fmt.Errorf("config: export.output required")
	}
	return nil
}
