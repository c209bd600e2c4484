package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	nn "github.com/openfluke/loom/nn"
	"go.uber.org/multierr"

	"github.com/snort3/libml/artifact"
)

const (
	savedModelFormat  = "libml.saved_model"
	savedModelVersion = 1

	manifestFile  = "saved_model.json"
	variablesFile = "variables.safetensors"
)

// VariableSpec names one stored weight array.
type VariableSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

type manifest struct {
	Format    string             `json:"format"`
	Version   int                `json:"version"`
	Signature artifact.Signature `json:"signature"`
	Graph     artifact.Graph     `json:"graph"`
	Variables []VariableSpec     `json:"variables"`
}

// SavedModel is the portable, full-precision form of a frozen model as read
// back from disk.
type SavedModel struct {
	Dir       string
	Signature artifact.Signature
	Graph     artifact.Graph
	Variables []VariableSpec // in model order
	Values    map[string]nn.TensorWithShape
}

// WriteSavedModel writes f to dir as a manifest plus a float32 safetensors
// file. dir is created if needed.
func WriteSavedModel(dir string, f *Frozen) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create saved model dir: %w", err)
	}

	m := manifest{
		Format:    savedModelFormat,
		Version:   savedModelVersion,
		Signature: f.Signature,
		Graph:     f.Graph,
	}
	tensors := make(map[string]nn.TensorWithShape)
	for _, t := range f.params.Tensors() {
		m.Variables = append(m.Variables, VariableSpec{Name: t.Name, Shape: t.Shape, DType: "F32"})
		tensors[t.Name] = nn.TensorWithShape{Values: t.Data, Shape: t.Shape, DType: "F32"}
	}

	if err := nn.SaveSafetensors(filepath.Join(dir, variablesFile), tensors); err != nil {
		return fmt.Errorf("write variables: %w", err)
	}

	mf, err := os.Create(filepath.Join(dir, manifestFile))
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(mf))

	enc := json.NewEncoder(mf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadSavedModel reads a directory written by WriteSavedModel and checks
// that every declared variable is present with its declared shape.
func LoadSavedModel(dir string) (*SavedModel, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Format != savedModelFormat || m.Version != savedModelVersion {
		return nil, fmt.Errorf("unsupported saved model %s v%d", m.Format, m.Version)
	}

	blob, err := os.ReadFile(filepath.Join(dir, variablesFile))
	if err != nil {
		return nil, fmt.Errorf("read variables: %w", err)
	}
	values, err := nn.LoadSafetensorsWithShapes(blob)
	if err != nil {
		return nil, fmt.Errorf("parse variables: %w", err)
	}
	for _, v := range m.Variables {
		t, ok := values[v.Name]
		if !ok {
			return nil, fmt.Errorf("variable %s missing from %s", v.Name, variablesFile)
		}
		if !sameShape(t.Shape, v.Shape) {
			return nil, fmt.Errorf("variable %s has shape %v, manifest says %v", v.Name, t.Shape, v.Shape)
		}
	}

	return &SavedModel{
		Dir:       dir,
		Signature: m.Signature,
		Graph:     m.Graph,
		Variables: m.Variables,
		Values:    values,
	}, nil
}
