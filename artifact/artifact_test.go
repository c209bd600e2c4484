package artifact

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func sampleHeader() *Header {
	return &Header{
		Version:   Version,
		RunID:     "run-1",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Signature: Signature{
			Name:    "serve",
			Inputs:  []TensorSpec{{Name: "inputs", Shape: []int{1, 1024}, DType: "float32"}},
			Outputs: []TensorSpec{{Name: "output_0", Shape: []int{1, 1}, DType: "float32"}},
		},
		Graph: Graph{MaxLen: 1024, Layers: []Layer{
			{Op: "embedding", Prefix: "layers.0", Units: 32, InputDim: 256},
			{Op: "lstm", Prefix: "layers.1", Units: 16, InputDim: 32},
			{Op: "dense", Prefix: "layers.2", Units: 1, InputDim: 16, Activation: "sigmoid"},
		}},
		Quantization: Quantization{Mode: "int8", Scaled: []string{"layers.0.weight"}},
	}
}

func TestEncodeDecode(t *testing.T) {
	blob := bytes.Repeat([]byte{1, 2, 3, 4}, 500)
	data, err := Encode(sampleHeader(), blob)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:4]) != Magic {
		t.Fatalf("magic = %q", data[:4])
	}
	if len(data) >= len(blob) {
		t.Errorf("repetitive blob not compressed: %d bytes", len(data))
	}

	h, got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, blob) {
		t.Error("weights blob changed")
	}
	if h.Signature.Name != "serve" || h.Signature.Inputs[0].Elements() != 1024 {
		t.Errorf("signature = %+v", h.Signature)
	}
	if len(h.Graph.Layers) != 3 || h.Graph.Layers[2].Activation != "sigmoid" {
		t.Errorf("graph = %+v", h.Graph)
	}
	if !h.CreatedAt.Equal(sampleHeader().CreatedAt) {
		t.Errorf("created_at = %v", h.CreatedAt)
	}
}

func TestDecodeRejects(t *testing.T) {
	good, err := Encode(sampleHeader(), []byte("weights"))
	if err != nil {
		t.Fatal(err)
	}
	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9

	cases := map[string][]byte{
		"empty":     nil,
		"magic":     append([]byte("NOPE"), good[4:]...),
		"version":   badVersion,
		"truncated": good[:len(good)-3],
	}
	for name, data := range cases {
		if _, _, err := Decode(data); !errors.Is(err, ErrInvalidArtifact) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}
