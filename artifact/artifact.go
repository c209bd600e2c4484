// Package artifact defines the deployable classifier file: a small binary
// envelope around a JSON header and a safetensors weight blob, zstd
// compressed.
package artifact

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// Magic opens every artifact file.
	Magic = "LIBM"
	// Version is the envelope layout version written by Encode.
	Version uint32 = 1
)

// ErrInvalidArtifact is returned for data that is not a readable artifact.
var ErrInvalidArtifact = errors.New("invalid classifier artifact")

// TensorSpec describes one endpoint input or output.
type TensorSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// Elements returns the product of the shape dimensions.
func (s TensorSpec) Elements() int {
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// Signature is a named inference endpoint.
type Signature struct {
	Name    string       `json:"name"`
	Inputs  []TensorSpec `json:"inputs"`
	Outputs []TensorSpec `json:"outputs"`
}

// Layer is one stage of the computation graph.
type Layer struct {
	Op         string `json:"op"`
	Prefix     string `json:"prefix"`
	Units      int    `json:"units,omitempty"`
	InputDim   int    `json:"input_dim,omitempty"`
	Activation string `json:"activation,omitempty"`
}

// Graph is the ordered layer list plus the sequence width and seed of the
// model it describes.
type Graph struct {
	MaxLen int     `json:"maxlen"`
	Seed   int64   `json:"seed"`
	Layers []Layer `json:"layers"`
}

// Quantization records how the weight blob was stored.
type Quantization struct {
	Mode string `json:"mode"` // int8, float16 or float32
	// Scaled lists tensors stored as integers with a companion
	// "<name>.scale" tensor holding one float scale per row.
	Scaled []string `json:"scaled,omitempty"`
}

// Header is the JSON metadata stored ahead of the weights.
type Header struct {
	Version      uint32       `json:"version"`
	RunID        string       `json:"run_id"`
	CreatedAt    time.Time    `json:"created_at"`
	Signature    Signature    `json:"signature"`
	Graph        Graph        `json:"graph"`
	Quantization Quantization `json:"quantization"`
}

// Encode packs h and the safetensors blob into artifact bytes.
func Encode(h *Header, weights []byte) ([]byte, error) {
	meta, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}

	var body bytes.Buffer
	body.Grow(8 + len(meta) + len(weights))
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(meta)))
	body.Write(n[:])
	body.Write(meta)
	body.Write(weights)

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	out := make([]byte, 0, len(Magic)+4+body.Len()/2)
	out = append(out, Magic...)
	out = binary.LittleEndian.AppendUint32(out, Version)
	return enc.EncodeAll(body.Bytes(), out), nil
}

// Decode splits artifact bytes into the header and the safetensors blob.
func Decode(data []byte) (*Header, []byte, error) {
	if len(data) < len(Magic)+4 || string(data[:len(Magic)]) != Magic {
		return nil, nil, fmt.Errorf("%w: bad magic", ErrInvalidArtifact)
	}
	if v := binary.LittleEndian.Uint32(data[len(Magic):]); v != Version {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidArtifact, v)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, err
	}
	defer dec.Close()
	body, err := dec.DecodeAll(data[len(Magic)+4:], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	if len(body) < 8 {
		return nil, nil, fmt.Errorf("%w: truncated header", ErrInvalidArtifact)
	}
	size := binary.LittleEndian.Uint64(body[:8])
	if size > uint64(len(body)-8) {
		return nil, nil, fmt.Errorf("%w: header length %d exceeds payload", ErrInvalidArtifact, size)
	}
	var h Header
	if err := json.Unmarshal(body[8:8+size], &h); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return &h, body[8+size:], nil
}
