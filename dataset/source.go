package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/multierr"
)

// Source produces labeled examples in a stable order.
type Source interface {
	Load() ([]LabeledExample, error)
}

// Record is the on-disk form of an example: the query string and a 0/1
// attack flag.
type Record struct {
	Str    string `json:"str" yaml:"str" db:"str"`
	Attack int    `json:"attack" yaml:"attack" db:"attack"`
}

// Example validates r and converts it.
func (r Record) Example() (LabeledExample, error) {
	switch r.Attack {
	case 0, 1:
	default:
		return LabeledExample{}, fmt.Errorf("attack must be 0 or 1, got %d", r.Attack)
	}
	return LabeledExample{Text: r.Str, IsAttack: r.Attack == 1}, nil
}

// RecordOf is the inverse of Record.Example.
func RecordOf(ex LabeledExample) Record {
	r := Record{Str: ex.Text}
	if ex.IsAttack {
		r.Attack = 1
	}
	return r
}

// StaticSource serves a fixed list of records.
type StaticSource []Record

func (s StaticSource) Load() ([]LabeledExample, error) {
	out := make([]LabeledExample, 0, len(s))
	for i, r := range s {
		ex, err := r.Example()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, ex)
	}
	return out, nil
}

// DefaultRecords are the two seed examples: a benign parameter and the same
// parameter carrying a tautology injection.
var DefaultRecords = StaticSource{
	{Str: "foo=1", Attack: 0},
	{Str: "foo=1%27%20or%201=1%2D%2D", Attack: 1},
}

// JSONLSource reads one JSON record per line.
type JSONLSource struct {
	Path string
}

func (s JSONLSource) Load() (examples []LabeledExample, err error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open examples: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.Path, line, err)
		}
		ex, err := r.Example()
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.Path, line, err)
		}
		examples = append(examples, ex)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read examples: %w", err)
	}
	return examples, nil
}

// WriteJSONL writes examples as JSON lines, the format JSONLSource reads.
func WriteJSONL(path string, examples []LabeledExample) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, ex := range examples {
		if err := enc.Encode(RecordOf(ex)); err != nil {
			return err
		}
	}
	return w.Flush()
}
