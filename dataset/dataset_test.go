package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/snort3/libml/querystring"
)

func TestBuildDefaultRecords(t *testing.T) {
	examples, err := DefaultRecords.Load()
	if err != nil {
		t.Fatal(err)
	}
	ds, err := Build(examples, querystring.DefaultMaxLen)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 2 || len(ds.Labels) != 2 {
		t.Fatalf("got %d inputs, %d labels", ds.Len(), len(ds.Labels))
	}
	if ds.Labels[0] != 0 || ds.Labels[1] != 1 {
		t.Errorf("labels = %v, want [0 1]", ds.Labels)
	}
	for i, seq := range ds.Inputs {
		if len(seq) != querystring.DefaultMaxLen {
			t.Errorf("input %d has len %d", i, len(seq))
		}
	}
	// "foo=1" occupies the last five positions.
	if got := ds.Inputs[0][querystring.DefaultMaxLen-5]; got != 'f' {
		t.Errorf("first byte of foo=1 = %v", got)
	}
	if got := ds.Inputs[0][querystring.DefaultMaxLen-6]; got != 0 {
		t.Errorf("padding = %v", got)
	}
}

func TestBuildFailsFast(t *testing.T) {
	examples := []LabeledExample{
		{Text: "ok=1"},
		{Text: "bad=%2", IsAttack: true},
		{Text: "never=%zz"},
	}
	ds, err := Build(examples, 16)
	if ds != nil {
		t.Fatalf("partial dataset returned: %+v", ds)
	}
	if !errors.Is(err, querystring.ErrMalformedEncoding) {
		t.Fatalf("err = %v", err)
	}
	var me *querystring.MalformedEncodingError
	if !errors.As(err, &me) || me.Input != "bad=%2" {
		t.Errorf("error should point at the first bad example, got %v", err)
	}
}

func TestBuildPreservesOrder(t *testing.T) {
	examples := []LabeledExample{
		{Text: "a", IsAttack: true},
		{Text: "b"},
		{Text: "c", IsAttack: true},
	}
	ds, err := Build(examples, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float32{'a', 'b', 'c'} {
		if ds.Inputs[i][3] != want {
			t.Errorf("input %d ends with %v, want %v", i, ds.Inputs[i][3], want)
		}
	}
	if ds.Labels[0] != 1 || ds.Labels[1] != 0 || ds.Labels[2] != 1 {
		t.Errorf("labels = %v", ds.Labels)
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.jsonl")
	want := []LabeledExample{
		{Text: "foo=1"},
		{Text: "foo=1%27%20or%201=1%2D%2D", IsAttack: true},
	}
	if err := WriteJSONL(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := JSONLSource{Path: path}.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d examples", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("example %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestJSONLBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	data := "{\"str\":\"a\",\"attack\":0}\n\n{\"str\":\"b\",\"attack\":7}\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (JSONLSource{Path: path}).Load(); err == nil {
		t.Fatal("expected error for attack=7")
	}
}

func TestSQLStoreSqlite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "examples.db")
	store, err := OpenSQLStore("sqlite", dsn, "examples", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	want := []LabeledExample{
		{Text: "z=9", IsAttack: true},
		{Text: "a=1"},
		{Text: "m=%27", IsAttack: true},
	}
	if err := store.Save(want); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d rows", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestOpenSQLStoreRejectsBadInput(t *testing.T) {
	if _, err := OpenSQLStore("mysql", "x", "examples", nil); err == nil {
		t.Error("expected unsupported driver error")
	}
	if _, err := OpenSQLStore("sqlite", ":memory:", "ex; DROP", nil); err == nil {
		t.Error("expected invalid table error")
	}
}
