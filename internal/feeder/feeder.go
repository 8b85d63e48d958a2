// Package feeder loads a data file and hands its records to iterations in
// round-robin order, so concurrent VUs work through distinct inputs.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Record is one row of named fields. Records are shared between iterations
// and must not be modified.
type Record = map[string]string

// ErrEmpty is returned for a data file without records.
var ErrEmpty = errors.New("feeder: no records")

// Feeder cycles through a fixed set of records. It is safe for concurrent use.
type Feeder struct {
	records []Record
	next    atomic.Uint64
}

// New returns a feeder over records.
func New(records []Record) (*Feeder, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	return &Feeder{records: records}, nil
}

// Load reads path as kind ("csv", "json" or "yaml"). An empty kind is
// inferred from the file extension.
func Load(path, kind string) (*Feeder, error) {
	if kind == "" {
		kind = kindFromExt(path)
	}
	parse, ok := parsers[kind]
	if !ok {
		return nil, fmt.Errorf("feeder: unsupported data format %q", kind)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feeder: %w", err)
	}
	defer file.Close()

	records, err := parse(file)
	if err != nil {
		return nil, fmt.Errorf("feeder: %s: %w", filepath.Base(path), err)
	}
	return New(records)
}

func kindFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "csv"
	}
}

// Next returns the next record. After the last record it starts over.
func (f *Feeder) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := f.next.Add(1) - 1
	return f.records[i%uint64(len(f.records))], nil
}

func (f *Feeder) Len() int {
	return len(f.records)
}
