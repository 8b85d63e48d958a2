package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/torosent/stagefire/internal/engine"
)

const exportLockTimeout = 10 * time.Second

// ExportSummary writes the run summary to path. The format follows the
// extension: .yaml/.yml for YAML, .html for an HTML page, JSON otherwise.
// Concurrent runs exporting to the same path are serialized through a
// sibling .lock file and the file is replaced atomically.
func ExportSummary(ctx context.Context, path string, report *engine.Report) error {
	data, err := encodeSummary(path, Summarize(report))
	if err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, exportLockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock summary export: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock summary export: %s is held by another process", path+".lock")
	}
	defer func() { _ = lock.Unlock() }()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write summary export: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write summary export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write summary export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write summary export: %w", err)
	}
	return nil
}

func encodeSummary(path string, s Summary) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return nil, fmt.Errorf("encode summary: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode summary: %w", err)
		}
		return buf.Bytes(), nil
	case ".html", ".htm":
		var buf bytes.Buffer
		if err := WriteHTMLSummary(&buf, s); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode summary: %w", err)
		}
		return append(data, '\n'), nil
	}
}
