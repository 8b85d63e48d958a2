package feeder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

var parsers = map[string]func(io.Reader) ([]Record, error){
	"csv":  parseCSV,
	"json": parseJSON,
	"yaml": parseYAML,
}

// parseJSON reads an array of objects. Nested values are kept as compact
// JSON so they can be templated into request bodies.
func parseJSON(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return toRecords(raw)
}

func parseYAML(r io.Reader) ([]Record, error) {
	var raw []map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}
	return toRecords(raw)
}

func toRecords(raw []map[string]any) ([]Record, error) {
	records := make([]Record, 0, len(raw))
	for i, obj := range raw {
		if len(obj) == 0 {
			return nil, fmt.Errorf("record %d is empty", i)
		}
		record := make(Record, len(obj))
		for key, value := range obj {
			s, err := stringify(value)
			if err != nil {
				return nil, fmt.Errorf("record %d field %q: %w", i, key, err)
			}
			record[key] = s
		}
		records = append(records, record)
	}
	return records, nil
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case map[string]any, []any:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return "", err
		}
		return string(bytes.TrimSpace(buf.Bytes())), nil
	default:
		return fmt.Sprint(val), nil
	}
}
