package feeder

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// parseCSV treats the first row as the header naming each field.
func parseCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV needs a header row and at least one data row")
	}

	header := rows[0]
	for i, field := range header {
		header[i] = strings.TrimSpace(field)
		if header[i] == "" {
			return nil, fmt.Errorf("CSV header column %d is empty", i+1)
		}
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(Record, len(header))
		for j, field := range header {
			record[field] = row[j]
		}
		records = append(records, record)
	}
	return records, nil
}
