package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports entries as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports entries as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ParseExportFormat maps a query value to a format. Empty means JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatCSV:
		return ExportFormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// ContentType is the MIME type of the exported document.
func (f ExportFormat) ContentType() string {
	if f == ExportFormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Export queries repo and encodes the matching entries in format.
func Export(ctx context.Context, repo Repository, q Query, format ExportFormat) ([]byte, error) {
	entries, err := repo.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	return Encode(entries, format)
}

// Encode writes entries in format.
func Encode(entries []*Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportToCSV(entries)
	case ExportFormatJSON:
		return exportToJSON(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportToCSV(entries []*Entry) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"ID",
		"Seq",
		"Timestamp (UTC)",
		"Actor ID",
		"Scene ID",
		"Action",
		"Outcome",
		"Detail",
		"Request ID",
		"Previous Hash",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		row := []string{
			e.ID,
			strconv.FormatInt(e.Seq, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.ActorID,
			e.SceneID,
			e.Action,
			e.Outcome,
			e.Detail,
			e.RequestID,
			e.PreviousHash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func exportToJSON(entries []*Entry) ([]byte, error) {
	if entries == nil {
		entries = []*Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
