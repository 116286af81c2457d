package archive

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dnyoussef/hooklog/internal/model"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{"timestamp", "level", "message", "agent_name", "correlation_id", "operation"}

// Export renders the matching entries of one file as an indented JSON array
// or as CSV.
func (a *Archive) Export(name, format string, f model.Filter) ([]byte, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != FormatJSON && format != FormatCSV {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	f.Limit = ExportLimit
	entries, err := a.Read(name, f, 0)
	if err != nil {
		return nil, err
	}

	if format == FormatJSON {
		return json.MarshalIndent(entries, "", "  ")
	}
	return encodeCSV(entries)
}

func encodeCSV(entries []model.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	if len(entries) == 0 {
		return buf.Bytes(), nil
	}
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		row := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Level.String(),
			e.Message,
			e.Agent.Name,
			e.Execution.CorrelationID,
			e.Execution.Operation,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentType returns the MIME type for an export format.
func ContentType(format string) string {
	if strings.EqualFold(format, FormatCSV) {
		return "text/csv"
	}
	return "application/json"
}

// ExportName derives the download file name, e.g. hooks-2026-02-17.csv.
func ExportName(name, format string) string {
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".log")
	return name + "." + strings.ToLower(format)
}
