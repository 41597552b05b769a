package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVExporter implements plain CSV export for spreadsheet-averse consumers
type CSVExporter struct{}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export writes the table as CSV. Title and styling are ignored: CSV carries
// the header row and data only.
func (e *CSVExporter) Export(data *ExportData, writer io.Writer) error {
	w := csv.NewWriter(writer)

	if len(data.Headers) > 0 {
		if err := w.Write(data.Headers); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}

	record := make([]string, 0, len(data.Headers))
	for _, row := range data.Rows {
		record = record[:0]
		for _, value := range row {
			if value == nil {
				record = append(record, "")
				continue
			}
			record = append(record, fmt.Sprintf("%v", value))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	return nil
}

// GetContentType returns the MIME type for CSV files
func (e *CSVExporter) GetContentType() string {
	return "text/csv"
}

// GetFileExtension returns the file extension for CSV files
func (e *CSVExporter) GetFileExtension() string {
	return ".csv"
}
