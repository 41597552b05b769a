// Package ingestion turns uploaded price lists (spreadsheets, documents,
// WhatsApp transcripts) into normalized RawOffer rows.
package ingestion

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedFileType is returned when no processor accepts a file.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// ErrUnknownProcessor is returned when a caller names a processor that is
// not registered.
var ErrUnknownProcessor = errors.New("unknown processor")

// RawOffer is a normalized offer row prior to persistence.
type RawOffer struct {
	VendorName  string
	ProductName string
	Price       float64
	Currency    string
	Quantity    *int
	Condition   *string
	SKU         *string
	ModelNumber *string
	Brand       *string
	UPC         *string
	Warehouse   *string
	Notes       *string
	CapturedAt  *time.Time
	RawPayload  map[string]interface{}
}

// Result carries the rows a processor extracted plus per-row warnings.
// Row-level problems never fail the run; they land in Warnings.
type Result struct {
	Offers   []RawOffer
	Warnings []string
}

// Options is the per-run context handed to a processor.
type Options struct {
	VendorName   string
	Currency     string
	DocumentName string
	PreferLLM    bool
	DisableLLM   bool
	Instructions string
}

// Processor extracts offers from one family of file types.
type Processor interface {
	Name() string
	Accepts(path string) bool
	Process(ctx context.Context, path string, opts Options) (*Result, error)
}
