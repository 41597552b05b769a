package ingestion

import (
	"errors"
	"testing"
)

// TestRegistrySelection verifies the extension table: spreadsheets, documents
// and transcripts each route to their processor, unknown extensions fail.
func TestRegistrySelection(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewSpreadsheetProcessor(nil, false))
	reg.Register(NewDocumentProcessor(nil, 0))
	reg.Register(NewWhatsAppTextProcessor(nil))

	tests := []struct {
		path string
		want string
	}{
		{"prices.xlsx", "spreadsheet"},
		{"prices.XLS", "spreadsheet"},
		{"prices.csv", "spreadsheet"},
		{"list.pdf", "document_text"},
		{"scan.png", "document_text"},
		{"scan.JPG", "document_text"},
		{"photo.jpeg", "document_text"},
		{"photo.webp", "document_text"},
		{"scan.tiff", "document_text"},
		{"chat.txt", "whatsapp_text"},
	}
	for _, tt := range tests {
		p, err := reg.Match(tt.path)
		if err != nil {
			t.Fatalf("Match(%q): %v", tt.path, err)
		}
		if p.Name() != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.path, p.Name(), tt.want)
		}
	}

	if _, err := reg.Match("archive.zip"); !errors.Is(err, ErrUnsupportedFileType) {
		t.Errorf("Match(.zip) error = %v, want ErrUnsupportedFileType", err)
	}
}

// TestRegistryGetByName verifies caller-selected processors resolve by name.
func TestRegistryGetByName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewSpreadsheetProcessor(nil, false))

	if p, err := reg.Get("spreadsheet"); err != nil || p == nil {
		t.Fatalf("Get(spreadsheet) = %v, %v", p, err)
	}
	if _, err := reg.Get("nope"); err == nil {
		t.Fatalf("Get(nope) should fail")
	}

	names := reg.Names()
	if len(names) != 1 || names[0] != "spreadsheet" {
		t.Errorf("Names() = %v", names)
	}
}
