package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Acme_Wholesale.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

// TestSpreadsheetHappyPath runs the canonical price-list CSV end to end:
// header with MODEL/SKU, DESCRIPTION, PRICE, QTY, CONDITION and two rows.
func TestSpreadsheetHappyPath(t *testing.T) {
	csv := "MODEL/SKU,DESCRIPTION,PRICE,QTY,CONDITION\n" +
		"A1,iPhone 11 64GB Black,485.00,150,A/A-\n" +
		"A2,iPhone 12 128GB,600,10,New\n"
	path := writeCSV(t, csv)

	p := NewSpreadsheetProcessor(nil, false)
	res, err := p.Process(context.Background(), path, Options{VendorName: "Acme", Currency: "USD"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
	if len(res.Offers) != 2 {
		t.Fatalf("offers = %d, want 2: %+v", len(res.Offers), res.Offers)
	}

	first := res.Offers[0]
	if first.ProductName != "iPhone 11 64GB Black" {
		t.Errorf("description column should win over MODEL/SKU, got %q", first.ProductName)
	}
	if first.Price != 485.00 || first.Currency != "USD" {
		t.Errorf("offer 1 price = %v %s", first.Price, first.Currency)
	}
	if first.Quantity == nil || *first.Quantity != 150 {
		t.Errorf("offer 1 quantity = %v, want 150", first.Quantity)
	}
	if first.Condition == nil || *first.Condition != "A/A-" {
		t.Errorf("offer 1 condition = %v, want A/A-", first.Condition)
	}
	if first.SKU == nil || *first.SKU != "A1" {
		t.Errorf("offer 1 sku = %v, want A1", first.SKU)
	}

	second := res.Offers[1]
	if second.ProductName != "iPhone 12 128GB" || second.Price != 600 {
		t.Errorf("offer 2 = %+v", second)
	}
}

// TestHeaderVocabulary is the published header-token dictionary. Every token
// listed here is recognized after normalization; the sets are the contract
// for spreadsheet authors.
func TestHeaderVocabulary(t *testing.T) {
	vocabulary := map[string][]string{
		"description": {"description", "item", "product", "model", "device", "name"},
		"price":       {"price", "unit price", "sell price", "offer price", "amount", "usd", "cost", "net price"},
		"quantity": {"qty", "quantity", "available", "stock", "qty available", "moq",
			"minimum order quantity", "min order", "min qty"},
		"sku":       {"sku", "model sku", "model number", "model#", "mpn", "part number"},
		"upc":       {"upc", "ean"},
		"condition": {"condition", "grade"},
		"location":  {"warehouse", "location", "city", "hub", "region"},
		"vendor":    {"vendor", "supplier"},
		"notes":     {"notes", "comment", "remarks"},
	}

	for category, tokens := range vocabulary {
		for _, token := range tokens {
			if !headerKeys[normalizeKey(token)] {
				t.Errorf("%s token %q not recognized", category, token)
			}
		}
	}

	// Normalization folds case and punctuation into the same tokens.
	aliases := map[string]string{
		"MODEL/SKU":   "model sku",
		"Unit-Price":  "unit price",
		"QTY":         "qty",
		"Model #":     "model",
		"U.P.C":       "u p c",
		"  Grade  ":   "grade",
		"Qty\nAvail.": "qty avail",
	}
	for raw, want := range aliases {
		if got := normalizeKey(raw); got != want {
			t.Errorf("normalizeKey(%q) = %q, want %q", raw, got, want)
		}
	}
}

// TestSpreadsheetVendorAndNotesColumns verifies supplier and remarks columns
// land on the offer, and that a declared vendor still wins over the column.
func TestSpreadsheetVendorAndNotesColumns(t *testing.T) {
	csv := "SUPPLIER,DESCRIPTION,PRICE,REMARKS\n" +
		"Gulf Traders,iPhone 11 64GB,485.00,sealed boxes\n" +
		"Delta Cell,iPhone 12 128GB,600,\n"
	path := writeCSV(t, csv)

	p := NewSpreadsheetProcessor(nil, false)
	res, err := p.Process(context.Background(), path, Options{Currency: "USD"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Offers) != 2 {
		t.Fatalf("offers = %d, want 2: %+v warnings=%v", len(res.Offers), res.Offers, res.Warnings)
	}
	if res.Offers[0].VendorName != "Gulf Traders" || res.Offers[1].VendorName != "Delta Cell" {
		t.Errorf("vendors = %q, %q, want supplier column values",
			res.Offers[0].VendorName, res.Offers[1].VendorName)
	}
	if res.Offers[0].Notes == nil || *res.Offers[0].Notes != "sealed boxes" {
		t.Errorf("offer 1 notes = %v, want sealed boxes", res.Offers[0].Notes)
	}
	if res.Offers[1].Notes != nil {
		t.Errorf("offer 2 notes = %v, want nil for empty cell", res.Offers[1].Notes)
	}

	res, err = p.Process(context.Background(), path, Options{VendorName: "Acme", Currency: "USD"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for _, offer := range res.Offers {
		if offer.VendorName != "Acme" {
			t.Errorf("declared vendor should win over column, got %q", offer.VendorName)
		}
	}
}

// TestSpreadsheetHeaderlessFallback verifies positional parsing when no row
// scores as a header: first text column is the description, first numeric
// column the price.
func TestSpreadsheetHeaderlessFallback(t *testing.T) {
	csv := "iPhone 11 64GB,485.00,50\n" +
		"Galaxy S22 256GB,410,25\n"
	path := writeCSV(t, csv)

	p := NewSpreadsheetProcessor(nil, false)
	res, err := p.Process(context.Background(), path, Options{VendorName: "Acme", Currency: "USD"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Offers) != 2 {
		t.Fatalf("offers = %d, want 2: %+v warnings=%v", len(res.Offers), res.Offers, res.Warnings)
	}
	if res.Offers[0].ProductName != "iPhone 11 64GB" || res.Offers[0].Price != 485 {
		t.Errorf("offer 1 = %+v", res.Offers[0])
	}
	if res.Offers[0].Quantity == nil || *res.Offers[0].Quantity != 50 {
		t.Errorf("offer 1 quantity = %v, want 50 (column after price)", res.Offers[0].Quantity)
	}
	if res.Offers[1].ProductName != "Galaxy S22 256GB" || res.Offers[1].Price != 410 {
		t.Errorf("offer 2 = %+v", res.Offers[1])
	}
}

// TestSpreadsheetMalformedRowsBecomeWarnings verifies the round-trip law:
// N priced rows yield N offers, M malformed rows yield M warnings.
func TestSpreadsheetMalformedRowsBecomeWarnings(t *testing.T) {
	csv := "DESCRIPTION,PRICE\n" +
		"iPhone 11 64GB,485.00\n" +
		"missing price row,\n" +
		"broken price,n/a\n" +
		"iPhone 12 128GB,600\n"
	path := writeCSV(t, csv)

	p := NewSpreadsheetProcessor(nil, false)
	res, err := p.Process(context.Background(), path, Options{VendorName: "Acme", Currency: "USD"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Offers) != 2 {
		t.Fatalf("offers = %d, want 2: %+v", len(res.Offers), res.Offers)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", res.Warnings)
	}
	for _, w := range res.Warnings {
		if !strings.Contains(w, "missing critical fields") {
			t.Errorf("warning %q should name the missing fields", w)
		}
	}
}

// TestSpreadsheetXLSXPreambleAndMultiSheet verifies header detection scans
// past preamble rows and that every sheet contributes offers.
func TestSpreadsheetXLSXPreambleAndMultiSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendor_book.xlsx")

	f := excelize.NewFile()
	sheet1 := f.GetSheetName(0)
	f.SetCellValue(sheet1, "A1", "Acme Wholesale")
	f.SetCellValue(sheet1, "A2", "Weekly price list")
	f.SetCellValue(sheet1, "A3", "DESCRIPTION")
	f.SetCellValue(sheet1, "B3", "PRICE")
	f.SetCellValue(sheet1, "C3", "QTY")
	f.SetCellValue(sheet1, "A4", "iPhone 11 64GB")
	f.SetCellValue(sheet1, "B4", 485.0)
	f.SetCellValue(sheet1, "C4", 150)

	if _, err := f.NewSheet("Tablets"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	f.SetCellValue("Tablets", "A1", "DESCRIPTION")
	f.SetCellValue("Tablets", "B1", "PRICE")
	f.SetCellValue("Tablets", "A2", "iPad 9 64GB")
	f.SetCellValue("Tablets", "B2", 280.0)

	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	p := NewSpreadsheetProcessor(nil, false)
	res, err := p.Process(context.Background(), path, Options{VendorName: "Acme", Currency: "USD"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Offers) != 2 {
		t.Fatalf("offers = %d, want 2: %+v warnings=%v", len(res.Offers), res.Offers, res.Warnings)
	}
	if res.Offers[0].ProductName != "iPhone 11 64GB" {
		t.Errorf("offer 1 product = %q", res.Offers[0].ProductName)
	}
	if res.Offers[1].ProductName != "iPad 9 64GB" {
		t.Errorf("offer 2 product = %q", res.Offers[1].ProductName)
	}
}

// TestVendorFromPath verifies the file-stem fallback.
func TestVendorFromPath(t *testing.T) {
	csv := "DESCRIPTION,PRICE\niPhone 11,485\n"
	path := writeCSV(t, csv)

	p := NewSpreadsheetProcessor(nil, false)
	res, err := p.Process(context.Background(), path, Options{Currency: "USD"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(res.Offers))
	}
	if res.Offers[0].VendorName != "Acme Wholesale" {
		t.Errorf("vendor = %q, want Acme Wholesale (from file stem)", res.Offers[0].VendorName)
	}
}
