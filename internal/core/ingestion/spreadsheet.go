package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/itsAR-VR/pricebot/internal/core/llm"
	"github.com/xuri/excelize/v2"
)

var descriptionKeys = map[string]bool{
	"description": true, "item": true, "product": true,
	"model": true, "device": true, "name": true,
}

var priceKeys = map[string]bool{
	"price": true, "unit price": true, "sell price": true, "offer price": true,
	"amount": true, "usd": true, "cost": true, "net price": true,
}

var quantityKeys = map[string]bool{
	"qty": true, "quantity": true, "available": true, "stock": true,
	"qty available": true, "moq": true, "minimum order quantity": true,
	"min order": true, "min qty": true,
}

var skuKeys = map[string]bool{
	"sku": true, "model sku": true, "model number": true,
	"model#": true, "mpn": true, "part number": true,
}

var upcKeys = map[string]bool{"upc": true, "ean": true}

var conditionKeys = map[string]bool{"condition": true, "grade": true}

var locationKeys = map[string]bool{
	"warehouse": true, "location": true, "city": true, "hub": true, "region": true,
}

var vendorKeys = map[string]bool{"vendor": true, "supplier": true}

var notesKeys = map[string]bool{"notes": true, "comment": true, "remarks": true}

const headerMatchThreshold = 2
const headerScanRows = 15

var headerKeys = unionKeys(
	descriptionKeys, priceKeys, quantityKeys, skuKeys,
	upcKeys, conditionKeys, locationKeys, vendorKeys, notesKeys,
)

func unionKeys(sets ...map[string]bool) map[string]bool {
	union := make(map[string]bool)
	for _, set := range sets {
		for k := range set {
			union[k] = true
		}
	}
	return union
}

// SpreadsheetProcessor reads .xlsx/.xls via excelize and .csv via the stdlib
// reader. Header rows are located by scoring cells against the recognized
// header vocabulary; sheets without one fall back to positional parsing.
type SpreadsheetProcessor struct {
	extractor   *llm.OfferExtractor
	llmFallback bool
}

// NewSpreadsheetProcessor creates the spreadsheet processor. The extractor is
// optional; when set, rows the heuristics reject are batched through it.
func NewSpreadsheetProcessor(extractor *llm.OfferExtractor, llmFallback bool) *SpreadsheetProcessor {
	return &SpreadsheetProcessor{extractor: extractor, llmFallback: llmFallback}
}

func (p *SpreadsheetProcessor) Name() string {
	return "spreadsheet"
}

func (p *SpreadsheetProcessor) Accepts(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls", ".csv":
		return true
	}
	return false
}

func (p *SpreadsheetProcessor) Process(ctx context.Context, path string, opts Options) (*Result, error) {
	vendorName := opts.VendorName
	if vendorName == "" {
		vendorName = vendorFromPath(path)
	}
	currency := opts.Currency
	if currency == "" {
		currency = "USD"
	}

	sheets, err := loadSheets(path)
	if err != nil {
		return &Result{Warnings: []string{fmt.Sprintf("failed to load spreadsheet: %v", err)}}, nil
	}

	result := &Result{}
	var failedLines []string

	for _, sheet := range sheets {
		offers, warnings, failed := p.processSheet(sheet, vendorName, opts.VendorName != "", currency)
		if len(sheets) > 1 {
			for i, w := range warnings {
				warnings[i] = fmt.Sprintf("sheet %q: %s", sheet.name, w)
			}
		}
		result.Offers = append(result.Offers, offers...)
		result.Warnings = append(result.Warnings, warnings...)
		failedLines = append(failedLines, failed...)
	}

	if len(failedLines) > 0 && !opts.DisableLLM && (opts.PreferLLM || p.llmFallback) && p.extractor != nil {
		llmOffers, llmWarnings, err := p.extractor.ExtractOffersFromLines(ctx, failedLines, llm.ExtractionContext{
			VendorHint:        vendorName,
			CurrencyHint:      currency,
			DocumentName:      opts.DocumentName,
			DocumentKind:      "spreadsheet",
			ExtraInstructions: opts.Instructions,
		})
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("llm fallback failed: %v", err))
		} else {
			for _, row := range llmOffers {
				result.Offers = append(result.Offers, OfferRowToRaw(row))
			}
			result.Warnings = append(result.Warnings, llmWarnings...)
		}
	}

	if len(result.Offers) == 0 && len(result.Warnings) == 0 {
		result.Warnings = append(result.Warnings, "no offers extracted from spreadsheet")
	}
	return result, nil
}

// sheetData is one cleaned-up sheet: trimmed cells, empty rows and columns
// dropped, all rows padded to equal width.
type sheetData struct {
	name string
	rows [][]string
}

func loadSheets(path string) ([]sheetData, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, err
		}
		return []sheetData{{name: "csv", rows: cleanupRows(rows)}}, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sheets []sheetData
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		cleaned := cleanupRows(rows)
		if len(cleaned) > 0 {
			sheets = append(sheets, sheetData{name: name, rows: cleaned})
		}
	}
	return sheets, nil
}

func cleanupRows(raw [][]string) [][]string {
	width := 0
	for _, row := range raw {
		if len(row) > width {
			width = len(row)
		}
	}

	var rows [][]string
	for _, row := range raw {
		padded := make([]string, width)
		empty := true
		for i := 0; i < width; i++ {
			var cell string
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			padded[i] = cell
			if cell != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, padded)
		}
	}

	// Drop columns that are empty across every row.
	if len(rows) == 0 {
		return rows
	}
	keep := make([]int, 0, width)
	for col := 0; col < width; col++ {
		for _, row := range rows {
			if row[col] != "" {
				keep = append(keep, col)
				break
			}
		}
	}
	if len(keep) == width {
		return rows
	}
	compacted := make([][]string, len(rows))
	for i, row := range rows {
		slim := make([]string, len(keep))
		for j, col := range keep {
			slim[j] = row[col]
		}
		compacted[i] = slim
	}
	return compacted
}

func (p *SpreadsheetProcessor) processSheet(sheet sheetData, vendorName string, vendorDeclared bool, currency string) ([]RawOffer, []string, []string) {
	headerIdx := inferHeaderRow(sheet.rows)

	var columns []string
	var dataRows [][]string
	if headerIdx >= 0 {
		for _, cell := range sheet.rows[headerIdx] {
			columns = append(columns, normalizeKey(cell))
		}
		dataRows = sheet.rows[headerIdx+1:]
	} else {
		for i := range sheet.rows[0] {
			columns = append(columns, fmt.Sprintf("column_%d", i))
		}
		dataRows = sheet.rows
	}

	var offers []RawOffer
	var warnings []string
	var failedLines []string

	for rowIdx, row := range dataRows {
		rec := newRecord(columns, row)

		price := extractPrice(rec)
		description := extractDescription(rec)

		if price == nil || description == "" {
			if looksLikeHeaderRow(row) {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("row %d: missing critical fields", rowIdx+1))
			failedLines = append(failedLines, strings.Join(row, " | "))
			continue
		}

		offer := RawOffer{
			VendorName:  vendorName,
			ProductName: description,
			Price:       *price,
			Currency:    currency,
			Quantity:    extractInt(rec, quantityKeys),
			Condition:   extractString(rec, conditionKeys),
			SKU:         extractString(rec, skuKeys),
			ModelNumber: extractString(rec, skuKeys),
			UPC:         extractString(rec, upcKeys),
			Warehouse:   extractString(rec, locationKeys),
			Notes:       extractString(rec, notesKeys),
			RawPayload:  rec.payload(),
		}
		// A declared vendor wins; otherwise a vendor/supplier column
		// overrides the file-stem fallback row by row.
		if !vendorDeclared {
			if v := extractString(rec, vendorKeys); v != nil {
				offer.VendorName = *v
			}
		}
		// Headerless sheets: the integer column after the price column is
		// the quantity.
		if headerIdx < 0 && offer.Quantity == nil {
			offer.Quantity = positionalQuantity(row)
		}
		offers = append(offers, offer)
	}

	return offers, warnings, failedLines
}

// record is a row keyed by normalized column name, preserving column order.
// A duplicate normalized key keeps its first position with the later value,
// matching how repeated headers collapse.
type record struct {
	keys   []string
	values []string
	index  map[string]int
}

func newRecord(columns, row []string) *record {
	rec := &record{index: make(map[string]int, len(columns))}
	for i, col := range columns {
		var value string
		if i < len(row) {
			value = row[i]
		}
		if col == "" {
			continue
		}
		if at, exists := rec.index[col]; exists {
			rec.values[at] = value
			continue
		}
		rec.index[col] = len(rec.keys)
		rec.keys = append(rec.keys, col)
		rec.values = append(rec.values, value)
	}
	return rec
}

func (r *record) payload() map[string]interface{} {
	payload := make(map[string]interface{}, len(r.keys))
	for i, key := range r.keys {
		if r.values[i] != "" {
			payload[key] = r.values[i]
		}
	}
	return payload
}

func inferHeaderRow(rows [][]string) int {
	maxScan := len(rows)
	if maxScan > headerScanRows {
		maxScan = headerScanRows
	}

	bestIdx := -1
	bestScore := 0
	for idx := 0; idx < maxScan; idx++ {
		score := 0
		for _, cell := range rows[idx] {
			if cell == "" {
				continue
			}
			if headerKeys[normalizeKey(cell)] {
				score++
			}
		}
		if score > bestScore && score >= headerMatchThreshold {
			bestScore = score
			bestIdx = idx
		}
	}
	return bestIdx
}

func looksLikeHeaderRow(row []string) bool {
	matches := 0
	for _, cell := range row {
		if cell == "" {
			continue
		}
		if headerKeys[normalizeKey(cell)] {
			matches++
		}
	}
	return matches >= headerMatchThreshold
}

var keyPunctuation = strings.NewReplacer(
	"/", " ", "-", " ", "#", " ", ".", " ", "(", " ", ")", " ",
	":", " ", "&", " ", "@", " ", ",", " ", "\n", " ",
)

func normalizeKey(key string) string {
	normalized := keyPunctuation.Replace(strings.ToLower(strings.TrimSpace(key)))
	return strings.Join(strings.Fields(normalized), " ")
}

func keyContains(key string, keys map[string]bool) bool {
	for token := range keys {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

// pick returns the index of the best column for keys: exact-key hits take
// priority over substring hits, so a "model sku" column never shadows a real
// description column.
func (r *record) pick(keys map[string]bool, accept func(string) bool) int {
	for i, key := range r.keys {
		if keys[key] && accept(r.values[i]) {
			return i
		}
	}
	for i, key := range r.keys {
		if keyContains(key, keys) && accept(r.values[i]) {
			return i
		}
	}
	return -1
}

func extractPrice(rec *record) *float64 {
	accept := func(v string) bool { _, ok := parseFloatCell(v); return ok }
	if i := rec.pick(priceKeys, accept); i >= 0 {
		price, _ := parseFloatCell(rec.values[i])
		return &price
	}
	// No price column parsed; fall back to the first numeric-looking cell.
	for _, value := range rec.values {
		if price, ok := parseFloatCell(value); ok {
			return &price
		}
	}
	return nil
}

func extractDescription(rec *record) string {
	nonEmpty := func(v string) bool { return v != "" }
	if i := rec.pick(descriptionKeys, nonEmpty); i >= 0 {
		return rec.values[i]
	}
	for _, value := range rec.values {
		if value != "" {
			return value
		}
	}
	return ""
}

func extractInt(rec *record, keys map[string]bool) *int {
	accept := func(v string) bool { _, ok := parseIntCell(v); return ok }
	if i := rec.pick(keys, accept); i >= 0 {
		n, _ := parseIntCell(rec.values[i])
		return &n
	}
	return nil
}

func extractString(rec *record, keys map[string]bool) *string {
	nonEmpty := func(v string) bool { return v != "" }
	if i := rec.pick(keys, nonEmpty); i >= 0 {
		value := strings.TrimSpace(rec.values[i])
		return &value
	}
	return nil
}

// positionalQuantity finds the first integer-valued cell after the first
// numeric (price) cell.
func positionalQuantity(row []string) *int {
	priceIdx := -1
	for i, cell := range row {
		if _, ok := parseFloatCell(cell); ok {
			priceIdx = i
			break
		}
	}
	if priceIdx < 0 {
		return nil
	}
	for _, cell := range row[priceIdx+1:] {
		f, ok := parseFloatCell(cell)
		if !ok {
			continue
		}
		if n := int(f); float64(n) == f {
			return &n
		}
	}
	return nil
}

func parseFloatCell(value string) (float64, bool) {
	if value == "" || value == "-" {
		return 0, false
	}
	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(value, ",", ""), "$", ""))
	if cleaned == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}

func parseIntCell(value string) (int, bool) {
	if value == "" || value == "-" {
		return 0, false
	}
	cleaned := strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
	if cleaned == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return int(parsed), true
}

func vendorFromPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ReplaceAll(stem, "_", " ")
}

// OfferRowToRaw converts an LLM extraction row into the processor row shape.
func OfferRowToRaw(row llm.OfferRow) RawOffer {
	return RawOffer{
		VendorName:  row.VendorName,
		ProductName: row.ProductName,
		Price:       row.Price,
		Currency:    row.Currency,
		Quantity:    row.Quantity,
		Warehouse:   row.Location,
		Notes:       row.Notes,
		RawPayload:  row.RawPayload,
	}
}
