package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultMaxPromptLines = 240
	defaultMaxPromptChars = 12000
)

// ExtractionContext holds hints that improve extraction quality.
type ExtractionContext struct {
	VendorHint        string
	CurrencyHint      string
	DocumentName      string
	DocumentKind      string
	ExtraInstructions string
	MaxLines          int
	MaxCharacters     int
}

// OfferRow is one normalized offer returned by the extractor.
type OfferRow struct {
	VendorName  string
	ProductName string
	Price       float64
	Currency    string
	Quantity    *int
	Location    *string
	Notes       *string
	RawPayload  map[string]interface{}
}

// OfferExtractor prompts an LLM to normalize messy vendor data into offer
// rows. The response contract is strict JSON with offers/rejected/warnings.
type OfferExtractor struct {
	provider LLMProvider
}

func NewOfferExtractor(provider LLMProvider) *OfferExtractor {
	return &OfferExtractor{provider: provider}
}

func (e *OfferExtractor) GetProviderName() string {
	return e.provider.GetProviderName()
}

// ExtractOffersFromLines converts free-form lines into offer rows. Lines are
// numbered in the prompt so the model can reference them in raw_lines.
func (e *OfferExtractor) ExtractOffersFromLines(ctx context.Context, lines []string, ec ExtractionContext) ([]OfferRow, []string, error) {
	formatted, truncated := prepareLines(lines, ec.maxLines(), ec.maxCharacters())
	if len(formatted) == 0 {
		return nil, []string{"no recognizable content provided to LLM extractor"}, nil
	}

	systemPrompt := "You are Pricebot's normalization agent. Extract product offers from messy vendor data " +
		"and respond with strict JSON that matches the requested schema."
	userPrompt := buildExtractionPrompt(formatted, ec, truncated)

	raw, err := e.provider.GenerateJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, nil, fmt.Errorf("llm extraction failed: %w", err)
	}

	offers, warnings, err := e.parseResponse(raw, ec)
	if err != nil {
		return nil, nil, err
	}
	if truncated {
		warnings = append(warnings, "input truncated before reaching line/character limit for LLM prompt")
	}
	return offers, warnings, nil
}

func (ec ExtractionContext) maxLines() int {
	if ec.MaxLines > 0 {
		return ec.MaxLines
	}
	return defaultMaxPromptLines
}

func (ec ExtractionContext) maxCharacters() int {
	if ec.MaxCharacters > 0 {
		return ec.MaxCharacters
	}
	return defaultMaxPromptChars
}

func prepareLines(lines []string, maxLines, maxChars int) ([]string, bool) {
	var prepared []string
	truncated := false
	totalChars := 0

	for i, rawLine := range lines {
		stripped := strings.TrimSpace(rawLine)
		if stripped == "" {
			continue
		}

		formatted := fmt.Sprintf("%04d | %s", i+1, stripped)
		if len(prepared) >= maxLines || totalChars+len(formatted) > maxChars {
			truncated = true
			break
		}

		prepared = append(prepared, formatted)
		totalChars += len(formatted)
	}

	return prepared, truncated
}

func buildExtractionPrompt(formatted []string, ec ExtractionContext, truncated bool) string {
	vendorHint := ec.VendorHint
	if vendorHint == "" {
		vendorHint = "UNKNOWN"
	}
	currencyHint := strings.ToUpper(ec.CurrencyHint)
	if currencyHint == "" {
		currencyHint = "USD"
	}
	documentLabel := ec.DocumentName
	if documentLabel == "" {
		documentLabel = "input"
	}
	documentKind := ec.DocumentKind
	if documentKind == "" {
		documentKind = "unstructured"
	}

	schemaInstruction := "Return JSON with keys 'offers', 'rejected', and 'warnings'. " +
		"Each entry in 'offers' must contain: 'product_name' (string), 'price' (number), " +
		"'currency' (3-letter uppercase), 'quantity' (integer or null), 'vendor_name' (string), " +
		"'vendor_info' (string or null), 'location' (string or null), 'notes' (string or null), " +
		"and 'raw_lines' (array of integers referencing the numbered source lines). " +
		"Populate 'rejected' with non-offer rows you intentionally skipped, each including " +
		"'raw_lines' and 'reason'. Always output valid JSON with no commentary."

	constraintInstruction := "Treat the vendor hint as the default vendor when none is specified per-item. " +
		"Do not make up prices. Ignore conversational chatter that does not include an explicit price. " +
		"If currency symbols are missing, fall back to the provided currency hint. " +
		"Count only real sellable items as offers."

	truncatedNote := ""
	if truncated {
		truncatedNote = "Input truncated."
	}

	return fmt.Sprintf(`You are processing data from a %s named "%s".
Vendor hint: %s
Currency hint: %s
%s

%s
%s
%s

Raw data (each line is prefixed with its line number):
`+"```\n%s\n```\n",
		documentKind, documentLabel, vendorHint, currencyHint, truncatedNote,
		schemaInstruction, constraintInstruction, ec.ExtraInstructions,
		strings.Join(formatted, "\n"))
}

type extractionResponse struct {
	Offers   []extractionOffer `json:"offers"`
	Rejected []struct {
		RawLines []int       `json:"raw_lines"`
		Reason   interface{} `json:"reason"`
	} `json:"rejected"`
	Warnings []interface{} `json:"warnings"`
}

type extractionOffer struct {
	ProductName interface{} `json:"product_name"`
	Price       interface{} `json:"price"`
	Currency    interface{} `json:"currency"`
	Quantity    interface{} `json:"quantity"`
	VendorName  interface{} `json:"vendor_name"`
	VendorInfo  interface{} `json:"vendor_info"`
	Location    interface{} `json:"location"`
	Notes       interface{} `json:"notes"`
	RawLines    []int       `json:"raw_lines"`
	RawText     interface{} `json:"raw_text"`
}

func (e *OfferExtractor) parseResponse(raw string, ec ExtractionContext) ([]OfferRow, []string, error) {
	raw = stripCodeFence(strings.TrimSpace(raw))
	if raw == "" {
		return nil, nil, fmt.Errorf("llm returned an empty response")
	}

	var payload extractionResponse
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, nil, fmt.Errorf("llm returned invalid JSON: %w", err)
	}

	var warnings []string
	for _, item := range payload.Warnings {
		if s := stringify(item); s != "" {
			warnings = append(warnings, s)
		}
	}
	for _, entry := range payload.Rejected {
		if reason := cleanStr(entry.Reason); reason != "" {
			warnings = append(warnings, fmt.Sprintf("rejected %v: %s", entry.RawLines, reason))
		}
	}

	var offers []OfferRow
	for _, entry := range payload.Offers {
		offer, ok := e.toOfferRow(entry, ec)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("skipped malformed offer entry: %s", stringify(entry)))
			continue
		}
		offers = append(offers, offer)
	}

	return offers, warnings, nil
}

func (e *OfferExtractor) toOfferRow(entry extractionOffer, ec ExtractionContext) (OfferRow, bool) {
	productName := cleanStr(entry.ProductName)
	if productName == "" {
		return OfferRow{}, false
	}

	price, ok := toFloat(entry.Price)
	if !ok {
		return OfferRow{}, false
	}

	currency := cleanStr(entry.Currency)
	if currency == "" {
		currency = ec.CurrencyHint
	}
	if currency == "" {
		currency = "USD"
	}
	currency = strings.ToUpper(currency)

	vendorName := cleanStr(entry.VendorName)
	if vendorName == "" {
		vendorName = ec.VendorHint
	}
	if vendorName == "" {
		vendorName = "Unknown Vendor"
	}

	payload := map[string]interface{}{
		"source":   "llm_extractor",
		"provider": e.provider.GetProviderName(),
	}
	if ec.DocumentKind != "" {
		payload["document_kind"] = ec.DocumentKind
	}
	if ec.DocumentName != "" {
		payload["document_name"] = ec.DocumentName
	}
	if info := cleanStr(entry.VendorInfo); info != "" {
		payload["vendor_info"] = info
	}
	if len(entry.RawLines) > 0 {
		payload["raw_lines"] = entry.RawLines
	}
	if rawText := cleanStr(entry.RawText); rawText != "" {
		payload["raw_text"] = rawText
	}

	row := OfferRow{
		VendorName:  vendorName,
		ProductName: productName,
		Price:       price,
		Currency:    currency,
		RawPayload:  payload,
	}
	if qty, ok := toInt(entry.Quantity); ok {
		row.Quantity = &qty
	}
	if location := cleanStr(entry.Location); location != "" {
		row.Location = &location
	}
	if notes := cleanStr(entry.Notes); notes != "" {
		row.Notes = &notes
	}
	return row, true
}

func stripCodeFence(text string) string {
	if strings.HasPrefix(text, "```") && strings.HasSuffix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			body := text[i+1:]
			body = strings.TrimSuffix(body, "```")
			return strings.TrimSuffix(strings.TrimSpace(body), "```")
		}
	}
	return text
}

func cleanStr(value interface{}) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(v, ",", ""), "$", ""))
		if cleaned == "" || cleaned == "-" {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return int(v), true
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		if cleaned == "" || cleaned == "-" {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

func stringify(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}
