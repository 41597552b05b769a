package ingestion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Digit runs longer than this are identifiers (UPC/EAN candidates), shorter
// leading runs are inline quantities.
const (
	maxInlineQuantityDigits = 4
	minIdentifierDigits     = 8
)

var priceRegex = regexp.MustCompile(
	`(?i)(?P<prefix>\$|usd|cad|eur|aed|gbp|sgd|aud|inr)\s*(?P<amount>\d{2,7}(?:[.,]\d+)?)` +
		`|(?P<amountOnly>\d{2,7}(?:[.,]\d+)?)\s*(?P<suffix>\$|usd|cad|eur|aed|gbp|sgd|aud|inr)`)

var quantityRegex = regexp.MustCompile(`(?i)(\d{1,4})\s?(?:pcs|pc|units?|qty|x|ct|pieces?|packs?)(?:$|[^\w-])`)

var leadingNoiseTokens = map[string]bool{
	"wtb": true, "wts": true, "wtt": true,
	"selling": true, "sell": true, "buy": true, "buying": true,
	"available": true, "need": true, "do": true, "you": true, "have": true,
	"there": true, "is": true, "looking": true, "for": true, "price": true,
	"any": true, "take": true, "taking": true, "offers": true,
}

var trailingNoiseTokens = map[string]bool{
	"usd": true, "usd.": true, "each": true, "ea": true,
	"unit": true, "units": true, "firm": true, "obo": true, "net": true,
}

// LineContext carries per-line attribution for ParseOfferLine.
type LineContext struct {
	VendorName      string
	DefaultCurrency string
	CapturedAt      *time.Time
	RawPayload      map[string]interface{}
}

// ParseOfferLine attempts to parse a single free-form text line into
// RawOffers, one per price token found. It returns (nil, "") for lines
// without a price token and (nil, warning) for price-bearing lines that
// still fail to parse.
func ParseOfferLine(line string, lc LineContext) ([]RawOffer, string) {
	if strings.TrimSpace(line) == "" {
		return nil, ""
	}

	matches := priceRegex.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		return nil, ""
	}

	group := func(loc []int, name string) string {
		idx := priceRegex.SubexpIndex(name)
		if idx < 0 || loc[2*idx] < 0 {
			return ""
		}
		return line[loc[2*idx]:loc[2*idx+1]]
	}

	// With a single price the product text is whatever sits before the
	// token, or after it for prefix-only lines. With several prices every
	// offer shares the line minus all price tokens.
	var productSource string
	if len(matches) == 1 {
		loc := matches[0]
		before := strings.Trim(line[:loc[0]], " -:|\t")
		after := strings.Trim(line[loc[1]:], " -:|\t")
		productSource = before
		if productSource == "" {
			productSource = after
		}
	} else {
		var b strings.Builder
		prev := 0
		for _, loc := range matches {
			b.WriteString(line[prev:loc[0]])
			b.WriteByte(' ')
			prev = loc[1]
		}
		b.WriteString(line[prev:])
		productSource = strings.Trim(b.String(), " -:|\t")
	}

	productName, inlineQty, identifiers := cleanProductName(productSource)
	if productName == "" {
		return nil, fmt.Sprintf("could not determine product name from '%s'", line)
	}

	quantity := inlineQty
	if quantity == nil {
		quantity = parseQuantity(line)
	}
	condition := detectCondition(line)

	var offers []RawOffer
	var warn string
	for _, loc := range matches {
		amount := group(loc, "amount")
		if amount == "" {
			amount = group(loc, "amountOnly")
		}
		if amount == "" {
			continue
		}

		price, ok := parseAmount(amount)
		if !ok {
			if warn == "" {
				warn = fmt.Sprintf("could not parse numeric price from '%s'", amount)
			}
			continue
		}

		currencyToken := group(loc, "prefix")
		if currencyToken == "" {
			currencyToken = group(loc, "suffix")
		}
		currency := normalizeCurrency(currencyToken)
		if currency == "" {
			currency = lc.DefaultCurrency
		}

		payload := map[string]interface{}{"line": line}
		for k, v := range lc.RawPayload {
			payload[k] = v
		}
		if len(identifiers) > 0 {
			if _, exists := payload["identifiers"]; !exists {
				payload["identifiers"] = identifiers
			}
		}

		offer := RawOffer{
			VendorName:  lc.VendorName,
			ProductName: productName,
			Price:       price,
			Currency:    currency,
			Quantity:    quantity,
			Condition:   condition,
			CapturedAt:  lc.CapturedAt,
			RawPayload:  payload,
		}
		// A single long digit run is the row's best UPC candidate.
		if len(identifiers) == 1 {
			upc := identifiers[0]
			offer.UPC = &upc
		}
		offers = append(offers, offer)
	}

	if len(offers) == 0 {
		return nil, warn
	}
	return offers, ""
}

// ExtractOffersFromLines runs the line parser over a block of text lines,
// collecting offers and per-line warnings.
func ExtractOffersFromLines(lines []string, vendorName, defaultCurrency string) ([]RawOffer, []string) {
	var offers []RawOffer
	var warnings []string

	for i, line := range lines {
		parsed, warn := ParseOfferLine(line, LineContext{
			VendorName:      vendorName,
			DefaultCurrency: defaultCurrency,
			RawPayload:      map[string]interface{}{"line_number": i + 1},
		})
		if len(parsed) > 0 {
			offers = append(offers, parsed...)
		} else if warn != "" {
			warnings = append(warnings, fmt.Sprintf("line %d: %s", i+1, warn))
		}
	}
	return offers, warnings
}

func parseAmount(value string) (float64, bool) {
	normalized := strings.ReplaceAll(value, ",", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	f, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func normalizeCurrency(token string) string {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return ""
	}
	if token == "$" {
		return "USD"
	}
	return strings.ReplaceAll(token, "$", "")
}

// cleanProductName strips noise tokens from around the product text. It also
// pulls out a leading inline quantity (short digit run before any product
// words) and long digit runs that look like identifiers.
func cleanProductName(raw string) (string, *int, []string) {
	if raw == "" {
		return "", nil, nil
	}

	var filtered []string
	var quantity *int
	var identifiers []string

	for _, token := range strings.Fields(raw) {
		stripped := strings.Trim(token, " ,-/")
		if stripped == "" {
			continue
		}
		lower := strings.ToLower(stripped)
		if leadingNoiseTokens[lower] && len(filtered) == 0 {
			continue
		}
		if quantity == nil && isAllDigits(stripped) && len(filtered) == 0 {
			if len(stripped) <= maxInlineQuantityDigits {
				n, _ := strconv.Atoi(stripped)
				quantity = &n
				continue
			}
			if len(stripped) >= minIdentifierDigits {
				identifiers = append(identifiers, stripped)
				continue
			}
		}
		filtered = append(filtered, stripped)
	}

	for len(filtered) > 0 && leadingNoiseTokens[strings.ToLower(filtered[0])] {
		filtered = filtered[1:]
	}
	for len(filtered) > 0 && trailingNoiseTokens[strings.ToLower(filtered[len(filtered)-1])] {
		filtered = filtered[:len(filtered)-1]
	}

	product := strings.Trim(strings.Join(filtered, " "), " ,-/")
	return product, quantity, identifiers
}

func parseQuantity(line string) *int {
	m := quantityRegex.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// detectCondition matches the closed condition vocabulary as distinct tokens.
// Grade tokens (A, A-, B) are only honored in upper case so plain articles
// never register as a grade.
func detectCondition(line string) *string {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "like new") {
		c := "like new"
		return &c
	}

	for _, token := range strings.Fields(line) {
		stripped := strings.Trim(token, " ,.()")
		switch strings.ToLower(stripped) {
		case "new", "used", "refurbished":
			c := strings.ToLower(stripped)
			return &c
		}
		switch stripped {
		case "A", "A-", "B":
			c := stripped
			return &c
		}
	}
	return nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
