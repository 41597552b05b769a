package ingestion

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/itsAR-VR/pricebot/internal/core/ocr"
)

// Cap on a single inflated content stream; anything larger is not a price
// list.
const maxPDFStreamBytes = 4 << 20

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".webp": true, ".tif": true, ".tiff": true,
}

// DocumentProcessor handles PDFs and photos of price lists. PDFs with enough
// embedded text skip OCR entirely; everything else goes through the vision
// provider. Either way the extracted text runs through the line parser.
type DocumentProcessor struct {
	provider     ocr.Provider
	minTextChars int
}

// NewDocumentProcessor creates the document processor. minTextChars controls
// when embedded PDF text is trusted over OCR.
func NewDocumentProcessor(provider ocr.Provider, minTextChars int) *DocumentProcessor {
	if provider == nil {
		provider = ocr.NewDisabledProvider()
	}
	if minTextChars <= 0 {
		minTextChars = 200
	}
	return &DocumentProcessor{provider: provider, minTextChars: minTextChars}
}

func (p *DocumentProcessor) Name() string {
	return "document_text"
}

func (p *DocumentProcessor) Accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pdf" || imageExtensions[ext]
}

func (p *DocumentProcessor) Process(ctx context.Context, path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	vendorName := opts.VendorName
	if vendorName == "" {
		vendorName = vendorFromPath(path)
	}
	currency := opts.Currency
	if currency == "" {
		currency = "USD"
	}

	result := &Result{}
	var lines []string

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		if text := extractPDFText(data); countPrintable(text) >= p.minTextChars {
			lines = splitNonEmptyLines(text)
			result.Warnings = append(result.Warnings, "text source: embedded pdf text")
		}
	}

	if lines == nil {
		ocrResult, err := p.provider.ExtractText(ctx, filepath.Base(path), data)
		switch {
		case errors.Is(err, ocr.ErrDisabled):
			result.Warnings = append(result.Warnings, "text extraction skipped: ocr provider disabled")
			return result, nil
		case err != nil:
			result.Warnings = append(result.Warnings, fmt.Sprintf("ocr extraction failed: %v", err))
			return result, nil
		}
		lines = splitNonEmptyLines(ocrResult.Text)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("text source: ocr (%s)", p.provider.GetProviderName()))
	}

	offers, warnings := ExtractOffersFromLines(lines, vendorName, currency)
	result.Offers = offers
	result.Warnings = append(result.Warnings, warnings...)

	if len(result.Offers) == 0 && len(warnings) == 0 {
		result.Warnings = append(result.Warnings, "no pricing information recognized from document")
	}
	return result, nil
}

func splitNonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func countPrintable(text string) int {
	count := 0
	for _, r := range text {
		if r > ' ' && r != 0xFFFD {
			count++
		}
	}
	return count
}

// extractPDFText pulls the arguments of text-show operators out of a PDF's
// content streams. Uncompressed and FlateDecode streams are covered, which
// is enough for generated price sheets; scanned PDFs yield nothing here and
// fall through to OCR.
func extractPDFText(data []byte) string {
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return ""
	}

	var sb strings.Builder
	for _, stream := range pdfStreams(data) {
		content := stream
		if inflated, err := inflate(stream); err == nil {
			content = inflated
		}
		if !looksLikeContentStream(content) {
			continue
		}
		collectPDFStrings(content, &sb)
	}
	return sb.String()
}

func pdfStreams(data []byte) [][]byte {
	var streams [][]byte
	rest := data
	for {
		i := bytes.Index(rest, []byte("stream"))
		if i < 0 {
			break
		}
		seg := rest[i+len("stream"):]
		seg = bytes.TrimPrefix(seg, []byte("\r\n"))
		seg = bytes.TrimPrefix(seg, []byte("\n"))
		j := bytes.Index(seg, []byte("endstream"))
		if j < 0 {
			break
		}
		streams = append(streams, seg[:j])
		rest = seg[j+len("endstream"):]
	}
	return streams
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxPDFStreamBytes))
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

// A content stream carries a text block (BT) and at least one show operator.
func looksLikeContentStream(content []byte) bool {
	if !bytes.Contains(content, []byte("BT")) {
		return false
	}
	return bytes.Contains(content, []byte("Tj")) || bytes.Contains(content, []byte("TJ"))
}

// collectPDFStrings scans a content stream for literal strings, joining
// strings within one text run and breaking lines on positioning operators.
func collectPDFStrings(content []byte, sb *strings.Builder) {
	i := 0
	for i < len(content) {
		c := content[i]
		if c == '(' {
			text, next := readPDFString(content, i)
			sb.WriteString(text)
			i = next
			continue
		}
		// Line-break on text positioning; space between show ops.
		if c == 'T' && i+1 < len(content) {
			switch content[i+1] {
			case 'd', 'D', '*':
				sb.WriteByte('\n')
				i += 2
				continue
			case 'j', 'J':
				sb.WriteByte(' ')
				i += 2
				continue
			}
		}
		if c == 'E' && i+1 < len(content) && content[i+1] == 'T' {
			sb.WriteByte('\n')
			i += 2
			continue
		}
		i++
	}
}

// readPDFString consumes one literal string starting at the '(' at start,
// handling escapes and nested parentheses. It returns the decoded text and
// the index right after the closing parenthesis.
func readPDFString(content []byte, start int) (string, int) {
	var out []byte
	depth := 0
	i := start
	for i < len(content) {
		c := content[i]
		switch c {
		case '\\':
			if i+1 >= len(content) {
				return string(out), i + 1
			}
			next := content[i+1]
			switch next {
			case 'n':
				out = append(out, '\n')
			case 'r', 't', 'b', 'f':
				out = append(out, ' ')
			case '(', ')', '\\':
				out = append(out, next)
			default:
				if next >= '0' && next <= '7' {
					// Octal escape; consume up to three digits.
					val := 0
					j := i + 1
					for j < len(content) && j <= i+3 && content[j] >= '0' && content[j] <= '7' {
						val = val*8 + int(content[j]-'0')
						j++
					}
					if val >= 32 && val < 127 {
						out = append(out, byte(val))
					}
					i = j
					continue
				}
				out = append(out, next)
			}
			i += 2
		case '(':
			if depth > 0 {
				out = append(out, c)
			}
			depth++
			i++
		case ')':
			depth--
			if depth == 0 {
				return string(out), i + 1
			}
			out = append(out, c)
			i++
		default:
			// Keep printable bytes only; content streams for simple
			// generators are ASCII.
			if c >= 32 && c < 127 {
				out = append(out, c)
			}
			i++
		}
	}
	return string(out), i
}
