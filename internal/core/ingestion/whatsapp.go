package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/itsAR-VR/pricebot/internal/core/llm"
)

var transcriptTimeRegex = regexp.MustCompile(`^\d{1,2}:\d{2}`)

// Exported chats prefix messages with "[date, time] Sender: text".
var transcriptBracketRegex = regexp.MustCompile(`^\[[^\]]+\]\s*([^:]{1,40}):\s*(.*)$`)

var transcriptSkipPrefixes = []string{
	"groups",
	"business",
	"purchase",
	"wa business",
	"chats",
	"calls",
	"updates",
	"tools",
	"voice call",
	"video call",
	"you joined",
	"messages and calls are end-to-end encrypted",
	"this chat is with a business account",
	"missed voice call",
	"missed video call",
	"security code changed",
	"added you",
	"media omitted",
	"image omitted",
	"reacted",
	"you reacted",
}

var transcriptSkipLines = map[string]bool{
	"photo": true, "video": true, "sticker": true,
	"missed voice call": true, "missed video call": true,
}

// WhatsAppTextProcessor parses exported chat transcripts (.txt). Lines are
// attributed to the last observed sender; the sender name doubles as the
// vendor hint when no vendor was declared for the upload.
type WhatsAppTextProcessor struct {
	extractor *llm.OfferExtractor
}

// NewWhatsAppTextProcessor creates the transcript processor. The extractor is
// optional; when present it backs up the heuristic parser on sparse chats.
func NewWhatsAppTextProcessor(extractor *llm.OfferExtractor) *WhatsAppTextProcessor {
	return &WhatsAppTextProcessor{extractor: extractor}
}

func (p *WhatsAppTextProcessor) Name() string {
	return "whatsapp_text"
}

func (p *WhatsAppTextProcessor) Accepts(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}

func (p *WhatsAppTextProcessor) Process(ctx context.Context, path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	currency := opts.Currency
	if currency == "" {
		currency = "USD"
	}

	rawLines := strings.Split(string(data), "\n")
	offers, warnings := p.parseTranscript(rawLines, opts.VendorName, currency)

	useLLM := opts.PreferLLM || len(offers) == 0
	var llmWarnings []string
	if useLLM && !opts.DisableLLM && p.extractor != nil {
		vendorHint := opts.VendorName
		if vendorHint == "" {
			vendorHint = "WhatsApp Vendor"
		}
		llmOffers, extractWarnings, err := p.extractor.ExtractOffersFromLines(ctx, rawLines, llm.ExtractionContext{
			VendorHint:   vendorHint,
			CurrencyHint: currency,
			DocumentName: opts.DocumentName,
			DocumentKind: "whatsapp_transcript",
			ExtraInstructions: "Messages are from a WhatsApp chat. Only return rows that clearly " +
				"describe a product AND a price. Ignore greetings, reactions, and status updates.",
		})
		switch {
		case err != nil:
			llmWarnings = append(llmWarnings, fmt.Sprintf("llm fallback failed: %v", err))
		case len(llmOffers) > 0:
			converted := make([]RawOffer, 0, len(llmOffers))
			for _, row := range llmOffers {
				converted = append(converted, OfferRowToRaw(row))
			}
			if len(offers) == 0 {
				return &Result{Offers: converted, Warnings: extractWarnings}, nil
			}
			// PreferLLM with heuristic hits: the model output wins.
			if opts.PreferLLM {
				return &Result{Offers: converted, Warnings: append(warnings, extractWarnings...)}, nil
			}
		default:
			llmWarnings = append(llmWarnings, extractWarnings...)
		}
	}

	warnings = append(warnings, llmWarnings...)
	if len(offers) == 0 && len(warnings) == 0 {
		warnings = append(warnings, "no offers extracted from WhatsApp transcript")
	}
	return &Result{Offers: offers, Warnings: warnings}, nil
}

// parseTranscript walks the chat line by line, tracking the current sender.
// Price-bearing lines that still fail to parse surface as warnings; chatter
// without a price token is dropped silently.
func (p *WhatsAppTextProcessor) parseTranscript(rawLines []string, declaredVendor, currency string) ([]RawOffer, []string) {
	var offers []RawOffer
	var warnings []string
	var currentSpeaker string

	for idx, rawLine := range rawLines {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		lowered := strings.ToLower(line)
		if skipTranscriptLine(lowered) {
			continue
		}

		// Bracketed export form sets the speaker and may carry content.
		if m := transcriptBracketRegex.FindStringSubmatch(line); m != nil {
			currentSpeaker = strings.TrimSpace(m[1])
			line = strings.TrimSpace(m[2])
			if line == "" {
				continue
			}
		} else if transcriptTimeRegex.MatchString(line) {
			// Bare timestamp row in a mobile-screen copy; sender unknown
			// until the next label line.
			currentSpeaker = ""
			continue
		} else if strings.HasSuffix(line, ":") && len(line) <= 40 {
			currentSpeaker = strings.TrimRight(line, ": ")
			continue
		}

		speaker := declaredVendor
		if speaker == "" {
			speaker = currentSpeaker
		}
		if speaker == "" {
			speaker = "WhatsApp Vendor"
		}

		parsed, warn := ParseOfferLine(line, LineContext{
			VendorName:      speaker,
			DefaultCurrency: currency,
			RawPayload: map[string]interface{}{
				"line_number": idx + 1,
				"speaker":     speaker,
			},
		})
		if len(parsed) > 0 {
			offers = append(offers, parsed...)
			continue
		}
		if warn != "" && priceBearing(line) {
			warnings = append(warnings, fmt.Sprintf("line %d: %s", idx+1, warn))
		}
	}
	return offers, warnings
}

func skipTranscriptLine(lowered string) bool {
	if transcriptSkipLines[lowered] {
		return true
	}
	for _, prefix := range transcriptSkipPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}

func priceBearing(line string) bool {
	return strings.Contains(line, "$") || strings.Contains(strings.ToLower(line), "usd")
}
