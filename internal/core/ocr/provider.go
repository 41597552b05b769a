package ocr

import (
	"context"
	"errors"
)

// ErrDisabled is returned by the no-op provider.
var ErrDisabled = errors.New("ocr is disabled")

// Provider interface for OCR services
type Provider interface {
	// ExtractText extracts text from a document or image. The file name is
	// passed along so providers that detect the format from the extension
	// (PDF vs image) can do so.
	ExtractText(ctx context.Context, fileName string, data []byte) (*OCRResult, error)

	// GetProviderName returns the provider name
	GetProviderName() string
}

// OCRResult contains the extracted text and metadata
type OCRResult struct {
	Text       string  `json:"text"`       // Raw extracted text
	Confidence float64 `json:"confidence"` // OCR confidence score (0-1)
}

// DisabledProvider is the default when no OCR backend is configured.
// Extraction attempts fail with ErrDisabled so callers can degrade to a
// warning instead of an error.
type DisabledProvider struct{}

func NewDisabledProvider() *DisabledProvider {
	return &DisabledProvider{}
}

func (p *DisabledProvider) GetProviderName() string {
	return "disabled"
}

func (p *DisabledProvider) ExtractText(ctx context.Context, fileName string, data []byte) (*OCRResult, error) {
	return nil, ErrDisabled
}
