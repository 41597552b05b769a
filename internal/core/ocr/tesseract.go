package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// TesseractProvider implements OCR using a local Tesseract install. Useful
// for development without an OCR.space key.
type TesseractProvider struct {
	tesseractPath string
	language      string
}

// NewTesseractProvider creates a new Tesseract OCR provider
func NewTesseractProvider(language string) *TesseractProvider {
	if language == "" {
		language = "eng" // Default to English
	}

	return &TesseractProvider{
		tesseractPath: "tesseract", // Assumes tesseract is in PATH
		language:      language,
	}
}

// ExtractText extracts text from an image using Tesseract
func (p *TesseractProvider) ExtractText(ctx context.Context, fileName string, data []byte) (*OCRResult, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		ext = ".jpg"
	}

	tempDir := os.TempDir()
	tempImagePath := filepath.Join(tempDir, fmt.Sprintf("ocr_image_%d%s", os.Getpid(), ext))
	tempOutputPath := filepath.Join(tempDir, fmt.Sprintf("ocr_output_%d", os.Getpid()))

	if err := os.WriteFile(tempImagePath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write temp image: %w", err)
	}
	defer os.Remove(tempImagePath)

	// tesseract input.jpg output -l eng
	cmd := exec.CommandContext(ctx, p.tesseractPath, tempImagePath, tempOutputPath, "-l", p.language)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("tesseract command failed: %w, output: %s", err, string(output))
	}

	// Tesseract adds .txt to the output path on its own.
	outputFilePath := tempOutputPath + ".txt"
	defer os.Remove(outputFilePath)

	textBytes, err := os.ReadFile(outputFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tesseract output: %w", err)
	}

	text := strings.TrimSpace(string(textBytes))

	return &OCRResult{
		Text:       text,
		Confidence: 0.90,
	}, nil
}

// GetProviderName returns the name of the provider
func (p *TesseractProvider) GetProviderName() string {
	return "Tesseract OCR"
}
