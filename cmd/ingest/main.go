package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/core/jobs"
	"github.com/itsAR-VR/pricebot/internal/core/llm"
	"github.com/itsAR-VR/pricebot/internal/core/ocr"
	"github.com/itsAR-VR/pricebot/internal/core/storage"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
	"github.com/itsAR-VR/pricebot/internal/shared/config"
	"github.com/itsAR-VR/pricebot/internal/shared/database"
	"github.com/itsAR-VR/pricebot/internal/shared/utils"
)

// inlineQueue runs each enqueued task synchronously instead of handing it to
// the worker pool, so the CLI processes the file before exiting. Run errors
// are already recorded on the job row, so they are not surfaced to Upload.
type inlineQueue struct {
	handler jobs.Handler
}

func (q *inlineQueue) Enqueue(task jobs.Task) error {
	if err := q.handler.Handle(context.Background(), task.ID); err != nil {
		log.Printf("⚠️ Processing failed: %v", err)
	}
	return nil
}

func main() {
	var vendorName string
	var currency string
	var processorName string
	flag.StringVar(&vendorName, "vendor", "", "Vendor the file belongs to")
	flag.StringVar(&currency, "currency", "", "Currency override for parsed prices")
	flag.StringVar(&processorName, "processor", "", "Force a processor (spreadsheet, document_text, whatsapp_text)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pricebot-ingest [flags] <file>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	filePath := flag.Arg(0)

	utils.InitLogger()
	cfg := config.LoadConfig()
	if currency != "" {
		cfg.DefaultCurrency = currency
	}

	file, err := os.Open(filePath)
	if err != nil {
		log.Fatalf("❌ Cannot open %s: %v", filePath, err)
	}
	defer file.Close()

	db := database.NewDB(cfg.DatabaseURL)
	defer db.Close()

	store, err := storage.NewArtifactStore(cfg.IngestionStorageDir)
	if err != nil {
		log.Fatalf("❌ Failed to init artifact store: %v", err)
	}

	var extractor *llm.OfferExtractor
	if cfg.LLMEnabled() {
		provider, err := llm.NewProvider(&llm.ProviderConfig{
			Type:   llm.ProviderType(cfg.LLMProvider),
			APIKey: cfg.LLMAPIKey,
			Model:  cfg.LLMModel,
		})
		if err != nil {
			log.Fatalf("❌ Failed to init LLM provider: %v", err)
		}
		extractor = llm.NewOfferExtractor(provider)
	}

	var ocrProvider ocr.Provider
	switch cfg.OCRProvider {
	case "ocrspace":
		ocrProvider = ocr.NewOCRSpaceProvider(cfg.OCRAPIKey)
	case "google_vision":
		ocrProvider = ocr.NewGoogleVisionProvider(cfg.OCRAPIKey)
	default:
		ocrProvider = ocr.NewDisabledProvider()
	}

	registry := ingestion.NewRegistry()
	registry.Register(ingestion.NewSpreadsheetProcessor(extractor, cfg.LLMEnabled()))
	registry.Register(ingestion.NewDocumentProcessor(ocrProvider, cfg.PDFMinTextChars))
	registry.Register(ingestion.NewWhatsAppTextProcessor(extractor))

	// Embedding-based alias matching is skipped for one-shot ingests; the
	// nightly backfill indexes any aliases this run creates.
	ingestService := services.NewIngestionService(nil, cfg.EmbeddingSimilarityThreshold, cfg.EmbeddingCandidates)

	queue := &inlineQueue{}
	documentService := services.NewDocumentService(db, store, registry, ingestService, queue, services.DocumentConfig{
		Currency:   cfg.DefaultCurrency,
		DisableLLM: !cfg.LLMEnabled(),
	})
	queue.handler = documentService

	start := time.Now()
	resp, err := documentService.Upload(filepath.Base(filePath), vendorName, processorName, file)
	if err != nil {
		log.Fatalf("❌ Ingest failed: %v", err)
	}

	status, err := documentService.JobStatus(resp.JobID.String())
	if err != nil {
		log.Fatalf("❌ Cannot read job status: %v", err)
	}

	fmt.Printf("Document:  %s\n", resp.DocumentID)
	fmt.Printf("Job:       %s (%s)\n", status.ID, status.Status)
	fmt.Printf("Processor: %s\n", status.Processor)
	fmt.Printf("Offers:    %d\n", status.Summary.Offers)
	if len(status.Summary.Warnings) > 0 {
		fmt.Printf("Warnings:  %d\n", len(status.Summary.Warnings))
		for _, w := range status.Summary.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
	for _, e := range status.Summary.Errors {
		fmt.Printf("Error:     %s\n", e)
	}
	fmt.Printf("Took:      %s\n", time.Since(start).Round(time.Millisecond))

	if status.Status == "failed" {
		os.Exit(1)
	}
}
