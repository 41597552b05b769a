package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/swagger"
	"github.com/google/uuid"

	"github.com/itsAR-VR/pricebot/internal/core/auth"
	"github.com/itsAR-VR/pricebot/internal/core/export"
	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/core/jobs"
	"github.com/itsAR-VR/pricebot/internal/core/llm"
	"github.com/itsAR-VR/pricebot/internal/core/metrics"
	"github.com/itsAR-VR/pricebot/internal/core/ocr"
	"github.com/itsAR-VR/pricebot/internal/core/ratelimit"
	"github.com/itsAR-VR/pricebot/internal/core/schedule"
	"github.com/itsAR-VR/pricebot/internal/core/storage"
	"github.com/itsAR-VR/pricebot/internal/core/vector"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/handlers"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/repositories"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
	"github.com/itsAR-VR/pricebot/internal/shared/config"
	"github.com/itsAR-VR/pricebot/internal/shared/database"
	"github.com/itsAR-VR/pricebot/internal/shared/utils"

	_ "github.com/itsAR-VR/pricebot/cmd/api/docs"
)

// @title Pricebot API
// @version 1.0
// @description Price-intelligence ingestion and query service for electronics vendors
// @contact.name API Support
// @license.name MIT
// @host localhost:8080
// @BasePath /
func main() {
	utils.InitLogger()

	cfg := config.LoadConfig()
	log.Printf("🚀 Starting pricebot api on port %s (env=%s)", cfg.Port, cfg.Env)

	db := database.NewDB(cfg.DatabaseURL)
	defer db.Close()

	artifactStore, err := storage.NewArtifactStore(cfg.IngestionStorageDir)
	if err != nil {
		log.Fatalf("❌ Failed to init artifact store: %v", err)
	}
	mediaStore, err := storage.NewMediaStore(filepath.Join(cfg.IngestionStorageDir, "media"))
	if err != nil {
		log.Fatalf("❌ Failed to init media store: %v", err)
	}

	metricsRegistry := metrics.NewRegistry()

	// Optional LLM extraction fallback
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
		log.Printf("🤖 LLM extraction enabled: %s", extractor.GetProviderName())
	} else {
		log.Printf("⚠️  LLM extraction disabled")
	}

	// Optional OCR for PDFs and images
	var ocrProvider ocr.Provider
	switch cfg.OCRProvider {
	case "ocrspace":
		ocrProvider = ocr.NewOCRSpaceProvider(cfg.OCRAPIKey)
	case "google_vision":
		ocrProvider = ocr.NewGoogleVisionProvider(cfg.OCRAPIKey)
	case "tesseract":
		ocrProvider = ocr.NewTesseractProvider("eng")
	default:
		ocrProvider = ocr.NewDisabledProvider()
	}
	log.Printf("🔍 OCR provider: %s", ocrProvider.GetProviderName())

	// Optional alias embedding index
	var aliasIndex *vector.AliasIndex
	switch cfg.VectorProvider {
	case "qdrant", "qdrant_self_hosted":
		provider, err := vector.NewQdrantSelfHostedProvider(cfg.QdrantHost, cfg.QdrantPort)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Qdrant: %v", err)
		}
		aliasIndex = buildAliasIndex(provider, cfg)
	case "qdrant_cloud":
		provider, err := vector.NewQdrantCloudProvider(cfg.QdrantURL, cfg.QdrantAPIKey)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Qdrant cloud: %v", err)
		}
		aliasIndex = buildAliasIndex(provider, cfg)
	default:
		log.Printf("⚠️  Alias embedding index disabled")
	}
	if aliasIndex != nil {
		defer aliasIndex.Close()
	}

	// Processor registry
	registry := ingestion.NewRegistry()
	registry.Register(ingestion.NewSpreadsheetProcessor(extractor, cfg.LLMEnabled()))
	registry.Register(ingestion.NewDocumentProcessor(ocrProvider, cfg.PDFMinTextChars))
	registry.Register(ingestion.NewWhatsAppTextProcessor(extractor))

	// Background job runner
	runner := jobs.NewRunner(jobs.RunnerConfig{
		Workers:      cfg.JobWorkerCount,
		DrainTimeout: 30 * time.Second,
	})

	// Services
	ingestService := services.NewIngestionService(aliasIndex, cfg.EmbeddingSimilarityThreshold, cfg.EmbeddingCandidates)
	documentService := services.NewDocumentService(db, artifactStore, registry, ingestService, runner, services.DocumentConfig{
		Currency:   cfg.DefaultCurrency,
		DisableLLM: !cfg.LLMEnabled(),
		StaleAfter: time.Duration(cfg.JobStaleAfterMinute) * time.Minute,
	})
	runner.Register(documentService)

	extractService := services.NewWhatsAppExtractService(db, ingestService, extractor, metricsRegistry, services.WhatsAppExtractConfig{
		MaxMessages: cfg.WhatsAppExtractMaxMessages,
		Currency:    cfg.DefaultCurrency,
		DisableLLM:  !cfg.LLMEnabled(),
	})

	// Debounced extraction: chat triggers coalesce until the chat has been
	// quiet for the configured delay; a non-positive delay extracts at once.
	runExtract := func(key string) {
		if _, err := extractService.ExtractChat(context.Background(), key, true); err != nil {
			utils.LogError("Debounced extraction failed", err, map[string]interface{}{"chat_id": key})
		}
	}
	var scheduleExtract func(chatID uuid.UUID)
	var debouncer *schedule.Debouncer
	if cfg.WhatsAppExtractDebounceSecs > 0 {
		debouncer = schedule.NewDebouncer(time.Duration(cfg.WhatsAppExtractDebounceSecs*float64(time.Second)), runExtract)
		scheduleExtract = func(chatID uuid.UUID) { debouncer.Trigger(chatID.String()) }
	} else {
		scheduleExtract = func(chatID uuid.UUID) { go runExtract(chatID.String()) }
	}

	whatsappService := services.NewWhatsAppIngestService(db, mediaStore, registry, runner, metricsRegistry, scheduleExtract, services.WhatsAppIngestConfig{
		DedupeWindow: time.Duration(cfg.WhatsAppContentHashWindowH) * time.Hour,
	})

	queryService := services.NewQueryService(db, aliasIndex, services.QueryConfig{
		ServiceName:     "pricebot",
		Environment:     cfg.Env,
		DefaultCurrency: cfg.DefaultCurrency,
		LLMEnabled:      cfg.LLMEnabled(),
	})

	resolver := services.NewProductResolver(repositories.NewProductRepo(db.GORM), aliasIndex, cfg.EmbeddingSimilarityThreshold, cfg.EmbeddingCandidates)
	exportService := export.NewService()

	// Handlers
	healthHandler := handlers.NewHealthHandler("pricebot", cfg.Env)
	metricsHandler := handlers.NewMetricsHandler(metricsRegistry)
	documentHandler := handlers.NewDocumentHandler(documentService, exportService)
	offerHandler := handlers.NewOfferHandler(queryService)
	productHandler := handlers.NewProductHandler(queryService)
	vendorHandler := handlers.NewVendorHandler(queryService)
	historyHandler := handlers.NewPriceHistoryHandler(queryService)
	chatToolsHandler := handlers.NewChatToolsHandler(queryService)
	adminHandler := handlers.NewAdminHandler(documentService, queryService, exportService)
	whatsappHandler := handlers.NewWhatsAppHandler(whatsappService, extractService, handlers.WhatsAppStatusInfo{
		Environment:        cfg.Env,
		TokenConfigured:    cfg.WhatsAppIngestToken != "",
		HMACConfigured:     cfg.WhatsAppIngestHMACSecret != "",
		RateLimitPerMinute: cfg.WhatsAppRateLimitPerMinute,
		DedupeWindowHours:  cfg.WhatsAppContentHashWindowH,
		DebounceSeconds:    cfg.WhatsAppExtractDebounceSecs,
		ExtractMaxMessages: cfg.WhatsAppExtractMaxMessages,
	})

	// Ingest protection chain
	guard := auth.GuardConfig{
		Token:        cfg.WhatsAppIngestToken,
		HMACSecret:   cfg.WhatsAppIngestHMACSecret,
		SignatureTTL: time.Duration(cfg.WhatsAppSignatureTTLSeconds) * time.Second,
		Production:   !cfg.IsLocal(),
	}
	limiter := ratelimit.NewLimiter(cfg.WhatsAppRateLimitPerMinute, cfg.WhatsAppRateLimitBurst)
	adminGate := auth.AdminBasicAuth(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminAuthEnabled())

	app := fiber.New(fiber.Config{
		AppName:   "Pricebot API",
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Use(cors.New())

	// Swagger
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Health + metrics
	app.Get("/health", healthHandler.GetHealth)
	app.Get("/metrics", metricsHandler.GetMetrics)
	app.Get("/metrics/whatsapp", metricsHandler.GetWhatsAppMetrics)

	// Document routes
	app.Post("/documents/upload", documentHandler.UploadDocument)
	app.Get("/documents", documentHandler.ListDocuments)
	app.Get("/documents/templates/vendor-price", documentHandler.GetVendorPriceTemplate)
	app.Get("/documents/jobs/:id", documentHandler.GetJobStatus)
	app.Get("/documents/:id", documentHandler.GetDocument)

	// Catalog read routes
	app.Get("/offers", offerHandler.ListOffers)
	app.Get("/products", productHandler.ListProducts)
	app.Get("/products/:id", productHandler.GetProduct)
	app.Get("/vendors", vendorHandler.ListVendors)
	app.Get("/vendors/:id", vendorHandler.GetVendor)
	app.Get("/price-history/product/:id", historyHandler.GetProductHistory)
	app.Get("/price-history/vendor/:id", historyHandler.GetVendorHistory)

	// Chat tool routes
	app.Post("/chat/tools/products/resolve", chatToolsHandler.ResolveProducts)
	app.Post("/chat/tools/offers/search-best-price", chatToolsHandler.SearchBestPrice)
	app.Get("/chat/tools/diagnostics", adminGate, chatToolsHandler.GetDiagnostics)
	app.Get("/chat/tools/diagnostics/download", adminGate, chatToolsHandler.DownloadDiagnostics)

	// WhatsApp integration routes
	app.Post("/integrations/whatsapp/ingest",
		auth.IngestTokenMiddleware(guard, metricsRegistry),
		auth.SignatureMiddleware(guard, metricsRegistry),
		auth.RateLimitMiddleware(limiter, metricsRegistry),
		whatsappHandler.PostIngest,
	)
	app.Get("/integrations/whatsapp/chats", whatsappHandler.ListChats)
	app.Post("/integrations/whatsapp/chats/:id/extract", whatsappHandler.ExtractChat)
	app.Post("/integrations/whatsapp/chats/:id/extract-latest", whatsappHandler.ExtractLatest)
	app.Get("/integrations/whatsapp/status", whatsappHandler.GetStatus)

	// Admin routes
	admin := app.Group("/admin", adminGate)
	admin.Post("/documents/:id/reprocess", adminHandler.ReprocessDocument)
	admin.Post("/jobs/reconcile", adminHandler.ReconcileJobs)
	admin.Get("/exports/offers.xlsx", adminHandler.ExportOffers)
	admin.Get("/exports/price-list.pdf", adminHandler.ExportPriceList)

	// Start the worker pool and reconcile jobs stranded by the last shutdown.
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(rootCtx); err != nil {
		log.Fatalf("❌ Failed to start job runner: %v", err)
	}
	if n, err := documentService.ReconcileStaleJobs(); err != nil {
		utils.LogError("Startup job reconciliation failed", err, nil)
	} else if n > 0 {
		log.Printf("♻️  Reconciled %d stale jobs from previous run", n)
	}

	// Maintenance scheduler
	scheduler := schedule.NewScheduler()
	mustSchedule(scheduler, "stale-job-reconcile", "0 */10 * * * *", func() {
		if _, err := documentService.ReconcileStaleJobs(); err != nil {
			utils.LogError("Stale job reconcile failed", err, nil)
		}
	})
	mustSchedule(scheduler, "whatsapp-extract-sweep", "0 */5 * * * *", func() {
		if _, err := extractService.SweepChats(context.Background(), 10*time.Minute); err != nil {
			utils.LogError("WhatsApp extract sweep failed", err, nil)
		}
	})
	if aliasIndex != nil {
		mustSchedule(scheduler, "alias-embedding-backfill", "0 0 3 * * *", func() {
			if n, err := resolver.BackfillAliasEmbeddings(context.Background(), 500); err != nil {
				utils.LogError("Alias embedding backfill failed", err, nil)
			} else if n > 0 {
				log.Printf("🧭 Backfilled %d alias embeddings", n)
			}
		})
	}
	scheduler.Start()

	// Serve until a shutdown signal, then drain in-flight work.
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + cfg.Port)
	}()
	log.Printf("✅ pricebot api running at :%s", cfg.Port)
	log.Printf("📄 Swagger UI: http://localhost:%s/swagger/", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("🛑 Received %s, shutting down...", sig)
	case err := <-errCh:
		log.Fatalf("❌ Server error: %v", err)
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		utils.LogError("HTTP shutdown failed", err, nil)
	}
	scheduler.Stop()
	if debouncer != nil {
		debouncer.Stop()
	}
	runner.Stop()
	log.Println("👋 pricebot api stopped")
}

func buildAliasIndex(provider vector.Provider, cfg *config.Config) *vector.AliasIndex {
	embedding, err := vector.NewOpenAIEmbeddingProvider(cfg.LLMAPIKey, cfg.EmbeddingModel)
	if err != nil {
		log.Fatalf("❌ Failed to init embedding provider: %v", err)
	}
	index := vector.NewAliasIndex(provider, embedding, cfg.AliasCollection)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := index.EnsureReady(ctx); err != nil {
		log.Fatalf("❌ Alias index not ready: %v", err)
	}
	log.Printf("🧭 Alias index ready (%s, collection=%s)", index.ProviderType(), cfg.AliasCollection)
	return index
}

func mustSchedule(s *schedule.Scheduler, name, expr string, fn func()) {
	if err := s.AddTask(name, expr, fn); err != nil {
		log.Fatalf("❌ Failed to schedule %s: %v", name, err)
	}
}
