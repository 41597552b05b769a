package config

import (
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL         string
	Port                string
	Env                 string
	IngestionStorageDir string
	DefaultCurrency     string

	EnableLLMExtraction bool
	LLMProvider         string
	LLMAPIKey           string
	LLMModel            string

	EmbeddingModel               string
	EmbeddingSimilarityThreshold float64
	EmbeddingCandidates          int

	OCRProvider     string
	OCRAPIKey       string
	PDFMinTextChars int

	VectorProvider  string
	QdrantHost      string
	QdrantPort      int
	QdrantURL       string
	QdrantAPIKey    string
	AliasCollection string

	WhatsAppIngestToken         string
	WhatsAppIngestHMACSecret    string
	WhatsAppSignatureTTLSeconds int
	WhatsAppRateLimitPerMinute  float64
	WhatsAppRateLimitBurst      float64
	WhatsAppContentHashWindowH  int
	WhatsAppExtractDebounceSecs float64
	WhatsAppExtractMaxMessages  int

	JobWorkerCount      int
	JobStaleAfterMinute int

	AdminUsername string
	AdminPassword string

	WhatsAppStoreURL    string
	CollectorServerURL  string
	CollectorClientID   string
	CollectorBatchSize  int
	CollectorFlushSecs  int
	CollectorMediaMaxMB int
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env file not found, using system environment variables")
	}

	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		Port:                os.Getenv("PORT"),
		Env:                 os.Getenv("ENVIRONMENT"),
		IngestionStorageDir: os.Getenv("INGESTION_STORAGE_DIR"),
		DefaultCurrency:     os.Getenv("DEFAULT_CURRENCY"),

		EnableLLMExtraction: envBool("ENABLE_LLM_EXTRACTION", false),
		LLMProvider:         os.Getenv("LLM_PROVIDER"),
		LLMAPIKey:           os.Getenv("LLM_API_KEY"),
		LLMModel:            os.Getenv("LLM_MODEL"),

		EmbeddingModel:               os.Getenv("EMBEDDING_MODEL"),
		EmbeddingSimilarityThreshold: envFloat("EMBEDDING_SIMILARITY_THRESHOLD", 0.86),
		EmbeddingCandidates:          envInt("EMBEDDING_CANDIDATES", 50),

		OCRProvider:     os.Getenv("OCR_PROVIDER"),
		OCRAPIKey:       os.Getenv("OCR_API_KEY"),
		PDFMinTextChars: envInt("PDF_MIN_TEXT_CHARS", 200),

		VectorProvider:  os.Getenv("VECTOR_PROVIDER"),
		QdrantHost:      os.Getenv("QDRANT_HOST"),
		QdrantPort:      envInt("QDRANT_PORT", 6334),
		QdrantURL:       os.Getenv("QDRANT_URL"),
		QdrantAPIKey:    os.Getenv("QDRANT_API_KEY"),
		AliasCollection: os.Getenv("ALIAS_COLLECTION"),

		WhatsAppIngestToken:         os.Getenv("WHATSAPP_INGEST_TOKEN"),
		WhatsAppIngestHMACSecret:    os.Getenv("WHATSAPP_INGEST_HMAC_SECRET"),
		WhatsAppSignatureTTLSeconds: envInt("WHATSAPP_INGEST_SIGNATURE_TTL_SECONDS", 300),
		WhatsAppRateLimitPerMinute:  envFloat("WHATSAPP_INGEST_RATE_LIMIT_PER_MINUTE", 120),
		WhatsAppRateLimitBurst:      envFloat("WHATSAPP_INGEST_RATE_LIMIT_BURST", 60),
		WhatsAppContentHashWindowH:  envInt("WHATSAPP_CONTENT_HASH_WINDOW_HOURS", 24),
		WhatsAppExtractDebounceSecs: envFloat("WHATSAPP_EXTRACT_DEBOUNCE_SECONDS", 5),
		WhatsAppExtractMaxMessages:  envInt("WHATSAPP_EXTRACT_MAX_MESSAGES", 500),

		JobWorkerCount:      envInt("JOB_WORKER_COUNT", runtime.NumCPU()),
		JobStaleAfterMinute: envInt("JOB_STALE_AFTER_MINUTES", 30),

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		WhatsAppStoreURL:    os.Getenv("WHATSAPP_STORE_URL"),
		CollectorServerURL:  os.Getenv("COLLECTOR_SERVER_URL"),
		CollectorClientID:   os.Getenv("COLLECTOR_CLIENT_ID"),
		CollectorBatchSize:  envInt("COLLECTOR_BATCH_SIZE", 20),
		CollectorFlushSecs:  envInt("COLLECTOR_FLUSH_SECONDS", 3),
		CollectorMediaMaxMB: envInt("COLLECTOR_MEDIA_MAX_MB", 10),
	}

	// Default values
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Env == "" {
		cfg.Env = "local"
	}
	if cfg.IngestionStorageDir == "" {
		cfg.IngestionStorageDir = "data/ingestion"
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	// LLMModel stays empty unless set; each provider applies its own default.
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.OCRProvider == "" {
		cfg.OCRProvider = "disabled"
	}
	if cfg.AliasCollection == "" {
		cfg.AliasCollection = "product_aliases"
	}
	if cfg.JobWorkerCount < 1 {
		cfg.JobWorkerCount = 1
	}
	if cfg.CollectorServerURL == "" {
		cfg.CollectorServerURL = "http://localhost:" + cfg.Port
	}
	if cfg.CollectorClientID == "" {
		cfg.CollectorClientID = "pricebot-collector"
	}

	return cfg
}

// IsLocal reports whether the service runs in the local environment, where
// the admin gate and the ingest token requirement are relaxed.
func (c *Config) IsLocal() bool {
	return strings.EqualFold(c.Env, "local")
}

// LLMEnabled reports whether the LLM extraction fallback can be used.
func (c *Config) LLMEnabled() bool {
	return c.EnableLLMExtraction && c.LLMAPIKey != ""
}

// AdminAuthEnabled reports whether basic auth guards the admin routes.
func (c *Config) AdminAuthEnabled() bool {
	return !c.IsLocal() && c.AdminUsername != "" && c.AdminPassword != ""
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
