package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/itsAR-VR/pricebot/internal/core/whatsapp"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/collector"
	"github.com/itsAR-VR/pricebot/internal/shared/config"
)

// The collector links a WhatsApp account, watches incoming messages, and
// ships them to the pricebot ingest API in signed batches. It holds no
// database connection of its own; the API is the single writer.
func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.LoadConfig()
	log.Info().
		Str("server", cfg.CollectorServerURL).
		Str("client_id", cfg.CollectorClientID).
		Msg("Starting pricebot collector")

	batcher := collector.NewBatcher(collector.BatcherConfig{
		ServerURL:   cfg.CollectorServerURL,
		ClientID:    cfg.CollectorClientID,
		IngestToken: cfg.WhatsAppIngestToken,
		HMACSecret:  cfg.WhatsAppIngestHMACSecret,
		BatchSize:   cfg.CollectorBatchSize,
		FlushEvery:  time.Duration(cfg.CollectorFlushSecs) * time.Second,
	})
	batcher.Start()

	session := whatsapp.NewSession(cfg.WhatsAppStoreURL, "whatsapp-qr.png")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("WhatsApp connect failed")
	}

	listener := collector.NewListener(session, batcher, int64(cfg.CollectorMediaMaxMB)*1024*1024)
	if err := listener.Start(); err != nil {
		log.Fatal().Err(err).Msg("Listener start failed")
	}

	go session.KeepAlive(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down collector")

	cancel()
	session.Disconnect()
	// Stop flushes pending messages before returning so a restart loses
	// nothing that was already observed.
	batcher.Stop()
	log.Info().Msg("Collector stopped")
}
