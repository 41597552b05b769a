package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itsAR-VR/pricebot/internal/core/auth"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
)

// IngestPath is the API route signed batches are posted to.
const IngestPath = "/integrations/whatsapp/ingest"

// BatcherConfig configures batch shipping to the ingest API.
type BatcherConfig struct {
	ServerURL   string        // base URL of the pricebot API
	ClientID    string        // collector identity reported in each batch
	IngestToken string        // X-Ingest-Token value
	HMACSecret  string        // signs each request body; empty disables signing
	BatchSize   int           // flush when this many messages are pending
	FlushEvery  time.Duration // flush partial batches at this interval
	MaxPending  int           // oldest messages are dropped beyond this backlog
	RetryBase   time.Duration // first retry delay, doubled per attempt
}

// Batcher accumulates observed messages and ships them to the ingest API in
// signed batches. Batches survive transient server errors by re-queueing at
// the front, so ordering within a chat is preserved.
type Batcher struct {
	config     BatcherConfig
	httpClient *http.Client

	mu      sync.Mutex
	pending []models.WhatsAppMessageIn

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewBatcher creates a batcher
func NewBatcher(config BatcherConfig) *Batcher {
	if config.BatchSize < 1 {
		config.BatchSize = 20
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = 3 * time.Second
	}
	if config.MaxPending < config.BatchSize {
		config.MaxPending = 5000
	}
	if config.RetryBase <= 0 {
		config.RetryBase = time.Second
	}
	config.ServerURL = strings.TrimRight(config.ServerURL, "/")

	return &Batcher{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Add queues one message for the next batch
func (b *Batcher) Add(msg models.WhatsAppMessageIn) {
	b.mu.Lock()
	if len(b.pending) >= b.config.MaxPending {
		b.pending = b.pending[1:]
		log.Printf("⚠️ Collector backlog full (%d), dropping oldest message", b.config.MaxPending)
	}
	b.pending = append(b.pending, msg)
	full := len(b.pending) >= b.config.BatchSize
	b.mu.Unlock()

	if full {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

// Pending reports the current backlog size
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Start launches the flush loop
func (b *Batcher) Start() {
	go b.run()
}

// Stop flushes the remaining backlog and stops the loop
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	<-b.done
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			// Final best-effort flush of whatever is left
			for b.Pending() > 0 {
				if err := b.flushOnce(2); err != nil {
					log.Printf("⚠️ Final flush failed, %d messages lost: %v", b.Pending(), err)
					return
				}
			}
			return
		case <-b.wake:
			b.drain()
		case <-ticker.C:
			b.drain()
		}
	}
}

// drain ships full batches until the backlog fits in one partial batch
func (b *Batcher) drain() {
	for {
		if err := b.flushOnce(5); err != nil {
			return
		}
		if b.Pending() < b.config.BatchSize {
			return
		}
	}
}

// flushOnce ships one batch. Retryable failures re-queue the batch at the
// front of the backlog.
func (b *Batcher) flushOnce(attempts int) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	n := len(b.pending)
	if n > b.config.BatchSize {
		n = b.config.BatchSize
	}
	batch := make([]models.WhatsAppMessageIn, n)
	copy(batch, b.pending[:n])
	b.pending = b.pending[n:]
	b.mu.Unlock()

	err := b.send(batch, attempts)
	if err == nil {
		return nil
	}

	if isRetryable(err) {
		b.mu.Lock()
		b.pending = append(batch, b.pending...)
		if len(b.pending) > b.config.MaxPending {
			b.pending = b.pending[:b.config.MaxPending]
		}
		b.mu.Unlock()
	}
	return err
}

// permanentError marks failures a retry cannot heal (auth, bad payload).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func isRetryable(err error) bool {
	_, permanent := err.(*permanentError)
	return !permanent
}

func (b *Batcher) send(batch []models.WhatsAppMessageIn, attempts int) error {
	body, err := json.Marshal(models.WhatsAppIngestRequest{
		ClientID: b.config.ClientID,
		Messages: batch,
	})
	if err != nil {
		return &permanentError{fmt.Errorf("marshal batch: %w", err)}
	}

	url := b.config.ServerURL + IngestPath
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		backoff := b.config.RetryBase << attempt

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return &permanentError{fmt.Errorf("build request: %w", err)}
		}
		for key, value := range auth.SignRequest(b.config.IngestToken, b.config.HMACSecret, body, time.Now()) {
			req.Header.Set(key, value)
		}

		resp, err := b.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("post batch: %w", err)
			b.pause(attempt, attempts, backoff)
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var result models.WhatsAppIngestResponse
			if err := json.Unmarshal(respBody, &result); err == nil {
				log.Printf("📤 Shipped batch of %d (created=%d deduped=%d)", len(batch), result.Created, result.Deduped)
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &permanentError{fmt.Errorf("ingest rejected batch (status %d): %s", resp.StatusCode, respBody)}

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (status 429)")
			wait := retryAfterDelay(resp.Header.Get("Retry-After"), backoff)
			log.Printf("⏳ Rate limited, waiting %v", wait)
			b.pause(attempt, attempts, wait)

		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
			lastErr = fmt.Errorf("server error (status %d): %s", resp.StatusCode, respBody)
			b.pause(attempt, attempts, backoff)

		default:
			return &permanentError{fmt.Errorf("ingest refused batch (status %d): %s", resp.StatusCode, respBody)}
		}
	}

	return lastErr
}

// pause sleeps between attempts, skipping the sleep after the last one.
func (b *Batcher) pause(attempt, attempts int, wait time.Duration) {
	if attempt+1 >= attempts {
		return
	}
	time.Sleep(wait)
}

// retryAfterDelay parses a Retry-After value in seconds, capped at a minute.
func retryAfterDelay(header string, fallback time.Duration) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return fallback
	}
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
