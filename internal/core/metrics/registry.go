// Package metrics keeps in-memory counters for WhatsApp ingest and
// extraction activity, keyed by (client_id, chat_id). Counters reset on
// process restart; they exist for operational visibility, not billing.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const failureRingSize = 50

// Counter accumulates activity for one (client, chat) pair.
type Counter struct {
	ClientID  string `json:"client_id"`
	ChatID    string `json:"chat_id"`
	ChatTitle string `json:"chat_title,omitempty"`

	Accepted  int64 `json:"accepted"`
	Created   int64 `json:"created"`
	Deduped   int64 `json:"deduped"`
	Extracted int64 `json:"extracted"`
	Errors    int64 `json:"errors"`

	MediaUploaded int64 `json:"media_uploaded"`
	MediaDeduped  int64 `json:"media_deduped"`
	MediaFailed   int64 `json:"media_failed"`

	HTTP4xx           int64 `json:"http_4xx"`
	HTTP5xx           int64 `json:"http_5xx"`
	AuthFailures      int64 `json:"auth_failures"`
	Forbidden         int64 `json:"forbidden"`
	RateLimited       int64 `json:"rate_limited"`
	SignatureFailures int64 `json:"signature_failures"`

	LastEventAt       time.Time  `json:"last_event_at"`
	LastFailureStatus int        `json:"last_failure_status,omitempty"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
	LastFailureAt     *time.Time `json:"last_failure_at,omitempty"`
}

// FailureEvent is one rejected or errored request, kept in a bounded ring.
type FailureEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	ClientID   string    `json:"client_id"`
	StatusCode int       `json:"status_code"`
	Reason     string    `json:"reason,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	ChatTitle  string    `json:"chat_title,omitempty"`
}

// IngestOutcome is the per-message result the ingest service reports.
// Status is one of "created", "deduped", "skipped".
type IngestOutcome struct {
	ChatID    string
	ChatTitle string
	Status    string
}

// Totals is the sum of every counter across all keys.
type Totals struct {
	Accepted          int64 `json:"accepted"`
	Created           int64 `json:"created"`
	Deduped           int64 `json:"deduped"`
	Extracted         int64 `json:"extracted"`
	Errors            int64 `json:"errors"`
	MediaUploaded     int64 `json:"media_uploaded"`
	MediaDeduped      int64 `json:"media_deduped"`
	MediaFailed       int64 `json:"media_failed"`
	HTTP4xx           int64 `json:"http_4xx"`
	HTTP5xx           int64 `json:"http_5xx"`
	AuthFailures      int64 `json:"auth_failures"`
	Forbidden         int64 `json:"forbidden"`
	RateLimited       int64 `json:"rate_limited"`
	SignatureFailures int64 `json:"signature_failures"`
}

type counterKey struct {
	clientID string
	chatID   string
}

// Registry is the process-wide metrics store. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	counters map[counterKey]*Counter
	failures []FailureEvent

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[counterKey]*Counter),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) key(clientID, chatID string) counterKey {
	if clientID == "" {
		clientID = "unknown"
	}
	if chatID == "" {
		chatID = "unknown"
	}
	return counterKey{clientID: clientID, chatID: chatID}
}

// locked; caller holds r.mu.
func (r *Registry) counter(k counterKey) *Counter {
	c, ok := r.counters[k]
	if !ok {
		c = &Counter{ClientID: k.clientID, ChatID: k.chatID, LastEventAt: r.now()}
		r.counters[k] = c
	}
	return c
}

// RecordIngest tallies a batch of per-message decisions grouped by chat.
func (r *Registry) RecordIngest(clientID string, outcomes []IngestOutcome) {
	if len(outcomes) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range outcomes {
		c := r.counter(r.key(clientID, o.ChatID))
		c.Accepted++
		switch o.Status {
		case "created":
			c.Created++
		case "deduped":
			c.Deduped++
		default:
			c.Errors++
		}
		if o.ChatTitle != "" {
			c.ChatTitle = o.ChatTitle
		}
		c.LastEventAt = r.now()
	}
}

// RecordExtract tallies an extraction run for one chat.
func (r *Registry) RecordExtract(clientID, chatID, chatTitle string, offers, errors int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counter(r.key(clientID, chatID))
	c.Extracted += int64(offers)
	c.Errors += int64(errors)
	if chatTitle != "" {
		c.ChatTitle = chatTitle
	}
	c.LastEventAt = r.now()
}

// RecordMedia tallies one media attachment outcome. Status is one of
// "stored", "deduped", "failed".
func (r *Registry) RecordMedia(clientID, chatID, chatTitle, status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counter(r.key(clientID, chatID))
	switch status {
	case "stored":
		c.MediaUploaded++
	case "deduped":
		c.MediaDeduped++
	default:
		c.MediaFailed++
		c.Errors++
		if reason != "" {
			c.LastFailureReason = reason
			t := r.now()
			c.LastFailureAt = &t
		}
	}
	if chatTitle != "" {
		c.ChatTitle = chatTitle
	}
	c.LastEventAt = r.now()
}

// RecordHTTPEvent tallies a rejected or failed HTTP request against the
// caller and pushes it onto the failure ring.
func (r *Registry) RecordHTTPEvent(clientID, chatID, chatTitle string, statusCode int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.counter(r.key(clientID, chatID))
	switch {
	case statusCode >= 500:
		c.HTTP5xx++
	case statusCode >= 400:
		c.HTTP4xx++
	}
	switch statusCode {
	case 401:
		c.AuthFailures++
	case 403:
		c.Forbidden++
	case 429:
		c.RateLimited++
	}
	if reason == "invalid_signature" || reason == "stale_signature" {
		c.SignatureFailures++
	}
	if chatTitle != "" {
		c.ChatTitle = chatTitle
	}
	now := r.now()
	c.LastEventAt = now
	c.LastFailureStatus = statusCode
	c.LastFailureReason = reason
	c.LastFailureAt = &now

	r.failures = append(r.failures, FailureEvent{
		Timestamp:  now,
		ClientID:   c.ClientID,
		StatusCode: statusCode,
		Reason:     reason,
		ChatID:     c.ChatID,
		ChatTitle:  c.ChatTitle,
	})
	if len(r.failures) > failureRingSize {
		r.failures = r.failures[len(r.failures)-failureRingSize:]
	}
}

// Snapshot returns copies of all counters ordered by most recent activity.
func (r *Registry) Snapshot() []Counter {
	r.mu.Lock()
	out := make([]Counter, 0, len(r.counters))
	for _, c := range r.counters {
		out = append(out, *c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastEventAt.After(out[j].LastEventAt)
	})
	return out
}

// RecentFailures returns up to limit failure events, newest first.
func (r *Registry) RecentFailures(limit int) []FailureEvent {
	if limit <= 0 {
		limit = 10
	}
	r.mu.Lock()
	events := make([]FailureEvent, len(r.failures))
	copy(events, r.failures)
	r.mu.Unlock()

	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	// newest first
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}

// AggregateTotals sums every counter across all keys.
func (r *Registry) AggregateTotals() Totals {
	r.mu.Lock()
	defer r.mu.Unlock()

	var t Totals
	for _, c := range r.counters {
		t.Accepted += c.Accepted
		t.Created += c.Created
		t.Deduped += c.Deduped
		t.Extracted += c.Extracted
		t.Errors += c.Errors
		t.MediaUploaded += c.MediaUploaded
		t.MediaDeduped += c.MediaDeduped
		t.MediaFailed += c.MediaFailed
		t.HTTP4xx += c.HTTP4xx
		t.HTTP5xx += c.HTTP5xx
		t.AuthFailures += c.AuthFailures
		t.Forbidden += c.Forbidden
		t.RateLimited += c.RateLimited
		t.SignatureFailures += c.SignatureFailures
	}
	return t
}
