package metrics

import (
	"testing"
	"time"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// TestRecordIngestGroupsByChat verifies that decisions land on the right
// (client, chat) counter and that statuses map to the right columns.
func TestRecordIngestGroupsByChat(t *testing.T) {
	r := NewRegistry()
	r.now = fixedClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	r.RecordIngest("c1", []IngestOutcome{
		{ChatID: "chat-a", ChatTitle: "Deals", Status: "created"},
		{ChatID: "chat-a", ChatTitle: "Deals", Status: "deduped"},
		{ChatID: "chat-b", Status: "skipped"},
	})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 counters, got %d", len(snap))
	}

	var a, b *Counter
	for i := range snap {
		switch snap[i].ChatID {
		case "chat-a":
			a = &snap[i]
		case "chat-b":
			b = &snap[i]
		}
	}
	if a == nil || b == nil {
		t.Fatalf("missing counters: %+v", snap)
	}
	if a.Accepted != 2 || a.Created != 1 || a.Deduped != 1 {
		t.Errorf("chat-a counter wrong: %+v", a)
	}
	if a.ChatTitle != "Deals" {
		t.Errorf("expected chat title to stick, got %q", a.ChatTitle)
	}
	if b.Accepted != 1 || b.Errors != 1 {
		t.Errorf("chat-b counter wrong: %+v", b)
	}
}

// TestRecordHTTPEventClassification verifies status codes land in the
// matching buckets and push onto the failure ring.
func TestRecordHTTPEventClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reason string
		check  func(t *testing.T, c Counter)
	}{
		{"unauthorized", 401, "missing_token", func(t *testing.T, c Counter) {
			if c.HTTP4xx != 1 || c.AuthFailures != 1 {
				t.Errorf("401 not classified: %+v", c)
			}
		}},
		{"bad signature", 403, "invalid_signature", func(t *testing.T, c Counter) {
			if c.Forbidden != 1 || c.SignatureFailures != 1 {
				t.Errorf("403 not classified: %+v", c)
			}
		}},
		{"rate limited", 429, "rate_limited", func(t *testing.T, c Counter) {
			if c.RateLimited != 1 || c.HTTP4xx != 1 {
				t.Errorf("429 not classified: %+v", c)
			}
		}},
		{"server error", 503, "db_down", func(t *testing.T, c Counter) {
			if c.HTTP5xx != 1 || c.HTTP4xx != 0 {
				t.Errorf("503 not classified: %+v", c)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.RecordHTTPEvent("c1", "", "", tt.status, tt.reason)
			snap := r.Snapshot()
			if len(snap) != 1 {
				t.Fatalf("expected one counter, got %d", len(snap))
			}
			tt.check(t, snap[0])
			if snap[0].LastFailureStatus != tt.status {
				t.Errorf("last failure status = %d, want %d", snap[0].LastFailureStatus, tt.status)
			}
			fails := r.RecentFailures(10)
			if len(fails) != 1 || fails[0].StatusCode != tt.status {
				t.Errorf("failure ring = %+v", fails)
			}
		})
	}
}

// TestFailureRingBounded verifies only the newest 50 events survive and
// RecentFailures returns them newest first.
func TestFailureRingBounded(t *testing.T) {
	r := NewRegistry()
	r.now = fixedClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	for i := 0; i < 75; i++ {
		r.RecordHTTPEvent("c1", "", "", 400+i, "r")
	}

	all := r.RecentFailures(100)
	if len(all) != failureRingSize {
		t.Fatalf("ring size = %d, want %d", len(all), failureRingSize)
	}
	if all[0].StatusCode != 400+74 {
		t.Errorf("newest event should come first, got status %d", all[0].StatusCode)
	}
	if all[len(all)-1].StatusCode != 400+25 {
		t.Errorf("oldest kept event should be the 26th, got status %d", all[len(all)-1].StatusCode)
	}
}

// TestSnapshotOrder verifies counters come back sorted by last activity.
func TestSnapshotOrder(t *testing.T) {
	r := NewRegistry()
	r.now = fixedClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	r.RecordExtract("c1", "old-chat", "", 1, 0)
	r.RecordExtract("c1", "new-chat", "", 1, 0)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 counters, got %d", len(snap))
	}
	if snap[0].ChatID != "new-chat" {
		t.Errorf("expected most recent chat first, got %q", snap[0].ChatID)
	}
}

// TestAggregateTotals verifies the totals sum across keys.
func TestAggregateTotals(t *testing.T) {
	r := NewRegistry()
	r.RecordIngest("c1", []IngestOutcome{{ChatID: "a", Status: "created"}})
	r.RecordIngest("c2", []IngestOutcome{{ChatID: "b", Status: "created"}, {ChatID: "b", Status: "deduped"}})
	r.RecordMedia("c1", "a", "", "stored", "")
	r.RecordMedia("c1", "a", "", "failed", "too_big")

	tot := r.AggregateTotals()
	if tot.Accepted != 3 || tot.Created != 2 || tot.Deduped != 1 {
		t.Errorf("ingest totals wrong: %+v", tot)
	}
	if tot.MediaUploaded != 1 || tot.MediaFailed != 1 || tot.Errors != 1 {
		t.Errorf("media totals wrong: %+v", tot)
	}
}
