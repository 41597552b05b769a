package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
)

// TestPostIngestRejectsOutOfBoundsBatches verifies the ingest endpoint
// enforces the batch contract before any storage work: batch size capped at
// 500, text 1-5000 characters, chat_title 1-200 characters.
func TestPostIngestRejectsOutOfBoundsBatches(t *testing.T) {
	validMessages := func(n int) []models.WhatsAppMessageIn {
		msgs := make([]models.WhatsAppMessageIn, n)
		for i := range msgs {
			msgs[i] = models.WhatsAppMessageIn{
				ChatTitle: "Deals Chat",
				Text:      "iPhone 15 - $900",
			}
		}
		return msgs
	}

	tests := []struct {
		name    string
		mutate  func(req *models.WhatsAppIngestRequest)
		wantErr string
	}{
		{
			name:    "short client_id",
			mutate:  func(req *models.WhatsAppIngestRequest) { req.ClientID = "ab" },
			wantErr: "client_id",
		},
		{
			name:    "empty batch",
			mutate:  func(req *models.WhatsAppIngestRequest) { req.Messages = nil },
			wantErr: "must not be empty",
		},
		{
			name:    "oversized batch",
			mutate:  func(req *models.WhatsAppIngestRequest) { req.Messages = validMessages(501) },
			wantErr: "500 per batch",
		},
		{
			name:    "empty text",
			mutate:  func(req *models.WhatsAppIngestRequest) { req.Messages[0].Text = "" },
			wantErr: "text",
		},
		{
			name: "oversized text",
			mutate: func(req *models.WhatsAppIngestRequest) {
				req.Messages[0].Text = strings.Repeat("a", 5001)
			},
			wantErr: "text",
		},
		{
			name:    "empty chat_title",
			mutate:  func(req *models.WhatsAppIngestRequest) { req.Messages[1].ChatTitle = "" },
			wantErr: "chat_title",
		},
		{
			name: "oversized chat_title",
			mutate: func(req *models.WhatsAppIngestRequest) {
				req.Messages[1].ChatTitle = strings.Repeat("t", 201)
			},
			wantErr: "chat_title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/integrations/whatsapp/ingest", NewWhatsAppHandler(nil, nil, WhatsAppStatusInfo{}).PostIngest)

			reqBody := models.WhatsAppIngestRequest{
				ClientID: "collector-1",
				Messages: validMessages(2),
			}
			tt.mutate(&reqBody)

			payload, err := json.Marshal(reqBody)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			req := httptest.NewRequest("POST", "/integrations/whatsapp/ingest", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != fiber.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", resp.StatusCode)
			}

			body := decodeBody(t, resp.Body)
			msg, _ := body["error"].(string)
			if !strings.Contains(msg, tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", msg, tt.wantErr)
			}
		})
	}
}

// TestPostIngestRejectsMalformedBody pins the 400 for unparseable JSON.
func TestPostIngestRejectsMalformedBody(t *testing.T) {
	app := fiber.New()
	app.Post("/integrations/whatsapp/ingest", NewWhatsAppHandler(nil, nil, WhatsAppStatusInfo{}).PostIngest)

	req := httptest.NewRequest("POST", "/integrations/whatsapp/ingest", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
