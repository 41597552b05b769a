package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// Session owns the whatsmeow client lifecycle for the live collector. One
// session is one linked WhatsApp account.
type Session struct {
	client   *whatsmeow.Client
	storeURL string
	qrPath   string
}

// NewSession creates a session. storeURL is a PostgreSQL DSN for the device
// store; when empty a local SQLite store.db is used. qrPath is where the
// login QR code image is written.
func NewSession(storeURL, qrPath string) *Session {
	if qrPath == "" {
		qrPath = "whatsapp-qr.png"
	}
	return &Session{
		storeURL: storeURL,
		qrPath:   qrPath,
	}
}

func (s *Session) initStore(ctx context.Context) (*sqlstore.Container, error) {
	dbLog := waLog.Stdout("Database", "ERROR", true)

	if s.storeURL != "" {
		log.Println("🌐 Using PostgreSQL database for WhatsApp store")
		container, err := sqlstore.New(ctx, "postgres", s.storeURL, dbLog)
		if err != nil {
			return nil, fmt.Errorf("failed to init PostgreSQL store: %w", err)
		}
		if err := container.Upgrade(ctx); err != nil {
			return nil, fmt.Errorf("failed to upgrade PostgreSQL schema: %w", err)
		}
		return container, nil
	}

	log.Println("💾 Using local SQLite store (store.db)")
	rawDB, err := sql.Open("sqlite", "file:store.db?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err = rawDB.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		log.Printf("⚠️ Failed to enable foreign_keys pragma: %v", err)
	}

	container := sqlstore.NewWithDB(rawDB, "sqlite", dbLog)
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("failed to upgrade SQLite schema: %w", err)
	}

	return container, nil
}

// Connect links or resumes the WhatsApp session. On first run the login QR
// code is printed and written to the QR image path; the call blocks until
// the phone scans it or the code times out.
func (s *Session) Connect(ctx context.Context) error {
	container, err := s.initStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	s.client = whatsmeow.NewClient(deviceStore, clientLog)

	if s.client.Store.ID == nil {
		qrChan, _ := s.client.GetQRChannel(ctx)
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		for evt := range qrChan {
			if evt.Event == "code" {
				fmt.Println("🔗 Scan this QR code in WhatsApp:", evt.Code)
				if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 256, s.qrPath); err != nil {
					log.Printf("Failed to generate QR image: %v", err)
				} else {
					fmt.Printf("🖼️ QR code saved to %s\n", s.qrPath)
				}
			} else if evt.Event == "success" {
				fmt.Println("✅ WhatsApp login successful")
				break
			} else if evt.Event == "timeout" {
				return fmt.Errorf("QR code timeout")
			}
		}
	} else {
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
		fmt.Println("✅ Reconnected to WhatsApp")
	}

	return nil
}

// Disconnect closes the WhatsApp connection
func (s *Session) Disconnect() {
	if s.client != nil {
		s.client.Disconnect()
		log.Println("🔌 WhatsApp session disconnected")
	}
}

// IsConnected reports whether the session is live
func (s *Session) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// Client exposes the underlying whatsmeow client for media downloads and
// group metadata lookups.
func (s *Session) Client() *whatsmeow.Client {
	return s.client
}

// AddEventHandler registers a raw whatsmeow event handler
func (s *Session) AddEventHandler(handler func(evt interface{})) error {
	if s.client == nil {
		return fmt.Errorf("client not initialized")
	}
	s.client.AddEventHandler(handler)
	return nil
}

// SendText sends a plain text message. to is a phone number or a full JID.
func (s *Session) SendText(ctx context.Context, to, text string) error {
	if s.client == nil {
		return fmt.Errorf("client not initialized")
	}

	var jid types.JID
	if strings.Contains(to, "@") {
		parsed, err := types.ParseJID(to)
		if err != nil {
			return fmt.Errorf("invalid JID: %w", err)
		}
		jid = parsed
	} else {
		jid = types.NewJID(to, types.DefaultUserServer)
	}

	msg := &waProto.Message{
		Conversation: proto.String(text),
	}

	_, err := s.client.SendMessage(ctx, jid, msg)
	return err
}

// KeepAlive sends a presence ping every minute so long-lived idle sessions
// are not dropped. Blocks until ctx is cancelled.
func (s *Session) KeepAlive(ctx context.Context) {
	if s.client == nil {
		return
	}

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	log.Println("🔄 Keep-alive started (ping every 60s)")

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Keep-alive stopped")
			return
		case <-ticker.C:
			if s.client != nil && s.client.IsConnected() {
				if err := s.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
					log.Printf("⚠️ Keep-alive ping failed: %v", err)
				}
			}
		}
	}
}
