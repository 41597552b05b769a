package collector

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/itsAR-VR/pricebot/internal/core/whatsapp"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
)

// Listener translates whatsmeow events into ingest entries and feeds the
// batcher. It runs on the client's event goroutine, so media downloads are
// bounded by a per-message timeout.
type Listener struct {
	session  *whatsapp.Session
	batcher  *Batcher
	mediaMax int64

	groupMu sync.Mutex
	groups  map[string]string // group JID -> subject
}

// NewListener creates a listener
func NewListener(session *whatsapp.Session, batcher *Batcher, mediaMaxBytes int64) *Listener {
	if mediaMaxBytes <= 0 {
		mediaMaxBytes = 10 << 20
	}
	return &Listener{
		session:  session,
		batcher:  batcher,
		mediaMax: mediaMaxBytes,
		groups:   make(map[string]string),
	}
}

// Start registers the event handler on the session
func (l *Listener) Start() error {
	return l.session.AddEventHandler(l.handleEvent)
}

func (l *Listener) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if msg, ok := l.buildMessage(v); ok {
			l.batcher.Add(msg)
		}
	}
}

// buildMessage translates one event. Returns false for events the server
// would never keep: statuses, reactions, protocol messages with no text and
// no usable attachment.
func (l *Listener) buildMessage(v *events.Message) (models.WhatsAppMessageIn, bool) {
	var out models.WhatsAppMessageIn

	if v.Message == nil {
		return out, false
	}
	if v.Info.Chat.String() == "status@broadcast" || v.Info.Sender.String() == "status@broadcast" {
		return out, false
	}

	text := v.Message.GetConversation()
	if text == "" {
		text = v.Message.GetExtendedTextMessage().GetText()
	}

	media, caption, mediaType := l.extractMedia(v)
	if text == "" {
		text = caption
	}
	if text == "" && media == nil {
		return out, false
	}

	observed := v.Info.Timestamp
	raw := map[string]interface{}{
		"platform":   "whatsapp",
		"chat_jid":   v.Info.Chat.String(),
		"sender_jid": v.Info.Sender.String(),
	}
	if mediaType != "" {
		raw["media_type"] = mediaType
	}

	out = models.WhatsAppMessageIn{
		ChatTitle:   l.chatTitle(v),
		ChatType:    chatType(v),
		PlatformID:  v.Info.Chat.ToNonAD().String(),
		MessageID:   v.Info.ID,
		ObservedAt:  &observed,
		SenderName:  v.Info.PushName,
		SenderPhone: v.Info.Sender.ToNonAD().User,
		IsOutgoing:  v.Info.IsFromMe,
		Text:        text,
		Media:       media,
		RawPayload:  raw,
	}
	return out, true
}

// extractMedia downloads image and document attachments. Other media kinds
// only contribute their caption: the extraction pipeline has no use for
// audio or stickers, and price lists arrive as photos, PDFs or spreadsheets.
func (l *Listener) extractMedia(v *events.Message) (*models.WhatsAppMediaIn, string, string) {
	var (
		downloadable whatsmeow.DownloadableMessage
		fileName     string
		mimeType     string
		caption      string
		mediaType    string
		fileSize     int64
	)

	if img := v.Message.GetImageMessage(); img != nil {
		downloadable = img
		mediaType = "image"
		caption = img.GetCaption()
		mimeType = img.GetMimetype()
		fileName = "wa-" + v.Info.ID + extensionFor(mimeType)
		fileSize = int64(img.GetFileLength())
	} else if doc := v.Message.GetDocumentMessage(); doc != nil {
		downloadable = doc
		mediaType = "document"
		caption = doc.GetCaption()
		mimeType = doc.GetMimetype()
		fileName = doc.GetFileName()
		if fileName == "" {
			fileName = "wa-" + v.Info.ID + extensionFor(mimeType)
		}
		fileSize = int64(doc.GetFileLength())
	} else if video := v.Message.GetVideoMessage(); video != nil {
		return nil, video.GetCaption(), "video"
	}

	if downloadable == nil {
		return nil, caption, mediaType
	}
	if fileSize > l.mediaMax {
		log.Printf("⚠️ Skipping %s download: %d bytes exceeds %d limit", mediaType, fileSize, l.mediaMax)
		return nil, caption, mediaType
	}

	client := l.session.Client()
	if client == nil {
		return nil, caption, mediaType
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	data, err := client.Download(ctx, downloadable)
	if err != nil {
		log.Printf("⚠️ Failed to download %s %s: %v", mediaType, fileName, err)
		return nil, caption, mediaType
	}

	return &models.WhatsAppMediaIn{
		FileName: fileName,
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, caption, mediaType
}

// chatTitle resolves a human-readable chat name. Group subjects come from the
// server and are cached for the session; direct chats use the sender's push
// name, falling back to the phone number.
func (l *Listener) chatTitle(v *events.Message) string {
	if v.Info.IsGroup {
		jid := v.Info.Chat.String()
		l.groupMu.Lock()
		title, ok := l.groups[jid]
		l.groupMu.Unlock()
		if ok && title != "" {
			return title
		}
		if client := l.session.Client(); client != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			info, err := client.GetGroupInfo(ctx, v.Info.Chat)
			cancel()
			if err == nil && info != nil && info.Name != "" {
				l.groupMu.Lock()
				l.groups[jid] = info.Name
				l.groupMu.Unlock()
				return info.Name
			}
		}
		return v.Info.Chat.User
	}

	if !v.Info.IsFromMe && v.Info.PushName != "" {
		return v.Info.PushName
	}
	return v.Info.Chat.ToNonAD().User
}

func chatType(v *events.Message) string {
	if v.Info.IsGroup {
		return models.ChatTypeGroup
	}
	return models.ChatTypeDirect
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "text/csv":
		return ".csv"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	default:
		return ".bin"
	}
}
