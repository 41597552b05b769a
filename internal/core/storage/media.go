package storage

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// MediaResult describes where a media blob ended up.
type MediaResult struct {
	Path     string
	FileName string
	Existed  bool
}

// MediaStore content-addresses WhatsApp attachments under
// <root>/<hash[:2]>/<hash><ext>. Writes go through a temp file and a rename
// so a crash never leaves a half-written blob at the final path.
type MediaStore struct {
	root string
}

func NewMediaStore(root string) (*MediaStore, error) {
	if root == "" {
		root = "data/whatsapp_media"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media root %s: %w", root, err)
	}
	return &MediaStore{root: root}, nil
}

// Root returns the base directory of the store.
func (s *MediaStore) Root() string { return s.root }

// Persist writes content under its hash. Re-persisting the same hash is a
// no-op and reports Existed=true.
func (s *MediaStore) Persist(content []byte, contentHash, mimeType, originalName string) (*MediaResult, error) {
	if len(contentHash) < 2 {
		return nil, fmt.Errorf("content hash too short: %q", contentHash)
	}

	ext := inferExtension(originalName, mimeType)
	dir := filepath.Join(s.root, contentHash[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media shard: %w", err)
	}

	fileName := contentHash + ext
	target := filepath.Join(dir, fileName)

	if _, err := os.Stat(target); err == nil {
		return &MediaResult{Path: target, FileName: fileName, Existed: true}, nil
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to persist media to %s: %w", target, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to persist media to %s: %w", target, err)
	}
	return &MediaResult{Path: target, FileName: fileName}, nil
}

// inferExtension prefers the mime type, falls back to the original name.
func inferExtension(originalName, mimeType string) string {
	if mimeType != "" {
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			// mime returns extensions unordered; prefer the common ones.
			for _, preferred := range []string{".jpg", ".png", ".pdf", ".mp4", ".ogg"} {
				for _, e := range exts {
					if e == preferred {
						return e
					}
				}
			}
			return exts[0]
		}
	}
	if originalName != "" {
		if ext := filepath.Ext(originalName); ext != "" && len(ext) <= 10 {
			return strings.ToLower(ext)
		}
	}
	return ""
}
