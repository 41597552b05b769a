// Package storage persists uploaded source artefacts and WhatsApp media on
// the local filesystem. Artefacts keep their original name for forensics;
// media files are content-addressed so re-sent attachments dedupe for free.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxSafeNameBytes = 120

// ArtifactStore writes uploaded documents under
// <root>/<yyyy>/<mm>/<uuid>-<sanitized-name>.
type ArtifactStore struct {
	root string
	now  func() time.Time
}

// NewArtifactStore creates the root directory up front so a misconfigured
// path fails at startup, not on the first upload.
func NewArtifactStore(root string) (*ArtifactStore, error) {
	if root == "" {
		root = "data/ingestion"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return &ArtifactStore{root: root, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Root returns the base directory of the store.
func (s *ArtifactStore) Root() string { return s.root }

// Save streams content to disk and returns the stored path.
func (s *ArtifactStore) Save(fileName string, content io.Reader) (string, error) {
	now := s.now()
	dir := filepath.Join(s.root, fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", now.Month()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage folder: %w", err)
	}

	stored := fmt.Sprintf("%s-%s", uuid.New().String(), SanitizeFileName(fileName))
	path := filepath.Join(dir, stored)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create artefact file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, content); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write artefact: %w", err)
	}
	return path, nil
}

// SaveBytes is a convenience wrapper over Save.
func (s *ArtifactStore) SaveBytes(fileName string, content []byte) (string, error) {
	return s.Save(fileName, strings.NewReader(string(content)))
}

// Open returns a reader for a previously stored artefact.
func (s *ArtifactStore) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artefact %s: %w", path, err)
	}
	return f, nil
}

// Delete removes a stored artefact. Missing files are not an error.
func (s *ArtifactStore) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artefact %s: %w", path, err)
	}
	return nil
}

// SanitizeFileName keeps [A-Za-z0-9._-], replaces everything else with '_',
// and truncates to 120 bytes. Empty input becomes "upload".
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "upload"
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if out == "" {
		return "upload"
	}
	if len(out) > maxSafeNameBytes {
		// Keep the extension visible when truncating.
		ext := filepath.Ext(out)
		if len(ext) < maxSafeNameBytes {
			out = out[:maxSafeNameBytes-len(ext)] + ext
		} else {
			out = out[:maxSafeNameBytes]
		}
	}
	return out
}
