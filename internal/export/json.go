// Package export writes race results to a blob store as a JSON document.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

// DefaultPath is the object name used when none is configured.
const DefaultPath = "racing_data.json"

const (
	contentType         = "application/json; charset=utf-8"
	checksumContentType = "text/plain; charset=utf-8"
	checksumSuffix      = ".sha256"
)

// JSONExporter implements crawler.Exporter.
type JSONExporter struct {
	blobs  crawler.BlobStore
	path   string
	hasher crawler.Hasher
}

var _ crawler.Exporter = (*JSONExporter)(nil)

// Option customizes a JSONExporter.
type Option func(*JSONExporter)

// WithChecksum writes a sha256sum-style sidecar next to every export.
func WithChecksum(h crawler.Hasher) Option {
	return func(e *JSONExporter) { e.hasher = h }
}

// NewJSONExporter builds an exporter writing to objectPath in blobs.
func NewJSONExporter(blobs crawler.BlobStore, objectPath string, opts ...Option) (*JSONExporter, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if objectPath == "" {
		objectPath = DefaultPath
	}
	e := &JSONExporter{blobs: blobs, path: objectPath}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Export writes records as an indented JSON array, replacing the previous
// document, and returns its URI. Non-ASCII text is kept as-is.
func (e *JSONExporter) Export(ctx context.Context, records []crawler.RaceRecord) (string, error) {
	body, err := Encode(records)
	if err != nil {
		return "", err
	}
	uri, err := e.blobs.PutObject(ctx, e.path, contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put export: %w", err)
	}
	if e.hasher != nil {
		if err := e.putChecksum(ctx, body); err != nil {
			return uri, err
		}
	}
	return uri, nil
}

func (e *JSONExporter) putChecksum(ctx context.Context, body []byte) error {
	digest, err := e.hasher.Hash(body)
	if err != nil {
		return fmt.Errorf("hash export: %w", err)
	}
	line := fmt.Sprintf("%s  %s\n", digest, path.Base(e.path))
	if _, err := e.blobs.PutObject(ctx, e.path+checksumSuffix, checksumContentType, bytes.NewReader([]byte(line))); err != nil {
		return fmt.Errorf("put export checksum: %w", err)
	}
	return nil
}

// Encode renders records the way Export writes them.
func Encode(records []crawler.RaceRecord) ([]byte, error) {
	if records == nil {
		records = []crawler.RaceRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode race results: %w", err)
	}
	return buf.Bytes(), nil
}
