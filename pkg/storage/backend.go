// Package storage writes generated artifacts to a local tree or an S3
// bucket behind one interface.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// BlobStore defines the interface for abstract storage backends. Keys are
// slash-separated.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// EncodeJSON renders v the way every output file is written: two-space
// indentation, HTML left unescaped, trailing newline.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s BlobStore, key string, v any) error {
	data, err := EncodeJSON(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// GetJSON reads key and decodes it into v.
func GetJSON(ctx context.Context, s BlobStore, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
