package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/vmihailenco/msgpack/v5"
)

// CompressionType represents the at-rest encoding of an entry body
type CompressionType string

const (
	CompressionBrotli CompressionType = "br"
	CompressionNone   CompressionType = ""
)

// CodecConfig holds configuration for entry encoding
type CodecConfig struct {
	// Compression selects the body encoding at rest
	Compression CompressionType

	// Level is the brotli quality (0-11)
	Level int

	// MinSize is the minimum body size before compression is applied
	MinSize int
}

// DefaultCodecConfig returns the default codec configuration (no compression)
func DefaultCodecConfig() CodecConfig {
	return CodecConfig{
		Compression: CompressionNone,
		Level:       6,
		MinSize:     1024,
	}
}

// EntryCodec serializes entries for byte-oriented backends (bolt, leveldb, redis)
type EntryCodec struct {
	config CodecConfig
}

// record is the on-disk shape; Encoding tells Decode how to restore the body
type record struct {
	Meta     Meta            `msgpack:"meta"`
	Encoding CompressionType `msgpack:"enc"`
	Body     []byte          `msgpack:"body"`
}

// NewEntryCodec creates a codec with the given configuration
func NewEntryCodec(config CodecConfig) *EntryCodec {
	if config.Level < 0 || config.Level > 11 {
		config.Level = 6
	}
	return &EntryCodec{config: config}
}

// Encode serializes an entry, compressing the body if configured
func (c *EntryCodec) Encode(e *Entry) ([]byte, error) {
	rec := record{Meta: e.Meta, Body: e.Body}

	if c.config.Compression == CompressionBrotli && len(e.Body) >= c.config.MinSize {
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, c.config.Level)
		if _, err := w.Write(e.Body); err != nil {
			w.Close()
			return nil, fmt.Errorf("brotli compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close brotli writer: %w", err)
		}
		rec.Encoding = CompressionBrotli
		rec.Body = buf.Bytes()
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry: %w", err)
	}
	return data, nil
}

// Decode restores an entry produced by Encode
func (c *EntryCodec) Decode(data []byte) (*Entry, error) {
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}

	body := rec.Body
	switch rec.Encoding {
	case CompressionNone:
	case CompressionBrotli:
		decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(rec.Body)))
		if err != nil {
			return nil, fmt.Errorf("brotli decompression failed: %w", err)
		}
		body = decoded
	default:
		return nil, fmt.Errorf("unknown body encoding %q", rec.Encoding)
	}

	return &Entry{Meta: rec.Meta, Body: body}, nil
}
