package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const (
	// DefaultChunkSize is how many characters of normalized output go
	// into each callback.
	DefaultChunkSize = 50

	// DefaultChunkDelay is the pause between consecutive chunks,
	// pacing output so downstream consumers render it as a stream.
	DefaultChunkDelay = 10 * time.Millisecond
)

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// normalizeResult renders a tools/call result as plain text.
//
// Servers answer in one of three shapes, tried in order: a content
// array (text items concatenated, non-text items skipped), a top-level
// text string, or an arbitrary JSON value, which is pretty-printed so
// the caller still gets something readable.
func normalizeResult(result json.RawMessage) string {
	var withContent struct {
		Content []contentItem `json:"content"`
	}
	if err := json.Unmarshal(result, &withContent); err == nil && withContent.Content != nil {
		var b strings.Builder
		for _, item := range withContent.Content {
			if item.Type == "text" {
				b.WriteString(item.Text)
			}
		}
		return b.String()
	}

	var withText struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(result, &withText); err == nil && withText.Text != nil {
		return *withText.Text
	}

	var v any
	if err := json.Unmarshal(result, &v); err != nil {
		return string(result)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(result)
	}
	return string(pretty)
}

// streamChunks slices text into size-character chunks and feeds them to
// onChunk in order, pausing delay between consecutive chunks. Slicing
// is by rune so multibyte characters never straddle a chunk boundary.
// Empty text produces no callbacks. Cancelling ctx stops the stream
// between chunks; a chunk already handed to onChunk is never recalled.
func streamChunks(ctx context.Context, text string, size int, delay time.Duration, onChunk func(chunk string)) error {
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runes := []rune(text)
	if size <= 0 {
		size = len(runes)
	}
	for start := 0; start < len(runes); start += size {
		if start > 0 {
			if delay > 0 {
				if !sleepCtx(ctx, delay) {
					return ctx.Err()
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}
		}
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		onChunk(string(runes[start:end]))
	}
	return nil
}
