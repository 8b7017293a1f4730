package capture

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// DefaultMaxFileBytes caps a single uploaded document
const DefaultMaxFileBytes = 5 << 20

// FileSource is a user-selected file
type FileSource struct {
	Name        string
	ContentType string // Declared type; sniffed when empty
	Reader      io.Reader
}

// Adapter turns user-provided media into artifacts
type Adapter struct {
	maxBytes int64
}

// NewAdapter creates a capture adapter with the given per-file size cap
func NewAdapter(maxBytes int64) *Adapter {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &Adapter{maxBytes: maxBytes}
}

// CaptureFile reads an image file into a data URL artifact. It runs on the
// caller's goroutine and stops reading once ctx is done.
func (a *Adapter) CaptureFile(ctx context.Context, src FileSource) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if src.Reader == nil {
		return Artifact{}, ErrUnreadableFile
	}

	declared := ""
	if src.ContentType != "" {
		mediaType, _, err := mime.ParseMediaType(src.ContentType)
		if err != nil {
			return Artifact{}, fmt.Errorf("%w: %q", ErrNotAnImage, src.ContentType)
		}
		if !strings.HasPrefix(mediaType, "image/") {
			return Artifact{}, fmt.Errorf("%w: %s", ErrNotAnImage, mediaType)
		}
		declared = mediaType
	}

	data, err := io.ReadAll(io.LimitReader(&ctxReader{ctx: ctx, r: src.Reader}, a.maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return Artifact{}, ctx.Err()
		}
		return Artifact{}, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if len(data) == 0 {
		return Artifact{}, ErrUnreadableFile
	}
	if int64(len(data)) > a.maxBytes {
		return Artifact{}, ErrFileTooLarge
	}

	contentType := declared
	if contentType == "" {
		sniffed := http.DetectContentType(data)
		if !strings.HasPrefix(sniffed, "image/") {
			return Artifact{}, fmt.Errorf("%w: %s", ErrNotAnImage, sniffed)
		}
		contentType = sniffed
	}

	return newArtifact(contentType, data, SourceFile), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
