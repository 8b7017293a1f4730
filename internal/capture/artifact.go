// Copyright 2026 The SafeStay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package capture

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	// Decoders for uploaded and relayed images
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/zeebo/blake3"
)

// Domain errors
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrUnreadableFile   = errors.New("file could not be read")
	ErrNotAnImage       = errors.New("file is not an image")
	ErrFileTooLarge     = errors.New("file exceeds the upload size limit")
	ErrCaptureBusy      = errors.New("a camera stream is already open for this slot")
	ErrInvalidState     = errors.New("operation not allowed in the current capture state")
	ErrCaptureCancelled = errors.New("capture cancelled")
	ErrMalformedDataURL = errors.New("malformed data url")
)

// Source records how an artifact was produced
type Source string

// Artifact sources
const (
	SourceFile   Source = "file"
	SourceCamera Source = "camera"
)

// Artifact is a captured image held as data URL text
type Artifact struct {
	DataURL     string    `json:"data_url"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	Digest      string    `json:"digest"` // BLAKE3-256 of the raw bytes, hex
	Source      Source    `json:"source"`
	CapturedAt  time.Time `json:"captured_at"`
}

// newArtifact encodes raw bytes into an artifact
func newArtifact(contentType string, data []byte, source Source) Artifact {
	sum := blake3.Sum256(data)
	return Artifact{
		DataURL:     EncodeDataURL(contentType, data),
		ContentType: contentType,
		Size:        len(data),
		Digest:      hex.EncodeToString(sum[:]),
		Source:      source,
		CapturedAt:  time.Now().UTC(),
	}
}

// Bytes decodes the artifact payload
func (a Artifact) Bytes() ([]byte, error) {
	_, data, err := DecodeDataURL(a.DataURL)
	return data, err
}

// Image decodes the artifact payload as an image
func (a Artifact) Image() (image.Image, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	return img, nil
}

// Summary is the artifact without its payload, for listings and logs
type Summary struct {
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	Digest      string    `json:"digest"`
	Source      Source    `json:"source"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Summary strips the payload
func (a Artifact) Summary() Summary {
	return Summary{
		ContentType: a.ContentType,
		Size:        a.Size,
		Digest:      a.Digest,
		Source:      a.Source,
		CapturedAt:  a.CapturedAt,
	}
}

// EncodeDataURL renders data as a base64 data URL
func EncodeDataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a base64 data URL into its MIME type and payload
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrMalformedDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	return contentType, data, nil
}
