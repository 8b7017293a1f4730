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
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"sync"

	"golang.org/x/image/draw"
)

// Live capture raster size
const (
	FrameWidth  = 320
	FrameHeight = 240
)

// State is the live capture state of a slot
type State string

// Live capture states
const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateCaptured   State = "captured"
)

// Camera grants access to a video stream. Open suspends until the user has
// decided on the permission prompt and returns ErrPermissionDenied on denial.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open camera stream. Close releases the device.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// LiveSlot drives one live capture through Idle, Requesting, Streaming and
// Captured. At most one Open is in flight and at most one stream is open at
// a time; every opened stream is closed exactly once.
type LiveSlot struct {
	mu       sync.Mutex
	camera   Camera
	state    State
	stream   Stream
	artifact *Artifact
	gen      uint64 // bumped by Cancel/Close to orphan in-flight Open and Frame calls

	opening       bool // an Open call has not returned yet
	cancelOpen    context.CancelFunc
	capturing     bool
	cancelCapture context.CancelFunc
}

// NewLiveSlot creates an idle slot backed by camera
func NewLiveSlot(camera Camera) *LiveSlot {
	return &LiveSlot{camera: camera, state: StateIdle}
}

// State returns the current state
func (s *LiveSlot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Artifact returns the captured frame, if any
func (s *LiveSlot) Artifact() (Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return Artifact{}, false
	}
	return *s.artifact, true
}

// Start requests camera access. On denial the slot returns to Idle and
// Start may be called again. Until a cancelled request has returned, Start
// reports ErrCaptureBusy.
func (s *LiveSlot) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.opening {
		s.mu.Unlock()
		return ErrCaptureBusy
	}
	switch s.state {
	case StateRequesting, StateStreaming:
		s.mu.Unlock()
		return ErrCaptureBusy
	case StateCaptured:
		s.mu.Unlock()
		return fmt.Errorf("%w: retake to capture again", ErrInvalidState)
	}
	openCtx, cancel := context.WithCancel(ctx)
	s.state = StateRequesting
	s.opening = true
	s.cancelOpen = cancel
	gen := s.gen
	s.mu.Unlock()

	stream, err := s.camera.Open(openCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	cancel()
	s.opening = false
	s.cancelOpen = nil

	if s.gen != gen {
		// Cancelled while the prompt was up
		if stream != nil {
			s.release(ctx, stream)
		}
		return ErrCaptureCancelled
	}
	if err != nil {
		s.state = StateIdle
		return err
	}

	s.stream = stream
	s.state = StateStreaming
	return nil
}

// Capture grabs one frame, rasterizes it to 320x240 PNG and releases the
// stream. The slot lock is not held while waiting for the frame, so Cancel
// and Close interrupt a pending capture.
func (s *LiveSlot) Capture(ctx context.Context) (Artifact, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return Artifact{}, fmt.Errorf("%w: no open stream", ErrInvalidState)
	}
	if s.capturing {
		s.mu.Unlock()
		return Artifact{}, ErrCaptureBusy
	}
	frameCtx, cancel := context.WithCancel(ctx)
	stream := s.stream
	s.capturing = true
	s.cancelCapture = cancel
	gen := s.gen
	s.mu.Unlock()

	frame, err := stream.Frame(frameCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	cancel()
	s.capturing = false
	s.cancelCapture = nil

	if s.gen != gen {
		// Cancel already released the stream
		return Artifact{}, ErrCaptureCancelled
	}

	s.release(ctx, stream)
	s.stream = nil
	if err != nil {
		s.state = StateIdle
		return Artifact{}, fmt.Errorf("%w: failed to read frame: %w", ErrUnreadableFile, err)
	}

	data, err := encodeFrame(frame)
	if err != nil {
		s.state = StateIdle
		return Artifact{}, fmt.Errorf("%w: %w", ErrUnreadableFile, err)
	}

	a := newArtifact("image/png", data, SourceCamera)
	s.artifact = &a
	s.state = StateCaptured
	return a, nil
}

// Retake discards the captured frame and requests the camera again
func (s *LiveSlot) Retake(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCaptured {
		s.mu.Unlock()
		return fmt.Errorf("%w: nothing to retake", ErrInvalidState)
	}
	s.artifact = nil
	s.state = StateIdle
	s.mu.Unlock()

	return s.Start(ctx)
}

// Cancel aborts a pending permission request or frame read, releases any
// open stream, drops the captured frame and returns to Idle. It never waits
// on the camera.
func (s *LiveSlot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.cancelOpen != nil {
		s.cancelOpen()
	}
	if s.cancelCapture != nil {
		s.cancelCapture()
	}
	if s.stream != nil {
		s.release(context.Background(), s.stream)
		s.stream = nil
	}
	s.artifact = nil
	s.state = StateIdle
}

// Close releases the camera. The slot stays usable.
func (s *LiveSlot) Close() error {
	s.Cancel()
	return nil
}

func (s *LiveSlot) release(ctx context.Context, stream Stream) {
	if err := stream.Close(); err != nil {
		slog.WarnContext(ctx, "failed to release camera stream", "error", err)
	}
}

// encodeFrame scales img onto the fixed raster, preserving aspect ratio,
// and PNG-encodes it.
func encodeFrame(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("empty frame")
	}

	dst := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	src := img.Bounds()
	if src.Dx() == 0 || src.Dy() == 0 {
		return nil, errors.New("empty frame")
	}
	w, h := FrameWidth, src.Dy()*FrameWidth/src.Dx()
	if h > FrameHeight {
		w, h = src.Dx()*FrameHeight/src.Dy(), FrameHeight
	}
	x0, y0 := (FrameWidth-w)/2, (FrameHeight-h)/2
	draw.ApproxBiLinear.Scale(dst, image.Rect(x0, y0, x0+w, y0+h), img, src, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
