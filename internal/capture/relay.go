package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"
)

// RelayCamera is a Camera whose device lives on the client. The client
// relays its permission decision and captured frames over the API; Open and
// Frame wait for them.
type RelayCamera struct {
	decisions chan bool
	frames    chan image.Image

	mu     sync.Mutex
	opened int
	closed int
}

// NewRelayCamera creates a relay with room for one pending decision and frame
func NewRelayCamera() *RelayCamera {
	return &RelayCamera{
		decisions: make(chan bool, 1),
		frames:    make(chan image.Image, 1),
	}
}

// Decide relays the user's answer to the permission prompt. A newer answer
// replaces one that has not been consumed yet.
func (c *RelayCamera) Decide(granted bool) {
	replace(c.decisions, granted)
}

// PushFrame relays an encoded frame from the client
func (c *RelayCamera) PushFrame(data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	replace(c.frames, img)
	return nil
}

// Open waits for the permission decision
func (c *RelayCamera) Open(ctx context.Context) (Stream, error) {
	select {
	case granted := <-c.decisions:
		if !granted {
			return nil, ErrPermissionDenied
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	c.opened++
	c.mu.Unlock()
	return &relayStream{camera: c}, nil
}

// OpenStreams reports how many streams are currently open
func (c *RelayCamera) OpenStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened - c.closed
}

type relayStream struct {
	camera *RelayCamera
	once   sync.Once
}

func (s *relayStream) Frame(ctx context.Context) (image.Image, error) {
	select {
	case img := <-s.camera.frames:
		return img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *relayStream) Close() error {
	s.once.Do(func() {
		s.camera.mu.Lock()
		s.camera.closed++
		s.camera.mu.Unlock()
	})
	return nil
}

// replace puts v in a one-slot channel, dropping any unread value
func replace[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
