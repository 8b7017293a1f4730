package intake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/capture"
	"github.com/safestay/safestay/internal/observability/logger"
)

// DefaultDraftTTL is how long an untouched draft is kept
const DefaultDraftTTL = 30 * time.Minute

// DraftStore keeps in-progress drafts in memory. Drafts idle longer than the
// TTL are dropped and their cameras released.
type DraftStore struct {
	mu       sync.Mutex
	drafts   map[string]*Draft
	ttl      time.Duration
	workflow *WorkflowConfig
	adapter  *capture.Adapter
	now      func() time.Time
}

// NewDraftStore creates a draft store for one workflow
func NewDraftStore(workflow *WorkflowConfig, adapter *capture.Adapter, ttl time.Duration) *DraftStore {
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	return &DraftStore{
		drafts:   make(map[string]*Draft),
		ttl:      ttl,
		workflow: workflow,
		adapter:  adapter,
		now:      time.Now,
	}
}

// Workflow returns the active workflow
func (s *DraftStore) Workflow() *WorkflowConfig {
	return s.workflow
}

// Open starts a draft for a resolved agreement. Draft IDs are random (v4)
// since they gate the tenant's contract download.
func (s *DraftStore) Open(a *agreement.Agreement) *Draft {
	d := newDraft(uuid.NewString(), a, s.workflow, s.adapter, s.now())

	s.mu.Lock()
	s.drafts[d.ID] = d
	s.mu.Unlock()

	return d
}

// Get returns a live draft and refreshes its idle timer
func (s *DraftStore) Get(id string) (*Draft, error) {
	s.mu.Lock()
	d, ok := s.drafts[id]
	stale := ok && s.expired(d)
	if stale {
		delete(s.drafts, id)
	}
	s.mu.Unlock()

	if stale {
		d.Discard()
		return nil, ErrDraftNotFound
	}
	if !ok {
		return nil, ErrDraftNotFound
	}
	d.touch(s.now())
	return d, nil
}

// Discard drops a draft and releases its camera
func (s *DraftStore) Discard(id string) error {
	s.mu.Lock()
	d, ok := s.drafts[id]
	delete(s.drafts, id)
	s.mu.Unlock()

	if !ok {
		return ErrDraftNotFound
	}
	d.Discard()
	return nil
}

// Len returns the number of held drafts
func (s *DraftStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}

// Sweep drops expired drafts and returns how many were removed
func (s *DraftStore) Sweep() int {
	var stale []*Draft

	s.mu.Lock()
	for id, d := range s.drafts {
		if s.expired(d) {
			delete(s.drafts, id)
			stale = append(stale, d)
		}
	}
	s.mu.Unlock()

	for _, d := range stale {
		d.Discard()
	}
	return len(stale)
}

// Run sweeps periodically until ctx is done
func (s *DraftStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.DebugContext(ctx, "expired intake drafts dropped",
					logger.Component("intake"),
					slog.Int("count", n),
				)
			}
		}
	}
}

func (s *DraftStore) expired(d *Draft) bool {
	return s.now().Sub(d.idleSince()) > s.ttl
}
