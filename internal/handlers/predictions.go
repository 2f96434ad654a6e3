package handlers

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/flower-identifier/internal/model"
)

var ErrPredictionNotFound = errors.New("prediction not found or expired")

// StoredPrediction is what the feedback step needs to know about an earlier
// prediction. The class id never round-trips through the browser.
type StoredPrediction struct {
	ID         string
	ClassID    int
	Class      string
	Confidence float32
	Created    time.Time
}

// PredictionStore keeps recent predictions in memory until feedback arrives
// or they expire.
type PredictionStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]StoredPrediction
}

func NewPredictionStore(ttl time.Duration) *PredictionStore {
	return &PredictionStore{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]StoredPrediction),
	}
}

// Put stores a prediction and returns its token.
func (s *PredictionStore) Put(pred *model.PredictionResponse) StoredPrediction {
	p := StoredPrediction{
		ID:         uuid.NewString(),
		ClassID:    pred.ClassID,
		Class:      pred.Class,
		Confidence: pred.Confidence,
		Created:    s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.items[p.ID] = p
	return p
}

func (s *PredictionStore) Get(id string) (StoredPrediction, error) {
	s.mu.RLock()
	p, ok := s.items[id]
	s.mu.RUnlock()
	if !ok || s.expired(p) {
		return StoredPrediction{}, ErrPredictionNotFound
	}
	return p, nil
}

// Take removes and returns a prediction in one step, so concurrent feedback
// for the same token records at most once.
func (s *PredictionStore) Take(id string) (StoredPrediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok || s.expired(p) {
		return StoredPrediction{}, ErrPredictionNotFound
	}
	delete(s.items, id)
	return p, nil
}

// Restore puts back a prediction taken for feedback that was not recorded.
func (s *PredictionStore) Restore(p StoredPrediction) {
	s.mu.Lock()
	s.items[p.ID] = p
	s.mu.Unlock()
}

func (s *PredictionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *PredictionStore) expired(p StoredPrediction) bool {
	return s.now().Sub(p.Created) > s.ttl
}

func (s *PredictionStore) sweepLocked() {
	for id, p := range s.items {
		if s.expired(p) {
			delete(s.items, id)
		}
	}
}
