package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrUnknownItem is returned when a key was never loaded into the store.
	ErrUnknownItem = errors.New("unknown practice item")
	// ErrWrongKind is returned when an operation does not apply to the item kind.
	ErrWrongKind = errors.New("operation not supported for item kind")
)

// Store is the single source of truth for item progress within one
// practice workspace. Every mutation happens under one lock so readers
// never see a recording paired with another recording's assessment.
type Store struct {
	mu    sync.RWMutex
	items map[ItemKey]*ItemProgress
	order []ItemKey
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		items: make(map[ItemKey]*ItemProgress),
		now:   time.Now,
	}
}

// Load seeds the store. Existing entries with the same key are replaced.
func (s *Store) Load(entries []ItemProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		entry := entry.clone()
		if entry.Status == "" {
			entry.Status = StatusNotStarted
		}
		if entry.Assessment.State == "" {
			entry.Assessment.State = AssessmentNone
		}
		if entry.Recording.Kind == "" {
			entry.Recording.Kind = RefNone
		}
		if _, exists := s.items[entry.Key]; !exists {
			s.order = append(s.order, entry.Key)
		}
		s.items[entry.Key] = &entry
	}
}

// Get returns a copy of one item.
func (s *Store) Get(key ItemKey) (ItemProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		return ItemProgress{}, false
	}
	return item.clone(), true
}

// BeginRecording starts a new attempt for an audio item. Any assessment
// belonging to the previous recording is dropped immediately.
func (s *Store) BeginRecording(key ItemKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.audioItem(key)
	if err != nil {
		return 0, err
	}

	item.Attempt++
	item.Assessment = Assessment{State: AssessmentNone}
	item.ScoringError = ""
	item.Status = StatusInProgress
	item.UpdatedAt = s.now()
	return item.Attempt, nil
}

// UpsertRecording records a validated local recording. It is ignored when a
// newer attempt has already started for the item.
func (s *Store) UpsertRecording(key ItemKey, ref RecordingRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.audioItem(key)
	if err != nil {
		return false, err
	}
	if ref.Attempt != item.Attempt {
		return false, nil
	}

	item.Recording = ref
	item.Assessment = Assessment{State: AssessmentNone}
	item.Status = StatusInProgress
	item.UpdatedAt = s.now()
	return true, nil
}

// CompleteUpload swaps the local ref for the remote one, but only while the
// item still points at the local recording that was uploaded.
func (s *Store) CompleteUpload(key ItemKey, local, remote RecordingRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.audioItem(key)
	if err != nil {
		return false, err
	}
	if !item.holds(local) {
		return false, nil
	}

	item.Recording = remote
	item.Status = StatusCompleted
	item.UpdatedAt = s.now()
	return true, nil
}

// MarkAssessmentPending flags that scoring was requested for ref.
func (s *Store) MarkAssessmentPending(key ItemKey, ref RecordingRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok || !item.holds(ref) {
		return false
	}
	item.Assessment = Assessment{State: AssessmentPending, Ref: ref}
	item.ScoringError = ""
	item.UpdatedAt = s.now()
	return true
}

// AttachAssessment stores a result only if the item still points at the
// recording the request was made for. It reports whether the result was kept.
func (s *Store) AttachAssessment(key ItemKey, result AssessmentResult, ref RecordingRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownItem, key)
	}
	if !item.holds(ref) {
		return false, nil
	}

	stored := result.clone()
	item.Assessment = Assessment{State: AssessmentReady, Result: &stored, Ref: ref}
	item.ScoringError = ""
	item.Status = StatusCompleted
	item.UpdatedAt = s.now()
	return true, nil
}

// MarkScoringFailed leaves the upload intact and demotes the item so the
// student is prompted to rescore.
func (s *Store) MarkScoringFailed(key ItemKey, ref RecordingRef, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok || !item.holds(ref) {
		return false
	}
	item.Assessment = Assessment{State: AssessmentNone}
	item.ScoringError = reason
	item.Status = StatusInProgress
	item.UpdatedAt = s.now()
	return true
}

// SetAnswer stores a typed answer. An empty answer resets the item.
func (s *Store) SetAnswer(key ItemKey, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, key)
	}
	if item.Kind != KindText {
		return fmt.Errorf("%w: answer on %s item", ErrWrongKind, item.Kind)
	}

	item.AnswerText = text
	if text == "" {
		item.Status = StatusNotStarted
	} else {
		item.Status = StatusCompleted
	}
	item.UpdatedAt = s.now()
	return nil
}

// Snapshot returns a deep copy of every item in load order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]ItemProgress, 0, len(s.order))
	index := make(map[ItemKey]int, len(s.order))
	for _, key := range s.order {
		index[key] = len(items)
		items = append(items, s.items[key].clone())
	}
	return Snapshot{Items: items, TakenAt: s.now(), index: index}
}

func (s *Store) audioItem(key ItemKey) (*ItemProgress, error) {
	item, ok := s.items[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, key)
	}
	if item.Kind != KindAudio {
		return nil, fmt.Errorf("%w: recording on %s item", ErrWrongKind, item.Kind)
	}
	return item, nil
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Items   []ItemProgress `json:"items"`
	TakenAt time.Time      `json:"taken_at"`
	index   map[ItemKey]int
}

// Lookup finds an item in the snapshot.
func (s Snapshot) Lookup(key ItemKey) (ItemProgress, bool) {
	if s.index != nil {
		i, ok := s.index[key]
		if !ok {
			return ItemProgress{}, false
		}
		return s.Items[i], true
	}
	for _, item := range s.Items {
		if item.Key == key {
			return item, true
		}
	}
	return ItemProgress{}, false
}
