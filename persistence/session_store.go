package persistence

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexcodex/gradscout/framework"
)

// ErrSessionNotFound is returned when a run id is unknown to the store.
var ErrSessionNotFound = errors.New("session not found")

// Exchange is one follow-up question and the answer it received.
type Exchange struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID         string              `json:"id"`
	Status     framework.RunStatus `json:"status"`
	Stages     int                 `json:"stages"`
	Succeeded  int                 `json:"succeeded"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// SessionStore keeps finished runs and their follow-up history for the life
// of the process so later questions can be answered against them.
type SessionStore interface {
	Save(ctx context.Context, run *framework.PipelineRun) error
	Load(ctx context.Context, id string) (*framework.PipelineRun, bool, error)
	List(ctx context.Context) ([]RunSummary, error)
	Delete(ctx context.Context, id string) error
	AppendExchange(ctx context.Context, runID string, ex Exchange) error
	History(ctx context.Context, runID string) ([]Exchange, error)
}

// NewSessionStore selects a store implementation by name. Both keep data in
// process memory only.
func NewSessionStore(kind string) (SessionStore, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemorySessionStore(), nil
	case "sqlite":
		return NewSQLiteSessionStore()
	default:
		return nil, errors.New("unknown session store " + kind)
	}
}

type memorySession struct {
	run     *framework.PipelineRun
	history []Exchange
}

// MemorySessionStore is a map-backed SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

// NewMemorySessionStore builds an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*memorySession)}
}

// Save records or replaces a run. Follow-up history survives replacement.
func (s *MemorySessionStore) Save(ctx context.Context, run *framework.PipelineRun) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := validateRun(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[run.ID]; ok {
		existing.run = run
		return nil
	}
	s.sessions[run.ID] = &memorySession{run: run}
	return nil
}

// Load fetches a run by id.
func (s *MemorySessionStore) Load(ctx context.Context, id string) (*framework.PipelineRun, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return sess.run, true, nil
}

// List returns run summaries, most recent first.
func (s *MemorySessionStore) List(ctx context.Context) ([]RunSummary, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	out := make([]RunSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, summarize(sess.run))
	}
	s.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

// Delete removes a run and its history. Deleting an unknown id is a no-op.
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// AppendExchange records a follow-up against a stored run.
func (s *MemorySessionStore) AppendExchange(ctx context.Context, runID string, ex Exchange) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[runID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.history = append(sess.history, ex)
	return nil
}

// History returns the follow-ups asked against a run, oldest first.
func (s *MemorySessionStore) History(ctx context.Context, runID string) ([]Exchange, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[runID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]Exchange(nil), sess.history...), nil
}

func validateRun(run *framework.PipelineRun) error {
	if run == nil {
		return errors.New("run required")
	}
	if run.ID == "" {
		return errors.New("run id required")
	}
	return nil
}

func summarize(run *framework.PipelineRun) RunSummary {
	summary := RunSummary{
		ID:         run.ID,
		Status:     run.Status,
		Stages:     len(run.Results),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	for _, res := range run.Results {
		if res.Status == framework.StageSucceeded {
			summary.Succeeded++
		}
	}
	return summary
}

func sortSummaries(list []RunSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.After(list[j].StartedAt)
	})
}
