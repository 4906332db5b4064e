package state

import (
	"context"
	"sync"
	"time"

	"marketflow/internal/model"
)

// Memory is an in-process Store used by tests and dry runs.
type Memory struct {
	mu     sync.RWMutex
	states map[string]FetchState
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{states: make(map[string]FetchState), now: time.Now}
}

func (m *Memory) Get(_ context.Context, code string) (FetchState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[code]
	if !ok {
		return FetchState{}, ErrNotFound
	}
	return st, nil
}

func (m *Memory) Advance(_ context.Context, code string, date time.Time) error {
	date = model.Day(date)

	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[code]; ok && !date.After(st.LastDate) {
		return nil
	}
	m.states[code] = FetchState{Code: code, LastDate: date, UpdatedAt: m.now()}
	return nil
}

func (m *Memory) AdvanceMany(ctx context.Context, updates map[string]time.Time) map[string]error {
	return advanceEach(ctx, m, updates)
}

func (m *Memory) Close() error {
	return nil
}
