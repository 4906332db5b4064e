package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"marketflow/internal/metrics"
)

const defaultHistory = 200

// ring keeps the most recent limit items. It is safe for concurrent use.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newRing[T any](limit int) *ring[T] {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &ring[T]{limit: limit}
}

func (r *ring[T]) push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, v)
	if len(r.items) > r.limit {
		r.items = append([]T(nil), r.items[len(r.items)-r.limit:]...)
	}
}

func (r *ring[T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// metricStore is registered as a metrics.MetricHandler.
type metricStore struct {
	*ring[metrics.Metric]
}

func newMetricStore(limit int) *metricStore {
	return &metricStore{ring: newRing[metrics.Metric](limit)}
}

func (s *metricStore) handle(m metrics.Metric) {
	s.push(m)
}

type logRecord struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      string                 `json:"level"`
	Component  string                 `json:"component,omitempty"`
	Instrument string                 `json:"instrument,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook capturing recent entries for /api/logs.
type logStore struct {
	*ring[logRecord]
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	s := &logStore{ring: newRing[logRecord](limit)}
	s.enabled.Store(true)
	return s
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	for k, v := range entry.Data {
		switch k {
		case "component":
			record.Component, _ = v.(string)
			continue
		case "instrument":
			record.Instrument, _ = v.(string)
			continue
		}
		if record.Fields == nil {
			record.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			record.Fields[k] = val.Error()
		case fmt.Stringer:
			record.Fields[k] = val.String()
		default:
			record.Fields[k] = val
		}
	}

	s.push(record)
	return nil
}

func (s *logStore) close() {
	s.enabled.Store(false)
}

// RunRecord describes one finished task run.
type RunRecord struct {
	RunID      string                 `json:"run_id"`
	Task       string                 `json:"task"`
	StartedAt  time.Time              `json:"started_at"`
	DurationMs int64                  `json:"duration_ms"`
	Status     string                 `json:"status"`
	Error      string                 `json:"error,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}
