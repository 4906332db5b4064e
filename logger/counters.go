package logger

import (
	"sync"
	"sync/atomic"
)

type levelCounts struct {
	warns  int64
	errors int64
}

var componentCounts sync.Map // map[string]*levelCounts

func countsFor(component string) *levelCounts {
	v, _ := componentCounts.LoadOrStore(component, &levelCounts{})
	return v.(*levelCounts)
}

func recordWarn(component string) {
	atomic.AddInt64(&countsFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&countsFor(component).errors, 1)
}

// ComponentCount is the number of warnings and errors logged by one component.
type ComponentCount struct {
	Warns  int64 `json:"warns"`
	Errors int64 `json:"errors"`
}

// Counts returns a snapshot of warn/error totals keyed by component.
func Counts() map[string]ComponentCount {
	out := make(map[string]ComponentCount)
	componentCounts.Range(func(k, v any) bool {
		c := v.(*levelCounts)
		out[k.(string)] = ComponentCount{
			Warns:  atomic.LoadInt64(&c.warns),
			Errors: atomic.LoadInt64(&c.errors),
		}
		return true
	})
	return out
}

// ResetCounts clears all counters. Used between runs in daemon mode.
func ResetCounts() {
	componentCounts.Range(func(k, _ any) bool {
		componentCounts.Delete(k)
		return true
	})
}
