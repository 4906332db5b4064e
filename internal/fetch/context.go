package fetch

import "sync"

// BatchFetchContext is the provider pointer shared by every instrument in one
// batch run. It sticks to a provider that works and rotates away from one
// that was fully exhausted.
type BatchFetchContext struct {
	mu      sync.Mutex
	pointer int
	size    int
}

func NewBatchFetchContext(size int) *BatchFetchContext {
	return &BatchFetchContext{size: size}
}

// Start returns the provider index the next instrument should try first.
func (b *BatchFetchContext) Start() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pointer
}

// Lock points the batch at provider i after it succeeded.
func (b *BatchFetchContext) Lock(i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size > 0 {
		b.pointer = ((i % b.size) + b.size) % b.size
	}
}

// Advance moves to the next provider after every provider failed.
func (b *BatchFetchContext) Advance() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size > 0 {
		b.pointer = (b.pointer + 1) % b.size
	}
}
