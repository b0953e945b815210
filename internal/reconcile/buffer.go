package reconcile

import (
	"sync"

	"github.com/bethna/marketfeed/internal/model"
)

// tickBuffer is a bounded ring over realtime ticks. Once full, each append
// evicts the oldest tick. Arrival order is preserved.
type tickBuffer struct {
	mu    sync.Mutex
	buf   []model.Tick
	start int
	count int
}

func newTickBuffer(capacity int) *tickBuffer {
	return &tickBuffer{buf: make([]model.Tick, capacity)}
}

func (b *tickBuffer) Append(t model.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < len(b.buf) {
		b.buf[(b.start+b.count)%len(b.buf)] = t
		b.count++
		return
	}
	b.buf[b.start] = t
	b.start = (b.start + 1) % len(b.buf)
}

// Snapshot copies the buffered ticks in arrival order.
func (b *tickBuffer) Snapshot() []model.Tick {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.Tick, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.buf[(b.start+i)%len(b.buf)]
	}
	return out
}

func (b *tickBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
