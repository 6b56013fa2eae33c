package playback

import (
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
)

// chunkQueue is the FIFO between the network receiver and the playback
// tick. It implements the jitter-buffer policy: playback holds off until
// either minDepth chunks have accumulated or the oldest chunk has waited
// maxWait, whichever comes first.
type chunkQueue struct {
	mu      sync.Mutex
	items   []audio.Chunk
	firstAt time.Time
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{}
}

// push appends one chunk, stamping the buffering clock on the first item.
func (q *chunkQueue) push(c audio.Chunk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.firstAt = time.Now()
	}
	q.items = append(q.items, c)
}

// takeReady drains and returns every queued chunk if the jitter policy is
// satisfied, or nil if playback should keep waiting. When prebuffered is
// true the jitter gate is skipped and anything queued is drained.
func (q *chunkQueue) takeReady(minDepth int, maxWait time.Duration, prebuffered bool) []audio.Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	if !prebuffered && len(q.items) < minDepth && time.Since(q.firstAt) < maxWait {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

// clear discards everything queued and returns how many chunks were
// dropped.
func (q *chunkQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *chunkQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
