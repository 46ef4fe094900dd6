package workflow

import "sync"

// progressInterval is the minimum advance between two persisted writes.
const progressInterval = 5

// progressThrottle decides which progress reports reach storage: always the
// first (current == 1) and the last (current == total), otherwise only after
// progressInterval units since the previous write.
type progressThrottle struct {
	mu          sync.Mutex
	lastWritten int
}

func (t *progressThrottle) ShouldWrite(current, total int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current == 1 || current == total || current-t.lastWritten >= progressInterval {
		t.lastWritten = current

		return true
	}

	return false
}
