package staging

import "sync"

// TailBuffer is a bounded writer that retains only the last cap bytes
// written. The preview process's stdout/stderr stream through one of these
// so a failed start can report a diagnostic tail without unbounded memory.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

// NewTailBuffer creates a buffer that keeps the trailing capacity bytes.
func NewTailBuffer(capacity int) *TailBuffer {
	return &TailBuffer{cap: capacity}
}

// Write implements io.Writer. It never fails; overflow evicts the oldest
// bytes.
func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.cap {
		b.buf = append(b.buf[:0], p[len(p)-b.cap:]...)
		return len(p), nil
	}

	b.buf = append(b.buf, p...)
	if overflow := len(b.buf) - b.cap; overflow > 0 {
		b.buf = append(b.buf[:0], b.buf[overflow:]...)
	}
	return len(p), nil
}

// String returns the retained tail.
func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
