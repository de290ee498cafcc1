package supervisor

import (
	"io"
	"sync"
)

// lockedWriter serializes writes to a stream shared by task echo and the
// problems report. Each Write lands whole.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
