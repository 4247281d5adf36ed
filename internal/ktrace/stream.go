package ktrace

import (
	"fmt"
	"io"
	"sync"
)

// StreamTracer writes events as text lines, one per event, as they arrive.
type StreamTracer struct {
	mu    sync.Mutex
	w     io.Writer
	level Level
}

// NewStream returns a tracer writing to w.
func NewStream(w io.Writer, level Level) *StreamTracer {
	return &StreamTracer{w: w, level: level}
}

// Emit writes the event immediately.
func (s *StreamTracer) Emit(ev Event) {
	if ev.Seq == 0 {
		ev.Seq = NextSeq()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s %6d %-10s thread=%s object=%s %s\n",
		ev.Time.Format("15:04:05.000000"), ev.Seq, ev.Kind, ev.Thread, ev.Object, ev.Detail)
}

// Level returns the recording level.
func (s *StreamTracer) Level() Level { return s.level }

// Enabled reports whether events at the given level are recorded.
func (s *StreamTracer) Enabled(level Level) bool { return level <= s.level }
