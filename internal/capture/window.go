package capture

// Window is a fixed-capacity search buffer with a write cursor. Samples that
// do not fit are dropped; the window is only searched when exactly full.
type Window struct {
	buf    []complex64
	cursor int
}

// NewWindow allocates a window of capacity samples.
func NewWindow(capacity int) *Window {
	return &Window{buf: make([]complex64, capacity)}
}

// Append copies as many samples as fit and returns how many were taken.
func (w *Window) Append(samples []complex64) int {
	n := copy(w.buf[w.cursor:], samples)
	w.cursor += n
	return n
}

// Full reports whether the cursor reached capacity.
func (w *Window) Full() bool { return w.cursor >= len(w.buf) }

// Samples returns the backing buffer. Its content is only meaningful when Full.
func (w *Window) Samples() []complex64 { return w.buf }

// Len returns the cursor position.
func (w *Window) Len() int { return w.cursor }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Reset rewinds the cursor; the next fill overwrites every sample.
func (w *Window) Reset() { w.cursor = 0 }
