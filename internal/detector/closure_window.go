package detector

// closureWindow is a fixed-capacity ring buffer of per-tick eye-closure
// flags. Once full, each push overwrites the oldest flag. The detector is
// single-writer, so no locking.
type closureWindow struct {
	flags []bool
	size  int
	head  int // write position
	count int // filled slots, capped at size
}

func newClosureWindow(size int) *closureWindow {
	return &closureWindow{
		flags: make([]bool, size),
		size:  size,
	}
}

func (w *closureWindow) push(closed bool) {
	w.flags[w.head] = closed
	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

func (w *closureWindow) full() bool {
	return w.count == w.size
}

// closedRatio returns the fraction of flags in the window that are closed.
func (w *closureWindow) closedRatio() float64 {
	if w.count == 0 {
		return 0
	}
	closed := 0
	for i := 0; i < w.count; i++ {
		if w.flags[i] {
			closed++
		}
	}
	return float64(closed) / float64(w.count)
}
