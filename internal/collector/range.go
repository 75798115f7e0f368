package collector

import "fmt"

// Window is an inclusive span of blocks read with one log query. The engine receives a
// NewBlock event for the last block of every window.
type Window struct {
	From uint64
	To   uint64
}

// Blocks returns the number of blocks the window covers.
func (w Window) Blocks() uint64 {
	return w.To - w.From + 1
}

// Windows cuts [from, to] into consecutive windows of at most size blocks. The last
// window always ends at to.
func Windows(from, to, size uint64) ([]Window, error) {
	if size == 0 {
		return nil, fmt.Errorf("window size must be positive")
	}
	if to < from {
		return nil, fmt.Errorf("window end %d is before start %d", to, from)
	}
	span := to - from + 1
	count := span / size
	if span%size != 0 {
		count++
	}
	out := make([]Window, count)
	for i := range out {
		start := from + uint64(i)*size
		out[i] = Window{From: start, To: min(start+size-1, to)}
	}
	return out, nil
}
