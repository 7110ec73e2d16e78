package cross

// Closer is anything carrying an explicit closed flag.
type Closer interface {
	IsClosed() bool
}

// LastClosedPair returns the indices of the two most recent adjacent closed
// entries. ok is false when fewer than two adjacent closed entries exist at the
// tail of the history.
func LastClosedPair[T Closer](items []T) (prev, last int, ok bool) {
	last = -1
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].IsClosed() {
			last = i
			break
		}
	}
	if last < 1 || !items[last-1].IsClosed() {
		return 0, 0, false
	}
	return last - 1, last, true
}
