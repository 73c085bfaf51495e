package orec

// Entry is one (orec index, observed value) pair. For the read log,
// observed is the timestamp seen at the load that validated the access.
// For the write log, observed is the orec's prior word, saved so rollback
// can restore it verbatim.
type Entry struct {
	Index    int
	Observed uint64
}

// Log is the ordered sequence of orec entries ML-Lazy accumulates across
// a transaction attempt. Insertion order matters: commit iterates the
// write log in the order entries were appended. The growth and shrink
// policy mirrors raft's unstable.entries (internal/... is unexported
// there too): append in place when there is room, reslice to a smaller
// backing array when usage falls far enough below capacity that holding
// onto the old array would be wasteful.
type Log struct {
	entries []Entry
}

// Append adds e to the end of the log.
func (l *Log) Append(e Entry) {
	l.entries = append(l.entries, e)
}

// Entries returns the log's entries in insertion order. The slice is
// only valid until the next Reset.
func (l *Log) Entries() []Entry {
	return l.entries
}

// Len reports the number of entries currently logged.
func (l *Log) Len() int { return len(l.entries) }

// Find returns the entry logged for idx and whether one exists. Logs are
// small (one per orec touched by the in-flight transaction), so a linear
// scan is the right tool, same as bucketBuffer.Range's small-slice
// sequential scans.
func (l *Log) Find(idx int) (Entry, bool) {
	for _, e := range l.entries {
		if e.Index == idx {
			return e, true
		}
	}
	return Entry{}, false
}

// Reset clears the log for reuse, shrinking the backing array when most
// of its capacity went unused this attempt.
func (l *Log) Reset() {
	const lenMultiple = 2
	used := len(l.entries)
	l.entries = l.entries[:0]
	if used == 0 || used*lenMultiple < cap(l.entries) {
		l.entries = nil
	}
}
