// Package vlog implements NOrec's value log: an ordered list of observed
// (address, bytes) pairs re-checked against memory at every validation.
package vlog

import "github.com/transmem/gostm/internal/memaccess"

// Entry is one recorded observation: the bytes found at addr at the time
// of the read.
type Entry struct {
	Addr uintptr
	Data []byte
}

// Log is the ordered sequence of value-log entries accumulated by one
// transaction attempt. Like orec.Log, it is single-threaded and only
// grown by append, shrunk on Reset when mostly unused.
type Log struct {
	entries []Entry
}

// Append records that addr currently holds data.
func (l *Log) Append(addr uintptr, data []byte) {
	l.entries = append(l.entries, Entry{Addr: addr, Data: data})
}

// Entries returns the log in insertion order. Valid only until Reset.
func (l *Log) Entries() []Entry { return l.entries }

// Len reports the number of recorded entries.
func (l *Log) Len() int { return len(l.entries) }

// Validate re-reads every recorded address and reports whether memory
// still matches every recorded observation.
func (l *Log) Validate() bool {
	for _, e := range l.entries {
		cur := memaccess.ReadBytes(e.Addr, len(e.Data))
		if !bytesEqual(cur, e.Data) {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Reset clears the log, shrinking its backing array when mostly unused.
func (l *Log) Reset() {
	const lenMultiple = 2
	used := len(l.entries)
	l.entries = l.entries[:0]
	if used == 0 || used*lenMultiple < cap(l.entries) {
		l.entries = nil
	}
}
