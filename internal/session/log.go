package session

import (
	"encoding/csv"
	"io"
	"sync"
	"time"
)

// TimeLayout is the timestamp format used in CSV exports.
const TimeLayout = "2006-01-02 15:04:05"

// LogEntry is one computed (non-skipped) classification.
type LogEntry struct {
	Time       time.Time `json:"time"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
}

// Log is the append-only, time-ordered record of a session.
type Log struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// Record appends an entry. Timestamps never go backwards: an entry stamped earlier than
// its predecessor (wall clock adjustment) takes the predecessor's time.
func (l *Log) Record(t time.Time, label string, confidence float64) LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.entries); n > 0 && t.Before(l.entries[n-1].Time) {
		t = l.entries[n-1].Time
	}
	e := LogEntry{Time: t, Label: label, Confidence: confidence}
	l.entries = append(l.entries, e)
	return e
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the log in insertion order.
func (l *Log) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Summarize counts entries per label.
func (l *Log) Summarize() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[string]int)
	for _, e := range l.entries {
		counts[e.Label]++
	}
	return counts
}

// Export writes the full log as CSV with a Time,Emotion header.
func (l *Log) Export(w io.Writer) error {
	return WriteCSV(w, l.Entries())
}

// WriteCSV writes entries as CSV with a Time,Emotion header.
func WriteCSV(w io.Writer, entries []LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Time", "Emotion"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Time.Format(TimeLayout), e.Label}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
