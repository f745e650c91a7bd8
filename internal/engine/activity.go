package engine

import (
	"sync"
	"time"
)

const activityCapacity = 50

// ActivityEntry is one line in a worker's recent-activity log, surfaced by
// the detailed status endpoint.
type ActivityEntry struct {
	At       time.Time `json:"at"`
	RecordID string    `json:"record_id,omitempty"`
	Message  string    `json:"message"`
}

// activityLog is a fixed-capacity ring of the most recent entries. Writes
// never block or grow; the oldest entry is overwritten.
type activityLog struct {
	mu      sync.Mutex
	entries [activityCapacity]ActivityEntry
	next    int
	filled  bool
}

func newActivityLog() *activityLog {
	return &activityLog{}
}

func (l *activityLog) Add(recordID, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = ActivityEntry{
		At:       time.Now().UTC(),
		RecordID: recordID,
		Message:  message,
	}
	l.next++
	if l.next == activityCapacity {
		l.next = 0
		l.filled = true
	}
}

// Snapshot returns the entries oldest first.
func (l *activityLog) Snapshot() []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.filled {
		out := make([]ActivityEntry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]ActivityEntry, 0, activityCapacity)
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// activitySet keeps one ring per worker so a busy worker cannot evict
// another worker's history.
type activitySet struct {
	mu   sync.Mutex
	logs map[string]*activityLog
}

func newActivitySet(workers ...string) *activitySet {
	s := &activitySet{logs: make(map[string]*activityLog, len(workers))}
	for _, w := range workers {
		s.logs[w] = newActivityLog()
	}
	return s
}

func (s *activitySet) Add(worker, recordID, message string) {
	s.mu.Lock()
	l, ok := s.logs[worker]
	if !ok {
		l = newActivityLog()
		s.logs[worker] = l
	}
	s.mu.Unlock()
	l.Add(recordID, message)
}

// Snapshot returns every worker's entries, oldest first within each worker.
// Workers with no activity yet map to an empty slice.
func (s *activitySet) Snapshot() map[string][]ActivityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]ActivityEntry, len(s.logs))
	for w, l := range s.logs {
		out[w] = l.Snapshot()
	}
	return out
}
