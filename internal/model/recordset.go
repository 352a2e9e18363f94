// internal/model/recordset.go
package model

import "sync"

// RecordSet is the shared, mutable record collection for one campaign.
// Workers write statuses into it while the presentation side polls
// snapshots; every mutation funnels through the mutex here.
type RecordSet struct {
	mu      sync.RWMutex
	columns []string
	records []Record
}

func NewRecordSet() *RecordSet {
	return &RecordSet{}
}

// Reset drops all records and installs a new column set. Used when a new
// data file replaces the previous one.
func (s *RecordSet) Reset(columns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = append([]string(nil), columns...)
	s.records = nil
}

// Append adds a record with the next dense zero-based id and pending
// status, and returns a copy of it.
func (s *RecordSet) Append(fields map[string]string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		ID:     len(s.records),
		Fields: make(map[string]string, len(fields)),
		Status: StatusPending,
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	s.records = append(s.records, rec)
	return rec.Clone()
}

// Get returns a copy of the record with the given id.
func (s *RecordSet) Get(id int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 0 || id >= len(s.records) {
		return Record{}, false
	}
	return s.records[id].Clone(), true
}

// Len returns the number of records.
func (s *RecordSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Columns returns the column names shared by every record.
func (s *RecordSet) Columns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.columns...)
}

// All returns copies of every record in id order.
func (s *RecordSet) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	return out
}

// Pending returns copies of every record not already sent, the set a new
// run enqueues.
func (s *RecordSet) Pending() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Status != StatusSent {
			out = append(out, r.Clone())
		}
	}
	return out
}

// UpdateStatus records a status change. Unknown ids are ignored, matching
// the defensive behavior around stale indexes. A record that reached sent
// stays sent.
func (s *RecordSet) UpdateStatus(id int, status Status) {
	if !status.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.records) {
		return
	}
	if s.records[id].Status == StatusSent {
		return
	}
	s.records[id].Status = status
}

// Snapshot returns current per-status counts without blocking writers for
// longer than the read lock.
func (s *RecordSet) Snapshot() StatusCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := StatusCounts{Total: len(s.records)}
	for _, r := range s.records {
		switch r.Status {
		case StatusPending:
			counts.Pending++
		case StatusQueued:
			counts.Queued++
		case StatusSent:
			counts.Sent++
		case StatusInvalid:
			counts.Invalid++
		case StatusAuthError:
			counts.AuthError++
		case StatusFailed:
			counts.Failed++
		}
	}
	return counts
}
