package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/callstate"
	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/storage"
)

// DefaultLimit is how many calls the log keeps before dropping the oldest.
const DefaultLimit = 1000

// storeVersion is the history.json schema version.
const storeVersion = 1

type storeFile struct {
	Version int            `json:"version"`
	Calls   []storedRecord `json:"calls"`
}

// Store is the persistent call log. Records are held oldest first; queries
// return newest first. Safe for concurrent use.
type Store struct {
	path  string
	limit int

	mu      sync.Mutex
	records []Record
}

// Stats summarizes the whole log.
type Stats struct {
	Total         int
	Incoming      int
	Outgoing      int
	Answered      int
	TotalDuration time.Duration
}

// NewStore loads the call log at path, creating an empty one if the file
// does not exist yet.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}

	s := &Store{path: path, limit: DefaultLimit}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load call history: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewStore",
		"path":     path,
		"calls":    len(s.records),
	}).Debug("Call history loaded")
	return s, nil
}

// load reads the history file. A missing file leaves the log empty;
// records that fail to parse are skipped with a warning so one bad entry
// cannot take out the rest.
func (s *Store) load() error {
	var file storeFile
	if err := storage.ReadJSON(s.path, &file); err != nil {
		return err
	}
	if file.Version == 0 {
		// No file yet.
		return nil
	}
	if file.Version != storeVersion {
		return fmt.Errorf("unsupported history file version %d", file.Version)
	}

	for _, stored := range file.Calls {
		rec, err := recordFromStored(stored)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "load",
				"call_id":  stored.CallID,
				"error":    err,
			}).Warn("Skipping invalid history record")
			continue
		}
		s.records = append(s.records, rec)
	}
	if len(s.records) > s.limit {
		s.records = append([]Record(nil), s.records[len(s.records)-s.limit:]...)
	}
	return nil
}

// saveLocked writes the log atomically. Persistence failures are logged
// and otherwise ignored so a full disk cannot break live call handling.
// Caller holds s.mu.
func (s *Store) saveLocked() {
	file := storeFile{Version: storeVersion, Calls: make([]storedRecord, 0, len(s.records))}
	for _, rec := range s.records {
		file.Calls = append(file.Calls, rec.toStored())
	}

	if err := storage.WriteJSON(s.path, &file, 0o600); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "saveLocked",
			"path":     s.path,
			"error":    err,
		}).Error("Failed to persist call history")
	}
}

// Append logs one finished call and persists the log.
func (s *Store) Append(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if len(s.records) > s.limit {
		s.records = append([]Record(nil), s.records[len(s.records)-s.limit:]...)
	}
	s.saveLocked()

	logrus.WithFields(logrus.Fields{
		"function":  "Append",
		"call_id":   rec.CallID,
		"remote_id": rec.RemoteID.Short(),
		"direction": rec.Direction,
		"outcome":   rec.Outcome,
	}).Info("Call logged")
}

// Len returns the number of logged calls.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Recent returns up to n calls, newest first. n <= 0 returns everything.
func (s *Store) Recent(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(n, func(Record) bool { return true })
}

// ForPeer returns up to n calls with the given peer, newest first.
// n <= 0 returns everything.
func (s *Store) ForPeer(remote crypto.NodeID, n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(n, func(rec Record) bool { return rec.RemoteID == remote })
}

// filterLocked walks the log newest first collecting matches. Caller holds
// s.mu.
func (s *Store) filterLocked(n int, match func(Record) bool) []Record {
	out := make([]Record, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if !match(s.records[i]) {
			continue
		}
		out = append(out, s.records[i])
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// Stats summarizes the log. Answered counts completed calls and
// TotalDuration sums their talk time.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	stats.Total = len(s.records)
	for _, rec := range s.records {
		switch rec.Direction {
		case DirectionIncoming:
			stats.Incoming++
		case DirectionOutgoing:
			stats.Outgoing++
		}
		if rec.Outcome == callstate.OutcomeCompleted {
			stats.Answered++
			stats.TotalDuration += rec.Duration
		}
	}
	return stats
}

// Clear empties the log and persists the empty state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.saveLocked()

	logrus.WithFields(logrus.Fields{
		"function": "Clear",
		"path":     s.path,
	}).Info("Call history cleared")
}
