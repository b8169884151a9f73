// Package persist stores undeliverable messages as JSON batch files so a
// restart does not silently lose what was still waiting for the broker.
package persist

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetlink/config"
	"fleetlink/metric"
)

const (
	filePrefix   = "pending_messages_"
	fileSuffix   = ".json"
	fileTimeForm = "20060102_150405"
)

// Message is one undelivered message in a batch file. Payload is stored as
// text; everything crossing this store is a JSON document already.
type Message struct {
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	QoS       byte      `json:"qos"`
	Retain    bool      `json:"retain"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"messageId"`
}

type batchFile struct {
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// Stats describes the on-disk state of the store.
type Stats struct {
	FileCount      int   `json:"fileCount"`
	TotalSizeBytes int64 `json:"totalSizeBytes"`
}

// Store writes, loads and expires batch files in a single directory. All
// operations share one mutex; none of them is on a hot path.
type Store struct {
	dir         string
	maxMessages int
	expiration  time.Duration
	log         *slog.Logger
	metrics     *metric.Metrics

	mu     sync.Mutex
	stored int
}

// NewMessage wraps an outbound message for persistence, stamping id and
// timestamp.
func NewMessage(topic string, payload []byte, qos byte, retain bool, enqueuedAt time.Time) Message {
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}
	return Message{
		Topic:     topic,
		Payload:   string(payload),
		QoS:       qos,
		Retain:    retain,
		Timestamp: enqueuedAt,
		MessageID: uuid.New().String(),
	}
}

// NewStore opens (and if needed creates) the batch directory and counts
// what is already stored there. metrics may be nil.
func NewStore(cfg *config.PersistenceConfig, m *metric.Metrics, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("create persistence dir: %w", err)
	}
	s := &Store{
		dir:         cfg.Directory,
		maxMessages: cfg.MaxMessages,
		expiration:  cfg.Expiration,
		log:         log,
		metrics:     m,
	}
	s.stored = s.countOnDisk()
	if s.stored > 0 {
		log.Info("found existing batch files", "messages", s.stored)
	}
	return s, nil
}

func (s *Store) countOnDisk() int {
	total := 0
	for _, path := range s.batchPaths() {
		var batch batchFile
		if err := readBatch(path, &batch); err != nil {
			continue
		}
		total += len(batch.Messages)
	}
	return total
}

// batchPaths returns the batch files sorted by name, which sorts them by
// creation time thanks to the timestamp in the name.
func (s *Store) batchPaths() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Error("read persistence dir", "dir", s.dir, "error", err)
		return nil
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	sort.Strings(paths)
	return paths
}

func readBatch(path string, batch *batchFile) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, batch)
}

// PersistBatch writes the messages as one new batch file. When the store is
// at its message cap, the overflow is dropped with a warning rather than
// failing the shutdown path that calls this.
func (s *Store) PersistBatch(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	available := s.maxMessages - s.stored
	if available <= 0 {
		s.log.Warn("persistence store full, batch dropped", "dropped", len(msgs), "cap", s.maxMessages)
		return nil
	}
	if len(msgs) > available {
		s.log.Warn("persistence store near cap, batch truncated", "dropped", len(msgs)-available, "kept", available)
		msgs = msgs[:available]
	}

	now := time.Now()
	name := fmt.Sprintf("%s%s_%s%s", filePrefix, now.UTC().Format(fileTimeForm), uuid.New().String()[:8], fileSuffix)
	path := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(batchFile{CreatedAt: now, Messages: msgs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write batch %s: %w", name, err)
	}
	s.stored += len(msgs)
	s.metrics.RecordPersisted(len(msgs))
	s.log.Info("persisted message batch", "file", name, "messages", len(msgs))
	return nil
}

// LoadAll reads every batch file, deletes the files it read, and returns
// the still-fresh messages in creation order. Corrupt files are skipped and
// left in place; messages past the retention window are discarded.
func (s *Store) LoadAll() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.expiration)
	var loaded []Message
	expired := 0
	for _, path := range s.batchPaths() {
		var batch batchFile
		if err := readBatch(path, &batch); err != nil {
			s.log.Warn("skipping unreadable batch file", "file", filepath.Base(path), "error", err)
			continue
		}
		for _, m := range batch.Messages {
			if m.Timestamp.Before(cutoff) {
				expired++
				continue
			}
			loaded = append(loaded, m)
		}
		s.stored -= len(batch.Messages)
		if err := os.Remove(path); err != nil {
			s.log.Warn("remove loaded batch file", "file", filepath.Base(path), "error", err)
		}
	}
	if s.stored < 0 {
		s.stored = 0
	}
	if expired > 0 {
		s.log.Info("discarded expired persisted messages", "count", expired)
	}
	return loaded, nil
}

// CleanupExpired removes batch files whose last modification is past the
// retention window and returns how many files were removed.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.expiration)
	removed := 0
	for _, path := range s.batchPaths() {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		var batch batchFile
		if err := readBatch(path, &batch); err == nil {
			s.stored -= len(batch.Messages)
		}
		if err := os.Remove(path); err != nil {
			s.log.Warn("remove expired batch file", "file", filepath.Base(path), "error", err)
			continue
		}
		removed++
	}
	if s.stored < 0 {
		s.stored = 0
	}
	if removed > 0 {
		s.log.Info("removed expired batch files", "count", removed)
	}
	return removed
}

// Stats reports file count and total size of the store directory.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, path := range s.batchPaths() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		st.FileCount++
		st.TotalSizeBytes += info.Size()
	}
	return st
}

// StoredCount returns the number of messages currently persisted.
func (s *Store) StoredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored
}
