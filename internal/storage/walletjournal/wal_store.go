// Package walletjournal keeps an append-only journal of wallet events so the
// web surface can replay them to late subscribers.
package walletjournal

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/azebets/walletsync/internal/domain"
)

const (
	defaultJournalDir   = "./wal/wallet"
	journalSegmentLimit = 1000
	journalMaxSegments  = 50
	eventKeyPrefix      = "wallet_event_"
)

var errNotInitialized = errors.New("wallet journal is not initialized")

// WALStore persists wallet events in a gowal write-ahead log.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens or creates the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create wallet journal dir")
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "wallet_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init wallet journal")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the event and returns its index.
func (s *WALStore) Save(event domain.WalletEvent) (uint64, error) {
	if s == nil || s.wal == nil {
		return 0, errNotInitialized
	}
	if event.Kind == "" {
		return 0, errors.New("wallet event kind is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, errors.Wrap(err, "marshal wallet event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(idx, eventKeyPrefix+string(event.Kind), payload); err != nil {
		return 0, errors.Wrap(err, "write wallet event")
	}
	return idx, nil
}

// EventsAfter returns the events written after index, oldest first.
func (s *WALStore) EventsAfter(index uint64) ([]domain.WalletEventRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.WalletEventRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, eventKeyPrefix) {
			continue
		}
		var event domain.WalletEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, errors.Wrapf(err, "decode wallet event %d", idx)
		}
		records = append(records, domain.WalletEventRecord{Index: idx, Event: event})
	}

	return records, nil
}

// CurrentIndex returns the latest index written.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close flushes and closes the journal.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
