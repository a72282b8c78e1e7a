package negotiation

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StoreConfig configures a per-device Store.
type StoreConfig struct {
	// Database holds the wholesale-serialized document. A nil Database keeps
	// the table in memory only.
	Database *gorm.DB
	// SignalPath, when set, is rewritten after every successful persist so
	// sibling processes sharing the database can observe mutations.
	SignalPath string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Store is the per-device durable table of negotiation records. All reads
// and writes go through the in-memory table; every mutation serializes the
// entire table back to the database. Persistence failures are swallowed:
// the in-memory result is what callers observe, and the error is retained
// for callers that want to inspect it.
type Store struct {
	mu             sync.Mutex
	db             *gorm.DB
	records        []Record
	signalPath     string
	clock          func() time.Time
	logger         *zap.Logger
	lastPersistErr error
}

// OpenStore loads the persisted table and returns a ready Store. A missing
// or unreadable document yields an empty table rather than an error.
func OpenStore(cfg StoreConfig) (*Store, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &Store{
		db:         cfg.Database,
		signalPath: cfg.SignalPath,
		clock:      clock,
		logger:     logger,
	}

	if err := store.Reload(); err != nil {
		return nil, err
	}
	return store, nil
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.ID == id {
			return record.Clone(), true
		}
	}
	return Record{}, false
}

// List returns the records matching the filter, newest-created-first.
func (s *Store) List(filter Filter) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		if filter.matches(record) {
			matched = append(matched, record.Clone())
		}
	}
	return matched
}

// LatestForBuyerProduct returns the most recent negotiation between a buyer
// and a product, if any.
func (s *Store) LatestForBuyerProduct(buyerID, productID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.BuyerID == buyerID && record.ProductID == productID {
			return record.Clone(), true
		}
	}
	return Record{}, false
}

// Upsert replaces the record with a matching id in place, preserving its
// position, or inserts at the head when absent. The whole table is then
// serialized back to the database.
func (s *Store) Upsert(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := record.Clone()
	replaced := false
	for index := range s.records {
		if s.records[index].ID == stored.ID {
			s.records[index] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		s.records = append([]Record{stored}, s.records...)
	}
	s.persistLocked()
}

// Reload re-reads the persisted document, replacing the in-memory table.
// Used when a sibling process signals a storage-level change.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}

	var document LocalDocument
	err := s.db.Where("key = ?", StorageKey).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.records = nil
		return nil
	}
	if err != nil {
		return err
	}

	var records []Record
	if err := json.Unmarshal([]byte(document.PayloadJSON), &records); err != nil {
		// A corrupt document is treated as an empty table, matching the
		// behavior existing device copies rely on.
		s.logger.Warn("negotiation document corrupt, starting empty", zap.Error(err))
		s.records = nil
		return nil
	}
	s.records = records
	return nil
}

// LastPersistErr returns the outcome of the most recent persist attempt,
// nil when it succeeded. The in-memory table is authoritative either way.
func (s *Store) LastPersistErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPersistErr
}

// SignalPath returns the path sibling processes should watch for change
// signals, empty when signaling is disabled.
func (s *Store) SignalPath() string {
	return s.signalPath
}

func (s *Store) persistLocked() {
	if s.db == nil {
		s.lastPersistErr = nil
		return
	}

	payload, err := json.Marshal(s.records)
	if err != nil {
		s.lastPersistErr = err
		s.logger.Warn("negotiation table serialization failed", zap.Error(err))
		return
	}

	document := LocalDocument{
		Key:             StorageKey,
		PayloadJSON:     string(payload),
		UpdatedAtMillis: s.clock().UnixMilli(),
	}
	if err := s.db.Save(&document).Error; err != nil {
		s.lastPersistErr = err
		s.logger.Warn("negotiation table persist failed", zap.Error(err))
		return
	}
	s.lastPersistErr = nil
	s.touchSignalLocked()
}

func (s *Store) touchSignalLocked() {
	if s.signalPath == "" {
		return
	}
	stamp := strconv.FormatInt(s.clock().UnixNano(), 10)
	if err := os.WriteFile(s.signalPath, []byte(stamp), 0o644); err != nil {
		s.logger.Debug("change signal write failed", zap.Error(err))
	}
}
