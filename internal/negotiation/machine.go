package negotiation

import (
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var errMissingStore = errors.New("negotiation: store is required")

// MachineConfig configures the negotiation state machine.
type MachineConfig struct {
	Store  *Store
	Clock  func() time.Time
	IDs    IDProvider
	Logger *zap.Logger
}

// Machine implements the four mutating negotiation operations. It owns no
// state of its own; every operation is a read-modify-write against the
// Store and returns the resulting record.
type Machine struct {
	store  *Store
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger
}

// NewMachine validates dependencies and returns a Machine.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDs
	if ids == nil {
		ids = NewULIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{store: cfg.Store, clock: clock, ids: ids, logger: logger}, nil
}

// OfferInput carries the fields of an opening offer. Identifying fields are
// not validated here: a caller that omits them gets a partially-populated
// record back, exactly as the UI contract allows.
type OfferInput struct {
	ProductID       string
	ProductName     string
	SellerID        string
	SellerName      string
	BuyerID         string
	BuyerName       string
	QuantityKg      float64
	OfferPricePerKg float64
}

// CounterInput carries one counter move. QuantityKg of zero leaves the
// negotiated quantity unchanged.
type CounterInput struct {
	By         Party
	Price      float64
	QuantityKg float64
}

// CreateOffer builds a pending record with a single opening offer event and
// inserts it at the head of the store.
func (m *Machine) CreateOffer(input OfferInput) Record {
	now := m.nowMillis()
	record := Record{
		ID:              m.newID(),
		ProductID:       input.ProductID,
		ProductName:     input.ProductName,
		SellerID:        input.SellerID,
		SellerName:      input.SellerName,
		BuyerID:         input.BuyerID,
		BuyerName:       input.BuyerName,
		QuantityKg:      input.QuantityKg,
		OfferPricePerKg: input.OfferPricePerKg,
		Status:          StatusPending,
		CreatedAt:       now,
		Updates: []Update{{
			Type:       EventOffer,
			By:         PartyBuyer,
			Price:      input.OfferPricePerKg,
			QuantityKg: input.QuantityKg,
			At:         now,
		}},
	}
	m.store.Upsert(record)
	return record
}

// CounterOffer appends a counter event and mirrors its price (and quantity,
// when supplied) onto the record. Permitted only while the record is
// pending; returns nil when the record is missing or terminal. No
// turn-taking is enforced: either party may counter repeatedly.
func (m *Machine) CounterOffer(id string, input CounterInput) *Record {
	record, ok := m.store.Get(id)
	if !ok || record.Status != StatusPending {
		return nil
	}

	quantity := input.QuantityKg
	if quantity == 0 {
		quantity = record.QuantityKg
	}
	record.Updates = append(record.Updates, Update{
		Type:       EventCounter,
		By:         input.By,
		Price:      input.Price,
		QuantityKg: quantity,
		At:         m.nowMillis(),
	})
	record.OfferPricePerKg = input.Price
	if input.QuantityKg != 0 {
		record.QuantityKg = input.QuantityKg
	}
	m.store.Upsert(record)
	return &record
}

// AcceptOffer moves the record to accepted, stamps AcceptedAt, and appends
// the terminal event. Not idempotent: accepting an already-terminal record
// appends a redundant terminal event without error. Returns nil only when
// the record does not exist.
func (m *Machine) AcceptOffer(id string) *Record {
	return m.finalize(id, StatusAccepted, EventAccepted)
}

// DeclineOffer moves the record to declined, stamps DeclinedAt, and appends
// the terminal event. Shares AcceptOffer's non-idempotence.
func (m *Machine) DeclineOffer(id string) *Record {
	return m.finalize(id, StatusDeclined, EventDeclined)
}

func (m *Machine) finalize(id string, status Status, eventType EventType) *Record {
	record, ok := m.store.Get(id)
	if !ok {
		return nil
	}

	now := m.nowMillis()
	record.Status = status
	switch status {
	case StatusAccepted:
		record.AcceptedAt = now
	case StatusDeclined:
		record.DeclinedAt = now
	}
	record.Updates = append(record.Updates, Update{
		Type: eventType,
		By:   PartySeller,
		At:   now,
	})
	m.store.Upsert(record)
	return &record
}

func (m *Machine) newID() string {
	id, err := m.ids.NewID()
	if err != nil {
		m.logger.Warn("id generation failed, falling back to timestamp", zap.Error(err))
		return idPrefix + strconv.FormatInt(m.clock().UnixMilli(), 10)
	}
	return id
}

func (m *Machine) nowMillis() int64 {
	return m.clock().UnixMilli()
}
