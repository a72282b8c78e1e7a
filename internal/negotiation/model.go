package negotiation

import (
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the phases of a negotiation.
type Status string

const (
	// StatusPending marks a negotiation that is still open to counters.
	StatusPending Status = "pending"
	// StatusAccepted marks a terminally accepted negotiation.
	StatusAccepted Status = "accepted"
	// StatusDeclined marks a terminally declined negotiation.
	StatusDeclined Status = "declined"
)

// Party identifies which side of the negotiation authored an update.
type Party string

const (
	// PartyBuyer attributes an update to the buyer.
	PartyBuyer Party = "buyer"
	// PartySeller attributes an update to the seller.
	PartySeller Party = "seller"
)

// EventType enumerates the update kinds recorded in a negotiation history.
type EventType string

const (
	// EventOffer is the opening offer recorded at creation.
	EventOffer EventType = "offer"
	// EventCounter is a price/quantity counter while pending.
	EventCounter EventType = "counter"
	// EventAccepted is the terminal acceptance event.
	EventAccepted EventType = "accepted"
	// EventDeclined is the terminal decline event.
	EventDeclined EventType = "declined"
)

// ErrInvalidParty indicates a party value outside buyer/seller.
var ErrInvalidParty = errors.New("negotiation: invalid party")

// ParseParty validates raw input and returns a Party.
func ParseParty(rawInput string) (Party, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(PartyBuyer):
		return PartyBuyer, nil
	case string(PartySeller):
		return PartySeller, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidParty, rawInput)
	}
}

// Update is one entry in a negotiation's append-only history. Timestamps are
// unix milliseconds to match the wire format.
type Update struct {
	Type       EventType `json:"type"`
	By         Party     `json:"by"`
	Price      float64   `json:"price,omitempty"`
	QuantityKg float64   `json:"quantityKg,omitempty"`
	At         int64     `json:"at"`
}

// Record is the replicated unit of state for one buyer/seller price
// discussion on one product. JSON field names are part of the wire and
// storage contract and must not change.
type Record struct {
	ID              string   `json:"id"`
	ProductID       string   `json:"productId"`
	ProductName     string   `json:"productName"`
	SellerID        string   `json:"sellerId"`
	SellerName      string   `json:"sellerName"`
	BuyerID         string   `json:"buyerId"`
	BuyerName       string   `json:"buyerName"`
	QuantityKg      float64  `json:"quantityKg"`
	OfferPricePerKg float64  `json:"offerPricePerKg"`
	Status          Status   `json:"status"`
	CreatedAt       int64    `json:"createdAt"`
	AcceptedAt      int64    `json:"acceptedAt,omitempty"`
	DeclinedAt      int64    `json:"declinedAt,omitempty"`
	Updates         []Update `json:"updates"`
}

// Terminal reports whether the record has reached accepted or declined.
func (r Record) Terminal() bool {
	return r.Status == StatusAccepted || r.Status == StatusDeclined
}

// Clone returns a deep copy so callers cannot mutate the stored history.
func (r Record) Clone() Record {
	copied := r
	copied.Updates = make([]Update, len(r.Updates))
	copy(copied.Updates, r.Updates)
	return copied
}

// Filter selects records by partial-field equality. Zero-valued fields are
// ignored; a zero Filter matches everything.
type Filter struct {
	ProductID string
	SellerID  string
	BuyerID   string
	Status    Status
}

func (f Filter) matches(r Record) bool {
	if f.ProductID != "" && r.ProductID != f.ProductID {
		return false
	}
	if f.SellerID != "" && r.SellerID != f.SellerID {
		return false
	}
	if f.BuyerID != "" && r.BuyerID != f.BuyerID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
