package relay

import (
	"errors"
	"testing"

	"github.com/digikhet/negotiation/internal/negotiation"
)

func TestChangedMessageRoundTrip(t *testing.T) {
	payload, err := NewChanged(1700000000123).EncodePayload()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(payload) != `{"ts":1700000000123}` {
		t.Fatalf("unexpected wire payload: %s", payload)
	}

	decoded, err := DecodeMessage("changed", payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Kind != KindChanged || decoded.TS != 1700000000123 {
		t.Fatalf("unexpected message: %+v", decoded)
	}
}

func TestUpsertMessageCarriesFullRecord(t *testing.T) {
	record := negotiation.Record{
		ID:              "neg_1",
		ProductID:       "P1",
		OfferPricePerKg: 22,
		Status:          negotiation.StatusPending,
		Updates: []negotiation.Update{
			{Type: negotiation.EventOffer, By: negotiation.PartyBuyer, Price: 20, QuantityKg: 500, At: 1},
			{Type: negotiation.EventCounter, By: negotiation.PartySeller, Price: 22, QuantityKg: 500, At: 2},
		},
	}

	payload, err := NewUpsert(record).EncodePayload()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := DecodeMessage("upsert", payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Item == nil {
		t.Fatal("expected item")
	}
	if decoded.Item.ID != "neg_1" || decoded.Item.OfferPricePerKg != 22 {
		t.Fatalf("unexpected item: %+v", decoded.Item)
	}
	if len(decoded.Item.Updates) != 2 {
		t.Fatalf("expected full history on the wire, got %d events", len(decoded.Item.Updates))
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	if _, err := DecodeMessage("mystery", []byte(`{}`)); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDecodeRejectsUpsertWithoutItem(t *testing.T) {
	if _, err := DecodeMessage("upsert", []byte(`{}`)); err == nil {
		t.Fatal("expected error for missing item")
	}
}
