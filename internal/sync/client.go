// Package sync orchestrates the local-write-then-publish path and the
// inbound-merge path of negotiation replication. It is the only component
// that touches both the record store and the relay.
package sync

import (
	"errors"
	"time"

	"github.com/digikhet/negotiation/internal/negotiation"
	"github.com/digikhet/negotiation/internal/notify"
	"github.com/digikhet/negotiation/internal/relay"
	"go.uber.org/zap"
)

var (
	errMissingStore    = errors.New("sync: store is required")
	errMissingMachine  = errors.New("sync: machine is required")
	errMissingNotifier = errors.New("sync: notifier is required")
)

// Transport is the relay capability the client depends on. A nil Transport
// leaves the device purely local: writes still land durably and notify
// same-process subscribers, they just never leave the machine.
type Transport interface {
	Connect()
	Emit(relay.Message) error
	On(kind relay.Kind, handler func(relay.Message)) func()
}

// WriteReport carries the failure outcomes of one mutating operation.
// Every failure it can carry has already been absorbed: the in-memory write
// succeeded and same-device observers were notified. Callers that want the
// original silent-success behavior ignore it; callers that want to surface
// divergence inspect it.
type WriteReport struct {
	// PersistErr is set when serializing the table to the device store
	// failed. In-memory and durable state diverge until the next
	// successful write.
	PersistErr error
	// PublishErr is set when the relay publish was dropped for a reason
	// known at call time (typically no connection). A drop after handoff is
	// indistinguishable from a lost message and is not reported.
	PublishErr error
}

// ClientConfig configures a synchronization client.
type ClientConfig struct {
	Store     *negotiation.Store
	Machine   *negotiation.Machine
	Notifier  *notify.Notifier
	Transport Transport
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Client exposes the negotiation operations to the UI layer and keeps the
// device convergent: local mutations are written durably, fanned out to
// same-process subscribers synchronously, then published to the relay best
// effort; inbound relay messages are merged silently, never re-published.
type Client struct {
	store     *negotiation.Store
	machine   *negotiation.Machine
	notifier  *notify.Notifier
	transport Transport
	clock     func() time.Time
	logger    *zap.Logger

	offUpsert  func()
	offChanged func()
}

// NewClient validates dependencies, registers the inbound-merge handlers,
// and joins the relay room.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Machine == nil {
		return nil, errMissingMachine
	}
	if cfg.Notifier == nil {
		return nil, errMissingNotifier
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &Client{
		store:     cfg.Store,
		machine:   cfg.Machine,
		notifier:  cfg.Notifier,
		transport: cfg.Transport,
		clock:     clock,
		logger:    logger,
	}

	if client.transport != nil {
		client.offUpsert = client.transport.On(relay.KindUpsert, client.ingestUpsert)
		client.offChanged = client.transport.On(relay.KindChanged, client.ingestChanged)
		client.transport.Connect()
	}

	return client, nil
}

// CreateOffer opens a pending negotiation on the buyer's behalf.
func (c *Client) CreateOffer(input negotiation.OfferInput) (negotiation.Record, WriteReport) {
	record := c.machine.CreateOffer(input)
	report := c.afterLocalWrite(record)
	return record, report
}

// CounterOffer appends a counter move. Returns nil (and does nothing) when
// the record is missing or already terminal.
func (c *Client) CounterOffer(id string, input negotiation.CounterInput) (*negotiation.Record, WriteReport) {
	record := c.machine.CounterOffer(id, input)
	if record == nil {
		return nil, WriteReport{}
	}
	report := c.afterLocalWrite(*record)
	return record, report
}

// AcceptOffer terminates the negotiation as accepted. Returns nil only when
// the record does not exist; accepting an already-terminal record appends a
// redundant terminal event.
func (c *Client) AcceptOffer(id string) (*negotiation.Record, WriteReport) {
	record := c.machine.AcceptOffer(id)
	if record == nil {
		return nil, WriteReport{}
	}
	report := c.afterLocalWrite(*record)
	return record, report
}

// DeclineOffer terminates the negotiation as declined, with AcceptOffer's
// semantics otherwise.
func (c *Client) DeclineOffer(id string) (*negotiation.Record, WriteReport) {
	record := c.machine.DeclineOffer(id)
	if record == nil {
		return nil, WriteReport{}
	}
	report := c.afterLocalWrite(*record)
	return record, report
}

// ListNegotiations returns the device's records matching the filter,
// newest-created-first.
func (c *Client) ListNegotiations(filter negotiation.Filter) []negotiation.Record {
	return c.store.List(filter)
}

// LatestForBuyerProduct returns the most recent negotiation between a buyer
// and a product, if any.
func (c *Client) LatestForBuyerProduct(buyerID, productID string) (*negotiation.Record, bool) {
	record, ok := c.store.LatestForBuyerProduct(buyerID, productID)
	if !ok {
		return nil, false
	}
	return &record, true
}

// SubscribeNegotiations registers a callback invoked after every mutation
// this device observes, local or remote. The returned function removes
// exactly this subscription; other subscribers are unaffected.
func (c *Client) SubscribeNegotiations(callback func()) func() {
	return c.notifier.Subscribe(callback)
}

// HandleCrossContextChange reloads the store document and notifies
// subscribers. Wired to the cross-context change listener so sibling
// processes on the same machine converge without a relay round trip.
func (c *Client) HandleCrossContextChange() {
	if err := c.store.Reload(); err != nil {
		c.logger.Warn("store reload after cross-context signal failed", zap.Error(err))
		return
	}
	c.notifier.Broadcast()
}

// Close removes the inbound-merge registrations. Pending local
// notifications are unaffected.
func (c *Client) Close() {
	if c.offUpsert != nil {
		c.offUpsert()
	}
	if c.offChanged != nil {
		c.offChanged()
	}
}

// afterLocalWrite completes the local-write-then-publish path: the durable
// write already happened inside the state machine, so fan out to
// same-process subscribers first (same-tab consistency needs no network),
// then publish best effort.
func (c *Client) afterLocalWrite(record negotiation.Record) WriteReport {
	report := WriteReport{PersistErr: c.store.LastPersistErr()}
	if report.PersistErr != nil {
		c.logger.Warn("negotiation persisted in memory only",
			zap.String("negotiation_id", record.ID),
			zap.Error(report.PersistErr))
	}

	c.notifier.Broadcast()

	if c.transport == nil {
		return report
	}
	if err := c.transport.Emit(relay.NewUpsert(record)); err != nil {
		report.PublishErr = err
		c.logger.Debug("negotiation publish dropped",
			zap.String("negotiation_id", record.ID),
			zap.Error(err))
	}
	if err := c.transport.Emit(relay.NewChanged(c.clock().UnixMilli())); err != nil && report.PublishErr == nil {
		report.PublishErr = err
	}
	return report
}

// ingestUpsert merges a remote record without re-publishing. The relay
// reflects every publish back to its sender, so publishing here would loop
// forever; the silent merge breaks the cycle.
func (c *Client) ingestUpsert(message relay.Message) {
	if message.Item == nil {
		return
	}
	c.store.Upsert(*message.Item)
	c.notifier.Broadcast()
}

// ingestChanged tells subscribers to re-read; the coarse signal carries no
// record.
func (c *Client) ingestChanged(relay.Message) {
	c.notifier.Broadcast()
}
