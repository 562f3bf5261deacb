// Package service holds the long-running workers that sit between the
// ledger and its outer stack.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/alanyoungcy/marketledger/internal/crypto"
	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/notify"
)

// drainTimeout bounds delivery of events still queued at shutdown.
const drainTimeout = 5 * time.Second

// RelayMetrics is the subset of the metrics collectors the relay updates.
type RelayMetrics interface {
	EventRelayed(kind domain.EventKind)
	RelayFailed(stage string)
	RelayQueueDepth(n int)
}

// RelayConfig names where events go.
type RelayConfig struct {
	BufferSize int
	Channel    string
	Stream     string
}

// Envelope is the published form of one event.
type Envelope struct {
	Sequence  uint64         `json:"sequence"`
	Kind      string         `json:"kind"`
	Fields    map[string]any `json:"fields"`
	Signer    string         `json:"signer,omitempty"`
	Signature string         `json:"signature,omitempty"`
}

// EventRelay implements domain.EventSink. Emit only enqueues; Run signs each
// event, appends it to the audit log, publishes it on the signal bus and
// notifies operators. Delivery failures are logged and counted, never
// returned to the ledger.
type EventRelay struct {
	cfg      RelayConfig
	signer   *crypto.Signer
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	metrics  RelayMetrics
	logger   *slog.Logger

	queue chan domain.Event
}

// RelayOption configures an EventRelay.
type RelayOption func(*EventRelay)

// WithSigner signs every envelope with s.
func WithSigner(s *crypto.Signer) RelayOption { return func(r *EventRelay) { r.signer = s } }

// WithAudit appends every event to a.
func WithAudit(a domain.AuditStore) RelayOption { return func(r *EventRelay) { r.audit = a } }

// WithBus publishes every envelope on b.
func WithBus(b domain.SignalBus) RelayOption { return func(r *EventRelay) { r.bus = b } }

// WithNotifier forwards events to n.
func WithNotifier(n *notify.Notifier) RelayOption { return func(r *EventRelay) { r.notifier = n } }

// WithRelayMetrics records delivery counters on m.
func WithRelayMetrics(m RelayMetrics) RelayOption { return func(r *EventRelay) { r.metrics = m } }

// NewEventRelay creates a relay with a buffer of cfg.BufferSize events.
func NewEventRelay(cfg RelayConfig, logger *slog.Logger, opts ...RelayOption) *EventRelay {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	r := &EventRelay{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "event_relay")),
		queue:  make(chan domain.Event, cfg.BufferSize),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ domain.EventSink = (*EventRelay)(nil)

// Emit enqueues evt without blocking. A full buffer drops the event.
func (r *EventRelay) Emit(ctx context.Context, evt domain.Event) {
	select {
	case r.queue <- evt:
		r.depth()
	default:
		r.failed("dropped")
		r.logger.WarnContext(ctx, "event_relay: buffer full, event dropped",
			slog.Uint64("sequence", evt.Sequence),
			slog.String("kind", string(evt.Kind)),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left under a short deadline.
func (r *EventRelay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "event_relay: started", slog.Int("buffer", cap(r.queue)))
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case evt := <-r.queue:
			r.depth()
			r.deliver(ctx, evt)
		}
	}
}

func (r *EventRelay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-r.queue:
			r.deliver(ctx, evt)
		default:
			r.depth()
			r.logger.Info("event_relay: stopped")
			return
		}
	}
}

// deliver runs every stage for one event. A failing stage does not stop the
// others.
func (r *EventRelay) deliver(ctx context.Context, evt domain.Event) {
	env, err := r.Seal(evt)
	if err != nil {
		r.stageFailed(ctx, "sign", evt, err)
	}

	if r.audit != nil {
		detail := maps.Clone(env.Fields)
		if env.Signature != "" {
			detail["signature"] = env.Signature
			detail["signer"] = env.Signer
		}
		if err := r.audit.Log(ctx, env.Kind, detail); err != nil {
			r.stageFailed(ctx, "audit", evt, err)
		}
	}

	if r.bus != nil {
		payload, err := json.Marshal(env)
		if err != nil {
			r.stageFailed(ctx, "encode", evt, err)
		} else {
			if r.cfg.Channel != "" {
				if err := r.bus.Publish(ctx, r.cfg.Channel, payload); err != nil {
					r.stageFailed(ctx, "publish", evt, err)
				}
			}
			if r.cfg.Stream != "" {
				if err := r.bus.StreamAppend(ctx, r.cfg.Stream, payload); err != nil {
					r.stageFailed(ctx, "stream", evt, err)
				}
			}
		}
	}

	if r.notifier.Enabled() {
		if err := r.notifier.NotifyEvent(ctx, evt); err != nil {
			r.stageFailed(ctx, "notify", evt, err)
		}
	}

	if r.metrics != nil {
		r.metrics.EventRelayed(evt.Kind)
	}
}

// Seal builds the envelope for evt, signed when a signer is configured.
func (r *EventRelay) Seal(evt domain.Event) (Envelope, error) {
	env := Envelope{Sequence: evt.Sequence, Kind: string(evt.Kind), Fields: evt.Fields()}
	if r.signer == nil {
		return env, nil
	}
	sig, err := r.signer.SignReceipt(ReceiptOf(evt))
	if err != nil {
		return env, fmt.Errorf("event_relay: sign %d: %w", evt.Sequence, err)
	}
	env.Signer = r.signer.Address().Hex()
	env.Signature = sig
	return env, nil
}

// ReceiptOf projects evt onto the signed receipt fields.
func ReceiptOf(evt domain.Event) crypto.Receipt {
	rc := crypto.Receipt{
		Sequence:   evt.Sequence,
		Kind:       string(evt.Kind),
		Caller:     evt.Caller,
		Amount:     evt.Amount,
		OccurredAt: evt.OccurredAt.Unix(),
	}
	if evt.Item != nil {
		rc.ItemID = uint64(evt.Item.ItemID)
		rc.CollectionID = uint64(evt.Item.CollectionID)
	}
	if evt.Collection != nil {
		rc.CollectionID = uint64(evt.Collection.CollectionID)
	}
	return rc
}

func (r *EventRelay) stageFailed(ctx context.Context, stage string, evt domain.Event, err error) {
	r.failed(stage)
	r.logger.WarnContext(ctx, "event_relay: delivery stage failed",
		slog.String("stage", stage),
		slog.Uint64("sequence", evt.Sequence),
		slog.String("kind", string(evt.Kind)),
		slog.String("error", err.Error()),
	)
}

func (r *EventRelay) failed(stage string) {
	if r.metrics != nil {
		r.metrics.RelayFailed(stage)
	}
}

func (r *EventRelay) depth() {
	if r.metrics != nil {
		r.metrics.RelayQueueDepth(len(r.queue))
	}
}
