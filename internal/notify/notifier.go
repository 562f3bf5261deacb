// Package notify delivers selected ledger events to operator channels
// (Telegram, Discord, signed webhooks). Events are filtered by kind so
// operators receive only the facts they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Message is one rendered notification.
type Message struct {
	Event string
	Title string
	Body  string
	// Fields is the event's wire form, for machine receivers.
	Fields map[string]any
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier fans events out to every sender. Only kinds in the allowed set
// are forwarded; an empty set allows every kind.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier over senders filtered to events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Wants reports whether events of kind pass the filter.
func (n *Notifier) Wants(kind domain.EventKind) bool {
	return len(n.events) == 0 || n.events[string(kind)]
}

// NotifyEvent renders evt and sends it if its kind passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	if !n.Wants(evt.Kind) {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", string(evt.Kind)))
		return nil
	}
	return n.dispatch(ctx, Render(evt))
}

// dispatch sends msg to every sender. A failing sender does not stop the
// rest; the failures come back joined.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	return errors.Join(errs...)
}

// Render turns an event into a human-readable message.
func Render(evt domain.Event) Message {
	msg := Message{Event: string(evt.Kind), Fields: evt.Fields()}
	switch evt.Kind {
	case domain.EventItemSold:
		msg.Title = fmt.Sprintf("Item #%d sold", itemID(evt))
		msg.Body = fmt.Sprintf("buyer %s paid %s wei", evt.Caller.Hex(), evt.Amount.Dec())
	case domain.EventItemListed:
		msg.Title = fmt.Sprintf("Item #%d listed", itemID(evt))
		if evt.Item != nil {
			msg.Body = fmt.Sprintf("seller %s asks %s wei", evt.Item.Seller.Hex(), evt.Item.Price.Dec())
		}
	case domain.EventItemDelisted:
		msg.Title = fmt.Sprintf("Item #%d delisted", itemID(evt))
		msg.Body = "by " + evt.Caller.Hex()
	case domain.EventMarketItemCreated:
		msg.Title = fmt.Sprintf("Item #%d created", itemID(evt))
		msg.Body = "by " + evt.Caller.Hex()
	case domain.EventCollectionCreated:
		msg.Title = fmt.Sprintf("Collection #%d created", collectionID(evt))
		msg.Body = "owner " + evt.Caller.Hex()
	case domain.EventItemGrouped, domain.EventItemUngrouped:
		verb := "added to"
		if evt.Kind == domain.EventItemUngrouped {
			verb = "removed from"
		}
		msg.Title = fmt.Sprintf("Item #%d %s collection #%d", itemID(evt), verb, collectionID(evt))
		msg.Body = "by " + evt.Caller.Hex()
	default:
		msg.Title = string(evt.Kind)
	}
	return msg
}

func itemID(evt domain.Event) domain.ItemID {
	if evt.Item == nil {
		return 0
	}
	return evt.Item.ItemID
}

func collectionID(evt domain.Event) domain.CollectionID {
	if evt.Collection == nil {
		return 0
	}
	return evt.Collection.CollectionID
}
