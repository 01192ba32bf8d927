package order

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/activity"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventPlaced        EventType = "placed"
	EventPaid          EventType = "paid"
	EventPaymentFailed EventType = "payment_failed"
	EventShipped       EventType = "shipped"
	EventDelivered     EventType = "delivered"
	EventCancelled     EventType = "cancelled"

	// EventPaymentUnfulfillable is audit only: a captured payment whose
	// stock was gone at settlement. Customers are not notified.
	EventPaymentUnfulfillable EventType = "payment_unfulfillable"
)

// Event is published after an order change has been committed.
type Event struct {
	Type  EventType
	Order Order
	At    time.Time
}

// Notifier delivers order events to customers, e.g. confirmation e-mails.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

// Actor identifies who triggered a change.
type Actor struct {
	ID   string
	Kind activity.ActorKind
}

// IsAdmin reports whether the actor may act on any order.
func (a Actor) IsAdmin() bool {
	return a.Kind == activity.ActorAdmin || a.Kind == activity.ActorSystem
}

// SystemActor is used for provider-initiated changes.
var SystemActor = Actor{ID: "payment-provider", Kind: activity.ActorSystem}

// publish fans committed events out to the notifier and the audit trail.
// Neither may fail the operation that produced them.
func (s *Service) publish(ctx context.Context, actor Actor, o *Order, types ...EventType) {
	if len(types) == 0 {
		return
	}
	now := s.now().UTC()
	snapshot := *o

	for _, t := range types {
		s.activity.Record(ctx, activity.Entry{
			ActorID:   actor.ID,
			ActorKind: actor.Kind,
			Action:    "order." + string(t),
			Subject:   o.ID,
			Details: map[string]any{
				"status":         string(o.Status),
				"payment_status": string(o.PaymentStatus),
				"total":          o.Total.StringFixed(2),
			},
			CreatedAt: now,
		})
	}

	lg := zctx.From(ctx)
	detached := context.WithoutCancel(ctx)
	s.async(func() {
		ctx, cancel := context.WithTimeout(detached, s.notifyTimeout)
		defer cancel()
		for _, t := range types {
			ev := Event{Type: t, Order: snapshot, At: now}
			if err := s.notifier.Notify(ctx, ev); err != nil {
				lg.Warn("Notify order event",
					zap.String("order_id", snapshot.ID),
					zap.String("event", string(t)),
					zap.Error(err),
				)
			}
		}
	})
}
