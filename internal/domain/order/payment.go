package order

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/activity"
	"github.com/xenking/storefront/internal/domain/product"
)

// VerifyInput is the client-side payment confirmation.
type VerifyInput struct {
	OrderID         string
	ProviderOrderID string
	PaymentID       string
	Signature       string
}

// PaymentEventType is the normalized kind of a provider webhook event.
type PaymentEventType string

const (
	PaymentCaptured    PaymentEventType = "captured"
	PaymentEventFailed PaymentEventType = "failed"
)

// PaymentEvent is a verified provider webhook event.
type PaymentEvent struct {
	ID              string
	Type            PaymentEventType
	ProviderOrderID string
	PaymentID       string
}

// VerifyPayment settles an order from the client callback after checking
// the provider signature. Settling an order that is already paid is a no-op.
func (s *Service) VerifyPayment(ctx context.Context, userID string, in VerifyInput) (*Order, error) {
	if !s.signatures.VerifyCallback(in.ProviderOrderID, in.PaymentID, in.Signature) {
		return nil, ErrInvalidSignature
	}

	ctx, span := s.tracer.Start(ctx, "order.VerifyPayment",
		trace.WithAttributes(attribute.String("order.id", in.OrderID)))
	defer span.End()

	var (
		o       *Order
		changed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Lock(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if cur.UserID != userID {
			return ErrNotFound
		}
		if !cur.HasPaymentRef(in.ProviderOrderID) {
			return ErrPaymentMismatch
		}
		o = cur
		if changed, err = s.settle(ctx, tx, cur, in.PaymentID); err != nil {
			return err
		}
		if changed {
			return tx.Update(ctx, cur)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.reportUnfulfillable(ctx, Actor{ID: userID, Kind: activity.ActorUser}, o, in.PaymentID, err)
		return nil, err
	}
	if changed {
		s.recordSettlement(ctx, o)
		s.publish(ctx, Actor{ID: userID, Kind: activity.ActorUser}, o, EventPaid)
	}
	return o, nil
}

// ApplyPaymentEvent reconciles an order with a signature-checked webhook
// event. Events already processed are skipped; the payment status guard
// keeps replays that slip past the replay guard harmless.
func (s *Service) ApplyPaymentEvent(ctx context.Context, ev PaymentEvent) error {
	lg := zctx.From(ctx).With(
		zap.String("event_id", ev.ID),
		zap.String("provider_order_id", ev.ProviderOrderID),
	)

	if ev.ID != "" {
		seen, err := s.replays.Seen(ctx, ev.ID)
		if err != nil {
			lg.Warn("Check webhook replay", zap.Error(err))
		} else if seen {
			lg.Debug("Skip replayed webhook event")
			return nil
		}
	}

	ctx, span := s.tracer.Start(ctx, "order.ApplyPaymentEvent",
		trace.WithAttributes(attribute.String("payment.event", string(ev.Type))))
	defer span.End()

	var (
		o      *Order
		events []EventType
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		events = events[:0]
		switch ev.Type {
		case PaymentCaptured, PaymentEventFailed:
		default:
			return nil
		}

		cur, err := tx.LockByPaymentRef(ctx, ev.ProviderOrderID)
		if err != nil {
			return err
		}
		o = cur

		if ev.Type == PaymentEventFailed {
			// A failure of a replaced provider order says nothing about the current one.
			if cur.PaymentStatus != PaymentPending || cur.PaymentRef != ev.ProviderOrderID {
				return nil
			}
			cur.PaymentStatus = PaymentFailed
			cur.UpdatedAt = s.now().UTC()
			events = append(events, EventPaymentFailed)
			return tx.Update(ctx, cur)
		}

		changed, err := s.settle(ctx, tx, cur, ev.PaymentID)
		if err != nil || !changed {
			return err
		}
		events = append(events, EventPaid)
		return tx.Update(ctx, cur)
	})
	if err != nil {
		span.RecordError(err)
		s.reportUnfulfillable(ctx, SystemActor, o, ev.PaymentID, err)
		return err
	}

	if ev.ID != "" {
		if err := s.replays.Mark(ctx, ev.ID); err != nil {
			lg.Warn("Mark webhook event", zap.Error(err))
		}
	}
	if o != nil && slices.Contains(events, EventPaid) {
		s.recordSettlement(ctx, o)
	}
	if o != nil {
		s.publish(ctx, SystemActor, o, events...)
	}
	return nil
}

// settle marks o paid and deducts its stock if that has not happened yet.
// It reports whether o changed. The caller persists o.
func (s *Service) settle(ctx context.Context, tx Tx, o *Order, paymentID string) (bool, error) {
	if o.PaymentStatus == PaymentPaid {
		return false, nil
	}
	if o.Status == StatusCancelled {
		return false, ErrOrderCancelled
	}

	if err := s.deductStock(ctx, tx, o); err != nil {
		return false, err
	}

	now := s.now().UTC()
	o.PaymentStatus = PaymentPaid
	if paymentID != "" {
		o.PaymentID = paymentID
	}
	o.PaidAt = &now
	o.UpdatedAt = now
	return true, nil
}

// reportUnfulfillable leaves an audit entry when a captured payment could not
// be settled for lack of stock. The payment stays pending and the money stays
// captured until an admin restocks, refunds or cancels.
func (s *Service) reportUnfulfillable(ctx context.Context, actor Actor, o *Order, paymentID string, err error) {
	var stockErr *product.InsufficientStockError
	if o == nil || !errors.As(err, &stockErr) {
		return
	}
	zctx.From(ctx).Warn("Captured payment cannot be fulfilled",
		zap.String("order_id", o.ID),
		zap.String("payment_id", paymentID),
		zap.String("product_id", stockErr.ProductID),
		zap.Error(err),
	)
	s.activity.Record(ctx, activity.Entry{
		ActorID:   actor.ID,
		ActorKind: actor.Kind,
		Action:    "order." + string(EventPaymentUnfulfillable),
		Subject:   o.ID,
		Details: map[string]any{
			"payment_ref": o.PaymentRef,
			"payment_id":  paymentID,
			"product_id":  stockErr.ProductID,
			"requested":   stockErr.Requested,
			"available":   stockErr.Available,
			"total":       o.Total.StringFixed(2),
		},
		CreatedAt: s.now().UTC(),
	})
}

// recordSettlement updates payment metrics once a settlement has committed.
func (s *Service) recordSettlement(ctx context.Context, o *Order) {
	units := 0
	for _, q := range o.Quantities() {
		units += q
	}
	s.metrics.settled.Add(ctx, 1,
		metric.WithAttributes(attribute.String("payment_method", string(o.PaymentMethod))))
	s.metrics.deducted.Add(ctx, int64(units))
}

// IsIgnorable reports whether a webhook processing error should be
// acknowledged to the provider instead of retried.
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrOrderCancelled)
}
