package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrInvalidStatus is returned for unknown status values.
var ErrInvalidStatus = errors.New("invalid order status")

// StatusUpdate is an admin change request. Empty fields are left unchanged.
type StatusUpdate struct {
	Status        Status
	PaymentStatus PaymentStatus
}

// Cancel cancels a processing order and puts back any stock it took.
// Customers may only cancel their own orders.
func (s *Service) Cancel(ctx context.Context, actor Actor, orderID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Lock(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && cur.UserID != actor.ID {
			return ErrNotFound
		}
		if err := s.cancelLocked(ctx, tx, cur); err != nil {
			return err
		}
		o = cur
		return tx.Update(ctx, cur)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.recordCancellation(ctx, o)
	s.publish(ctx, actor, o, EventCancelled)
	return o, nil
}

// cancelLocked applies a cancellation to a locked order. The caller persists o.
func (s *Service) cancelLocked(ctx context.Context, tx Tx, o *Order) error {
	if o.Status != StatusProcessing {
		return &InvalidTransitionError{From: string(o.Status), To: string(StatusCancelled)}
	}
	if err := s.restoreStock(ctx, tx, o); err != nil {
		return err
	}
	now := s.now().UTC()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	return nil
}

func (s *Service) recordCancellation(ctx context.Context, o *Order) {
	s.metrics.cancelled.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.Bool("stock_restored", o.StockDeducted),
	)
}

// UpdateStatus applies an admin change. The payment change is applied first
// so that marking an order paid and shipped in one request works. Moving
// payment to paid deducts stock; moving the order to cancelled behaves like
// Cancel.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, orderID string, in StatusUpdate) (*Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("status", string(in.Status)),
			attribute.String("payment_status", string(in.PaymentStatus)),
		))
	defer span.End()

	var (
		o      *Order
		events []EventType
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		events = events[:0]
		cur, err := tx.Lock(ctx, orderID)
		if err != nil {
			return err
		}
		o = cur

		if in.PaymentStatus != "" && in.PaymentStatus != cur.PaymentStatus {
			ev, err := s.applyPaymentStatus(ctx, tx, cur, in.PaymentStatus)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		if in.Status != "" && in.Status != cur.Status {
			ev, err := s.applyStatus(ctx, tx, cur, in.Status)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		if len(events) == 0 {
			return nil
		}
		return tx.Update(ctx, cur)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, ev := range events {
		switch ev {
		case EventPaid:
			s.recordSettlement(ctx, o)
		case EventCancelled:
			s.recordCancellation(ctx, o)
		}
	}
	s.publish(ctx, actor, o, events...)
	return o, nil
}

func (in StatusUpdate) validate() error {
	switch in.Status {
	case "", StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
	default:
		return errors.Wrapf(ErrInvalidStatus, "%q", in.Status)
	}
	switch in.PaymentStatus {
	case "", PaymentPending, PaymentPaid, PaymentFailed:
	default:
		return errors.Wrapf(ErrInvalidStatus, "payment %q", in.PaymentStatus)
	}
	if in.Status == "" && in.PaymentStatus == "" {
		return errors.Wrap(ErrInvalidStatus, "nothing to update")
	}
	return nil
}

func (s *Service) applyPaymentStatus(ctx context.Context, tx Tx, o *Order, to PaymentStatus) (EventType, error) {
	switch to {
	case PaymentPaid:
		if _, err := s.settle(ctx, tx, o, ""); err != nil {
			return "", err
		}
		return EventPaid, nil
	case PaymentFailed:
		if o.PaymentStatus != PaymentPending {
			break
		}
		o.PaymentStatus = PaymentFailed
		o.UpdatedAt = s.now().UTC()
		return EventPaymentFailed, nil
	}
	return "", &InvalidTransitionError{From: "payment " + string(o.PaymentStatus), To: string(to)}
}

func (s *Service) applyStatus(ctx context.Context, tx Tx, o *Order, to Status) (EventType, error) {
	invalid := &InvalidTransitionError{From: string(o.Status), To: string(to)}
	switch to {
	case StatusCancelled:
		if err := s.cancelLocked(ctx, tx, o); err != nil {
			return "", err
		}
		return EventCancelled, nil
	case StatusShipped:
		if o.Status != StatusProcessing {
			return "", invalid
		}
		if o.PaymentMethod == PaymentOnline && o.PaymentStatus != PaymentPaid {
			return "", ErrUnpaid
		}
		o.Status = StatusShipped
		o.UpdatedAt = s.now().UTC()
		return EventShipped, nil
	case StatusDelivered:
		if o.Status != StatusShipped {
			return "", invalid
		}
		o.Status = StatusDelivered
		o.UpdatedAt = s.now().UTC()
		return EventDelivered, nil
	}
	return "", invalid
}
