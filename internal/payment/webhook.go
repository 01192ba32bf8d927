package payment

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

// Provider event names.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
)

// ErrMalformedWebhook is returned when a webhook body cannot be decoded.
var ErrMalformedWebhook = errors.New("malformed webhook payload")

// ParseWebhook decodes a provider webhook body. Event names the store does
// not act on are returned with their raw name as the type.
func ParseWebhook(eventID string, body []byte) (order.PaymentEvent, error) {
	var (
		name       string
		paymentID  string
		payOrderID string
		orderID    string
	)

	entity := func(kind string) func(d *jx.Decoder, key string) error {
		return func(d *jx.Decoder, key string) error {
			if key != "entity" {
				return d.Skip()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				var dst *string
				switch {
				case kind == "payment" && key == "id":
					dst = &paymentID
				case kind == "payment" && key == "order_id":
					dst = &payOrderID
				case kind == "order" && key == "id":
					dst = &orderID
				default:
					return d.Skip()
				}
				if d.Next() == jx.Null {
					return d.Null()
				}
				v, err := d.Str()
				*dst = v
				return err
			})
		}
	}

	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			name = v
			return err
		case "payload":
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "payment", "order":
					return d.Obj(entity(key))
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return order.PaymentEvent{}, errors.Wrap(ErrMalformedWebhook, err.Error())
	}
	if name == "" {
		return order.PaymentEvent{}, errors.Wrap(ErrMalformedWebhook, "event name is missing")
	}

	ev := order.PaymentEvent{
		ID:              eventID,
		PaymentID:       paymentID,
		ProviderOrderID: payOrderID,
	}
	if ev.ProviderOrderID == "" {
		ev.ProviderOrderID = orderID
	}

	switch name {
	case EventPaymentCaptured, EventOrderPaid:
		ev.Type = order.PaymentCaptured
	case EventPaymentFailed:
		ev.Type = order.PaymentEventFailed
	default:
		ev.Type = order.PaymentEventType(name)
		return ev, nil
	}
	if ev.ProviderOrderID == "" {
		return order.PaymentEvent{}, errors.Wrap(ErrMalformedWebhook, "provider order id is missing")
	}
	return ev, nil
}
