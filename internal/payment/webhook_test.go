package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name string
		body string
		want order.PaymentEvent
	}{
		{
			name: "payment captured",
			body: `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"prov_1","amount":1000}}}}`,
			want: order.PaymentEvent{ID: "evt", Type: order.PaymentCaptured, ProviderOrderID: "prov_1", PaymentID: "pay_1"},
		},
		{
			name: "order paid falls back to order entity",
			body: `{"event":"order.paid","payload":{"order":{"entity":{"id":"prov_2","status":"paid"}},"payment":{"entity":{"id":"pay_2","order_id":null}}}}`,
			want: order.PaymentEvent{ID: "evt", Type: order.PaymentCaptured, ProviderOrderID: "prov_2", PaymentID: "pay_2"},
		},
		{
			name: "payment failed",
			body: `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_3","order_id":"prov_3"}}}}`,
			want: order.PaymentEvent{ID: "evt", Type: order.PaymentEventFailed, ProviderOrderID: "prov_3", PaymentID: "pay_3"},
		},
		{
			name: "unhandled event passes through",
			body: `{"event":"refund.created","payload":{}}`,
			want: order.PaymentEvent{ID: "evt", Type: order.PaymentEventType("refund.created")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWebhook("evt", []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWebhook_Malformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":         `{"event":`,
		"missing event":    `{"payload":{}}`,
		"missing order id": `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWebhook("evt", []byte(body))
			assert.ErrorIs(t, err, ErrMalformedWebhook)
		})
	}
}
