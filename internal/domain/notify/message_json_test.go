package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_JSON(t *testing.T) {
	msg := Message{
		Kind:    KindOrderPaid,
		OrderID: "order-1",
		Status:  "PAID",
		Text:    "Đơn hàng mới đã thanh toán",
		SentAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := msg.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"kind": "order_paid",
		"order_id": "order-1",
		"status": "PAID",
		"text": "Đơn hàng mới đã thanh toán",
		"sent_at": "2026-03-01T12:00:00Z"
	}`, string(data))

	var got Message
	require.NoError(t, got.UnmarshalJSON(data))
	assert.Equal(t, msg, got)
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Envelope
		wantErr bool
	}{
		{
			name: "object message",
			body: `{"branch_id": 3, "message": {"kind": "order_placed", "order_id": "o1", "text": "hi"}}`,
			want: Envelope{BranchID: 3, Message: Message{Kind: KindOrderPlaced, OrderID: "o1", Text: "hi"}},
		},
		{
			name: "plain text message",
			body: `{"branch_id": 4, "message": "New order"}`,
			want: Envelope{BranchID: 4, Message: Message{Kind: KindMessage, Text: "New order"}},
		},
		{
			name: "kind defaults",
			body: `{"branch_id": 4, "message": {"text": "x"}, "extra": true}`,
			want: Envelope{BranchID: 4, Message: Message{Kind: KindMessage, Text: "x"}},
		},
		{name: "missing branch", body: `{"message": "x"}`, wantErr: true},
		{name: "not json", body: `branch=3`, wantErr: true},
		{name: "bad sent_at", body: `{"branch_id": 1, "message": {"sent_at": "yesterday"}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnvelope([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
