package payment

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ErrMalformedEvent is returned for payloads that cannot be decoded into an
// Event. Such messages are never retried.
var ErrMalformedEvent = errors.New("malformed payment event")

// Encode writes e as a JSON object.
func (e Event) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("event_id")
	enc.Str(e.ID)
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("order_id")
	enc.Str(e.OrderID)
	enc.FieldStart("branch_id")
	enc.Int64(e.BranchID)
	enc.FieldStart("amount")
	enc.Str(e.Amount.StringFixed(2))
	if e.TransactionID != "" {
		enc.FieldStart("transaction_id")
		enc.Str(e.TransactionID)
	}
	enc.FieldStart("occurred_at")
	enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	enc.ObjEnd()
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	var enc jx.Encoder
	e.Encode(&enc)
	return enc.Bytes(), nil
}

// Decode reads an Event from d.
func (e *Event) Decode(d *jx.Decoder) error {
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "event_id":
			v, err := d.Str()
			e.ID = v
			return err
		case "type":
			v, err := d.Str()
			e.Type = EventType(v)
			return err
		case "order_id":
			v, err := d.Str()
			e.OrderID = v
			return err
		case "branch_id":
			v, err := d.Int64()
			e.BranchID = v
			return err
		case "amount":
			v, err := decodeDecimal(d)
			e.Amount = v
			return err
		case "transaction_id":
			v, err := d.Str()
			e.TransactionID = v
			return err
		case "occurred_at":
			v, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return errors.Wrap(err, "occurred_at")
			}
			e.OccurredAt = t
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return errors.Wrap(err, "decode payment event")
	}
	return nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.New("amount must be a string or number")
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	return e.Decode(jx.DecodeBytes(data))
}

// ParseEvent decodes and validates a payload from the payment stream.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	if err := e.UnmarshalJSON(data); err != nil {
		return Event{}, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if e.Type == "" || e.OrderID == "" {
		return Event{}, errors.Wrap(ErrMalformedEvent, "type and order_id are required")
	}
	return e, nil
}
