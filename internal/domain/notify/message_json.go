package notify

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Encode writes m as a JSON object.
func (m Message) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(string(m.Kind))
	if m.OrderID != "" {
		e.FieldStart("order_id")
		e.Str(m.OrderID)
	}
	if m.Status != "" {
		e.FieldStart("status")
		e.Str(m.Status)
	}
	e.FieldStart("text")
	e.Str(m.Text)
	e.FieldStart("sent_at")
	e.Str(m.SentAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	m.Encode(&e)
	return e.Bytes(), nil
}

// Decode reads a Message from d. A bare string is accepted as a plain text
// message.
func (m *Message) Decode(d *jx.Decoder) error {
	if d.Next() == jx.String {
		text, err := d.Str()
		if err != nil {
			return err
		}
		*m = Message{Kind: KindMessage, Text: text}
		return nil
	}
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "kind":
			v, err := d.Str()
			m.Kind = Kind(v)
			return err
		case "order_id":
			v, err := d.Str()
			m.OrderID = v
			return err
		case "status":
			v, err := d.Str()
			m.Status = v
			return err
		case "text":
			v, err := d.Str()
			m.Text = v
			return err
		case "sent_at":
			v, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return errors.Wrap(err, "sent_at")
			}
			m.SentAt = t
			return nil
		default:
			return d.Skip()
		}
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	return m.Decode(jx.DecodeBytes(data))
}

// Envelope is the body of a publish request: a message addressed to a
// branch.
type Envelope struct {
	BranchID int64
	Message  Message
}

// Encode writes the envelope as {"branch_id", "message"}.
func (env Envelope) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("branch_id")
	e.Int64(env.BranchID)
	e.FieldStart("message")
	env.Message.Encode(e)
	e.ObjEnd()
}

// ParseEnvelope decodes and validates a publish request body.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "branch_id":
			v, err := d.Int64()
			env.BranchID = v
			return err
		case "message":
			return env.Message.Decode(d)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.BranchID <= 0 {
		return Envelope{}, errors.New("branch_id is required")
	}
	if env.Message.Kind == "" {
		env.Message.Kind = KindMessage
	}
	return env, nil
}
