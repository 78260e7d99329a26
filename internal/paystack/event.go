package paystack

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Event is the subset of a webhook payload the lifecycle acts on. The raw
// body is persisted alongside the transaction for audit.
type Event struct {
	Type      string
	Reference string
}

// ParseEvent extracts the event type and transaction reference from a webhook
// body. Unknown fields are skipped so payload additions by the gateway do not
// break delivery.
func ParseEvent(body []byte) (*Event, error) {
	var e Event
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "event")
			}
			e.Type = v
			return nil
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "reference" {
					return d.Skip()
				}
				v, err := d.Str()
				if err != nil {
					return errors.Wrap(err, "data.reference")
				}
				e.Reference = v
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode webhook payload")
	}

	if e.Type == "" {
		return nil, errors.New("webhook payload missing event type")
	}
	if e.Reference == "" {
		return nil, errors.New("webhook payload missing transaction reference")
	}
	return &e, nil
}
