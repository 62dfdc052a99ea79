package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/omise/omise-go"
)

// OmiseEventParser normalizes Omise event objects.
type OmiseEventParser struct{}

type omiseEvent struct {
	ID   string          `json:"id"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// refunds and disputes both point at their charge
type chargeRef struct {
	ID     string `json:"id"`
	Charge string `json:"charge"`
}

func (OmiseEventParser) Parse(payload []byte) (*domain.PaymentEvent, error) {
	var ev omiseEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("decode event: missing id")
	}

	out := &domain.PaymentEvent{ID: ev.ID, Checksum: domain.PayloadChecksum(payload)}
	switch ev.Key {
	case "charge.complete":
		var ch omise.Charge
		if err := json.Unmarshal(ev.Data, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		out.IntentID = ch.ID
		switch string(ch.Status) {
		case "successful":
			out.Type = domain.PaymentEventSucceeded
		case "failed", "expired":
			out.Type = domain.PaymentEventFailed
		default:
			return nil, fmt.Errorf("%w: charge %s is %s", ErrUnsupportedEvent, ch.ID, ch.Status)
		}
	case "refund.create":
		ref, err := decodeRef(ev.Data)
		if err != nil {
			return nil, err
		}
		out.Type, out.IntentID = domain.PaymentEventRefundSucceeded, ref.Charge
	case "dispute.create":
		ref, err := decodeRef(ev.Data)
		if err != nil {
			return nil, err
		}
		out.Type, out.IntentID = domain.PaymentEventDisputeOpened, ref.Charge
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Key)
	}

	if out.IntentID == "" {
		return nil, fmt.Errorf("decode event %s: missing charge reference", ev.ID)
	}
	return out, nil
}

func decodeRef(data json.RawMessage) (chargeRef, error) {
	var ref chargeRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return ref, fmt.Errorf("decode event data: %w", err)
	}
	return ref, nil
}

var _ EventParser = OmiseEventParser{}
