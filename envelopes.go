package nostr

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigFastest

var (
	UnknownLabel        = errors.New("unknown envelope label")
	InvalidJsonEnvelope = errors.New("invalid json envelope")
)

// ParseMessage parses a relay->client message. Client->relay labels (REQ, CLOSE) are
// reported as UnknownLabel since a relay should never send them.
func ParseMessage(message string) (Envelope, error) {
	firstQuote := strings.IndexByte(message, '"')
	if firstQuote == -1 {
		return nil, InvalidJsonEnvelope
	}
	secondQuote := strings.IndexByte(message[firstQuote+1:], '"')
	if secondQuote == -1 {
		return nil, InvalidJsonEnvelope
	}
	label := message[firstQuote+1 : firstQuote+1+secondQuote]

	var v Envelope
	switch label {
	case "EVENT":
		v = &EventEnvelope{}
	case "NOTICE":
		x := NoticeEnvelope("")
		v = &x
	case "EOSE":
		x := EOSEEnvelope("")
		v = &x
	case "OK":
		v = &OKEnvelope{}
	case "CLOSED":
		v = &ClosedEnvelope{}
	case "AUTH":
		v = &AuthEnvelope{}
	default:
		return nil, UnknownLabel
	}

	if err := v.FromJSON(message); err != nil {
		return nil, err
	}

	return v, nil
}

// Envelope is the interface for all nostr message envelopes.
type Envelope interface {
	Label() string
	FromJSON(string) error
	MarshalJSON() ([]byte, error)
}

var (
	_ Envelope = (*EventEnvelope)(nil)
	_ Envelope = (*ReqEnvelope)(nil)
	_ Envelope = (*CloseEnvelope)(nil)
	_ Envelope = (*NoticeEnvelope)(nil)
	_ Envelope = (*EOSEEnvelope)(nil)
	_ Envelope = (*OKEnvelope)(nil)
	_ Envelope = (*ClosedEnvelope)(nil)
	_ Envelope = (*AuthEnvelope)(nil)
)

func envelopeArray(data string, label string, min int) ([]gjson.Result, error) {
	if !gjson.Valid(data) {
		return nil, InvalidJsonEnvelope
	}
	arr := gjson.Parse(data).Array()
	if len(arr) < min {
		return nil, fmt.Errorf("failed to decode %s envelope: expected at least %d items, got %d", label, min, len(arr))
	}
	return arr, nil
}

// EventEnvelope represents an EVENT message.
type EventEnvelope struct {
	SubscriptionID *string
	Event
}

func (EventEnvelope) Label() string { return "EVENT" }

func (v *EventEnvelope) FromJSON(data string) error {
	arr, err := envelopeArray(data, "EVENT", 2)
	if err != nil {
		return err
	}
	switch len(arr) {
	case 2:
		return v.Event.UnmarshalJSON([]byte(arr[1].Raw))
	case 3:
		subid := arr[1].String()
		v.SubscriptionID = &subid
		return v.Event.UnmarshalJSON([]byte(arr[2].Raw))
	default:
		return fmt.Errorf("failed to decode EVENT envelope")
	}
}

func (v EventEnvelope) MarshalJSON() ([]byte, error) {
	if v.SubscriptionID != nil {
		return json.Marshal([]any{"EVENT", *v.SubscriptionID, v.Event})
	}
	return json.Marshal([]any{"EVENT", v.Event})
}

// ReqEnvelope represents a REQ message.
type ReqEnvelope struct {
	SubscriptionID string
	Filters        []Filter
}

func (ReqEnvelope) Label() string { return "REQ" }

func (v *ReqEnvelope) FromJSON(string) error { return UnknownLabel }

func (v ReqEnvelope) MarshalJSON() ([]byte, error) {
	data := make([]any, 2+len(v.Filters))
	data[0] = "REQ"
	data[1] = v.SubscriptionID
	for i, f := range v.Filters {
		data[2+i] = f
	}
	return json.Marshal(data)
}

// CloseEnvelope represents a CLOSE message.
type CloseEnvelope string

func (CloseEnvelope) Label() string { return "CLOSE" }

func (v *CloseEnvelope) FromJSON(string) error { return UnknownLabel }

func (v CloseEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{"CLOSE", string(v)})
}

// NoticeEnvelope represents a NOTICE message.
type NoticeEnvelope string

func (NoticeEnvelope) Label() string { return "NOTICE" }

func (v *NoticeEnvelope) FromJSON(data string) error {
	arr, err := envelopeArray(data, "NOTICE", 2)
	if err != nil {
		return err
	}
	*v = NoticeEnvelope(arr[1].String())
	return nil
}

func (v NoticeEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{"NOTICE", string(v)})
}

// EOSEEnvelope represents an EOSE (End of Stored Events) message.
type EOSEEnvelope string

func (EOSEEnvelope) Label() string { return "EOSE" }

func (v *EOSEEnvelope) FromJSON(data string) error {
	arr, err := envelopeArray(data, "EOSE", 2)
	if err != nil {
		return err
	}
	*v = EOSEEnvelope(arr[1].String())
	return nil
}

func (v EOSEEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{"EOSE", string(v)})
}

// OKEnvelope represents an OK message.
type OKEnvelope struct {
	EventID ID
	OK      bool
	Reason  string
}

func (OKEnvelope) Label() string { return "OK" }

func (v *OKEnvelope) FromJSON(data string) error {
	arr, err := envelopeArray(data, "OK", 3)
	if err != nil {
		return err
	}
	id, err := IDFromHex(arr[1].String())
	if err != nil {
		return fmt.Errorf("failed to decode OK envelope: %w", err)
	}
	v.EventID = id
	v.OK = arr[2].Bool()
	if len(arr) > 3 {
		v.Reason = arr[3].String()
	}
	return nil
}

func (v OKEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{"OK", v.EventID.Hex(), v.OK, v.Reason})
}

// ClosedEnvelope represents a CLOSED message.
type ClosedEnvelope struct {
	SubscriptionID string
	Reason         string
}

func (ClosedEnvelope) Label() string { return "CLOSED" }

func (v *ClosedEnvelope) FromJSON(data string) error {
	arr, err := envelopeArray(data, "CLOSED", 3)
	if err != nil {
		return err
	}
	v.SubscriptionID = arr[1].String()
	v.Reason = arr[2].String()
	return nil
}

func (v ClosedEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{"CLOSED", v.SubscriptionID, v.Reason})
}

// AuthEnvelope is a NIP-42 challenge when it comes from a relay, or the signed answer
// when Event is set.
type AuthEnvelope struct {
	Challenge string
	Event     *Event
}

func (AuthEnvelope) Label() string { return "AUTH" }

func (v *AuthEnvelope) FromJSON(data string) error {
	arr, err := envelopeArray(data, "AUTH", 2)
	if err != nil {
		return err
	}
	v.Challenge = arr[1].String()
	return nil
}

func (v AuthEnvelope) MarshalJSON() ([]byte, error) {
	if v.Event != nil {
		return json.Marshal([]any{"AUTH", v.Event})
	}
	return json.Marshal([]any{"AUTH", v.Challenge})
}
