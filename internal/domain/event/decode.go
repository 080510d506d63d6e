package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DecodeError marks a payload as structurally unusable. No redelivery can fix
// it, so callers must route the message straight to the dead-letter path
// instead of retrying.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode event: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode event: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses a raw broker payload into an AccountEvent.
// A missing correlation id is defaulted to a fresh UUID so the event can still
// be traced end-to-end. A missing entity id or an unknown event type fails
// with *DecodeError.
func Decode(raw []byte) (*AccountEvent, error) {
	var ev AccountEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if ev.EntityID == "" {
		return nil, &DecodeError{Reason: "missing entityId"}
	}
	if ev.EventType == "" {
		return nil, &DecodeError{Reason: "missing eventType"}
	}
	if !ev.EventType.Known() {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown eventType %q", ev.EventType)}
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = uuid.New().String()
	}
	return &ev, nil
}

// Encode serializes an AccountEvent back to its wire form.
func Encode(ev *AccountEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}
