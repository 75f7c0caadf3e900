package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMalformed marks a message that cannot be decoded or fails validation.
	// Such messages are dead-lettered on first delivery.
	ErrMalformed = errors.New("malformed message")

	// ErrUnavailable is returned when the broker cannot accept a publish.
	ErrUnavailable = errors.New("broker unavailable")
)

// envelope is the JSON wire format shared by every backend.
type envelope struct {
	ID            string          `json:"id" validate:"required"`
	CorrelationID string          `json:"correlationId" validate:"required"`
	ReplyTo       string          `json:"replyTo,omitempty"`
	Type          Kind            `json:"type" validate:"required"`
	SentAt        time.Time       `json:"sentAt"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
}

// Outbound is a message about to be published.
type Outbound struct {
	CorrelationID string
	ReplyTo       string
	Payload       Payload
}

// Message is a decoded inbound message.
type Message struct {
	ID            string
	CorrelationID string
	ReplyTo       string
	SentAt        time.Time
	Payload       Payload
	// Attempt counts deliveries of this message, starting at 1.
	Attempt int
	Queue   string
}

type decoder func(json.RawMessage) (Payload, error)

var decoders = map[Kind]decoder{
	KindCreditRequest:     decodeAs[CreditRequest],
	KindDebitRequest:      decodeAs[DebitRequest],
	KindTransferRequest:   decodeAs[TransferRequest],
	KindCreditInstruction: decodeAs[CreditInstruction],
	KindDebitInstruction:  decodeAs[DebitInstruction],
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode serialises an outbound message and returns the body together with the
// generated message id.
func Encode(out Outbound, now time.Time) ([]byte, string, error) {
	if out.Payload == nil {
		return nil, "", fmt.Errorf("%w: nil payload", ErrMalformed)
	}
	if out.CorrelationID == "" {
		return nil, "", fmt.Errorf("%w: missing correlation id", ErrMalformed)
	}
	if err := out.Payload.validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw, err := json.Marshal(out.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode payload: %w", err)
	}
	env := envelope{
		ID:            uuid.NewString(),
		CorrelationID: out.CorrelationID,
		ReplyTo:       out.ReplyTo,
		Type:          out.Payload.Kind(),
		SentAt:        now.UTC(),
		Payload:       raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("encode envelope: %w", err)
	}
	return body, env.ID, nil
}

// Decode parses a wire body into a Message. Every failure wraps ErrMalformed.
func Decode(body []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	dec, ok := decoders[env.Type]
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	payload, err := dec(env.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if err := payload.validate(); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Message{
		ID:            env.ID,
		CorrelationID: env.CorrelationID,
		ReplyTo:       env.ReplyTo,
		SentAt:        env.SentAt,
		Payload:       payload,
	}, nil
}
