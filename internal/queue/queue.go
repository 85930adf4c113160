// Package queue carries pipeline stage messages. Two backends implement the
// same contract: an in-process delayed queue for single-binary deployments and
// tests, and a gocloud.dev pubsub topic/subscription pair (SQS in production).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType names the stage a message triggers. Values are stable wire
// strings.
type MessageType string

const (
	MessageProcessDocument MessageType = "PROCESS_DOCUMENT"
	MessageParseDocument   MessageType = "PARSE_DOCUMENT"
	MessageRefineDocument  MessageType = "REFINE_DOCUMENT"
)

// Message is the wire envelope for one stage trigger.
type Message struct {
	Type MessageType `json:"type"`
	Job  JobPayload  `json:"job"`
}

// JobPayload identifies the job a stage should act on. JobID is the
// recognition engine's job id, not the record's primary key.
type JobPayload struct {
	JobID string `json:"jobId"`
}

// Dispatcher publishes stage messages. A non-zero delay defers visibility;
// backends without native delay emulate it.
type Dispatcher interface {
	Send(ctx context.Context, m Message, delay time.Duration) error
}

// Handler consumes one message. A nil return acknowledges the message; an
// error makes it eligible for redelivery.
type Handler func(ctx context.Context, m Message) error

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire message and rejects envelopes with an unknown type.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode message: %w", err)
	}
	switch m.Type {
	case MessageProcessDocument, MessageParseDocument, MessageRefineDocument:
		return m, nil
	}
	return m, fmt.Errorf("decode message: unknown type %q", m.Type)
}
