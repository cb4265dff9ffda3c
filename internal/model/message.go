package model

import "time"

// Message represents a persisted, end-to-end encrypted chat message.
// Ciphertext is opaque to the server.
type Message struct {
	ID          int64     `json:"id" cbor:"id"`
	SenderID    string    `json:"sender_id" cbor:"sender_id"`
	RecipientID string    `json:"recipient_id" cbor:"recipient_id"`
	Ciphertext  []byte    `json:"ciphertext" cbor:"ciphertext"`
	Timestamp   time.Time `json:"timestamp" cbor:"timestamp"`
}

// Involves reports whether userID is the sender or the recipient of m.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// Between reports whether m was exchanged between a and b, in either direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// Envelope is an inbound message before it is persisted.
type Envelope struct {
	SenderID    string
	RecipientID string
	Ciphertext  []byte
}

// Frame types exchanged over the WebSocket session
const (
	FrameMessage = "message"
	FrameAck     = "ack"
	FrameError   = "error"
)

// InboundFrame is what a client sends: the sender is taken from the session.
type InboundFrame struct {
	RecipientID string `json:"recipient_id" cbor:"recipient_id"`
	Ciphertext  []byte `json:"ciphertext" cbor:"ciphertext"`
}

// OutboundFrame is what the server pushes to a client.
type OutboundFrame struct {
	Type        string    `json:"type" cbor:"type"`
	ID          int64     `json:"id,omitempty" cbor:"id,omitempty"`
	MessageID   int64     `json:"message_id,omitempty" cbor:"message_id,omitempty"`
	SenderID    string    `json:"sender_id,omitempty" cbor:"sender_id,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty" cbor:"recipient_id,omitempty"`
	Ciphertext  []byte    `json:"ciphertext,omitempty" cbor:"ciphertext,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero" cbor:"timestamp"`
	FanoutCount *int      `json:"fanout_count,omitempty" cbor:"fanout_count,omitempty"`
	Error       string    `json:"error,omitempty" cbor:"error,omitempty"`
}

// MessageFrame builds the pushed frame for a persisted message.
func MessageFrame(m Message) OutboundFrame {
	return OutboundFrame{
		Type:        FrameMessage,
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Ciphertext:  m.Ciphertext,
		Timestamp:   m.Timestamp,
	}
}

// AckFrame acknowledges a routed message back to its sender.
func AckFrame(messageID int64, fanoutCount int) OutboundFrame {
	return OutboundFrame{Type: FrameAck, MessageID: messageID, FanoutCount: &fanoutCount}
}

// ErrorFrame reports a failed inbound frame back to its sender.
func ErrorFrame(msg string) OutboundFrame {
	return OutboundFrame{Type: FrameError, Error: msg}
}
