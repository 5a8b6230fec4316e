package models

import (
	"encoding/json"
	"time"
)

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
	SignalTypeICE       SignalType = "ice-candidate"
)

// Signal is one directional handshake message inside a call room.
// Data is the opaque SDP/ICE structure and is never interpreted.
type Signal struct {
	RoomID    string          `json:"roomId"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      SignalType      `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Cursor    string          `json:"cursor,omitempty"`
}

// SignalFrame is what a recipient's stream carries; To is implied by the stream.
type SignalFrame struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

// Frame strips the recipient and routing fields.
func (s Signal) Frame() SignalFrame {
	return SignalFrame{From: s.From, Data: s.Data}
}

// SendSignalRequest is the write path body; Signal must carry a "type" field.
type SendSignalRequest struct {
	RoomID string          `json:"roomId" validate:"required"`
	From   string          `json:"from" validate:"required"`
	To     string          `json:"to" validate:"required,nefield=From"`
	Signal json.RawMessage `json:"signal" validate:"required"`
}

// InboundSignal is a signal received over the WebSocket transport.
// The sender and room are implied by the connection.
type InboundSignal struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}
