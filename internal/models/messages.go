package models

import "encoding/json"

// WSMessage is the envelope for all WebSocket communication.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LoadTracesRequest is sent by the client to replay one or more trace files.
type LoadTracesRequest struct {
	Files  []string `json:"files"`
	Serial bool     `json:"serial,omitempty"`
	Match  string   `json:"match,omitempty"`
}

// SequenceStats reports counters of a finished replay.
type SequenceStats struct {
	PacketCount   int `json:"packetCount"`
	DecodeErrors  int `json:"decodeErrors"`
	SkippedFrames int `json:"skippedFrames"`
	OrphanReplies int `json:"orphanReplies"`
	Retransmits   int `json:"retransmits"`
	PendingCalls  int `json:"pendingCalls"`
}

// ErrorPayload describes an error sent to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}
