package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event identifies a signaling envelope kind. Names come off the wire
// verbatim; the leading underscores are part of the protocol.
type Event string

const (
	// client -> server
	EventRegister     Event = "_register"
	EventConnectTo    Event = "__connectto"
	EventCall         Event = "__call"
	EventOffer        Event = "_offer"
	EventOfferAlt     Event = "__offer"
	EventAnswer       Event = "__answer"
	EventICECandidate Event = "__ice_candidate"
	EventICEAlt       Event = "_ice_candidate"
	EventCodeRate     Event = "__code_rate"
	EventPing         Event = "__ping"
	EventDisconnected Event = "__disconnected"

	// server -> client
	EventRegistered Event = "_registered"
	EventCreate     Event = "_create"
	EventPong       Event = "_pong"
	EventOffline    Event = "_offline"
)

// MessageData is the union of all per-event payload fields. SDP and ICE
// candidate contents are opaque strings and are never inspected.
type MessageData struct {
	// BaseMessageData, required on every session-scoped envelope
	SessionID   string `json:"sessionId,omitempty"`
	SessionType string `json:"sessionType,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`

	// registration / presence
	PeerID string `json:"peerId,omitempty"`
	State  string `json:"state,omitempty"`

	// ICE configuration. Legacy device firmware reads the lowercase key,
	// newer viewers read the camelCase one, so both carry the same blob.
	IceServersLegacy string `json:"iceservers,omitempty"`
	IceServers       string `json:"iceServers,omitempty"`

	// call options
	Audio       string `json:"audio,omitempty"`
	Video       string `json:"video,omitempty"`
	DataChannel string `json:"datachannel,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Source      string `json:"source,omitempty"`
	User        string `json:"user,omitempty"`
	Pwd         string `json:"pwd,omitempty"`

	// SDP exchange
	SDP  string `json:"sdp,omitempty"`
	Type string `json:"type,omitempty"`

	// ICE candidates (candidate is a JSON string)
	Candidate     string      `json:"candidate,omitempty"`
	SdpMid        string      `json:"sdpMid,omitempty"`
	SdpMLineIndex interface{} `json:"sdpMLineIndex,omitempty"`

	// bitrate control, bps
	Bitrate int `json:"bitrate,omitempty"`

	// keepalive
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Envelope is the canonical wire message: one JSON object per frame.
type Envelope struct {
	Event Event       `json:"event"`
	Data  MessageData `json:"data"`
}

// wireEnvelope tolerates the legacy "eventName" key some clients still send.
type wireEnvelope struct {
	Event     Event       `json:"event"`
	EventName Event       `json:"eventName"`
	Data      MessageData `json:"data"`
}

var ErrNoEvent = errors.New("envelope has no event name")

// Decode parses a raw frame and normalizes the legacy eventName key into
// the canonical event field.
func Decode(raw []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}

	event := w.Event
	if event == "" {
		event = w.EventName
	}
	if event == "" {
		return nil, ErrNoEvent
	}

	return &Envelope{Event: event, Data: w.Data}, nil
}

// Encode serializes an envelope for the wire. Always writes the canonical
// "event" key regardless of what the sender used.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// HasBaseData reports whether all BaseMessageData fields required on
// session-scoped envelopes are present.
func (e *Envelope) HasBaseData() bool {
	d := e.Data
	return d.SessionID != "" && d.MessageID != "" && d.SessionType != "" && d.From != "" && d.To != ""
}

// IsForwarding reports whether the event belongs to the family the router
// forwards peer-to-peer (and queues when the target is offline).
func (e Event) IsForwarding() bool {
	switch e {
	case EventCall, EventOffer, EventOfferAlt, EventAnswer,
		EventICECandidate, EventICEAlt, EventCodeRate:
		return true
	}
	return false
}

// CarriesICEServers reports whether the router injects the ICE server
// configuration when forwarding this event.
func (e Event) CarriesICEServers() bool {
	switch e {
	case EventCall, EventOffer, EventOfferAlt:
		return true
	}
	return false
}
