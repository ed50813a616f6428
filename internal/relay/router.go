package relay

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/camlive/signaling-relay/internal/models"
)

// Handle dispatches one inbound envelope. senderID is the transport-known
// identity of the sending connection ("" until the peer has registered);
// the return value is the possibly newly learned identity, which adapters
// keep on the connection for stamping and close cleanup.
//
// Per-message faults (missing fields, unknown events) drop the envelope
// with a log line and leave the connection alone.
func (r *Relay) Handle(senderID string, h PeerHandle, env *models.Envelope) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch env.Event {
	case models.EventRegister:
		return r.handleRegister(senderID, h, env)

	case models.EventConnectTo:
		return r.handleConnectTo(senderID, h, env)

	case models.EventPing:
		h.Deliver(&models.Envelope{
			Event: models.EventPong,
			Data:  models.MessageData{Timestamp: time.Now().UnixMilli()},
		})
		return senderID

	case models.EventDisconnected:
		peerID := env.Data.From
		if peerID == "" {
			peerID = senderID
		}
		if _, ok := r.peers[peerID]; ok {
			r.cleanup(peerID)
		}
		return senderID

	default:
		if env.Event.IsForwarding() {
			r.handleForward(senderID, env)
			return senderID
		}
		log.Printf("Unknown event %q from %q, ignoring", env.Event, senderID)
		return senderID
	}
}

func (r *Relay) handleRegister(senderID string, h PeerHandle, env *models.Envelope) string {
	peerID := env.Data.PeerID
	if peerID == "" {
		log.Printf("Dropping _register without peerId")
		return senderID
	}

	log.Printf("Peer %s registered", peerID)

	// Ack before the pending drain so the client sees its own registration
	// confirmed ahead of any deferred traffic.
	r.peers[peerID] = h
	h.Deliver(&models.Envelope{
		Event: models.EventRegistered,
		Data:  models.MessageData{PeerID: peerID, MessageID: newMessageID()},
	})
	r.register(peerID, h)
	return peerID
}

func (r *Relay) handleConnectTo(senderID string, h PeerHandle, env *models.Envelope) string {
	if env.Data.From == "" {
		env.Data.From = senderID
	}
	if !env.HasBaseData() {
		log.Printf("Dropping __connectto with incomplete base data (from=%q to=%q)",
			env.Data.From, env.Data.To)
		return senderID
	}

	caller := env.Data.From
	r.bind(caller, h)

	log.Printf("Viewer %s connecting to device %s", caller, env.Data.To)

	// The relay answers for the target: `_create` hands the caller the ICE
	// configuration with from/to swapped so the caller can build its peer
	// connection before the device ever responds.
	h.Deliver(&models.Envelope{
		Event: models.EventCreate,
		Data: models.MessageData{
			SessionID:        env.Data.SessionID,
			SessionType:      env.Data.SessionType,
			MessageID:        env.Data.MessageID,
			From:             env.Data.To,
			To:               caller,
			State:            "online",
			IceServers:       r.iceServers,
			IceServersLegacy: r.iceServers,
		},
	})
	return caller
}

func (r *Relay) handleForward(senderID string, env *models.Envelope) {
	if env.Data.From == "" {
		env.Data.From = senderID
	}
	if !env.HasBaseData() {
		log.Printf("Dropping %s with incomplete base data (from=%q to=%q)",
			env.Event, env.Data.From, env.Data.To)
		return
	}

	if env.Event.CarriesICEServers() {
		env.Data.IceServersLegacy = r.iceServers
		env.Data.State = "successed"
	}

	target := env.Data.To
	if th, ok := r.peers[target]; ok {
		log.Printf("Forwarding %s from %s to %s", env.Event, env.Data.From, target)
		th.Deliver(env)
		return
	}

	// Target offline: keep the attempt for delivery on registration. One
	// slot per initiator, last attempt wins. The sender gets no feedback;
	// clients time out and retry on their own.
	r.pending[env.Data.From] = pendingAttempt{target: target, env: env}
	log.Printf("Target %s offline, deferring %s from %s", target, env.Event, env.Data.From)
}

func newMessageID() string {
	return uuid.New().String()
}
