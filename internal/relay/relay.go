package relay

import (
	"log"
	"sort"
	"sync"

	"github.com/camlive/signaling-relay/internal/models"
)

// PeerHandle delivers envelopes to exactly one connected peer. Implementations
// must not block: the WebSocket adapter writes into a buffered send channel,
// the MQTT adapter hands off to the client's publish queue.
type PeerHandle interface {
	Deliver(env *models.Envelope)
}

// PresenceMirror receives best-effort presence updates for observability
// backends. The relay never reads presence back from the mirror.
type PresenceMirror interface {
	PeerOnline(peerID string)
	PeerOffline(peerID string)
	ViewerLinked(deviceID, viewerID string)
	DeviceGone(deviceID string)
}

// pendingAttempt is the single outstanding deferred envelope an initiating
// peer may have while its target is offline.
type pendingAttempt struct {
	target string
	env    *models.Envelope
}

// Relay is the in-memory signaling core: connection registry, pending-queue
// store and device viewer-sets. Gin, gorilla and paho all call in from their
// own goroutines, so every entry point serializes on one mutex; the
// overwrite-on-second-attempt invariant of the pending store depends on it.
type Relay struct {
	mu      sync.Mutex
	peers   map[string]PeerHandle
	pending map[string]pendingAttempt
	viewers map[string]map[string]bool

	iceServers string
	mirror     PresenceMirror
}

func New(iceServers string, mirror PresenceMirror) *Relay {
	return &Relay{
		peers:      make(map[string]PeerHandle),
		pending:    make(map[string]pendingAttempt),
		viewers:    make(map[string]map[string]bool),
		iceServers: iceServers,
		mirror:     mirror,
	}
}

// Register binds a peer and flushes deferred envelopes addressed to it.
func (r *Relay) Register(peerID string, h PeerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(peerID, h)
}

// Disconnect runs close cleanup for a departing connection. The handle must
// still be the registered one: after a re-registration replaced the binding,
// the stale connection's close is a no-op.
func (r *Relay) Disconnect(peerID string, h PeerHandle) {
	if peerID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.peers[peerID]; !ok || current != h {
		return
	}
	r.cleanup(peerID)
}

// Offline evicts a peer by id regardless of which handle it holds, for
// explicit offline notices arriving over a transport (MQTT offline topic,
// `__disconnected`).
func (r *Relay) Offline(peerID string) {
	if peerID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[peerID]; !ok {
		return
	}
	r.cleanup(peerID)
}

// register binds peerID, replacing any prior handle, then drains pending
// attempts targeting it. Callers hold r.mu.
func (r *Relay) register(peerID string, h PeerHandle) {
	r.peers[peerID] = h
	if _, ok := r.viewers[peerID]; !ok {
		r.viewers[peerID] = make(map[string]bool)
	}
	if r.mirror != nil {
		r.mirror.PeerOnline(peerID)
	}

	// Deferred attempts are keyed by initiator, so finding the ones that
	// wait on this peer is a scan. Peer counts are small enough that an
	// index by target is not worth carrying.
	for from, attempt := range r.pending {
		if attempt.target != peerID {
			continue
		}
		r.viewers[peerID][from] = true
		delete(r.pending, from)
		log.Printf("Delivering deferred %s from %s to %s", attempt.env.Event, from, peerID)
		h.Deliver(attempt.env)
		if r.mirror != nil {
			r.mirror.ViewerLinked(peerID, from)
		}
	}
}

// bind records an identity->handle binding without draining or creating a
// viewer-set; session-initiation conflates registration this way.
func (r *Relay) bind(peerID string, h PeerHandle) {
	r.peers[peerID] = h
	if r.mirror != nil {
		r.mirror.PeerOnline(peerID)
	}
}

// cleanup evicts a peer: registry binding, its own pending attempt (entries
// merely addressed to it stay), and `_offline` fan-out to its viewer-set.
// Callers hold r.mu.
func (r *Relay) cleanup(peerID string) {
	log.Printf("Peer %s disconnected", peerID)

	delete(r.peers, peerID)
	delete(r.pending, peerID)

	if vs, ok := r.viewers[peerID]; ok {
		for viewerID := range vs {
			if vh, online := r.peers[viewerID]; online {
				vh.Deliver(&models.Envelope{
					Event: models.EventOffline,
					Data: models.MessageData{
						PeerID:    peerID,
						MessageID: newMessageID(),
					},
				})
			}
		}
		delete(r.viewers, peerID)
		if r.mirror != nil {
			r.mirror.DeviceGone(peerID)
		}
	}

	if r.mirror != nil {
		r.mirror.PeerOffline(peerID)
	}
}

// PresenceSnapshot returns a copy of the device -> viewer-set map.
func (r *Relay) PresenceSnapshot() map[string]map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(map[string]map[string]bool, len(r.viewers))
	for device, vs := range r.viewers {
		set := make(map[string]bool, len(vs))
		for v := range vs {
			set[v] = true
		}
		snap[device] = set
	}
	return snap
}

// OnlinePeers returns the sorted ids of currently connected peers.
func (r *Relay) OnlinePeers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats summarizes relay state for the admin API.
type Stats struct {
	OnlinePeers     int `json:"onlinePeers"`
	PendingAttempts int `json:"pendingAttempts"`
	TrackedDevices  int `json:"trackedDevices"`
}

func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		OnlinePeers:     len(r.peers),
		PendingAttempts: len(r.pending),
		TrackedDevices:  len(r.viewers),
	}
}
