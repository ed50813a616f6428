package relay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camlive/signaling-relay/internal/models"
)

type fakeHandle struct {
	name string
	envs []*models.Envelope
}

func (h *fakeHandle) Deliver(env *models.Envelope) {
	h.envs = append(h.envs, env)
}

func (h *fakeHandle) events() []models.Event {
	out := make([]models.Event, 0, len(h.envs))
	for _, e := range h.envs {
		out = append(out, e.Event)
	}
	return out
}

func (h *fakeHandle) byEvent(event models.Event) []*models.Envelope {
	var out []*models.Envelope
	for _, e := range h.envs {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

const testICE = `{"iceServers":[{"urls":"stun:stun.example.org:3478"}]}`

func newTestRelay() *Relay {
	return New(testICE, nil)
}

func registerEnv(peerID string) *models.Envelope {
	return &models.Envelope{
		Event: models.EventRegister,
		Data:  models.MessageData{PeerID: peerID},
	}
}

func sessionEnv(event models.Event, from, to, messageID string) *models.Envelope {
	return &models.Envelope{
		Event: event,
		Data: models.MessageData{
			SessionID:   "session-1",
			SessionType: "IE",
			MessageID:   messageID,
			From:        from,
			To:          to,
		},
	}
}

func register(t *testing.T, r *Relay, peerID string) *fakeHandle {
	t.Helper()
	h := &fakeHandle{name: peerID}
	id := r.Handle("", h, registerEnv(peerID))
	require.Equal(t, peerID, id)
	require.Equal(t, []models.Event{models.EventRegistered}, h.events()[:1])
	return h
}

func TestRegistrationReplacesHandle(t *testing.T) {
	r := newTestRelay()

	h1 := register(t, r, "dev-1")
	h2 := register(t, r, "dev-1")
	sender := register(t, r, "viewer-1")

	r.Handle("viewer-1", sender, sessionEnv(models.EventAnswer, "viewer-1", "dev-1", "m1"))

	assert.Empty(t, h1.byEvent(models.EventAnswer), "stale handle must receive nothing")
	require.Len(t, h2.byEvent(models.EventAnswer), 1)
}

func TestStaleCloseDoesNotEvictReplacement(t *testing.T) {
	r := newTestRelay()

	h1 := register(t, r, "dev-1")
	h2 := register(t, r, "dev-1")

	// The replaced connection closes after the re-registration; the new
	// binding must survive.
	r.Disconnect("dev-1", h1)

	sender := register(t, r, "viewer-1")
	r.Handle("viewer-1", sender, sessionEnv(models.EventAnswer, "viewer-1", "dev-1", "m1"))
	require.Len(t, h2.byEvent(models.EventAnswer), 1)
}

func TestFIFOPerDestination(t *testing.T) {
	r := newTestRelay()

	sender := register(t, r, "viewer-1")
	target := register(t, r, "dev-1")

	for i := 1; i <= 3; i++ {
		r.Handle("viewer-1", sender, sessionEnv(models.EventICECandidate, "viewer-1", "dev-1", fmt.Sprintf("m%d", i)))
	}

	got := target.byEvent(models.EventICECandidate)
	require.Len(t, got, 3)
	for i, env := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i+1), env.Data.MessageID)
	}
}

func TestPendingThenDeliver(t *testing.T) {
	r := newTestRelay()

	sender := register(t, r, "viewer-1")
	r.Handle("viewer-1", sender, sessionEnv(models.EventCall, "viewer-1", "dev-1", "m1"))

	target := register(t, r, "dev-1")
	calls := target.byEvent(models.EventCall)
	require.Len(t, calls, 1, "deferred envelope delivered on registration")
	assert.Equal(t, "m1", calls[0].Data.MessageID)
	assert.Equal(t, "viewer-1", calls[0].Data.From)
	assert.Equal(t, testICE, calls[0].Data.IceServersLegacy, "call envelopes carry the ICE configuration")

	// A third registration must not redeliver the consumed record.
	again := register(t, r, "dev-1")
	assert.Empty(t, again.byEvent(models.EventCall))
}

func TestLastAttemptWins(t *testing.T) {
	r := newTestRelay()

	sender := register(t, r, "viewer-1")
	r.Handle("viewer-1", sender, sessionEnv(models.EventCall, "viewer-1", "dev-1", "m1"))
	r.Handle("viewer-1", sender, sessionEnv(models.EventCall, "viewer-1", "dev-1", "m2"))

	target := register(t, r, "dev-1")
	calls := target.byEvent(models.EventCall)
	require.Len(t, calls, 1)
	assert.Equal(t, "m2", calls[0].Data.MessageID)
}

func TestOfflineFanOut(t *testing.T) {
	r := newTestRelay()

	v1 := register(t, r, "viewer-1")
	v2 := register(t, r, "viewer-2")

	r.Handle("viewer-1", v1, sessionEnv(models.EventCall, "viewer-1", "dev-1", "m1"))
	r.Handle("viewer-2", v2, sessionEnv(models.EventCall, "viewer-2", "dev-1", "m2"))

	device := register(t, r, "dev-1")
	require.Len(t, device.byEvent(models.EventCall), 2)

	r.Disconnect("dev-1", device)

	for _, viewer := range []*fakeHandle{v1, v2} {
		offline := viewer.byEvent(models.EventOffline)
		require.Len(t, offline, 1, "viewer %s must be notified", viewer.name)
		assert.Equal(t, "dev-1", offline[0].Data.PeerID)
	}
}

func TestPingPong(t *testing.T) {
	r := newTestRelay()

	p1 := register(t, r, "peer-1")
	p2 := register(t, r, "peer-2")

	r.Handle("peer-1", p1, &models.Envelope{
		Event: models.EventPing,
		Data:  models.MessageData{Timestamp: 12345},
	})

	pongs := p1.byEvent(models.EventPong)
	require.Len(t, pongs, 1)
	assert.NotZero(t, pongs[0].Data.Timestamp)
	assert.Empty(t, p2.byEvent(models.EventPong), "unrelated peers receive nothing")
}

func TestIncompleteEnvelopeDropped(t *testing.T) {
	r := newTestRelay()

	sender := register(t, r, "viewer-1")
	target := register(t, r, "dev-1")

	// Missing sessionId/messageId: dropped, nothing forwarded.
	r.Handle("viewer-1", sender, &models.Envelope{
		Event: models.EventCall,
		Data:  models.MessageData{From: "viewer-1", To: "dev-1"},
	})
	assert.Empty(t, target.byEvent(models.EventCall))

	// The connection stays usable for subsequent valid traffic.
	r.Handle("viewer-1", sender, sessionEnv(models.EventCall, "viewer-1", "dev-1", "m1"))
	require.Len(t, target.byEvent(models.EventCall), 1)
}

func TestUnknownEventIgnored(t *testing.T) {
	r := newTestRelay()

	sender := register(t, r, "viewer-1")
	before := len(sender.envs)

	id := r.Handle("viewer-1", sender, &models.Envelope{Event: "__bogus"})
	assert.Equal(t, "viewer-1", id)
	assert.Len(t, sender.envs, before, "unknown events produce no response")
}

func TestIdempotentDisconnect(t *testing.T) {
	r := newTestRelay()

	viewer := register(t, r, "viewer-1")
	r.Handle("viewer-1", viewer, sessionEnv(models.EventCall, "viewer-1", "dev-1", "m1"))
	device := register(t, r, "dev-1")

	r.Disconnect("dev-1", device)
	r.Disconnect("dev-1", device)
	r.Disconnect("", device)

	assert.Len(t, viewer.byEvent(models.EventOffline), 1, "double close must not re-notify")
}

func TestConnectToSynthesizesCreate(t *testing.T) {
	r := newTestRelay()

	caller := &fakeHandle{name: "viewer-1"}
	id := r.Handle("", caller, sessionEnv(models.EventConnectTo, "viewer-1", "dev-1", "m1"))
	require.Equal(t, "viewer-1", id, "session initiation binds the caller")

	creates := caller.byEvent(models.EventCreate)
	require.Len(t, creates, 1)
	create := creates[0]
	assert.Equal(t, "dev-1", create.Data.From, "server speaks as the target")
	assert.Equal(t, "viewer-1", create.Data.To)
	assert.Equal(t, "online", create.Data.State)
	assert.Equal(t, "session-1", create.Data.SessionID)
	assert.Equal(t, "m1", create.Data.MessageID)
	assert.Equal(t, testICE, create.Data.IceServers)
	assert.Equal(t, testICE, create.Data.IceServersLegacy)

	// The conflated registration makes the caller addressable.
	device := register(t, r, "dev-1")
	r.Handle("dev-1", device, sessionEnv(models.EventOffer, "dev-1", "viewer-1", "m2"))
	require.Len(t, caller.byEvent(models.EventOffer), 1)
}

func TestExplicitOfflineNotice(t *testing.T) {
	r := newTestRelay()

	viewer := register(t, r, "viewer-1")
	r.Handle("viewer-1", viewer, sessionEnv(models.EventCall, "viewer-1", "dev-1", "m1"))
	register(t, r, "dev-1")

	r.Offline("dev-1")
	require.Len(t, viewer.byEvent(models.EventOffline), 1)

	// Repeats are no-ops.
	r.Offline("dev-1")
	r.Offline("")
	assert.Len(t, viewer.byEvent(models.EventOffline), 1)
}

func TestInitiatorDisconnectAbandonsPending(t *testing.T) {
	r := newTestRelay()

	viewer := register(t, r, "viewer-1")
	r.Handle("viewer-1", viewer, sessionEnv(models.EventCall, "viewer-1", "dev-1", "m1"))

	r.Disconnect("viewer-1", viewer)

	device := register(t, r, "dev-1")
	assert.Empty(t, device.byEvent(models.EventCall), "abandoned attempts are not delivered")
}

func TestPresenceSnapshotAndStats(t *testing.T) {
	r := newTestRelay()

	viewer := register(t, r, "viewer-1")
	r.Handle("viewer-1", viewer, sessionEnv(models.EventCall, "viewer-1", "dev-1", "m1"))

	stats := r.Stats()
	assert.Equal(t, 1, stats.OnlinePeers)
	assert.Equal(t, 1, stats.PendingAttempts)

	register(t, r, "dev-1")

	snap := r.PresenceSnapshot()
	require.Contains(t, snap, "dev-1")
	assert.True(t, snap["dev-1"]["viewer-1"])

	assert.Equal(t, []string{"dev-1", "viewer-1"}, r.OnlinePeers())

	stats = r.Stats()
	assert.Equal(t, 2, stats.OnlinePeers)
	assert.Equal(t, 0, stats.PendingAttempts)
}
