package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/camlive/signaling-relay/config"
	"github.com/camlive/signaling-relay/internal/models"
	"github.com/camlive/signaling-relay/internal/relay"
)

// Functional topics clients publish signaling envelopes to. Addressed
// delivery goes to the per-peer topic webrtc/user/<peerId>.
const (
	TopicRegister     = "webrtc/register"
	TopicConnect      = "webrtc/connect"
	TopicCall         = "webrtc/call"
	TopicOffer        = "webrtc/offer"
	TopicAnswer       = "webrtc/answer"
	TopicICECandidate = "webrtc/ice_candidate"
	TopicCodeRate     = "webrtc/code_rate"
	TopicOffline      = "webrtc/offline"

	UserTopicPrefix = "webrtc/user/"

	// At-least-once for every publish and subscription; the broker handles
	// redelivery, the relay does no application-level retry.
	qos byte = 1
)

// InboundTopics is every topic the adapter subscribes to, the functional set
// plus the private-namespace wildcard.
var InboundTopics = []string{
	TopicRegister,
	TopicConnect,
	TopicCall,
	TopicOffer,
	TopicAnswer,
	TopicICECandidate,
	TopicCodeRate,
	TopicOffline,
	UserTopicPrefix + "+",
}

// TopicForEvent maps an inbound event to the functional topic clients
// publish it on.
func TopicForEvent(event models.Event) (string, bool) {
	switch event {
	case models.EventRegister:
		return TopicRegister, true
	case models.EventConnectTo:
		return TopicConnect, true
	case models.EventCall:
		return TopicCall, true
	case models.EventOffer, models.EventOfferAlt:
		return TopicOffer, true
	case models.EventAnswer:
		return TopicAnswer, true
	case models.EventICECandidate, models.EventICEAlt:
		return TopicICECandidate, true
	case models.EventCodeRate:
		return TopicCodeRate, true
	case models.EventDisconnected:
		return TopicOffline, true
	}
	return "", false
}

// Adapter bridges the MQTT broker and the relay core. It deserializes
// envelopes off the functional topics and delivers addressed traffic by
// publishing to per-peer private topics. Keepalive is broker-native; the
// adapter emits no application ping.
type Adapter struct {
	client mqtt.Client
	relay  *relay.Relay
}

func NewAdapter(r *relay.Relay) *Adapter {
	return &Adapter{relay: r}
}

// Start connects to the broker and subscribes to all inbound topics.
func (a *Adapter) Start(cfg config.MQTTConfig) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Printf("Connected to MQTT broker %s", cfg.BrokerURL)
			a.subscribe(c)
		}).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Printf("MQTT connection lost: %v", err)
		})

	a.client = mqtt.NewClient(opts)
	if token := a.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (a *Adapter) Stop() {
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
}

func (a *Adapter) subscribe(c mqtt.Client) {
	for _, topic := range InboundTopics {
		if token := c.Subscribe(topic, qos, a.onMessage); token.Wait() && token.Error() != nil {
			log.Printf("Failed to subscribe to %s: %v", topic, token.Error())
		}
	}
	log.Printf("Subscribed to %d signaling topics", len(InboundTopics))
}

func (a *Adapter) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()

	// The wildcard subscription covers the private namespace for parity
	// with older deployments, but those topics carry our own outbound
	// traffic; processing them would loop envelopes back into the router.
	if strings.HasPrefix(topic, UserTopicPrefix) {
		return
	}

	if topic == TopicOffline {
		a.handleOffline(msg.Payload())
		return
	}

	env, err := models.Decode(msg.Payload())
	if err != nil {
		log.Printf("Failed to parse envelope on %s: %v", topic, err)
		return
	}

	senderID := env.Data.From
	if env.Event == models.EventRegister {
		senderID = env.Data.PeerID
	}

	a.relay.Handle(senderID, a.handleFor(senderID), env)
}

// handleOffline accepts both the bare {"peerId":...} notice and a full
// `__disconnected` envelope on the offline topic.
func (a *Adapter) handleOffline(payload []byte) {
	var notice struct {
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(payload, &notice); err == nil && notice.PeerID != "" {
		a.relay.Offline(notice.PeerID)
		return
	}

	env, err := models.Decode(payload)
	if err != nil {
		log.Printf("Failed to parse offline notice: %v", err)
		return
	}

	peerID := env.Data.PeerID
	if peerID == "" {
		peerID = env.Data.From
	}
	a.relay.Offline(peerID)
}

func (a *Adapter) handleFor(peerID string) *userHandle {
	return &userHandle{client: a.client, peerID: peerID}
}

// userHandle implements relay.PeerHandle by publishing to the peer's
// private topic.
type userHandle struct {
	client mqtt.Client
	peerID string
}

func (h *userHandle) Deliver(env *models.Envelope) {
	if h.peerID == "" {
		log.Printf("Dropping %s: no peer id for MQTT delivery", env.Event)
		return
	}

	data, err := env.Encode()
	if err != nil {
		log.Printf("Failed to marshal %s envelope: %v", env.Event, err)
		return
	}

	topic := UserTopicPrefix + h.peerID
	token := h.client.Publish(topic, qos, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("Failed to publish %s to %s: %v", env.Event, topic, token.Error())
		}
	}()
}
