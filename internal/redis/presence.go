package redis

import (
	"log"
	"time"
)

const (
	onlineSetKey    = "relay:peers:online"
	viewerKeyPrefix = "relay:device:"
	presenceTTL     = 24 * time.Hour
)

// PresenceMirror writes relay presence into Redis sets so operators can
// inspect who is online without touching the relay process. Writes are
// best-effort: a Redis hiccup is logged and the relay carries on, since
// routing never reads this data back.
type PresenceMirror struct{}

func NewPresenceMirror() *PresenceMirror {
	return &PresenceMirror{}
}

func (m *PresenceMirror) PeerOnline(peerID string) {
	c := GetClient()
	if err := c.SAdd(ctx, onlineSetKey, peerID).Err(); err != nil {
		log.Printf("Failed to mirror peer %s online: %v", peerID, err)
		return
	}
	c.Expire(ctx, onlineSetKey, presenceTTL)
}

func (m *PresenceMirror) PeerOffline(peerID string) {
	if err := GetClient().SRem(ctx, onlineSetKey, peerID).Err(); err != nil {
		log.Printf("Failed to mirror peer %s offline: %v", peerID, err)
	}
}

func (m *PresenceMirror) ViewerLinked(deviceID, viewerID string) {
	c := GetClient()
	key := viewerKeyPrefix + deviceID + ":viewers"
	if err := c.SAdd(ctx, key, viewerID).Err(); err != nil {
		log.Printf("Failed to mirror viewer %s for device %s: %v", viewerID, deviceID, err)
		return
	}
	c.Expire(ctx, key, presenceTTL)
}

func (m *PresenceMirror) DeviceGone(deviceID string) {
	if err := GetClient().Del(ctx, viewerKeyPrefix+deviceID+":viewers").Err(); err != nil {
		log.Printf("Failed to clear viewer set for device %s: %v", deviceID, err)
	}
}
