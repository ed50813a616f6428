package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/camlive/signaling-relay/internal/relay"
)

// DeviceViewers serves the legacy presence listing: the device -> viewer map
// as raw JSON, the shape the old dashboard polls on /mio/t1.
func DeviceViewers(r *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, r.PresenceSnapshot())
	}
}

// Presence serves the admin view: the device map plus the flat list of
// online peers.
func Presence(r *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"devices":     r.PresenceSnapshot(),
			"onlinePeers": r.OnlinePeers(),
		})
	}
}

// RelayStats serves relay counters for the admin API.
func RelayStats(r *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, r.Stats())
	}
}
