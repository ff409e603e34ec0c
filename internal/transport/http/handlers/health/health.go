// Package health implements the `GET /health` and `GET /ready` endpoints,
// per spec.md §6.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// freshnessWindow is how recently a dependency's last successful operation
// must have happened for /ready to report healthy, per spec.md §6.
const freshnessWindow = 30 * time.Second

// Checker reports the timestamp of its most recent successful operation.
// KeyDirectory and the RedisEventBus both satisfy this.
type Checker interface {
	LastSuccessfulOperation() time.Time
}

// Handler serves /health and /ready.
type Handler struct {
	keyDirectory Checker
	eventBus     Checker
}

func NewHandler(keyDirectory, eventBus Checker) *Handler {
	return &Handler{keyDirectory: keyDirectory, eventBus: eventBus}
}

// Check implements `GET /health`: unconditional liveness, per spec.md §6.
func (h *Handler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready implements `GET /ready`: KeyDirectory and EventBus must each have
// recorded a successful operation within the last 30s, per spec.md §6.
func (h *Handler) Ready(c *gin.Context) {
	now := time.Now()
	if now.Sub(h.keyDirectory.LastSuccessfulOperation()) > freshnessWindow ||
		now.Sub(h.eventBus.LastSuccessfulOperation()) > freshnessWindow {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
