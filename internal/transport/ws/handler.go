package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	apperrors "brokle/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ProjectIDContextKey is the gin context key upstream auth middleware sets
// with the caller's authenticated project id, trusted by Handler per the
// broadcast-scoping decision recorded in DESIGN.md.
const ProjectIDContextKey = "project_id"

// Handler upgrades a GET /v1/alerts/stream request to a WebSocket connection
// and registers it with the hub, scoped to the caller's authenticated
// project per §4.7's subscribe contract.
func Handler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID, _ := c.Get(ProjectIDContextKey)
		projectFilter, _ := projectID.(string)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			_ = c.Error(apperrors.NewValidationError("failed to upgrade to websocket", err.Error()))
			return
		}

		subscriberID := ulid.Make().String()
		hub.Subscribe(subscriberID, projectFilter, conn)
	}
}
