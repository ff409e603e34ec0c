package middleware

import (
	"github.com/gin-gonic/gin"

	"brokle/internal/infrastructure/keydirectory"
	"brokle/pkg/response"
)

// ProjectIDContextKey matches the teacher's SDKAuthMiddleware convention
// (ProjectIDKey = "project_id") so downstream handlers and the WebSocket
// upgrade endpoint read the authenticated project id the same way
// regardless of which middleware authenticated the request.
const ProjectIDContextKey = "project_id"

// KeyAuthMiddleware resolves the X-API-Key header against KeyDirectory,
// following the teacher's SDKAuthMiddleware.RequireSDKAuth shape, adapted to
// call KeyDirectory.Resolve instead of a direct repository lookup and to
// honor §4.2's failure semantics: KeyDirectory.Resolve surfaces backing
// store unavailability as Unavailable (→503), never 401.
type KeyAuthMiddleware struct {
	directory *keydirectory.KeyDirectory
}

func NewKeyAuthMiddleware(directory *keydirectory.KeyDirectory) *KeyAuthMiddleware {
	return &KeyAuthMiddleware{directory: directory}
}

func (m *KeyAuthMiddleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			response.IngressError(c, keydirectory.ErrUnknownKey)
			c.Abort()
			return
		}

		projectID, err := m.directory.Resolve(c.Request.Context(), apiKey)
		if err != nil {
			response.IngressError(c, err)
			c.Abort()
			return
		}

		c.Set(ProjectIDContextKey, projectID)
		c.Next()
	}
}
