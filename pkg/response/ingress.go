package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appErrors "brokle/pkg/errors"
)

// IngressAccepted writes the literal 202 body the ingest endpoint contracts on:
// {"status":"accepted","spans_queued":<int>}. It intentionally does not use the
// generic APIResponse envelope — the ingest wire contract is fixed and callers
// (SDKs) depend on the exact shape.
func IngressAccepted(c *gin.Context, spansQueued int) {
	c.JSON(http.StatusAccepted, gin.H{
		"status":       "accepted",
		"spans_queued": spansQueued,
	})
}

// IngressError writes the literal error body {"error":"<code>","detail":"<string>"}
// at the status code carried by err, defaulting to 500 for non-AppErrors. When err
// is an UnavailableError with a RetryAfter hint, the Retry-After header is set.
func IngressError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	code := string(appErrors.InternalError)
	detail := "internal error"

	if appErr, ok := appErrors.IsAppError(err); ok {
		statusCode = appErr.StatusCode
		code = string(appErr.Type)
		detail = appErr.Message
		if appErr.Type == appErrors.UnavailableError && appErr.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(appErr.RetryAfter))
		}
	}

	c.JSON(statusCode, gin.H{
		"error":  code,
		"detail": detail,
	})
}
