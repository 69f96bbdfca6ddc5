package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/logging"
)

const genericInternalMessage = "Internal server error"

// Respond writes err as a JSON error body and aborts the chain.
// Internal failures are logged with their cause; the client only sees the message.
func Respond(c *gin.Context, err error) {
	status := Status(err)

	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Internal(genericInternalMessage, err)
	}

	if status == http.StatusInternalServerError {
		logging.FromContext(c).WithError(err).
			WithField("path", c.Request.URL.Path).
			Error(appErr.Message)
	}

	body := gin.H{"error": appErr.Message}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.AbortWithStatusJSON(status, body)
}
