package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/httputil"
)

// DefaultMaxBodySize fits a broadcast to tens of thousands of recipients.
const DefaultMaxBodySize int64 = 1 << 20

// SizeLimit rejects declared oversize bodies and caps the rest while reading.
func SizeLimit(maxBodySize int64) gin.HandlerFunc {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBodySize {
			httputil.RespondWithError(c, &errors.AppError{
				Code:    errors.ErrBadRequest,
				Message: "request body too large",
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
