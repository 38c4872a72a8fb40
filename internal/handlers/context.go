package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
)

// requestContext extracts the context carried by the inbound request so
// service calls inherit its cancellation. Handlers constructed without a
// request, as in direct unit tests, fall back to context.Background.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
