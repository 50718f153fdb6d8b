package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hmonster013/ecommerce-microservice-sub008/correlation"
	"github.com/hmonster013/ecommerce-microservice-sub008/identity"
)

// CorrelationMiddleware lifts X-Correlation-ID from the request, minting
// one when absent, and echoes it on the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlation.Header)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(correlation.With(c.Request.Context(), id))
		c.Writer.Header().Set(correlation.Header, id)
		c.Next()
	}
}

// PrincipalMiddleware lifts the X-User-* headers into the request context
// so handlers and downstream RPCs see the same principal.
func PrincipalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := identity.FromHeaders(c.Request.Header); ok {
			c.Request = c.Request.WithContext(identity.WithPrincipal(c.Request.Context(), p))
		}
		c.Next()
	}
}
