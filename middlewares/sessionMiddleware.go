package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/shop_backend/utils"
)

const CorrelationIdHeader = "X-Correlation-Id"

// SessionMiddleware tags every request with a correlation id, taken from the
// caller when present. Admin actions store it so logs and events line up.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := strings.TrimSpace(c.Request.Header.Get(CorrelationIdHeader))
		if correlationId == "" || len(correlationId) > 64 {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Header(CorrelationIdHeader, correlationId)
		c.Next()
	}
}
