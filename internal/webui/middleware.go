package webui

import (
	"net/http"

	"github.com/Lichas/wabridge/internal/auth"
	"github.com/gin-gonic/gin"
)

const subjectContextKey = "subject"

// SubjectFromContext 返回令牌中的客户端名称
func SubjectFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(subjectContextKey)
	if !ok {
		return "", false
	}
	subject, ok := v.(string)
	return subject, ok && subject != ""
}

// RequireToken accepts a bearer header or a token query parameter.
func RequireToken(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.TokenFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}
		claims, err := auth.VerifyToken(token, cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}
		c.Set(subjectContextKey, claims.Subject)
		c.Next()
	}
}

func corsMiddleware(allowOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(allowOrigins, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// originAllowed: empty list or "*" allows everything; requests without an
// Origin header are not cross-site.
func originAllowed(allowOrigins []string, origin string) bool {
	if origin == "" || len(allowOrigins) == 0 {
		return true
	}
	for _, allowed := range allowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
