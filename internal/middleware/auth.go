package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cytokine/backend/internal/clients"
	"github.com/cytokine/backend/internal/models"
)

// ClientKey is the gin context key holding the authenticated *models.Client.
const ClientKey = "client"

// ClientGuard requires a valid client token, sent as a bearer token or, for
// websocket upgrades, in the token query parameter.
func ClientGuard(svc *clients.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || token == c.GetHeader("Authorization") {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing client token"})
			return
		}

		id, err := svc.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid client token"})
			return
		}
		client, err := svc.Client(c.Request.Context(), id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown client"})
			return
		}

		c.Set(ClientKey, client)
		c.Next()
	}
}

// ClientFrom returns the client authenticated by ClientGuard.
func ClientFrom(c *gin.Context) *models.Client {
	v, ok := c.Get(ClientKey)
	if !ok {
		return nil
	}
	client, _ := v.(*models.Client)
	return client
}

// ClientIDFrom is ClientFrom reduced to the client id.
func ClientIDFrom(c *gin.Context) string {
	if client := ClientFrom(c); client != nil {
		return client.ID
	}
	return ""
}
