package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/clients"
)

// IssueToken exchanges client credentials for a bearer token.
func IssueToken(svc *clients.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ClientID string `json:"clientId" binding:"required"`
			Secret   string `json:"secret" binding:"required"`
		}
		if !bind(c, &req) {
			return
		}

		client, err := svc.Authenticate(c.Request.Context(), req.ClientID, req.Secret)
		if err != nil {
			if errors.Is(err, clients.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid client credentials"})
				return
			}
			respondError(c, log, err)
			return
		}

		token, expiresAt, err := svc.IssueToken(client)
		if err != nil {
			respondError(c, log, err)
			return
		}
		log.WithField("client", client.ID).Info("issued client token")
		c.JSON(http.StatusOK, gin.H{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_at":   expiresAt,
		})
	}
}
