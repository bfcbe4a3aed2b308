package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/fleet"
	"github.com/cytokine/backend/internal/match"
)

// ServerCallback receives server status changes from the fleet manager. When
// a secret is configured the caller must present it as a bearer token.
func ServerCallback(svc *match.Service, secret string, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" {
			token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid callback secret"})
				return
			}
		}

		var req struct {
			Server struct {
				ID string `json:"_id" binding:"required"`
			} `json:"server" binding:"required"`
			Status fleet.ServerStatus `json:"status" binding:"required"`
		}
		if !bind(c, &req) {
			return
		}

		m, err := svc.HandleServerStatus(c.Request.Context(), req.Server.ID, req.Status)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"server":        req.Server.ID,
				"server_status": req.Status,
			}).Warn("server callback rejected")
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"match": m.ID, "status": m.Status})
	}
}
