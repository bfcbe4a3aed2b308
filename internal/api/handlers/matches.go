package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/match"
	"github.com/cytokine/backend/internal/models"
)

func ListMatches(svc *match.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		matches, err := svc.List(c.Request.Context(), client, queryAll(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches})
	}
}

// startIfReady processes a standalone match as soon as its roster is full.
func startIfReady(ctx context.Context, svc *match.Service, client *models.Client, m *models.Match) (*models.Match, error) {
	if !match.Ready(m) {
		return m, nil
	}
	if err := svc.Process(ctx, m.ID, nil); err != nil {
		return nil, err
	}
	return svc.Get(ctx, client, m.ID)
}

// CreateMatch creates a standalone match. A request carrying its full roster
// starts right away.
func CreateMatch(svc *match.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		var req models.MatchRequest
		if !bind(c, &req) {
			return
		}
		m, err := svc.Create(c.Request.Context(), client, req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		m, err = startIfReady(c.Request.Context(), svc, client, m)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

func GetMatch(svc *match.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		m, err := svc.Get(c.Request.Context(), client, c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// CloseMatch tears the match down and closes its lobby.
func CloseMatch(svc *match.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		m, err := svc.CloseForClient(c.Request.Context(), client, c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// JoinMatch adds a player to a standalone match and starts it once full.
func JoinMatch(svc *match.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		var p models.Player
		if !bind(c, &p) {
			return
		}
		m, err := svc.AddPlayer(c.Request.Context(), client, c.Param("id"), p)
		if err != nil {
			respondError(c, log, err)
			return
		}
		m, err = startIfReady(c.Request.Context(), svc, client, m)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}
