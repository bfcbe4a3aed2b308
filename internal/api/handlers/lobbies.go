package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/lobby"
	"github.com/cytokine/backend/internal/models"
)

// ListLobbies returns the caller's active lobbies, or every lobby with ?all=true.
func ListLobbies(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		lobbies, err := svc.List(c.Request.Context(), client, queryAll(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lobbies": lobbies})
	}
}

func CreateLobby(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		var req models.LobbyRequest
		if !bind(c, &req) {
			return
		}
		l, err := svc.Create(c.Request.Context(), client, req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, l)
	}
}

func GetLobby(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		l, err := svc.Get(c.Request.Context(), client, c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

// GetLobbyByMatch returns the lobby feeding a match.
func GetLobbyByMatch(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		l, err := svc.GetByMatch(c.Request.Context(), client, c.Param("matchId"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

// CloseLobby closes a lobby together with its match.
func CloseLobby(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		l, err := svc.Close(c.Request.Context(), client, c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

func JoinLobby(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		var p models.Player
		if !bind(c, &p) {
			return
		}
		l, err := svc.AddPlayer(c.Request.Context(), client, c.Param("id"), p)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

// playerRoute validates the identity kind of /players/:type/:pid routes.
func playerRoute(c *gin.Context) (kind, id string, ok bool) {
	kind = c.Param("type")
	switch kind {
	case models.IdentityDiscord, models.IdentitySteam, models.IdentityName:
		return kind, c.Param("pid"), true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "player type must be one of discord, steam, name"})
	return "", "", false
}

func GetLobbyPlayer(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		kind, pid, ok := playerRoute(c)
		if !ok {
			return
		}
		p, err := svc.GetPlayer(c.Request.Context(), client, c.Param("id"), kind, pid)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func RemoveLobbyPlayer(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		kind, pid, ok := playerRoute(c)
		if !ok {
			return
		}
		l, err := svc.RemovePlayer(c.Request.Context(), client, c.Param("id"), kind, pid)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

func AddLobbyPlayerRole(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		kind, pid, ok := playerRoute(c)
		if !ok {
			return
		}
		l, err := svc.AddPlayerRole(c.Request.Context(), client, c.Param("id"), kind, pid, c.Param("role"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

func RemoveLobbyPlayerRole(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		kind, pid, ok := playerRoute(c)
		if !ok {
			return
		}
		l, err := svc.RemovePlayerRole(c.Request.Context(), client, c.Param("id"), kind, pid, c.Param("role"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

// SetLobbyPlayerAFK records a player's answer to the AFK check.
func SetLobbyPlayerAFK(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		kind, pid, ok := playerRoute(c)
		if !ok {
			return
		}
		var req struct {
			AFK *bool `json:"afk" binding:"required"`
		}
		if !bind(c, &req) {
			return
		}
		l, err := svc.SetPlayerAFK(c.Request.Context(), client, c.Param("id"), kind, pid, *req.AFK)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}

// PickLobbyPlayer applies a captain's draft pick.
func PickLobbyPlayer(svc *lobby.Service, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := requestClient(c)
		if !ok {
			return
		}
		var req models.PickRequest
		if !bind(c, &req) {
			return
		}
		l, err := svc.Pick(c.Request.Context(), client, c.Param("id"), req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, l)
	}
}
