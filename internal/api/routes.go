package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/api/handlers"
	"github.com/cytokine/backend/internal/clients"
	"github.com/cytokine/backend/internal/config"
	"github.com/cytokine/backend/internal/lobby"
	"github.com/cytokine/backend/internal/match"
	"github.com/cytokine/backend/internal/middleware"
	"github.com/cytokine/backend/internal/ws"
)

// Services are the collaborators the routes dispatch to.
type Services struct {
	Clients *clients.Service
	Lobbies *lobby.Service
	Matches *match.Service
	Hub     *ws.Hub
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, svc Services, cfg *config.Config, log *logrus.Entry) {
	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Next()
		})
	}

	router.GET("/health", handlers.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)
		v1.POST("/auth/token", handlers.IssueToken(svc.Clients, log))

		// Fleet manager callback, authenticated by the shared callback secret
		v1.POST("/matches/server/callback", handlers.ServerCallback(svc.Matches, cfg.CallbackSecret, log))

		guard := middleware.ClientGuard(svc.Clients)

		lobbies := v1.Group("/lobbies", guard)
		{
			lobbies.GET("", handlers.ListLobbies(svc.Lobbies, log))
			lobbies.POST("", handlers.CreateLobby(svc.Lobbies, log))
			lobbies.GET("/match/:matchId", handlers.GetLobbyByMatch(svc.Lobbies, log))
			lobbies.GET("/:id", handlers.GetLobby(svc.Lobbies, log))
			lobbies.DELETE("/:id", handlers.CloseLobby(svc.Lobbies, log))
			lobbies.POST("/:id/join", handlers.JoinLobby(svc.Lobbies, log))
			lobbies.POST("/:id/pick", handlers.PickLobbyPlayer(svc.Lobbies, log))
			lobbies.GET("/:id/players/:type/:pid", handlers.GetLobbyPlayer(svc.Lobbies, log))
			lobbies.DELETE("/:id/players/:type/:pid", handlers.RemoveLobbyPlayer(svc.Lobbies, log))
			lobbies.PUT("/:id/players/:type/:pid/afk", handlers.SetLobbyPlayerAFK(svc.Lobbies, log))
			lobbies.POST("/:id/players/:type/:pid/roles/:role", handlers.AddLobbyPlayerRole(svc.Lobbies, log))
			lobbies.DELETE("/:id/players/:type/:pid/roles/:role", handlers.RemoveLobbyPlayerRole(svc.Lobbies, log))
		}

		matches := v1.Group("/matches", guard)
		{
			matches.GET("", handlers.ListMatches(svc.Matches, log))
			matches.POST("", handlers.CreateMatch(svc.Matches, log))
			matches.GET("/:id", handlers.GetMatch(svc.Matches, log))
			matches.DELETE("/:id", handlers.CloseMatch(svc.Matches, log))
			matches.POST("/:id/join", handlers.JoinMatch(svc.Matches, log))
		}

		if svc.Hub != nil {
			v1.GET("/events", guard, ws.Handler(svc.Hub, middleware.ClientIDFrom))
		}
	}
}
