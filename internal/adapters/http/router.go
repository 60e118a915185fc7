package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/adapters/signal"
	"github.com/dkeye/meshroom/internal/app/orch"
	"github.com/dkeye/meshroom/internal/config"
	"github.com/dkeye/meshroom/internal/domain"
)

const lastRoomKey = "last_room"

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeshroomSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": o.Registry.Len()})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	rooms := api.Group("/rooms")
	rooms.GET("/status/:hash", func(c *gin.Context) {
		st, err := o.Status(c.Request.Context(), domain.RoomHash(c.Param("hash")))
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("room status")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "roster unavailable"})
			return
		}
		c.JSON(http.StatusOK, st)
	})

	rooms.POST("/enter", func(c *gin.Context) {
		var req domain.EnterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st, err := o.Enter(c.Request.Context(), req)
		if errors.Is(err, domain.ErrPeerIDInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("room enter")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "roster unavailable"})
			return
		}
		s := sessions.Default(c)
		s.Set(lastRoomKey, string(req.RoomHash))
		if err := s.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
		}
		c.JSON(http.StatusOK, st)
	})

	rooms.POST("/exit", func(c *gin.Context) {
		var req domain.ExitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := o.Exit(c.Request.Context(), req); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("room exit")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "roster unavailable"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	// last room entered from this browser, for rejoin after reload
	rooms.GET("/last", func(c *gin.Context) {
		room, _ := sessions.Default(c).Get(lastRoomKey).(string)
		if room == "" {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{"room_hash": room})
	})

	return r
}
