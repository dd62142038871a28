package ws

import (
	"context"
	"net/http"
	"time"

	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"
	"marketplace-chat/backend/pkg/middleware"
	pkgws "marketplace-chat/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler upgrades authenticated HTTP requests to chat connections
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandler creates a websocket handler. allowedOrigins may contain "*".
func NewHandler(hub *Hub, allowedOrigins []string, log *logger.Logger) *Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return &Handler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowAll || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// ServeWS handles GET /ws. The JWT comes from WSAuthMiddleware; an optional
// ?bookingId= joins that room right after connecting.
func (h *Handler) ServeWS(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authentication required"))
		c.Abort()
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.log.Warn("Websocket upgrade failed", "error", err.Error(), "user_id", claims.UserID)
		return
	}

	client := h.hub.Connect(conn, claims.UserID)

	if bookingID := c.Query("bookingId"); bookingID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(client.ctx, client.opts.CommandTimeout)
			defer cancel()
			h.hub.Dispatch(ctx, client, pkgws.JoinRoom{BookingID: bookingID})
		}()
	}
}
