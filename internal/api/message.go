package api

import (
	"net/http"
	"strings"

	"marketplace-chat/backend/internal/media"
	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/internal/service"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"
	"marketplace-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ChatController serves the HTTP side of booking chat
type ChatController struct {
	chat  *service.ChatService
	media *media.Store
	log   *logger.Logger
}

// NewChatController creates a new chat controller. store may be nil, in which
// case media uploads are rejected.
func NewChatController(chat *service.ChatService, store *media.Store, log *logger.Logger) *ChatController {
	return &ChatController{chat: chat, media: store, log: log}
}

// RegisterRoutes registers the chat routes on an authenticated group
func (h *ChatController) RegisterRoutes(group *gin.RouterGroup) {
	chat := group.Group("/chat")
	{
		chat.GET("/booking-messages/:bookingId", h.ListMessages)
		chat.POST("/booking-messages/:bookingId/read", h.MarkRead)
		chat.GET("/unread/:bookingId", h.UnreadCount)
		chat.POST("/send-message", h.SendMessage)
		chat.POST("/messages/:messageId/reactions", h.AddReaction)
	}
}

type reactionRequest struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji" binding:"required"`
	UserID    string `json:"userId"`
}

func caller(c *gin.Context) (string, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok || claims.UserID == "" {
		c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authentication required"))
		return "", false
	}
	return claims.UserID, true
}

// sameUser rejects a body identity that differs from the token's
func sameUser(c *gin.Context, claimed, userID string) bool {
	if claimed != "" && claimed != userID {
		c.Error(errors.NewForbiddenError(errors.CodeForbidden, "Identity does not match the authenticated user"))
		return false
	}
	return true
}

// ListMessages returns a booking's history
func (h *ChatController) ListMessages(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	messages, err := h.chat.History(c.Request.Context(), c.Param("bookingId"), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// MarkRead marks the counterpart's messages read
func (h *ChatController) MarkRead(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	bookingID := c.Param("bookingId")
	if err := h.chat.MarkRead(c.Request.Context(), bookingID, userID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookingId": bookingID, "success": true})
}

// UnreadCount returns the caller's unread counter for a booking
func (h *ChatController) UnreadCount(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	bookingID := c.Param("bookingId")
	n, err := h.chat.UnreadCount(c.Request.Context(), bookingID, userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookingId": bookingID, "count": n})
}

// SendMessage posts a message (multipart form, optional "media" file). A JSON
// body is the older reaction variant and is handled like AddReaction.
func (h *ChatController) SendMessage(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	if strings.HasPrefix(c.ContentType(), "application/json") {
		h.legacyReaction(c, userID)
		return
	}

	bookingID := c.PostForm("bookingId")
	if !sameUser(c, c.PostForm("senderId"), userID) {
		return
	}
	content := c.PostForm("content")
	ctx := c.Request.Context()

	var attachment *models.Media
	if file, err := c.FormFile("media"); err == nil {
		if h.media == nil {
			c.Error(errors.NewValidationError("Media uploads are disabled"))
			return
		}
		// nothing is written for a booking the caller cannot post to
		if err := h.chat.CanSend(ctx, bookingID, userID); err != nil {
			c.Error(err)
			return
		}
		f, err := file.Open()
		if err != nil {
			c.Error(errors.NewValidationError("Could not read upload"))
			return
		}
		defer f.Close()

		attachment, err = h.media.Save(ctx, f)
		if err != nil {
			c.Error(err)
			return
		}
	}

	msg, err := h.chat.SendMessage(ctx, bookingID, userID, content, attachment)
	if err != nil {
		if attachment != nil {
			if rmErr := h.media.Remove(attachment); rmErr != nil {
				logger.FromContext(ctx).LogError(rmErr, "Failed to remove orphaned upload", "url", attachment.URL)
			}
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatController) legacyReaction(c *gin.Context, userID string) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("Invalid request format"))
		return
	}
	if !sameUser(c, req.UserID, userID) {
		return
	}

	msg, err := h.chat.React(c.Request.Context(), req.MessageID, userID, req.Emoji)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reaction":  models.Reaction{Emoji: req.Emoji, UserID: userID},
		"reactions": msg.Reactions,
	})
}

// AddReaction reacts to a message and returns it with all its reactions
func (h *ChatController) AddReaction(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("Invalid request format"))
		return
	}
	if !sameUser(c, req.UserID, userID) {
		return
	}

	msg, err := h.chat.React(c.Request.Context(), c.Param("messageId"), userID, req.Emoji)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, msg)
}
