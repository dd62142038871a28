package api

import (
	"net/http"

	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/jwt"
	"marketplace-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues tokens for local development. Real tokens come from the
// marketplace's identity service and are signed with the same secret.
type AuthHandler struct {
	jwtService *jwt.Service
	logger     *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(jwtService *jwt.Service, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{
		jwtService: jwtService,
		logger:     logger,
	}
}

type tokenRequest struct {
	UserID string   `json:"userId" binding:"required"`
	Role   jwt.Role `json:"role" binding:"required"`
}

// RegisterRoutes registers the development auth routes
func (h *AuthHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/auth/dev-token", h.IssueToken)
}

// IssueToken signs a token for the given user and role
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Error binding JSON for dev token", "error", err.Error())
		c.Error(errors.NewValidationError("Invalid request format"))
		return
	}

	switch req.Role {
	case jwt.RoleCustomer, jwt.RoleWorker, jwt.RoleAdmin:
	default:
		c.Error(errors.NewValidationError("The provided role is invalid"))
		return
	}

	token, err := h.jwtService.GenerateToken(req.UserID, req.Role)
	if err != nil {
		h.logger.LogError(err, "Error generating token", "user_id", req.UserID)
		c.Error(errors.NewInternalServerError(errors.CodeInternal, "Failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "userId": req.UserID, "role": req.Role})
}
