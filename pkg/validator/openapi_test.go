package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marketplace-chat/backend/api/openapi"
	"marketplace-chat/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v, err := NewOpenAPIValidator(openapi.Document, "/api/v1")
	require.NoError(t, err)

	r := gin.New()
	r.Use(errors.ErrorHandler(), v.Middleware())
	handler := func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusTeapot)
			return
		}
		c.JSON(http.StatusOK, body)
	}
	r.POST("/chat/messages/:messageId/reactions", handler)
	r.POST("/api/v1/chat/messages/:messageId/reactions", handler)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestValidatorRejectsUnknownEmoji(t *testing.T) {
	r := newEngine(t)

	for _, path := range []string{"/chat/messages/m1/reactions", "/api/v1/chat/messages/m1/reactions"} {
		w := post(r, path, `{"emoji":"🤖"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), errors.CodeValidation)
	}
}

func TestValidatorPassesBodyThrough(t *testing.T) {
	r := newEngine(t)

	w := post(r, "/api/v1/chat/messages/m1/reactions", `{"emoji":"👍"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "👍")
}
