package router

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/internal/repository"
	"marketplace-chat/backend/internal/service"
	"marketplace-chat/backend/internal/session"
	"marketplace-chat/backend/pkg/config"
	"marketplace-chat/backend/pkg/di"
	"marketplace-chat/backend/pkg/jwt"
	"marketplace-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r := New(newTestContainer(t))
	r.SetupRoutes()
	return r
}

func newTestContainer(t *testing.T) *di.Container {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	cfg := config.Load()
	cfg.Server.Env = "test"
	cfg.Database.Driver = config.DriverMemory
	cfg.Redis.Enabled = false
	cfg.Chat.UploadDir = t.TempDir()
	cfg.Chat.MediaBaseURL = "/uploads"
	cfg.Security.RateLimit = 1000
	cfg.Security.RateLimitBurst = 1000
	cfg.Security.AllowedOrigins = []string{"*"}
	cfg.OpenAPI.Validate = true
	cfg.OpenAPI.SchemaPath = ""

	container, err := di.New(ctx, cfg, logger.Discard(), di.Options{
		JWTSecret: "test-secret",
		Bookings: []models.Booking{
			{ID: "BK1", CustomerID: "C", WorkerID: "W", Status: models.BookingAccepted},
			{ID: "BK-done", CustomerID: "C", WorkerID: "W", Status: models.BookingCompleted},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close(context.Background()) })
	container.Health.RunChecks(ctx)
	return container
}

func tokenFor(t *testing.T, r *Router, userID string, role jwt.Role) string {
	t.Helper()
	token, err := r.Container.JWTService.GenerateToken(userID, role)
	require.NoError(t, err)
	return token
}

func call(r *Router, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func callJSON(r *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	return call(r, method, path, token, reader, "application/json")
}

func sendForm(t *testing.T, r *Router, path, token string, fields map[string]string, media []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if media != nil {
		fw, err := mw.CreateFormFile("media", "upload.bin")
		require.NoError(t, err)
		_, err = fw.Write(media)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return call(r, http.MethodPost, path, token, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	w := call(r, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "message_store")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = call(r, http.MethodGet, "/health/live", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "websocket")

	w = call(r, http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(r, http.MethodGet, "/api/docs/openapi.yaml", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sendMessage")
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestChatRequiresToken(t *testing.T) {
	r := newTestRouter(t)

	w := call(r, http.MethodGet, "/api/v1/chat/booking-messages/BK1", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(r, http.MethodGet, "/api/v1/chat/booking-messages/BK1", "not-a-token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(r, http.MethodGet, "/api/v1/chat/booking-messages/BK1", tokenFor(t, r, "C", jwt.Role("guest")), nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INSUFFICIENT_ROLE", decode[errorBody](t, w).Error.Code)
}

func TestDevToken(t *testing.T) {
	r := newTestRouter(t)

	w := callJSON(r, http.MethodPost, "/api/v1/auth/dev-token", "", map[string]string{"userId": "C", "role": "customer"})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode[map[string]string](t, w)

	w = call(r, http.MethodGet, "/api/v1/chat/booking-messages/BK1", body["token"], nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = callJSON(r, http.MethodPost, "/api/v1/auth/dev-token", "", map[string]string{"userId": "C", "role": "admiral"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPChatFlow(t *testing.T) {
	r := newTestRouter(t)
	customer := tokenFor(t, r, "C", jwt.RoleCustomer)
	worker := tokenFor(t, r, "W", jwt.RoleWorker)

	w := sendForm(t, r, "/api/v1/chat/send-message", customer, map[string]string{
		"bookingId": "BK1", "senderId": "C", "content": "Hello",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sent := decode[models.Message](t, w)
	assert.Equal(t, "Hello", sent.Content)
	assert.Equal(t, models.MessageTypeText, sent.Type)

	// body identity must match the token
	w = sendForm(t, r, "/api/v1/chat/send-message", customer, map[string]string{
		"bookingId": "BK1", "senderId": "W", "content": "spoof",
	}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(r, http.MethodGet, "/api/v1/chat/unread/BK1", worker, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = callJSON(r, http.MethodPost, "/api/v1/chat/messages/"+sent.ID+"/reactions", worker, map[string]string{"emoji": "👍"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reacted := decode[models.Message](t, w)
	require.Len(t, reacted.Reactions, 1)
	assert.Equal(t, "W", reacted.Reactions[0].UserID)

	// older clients post reactions as JSON to the unversioned send route
	w = callJSON(r, http.MethodPost, "/chat/send-message", customer, map[string]string{"messageId": sent.ID, "emoji": "❤️"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	legacy := decode[struct {
		Reaction  models.Reaction   `json:"reaction"`
		Reactions []models.Reaction `json:"reactions"`
	}](t, w)
	assert.Equal(t, "❤️", legacy.Reaction.Emoji)
	assert.Len(t, legacy.Reactions, 2)

	w = callJSON(r, http.MethodPost, "/api/v1/chat/messages/"+sent.ID+"/reactions", worker, map[string]string{"emoji": "🙃"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[errorBody](t, w).Error.Code)

	w = call(r, http.MethodPost, "/api/v1/chat/booking-messages/BK1/read", worker, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = call(r, http.MethodGet, "/chat/unread/BK1", worker, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["count"])

	w = call(r, http.MethodGet, "/api/v1/chat/booking-messages/BK1", customer, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, w)
	require.Len(t, history.Messages, 1)
	assert.True(t, history.Messages[0].IsRead)
	assert.Len(t, history.Messages[0].Reactions, 2)
}

func TestChatRejections(t *testing.T) {
	r := newTestRouter(t)
	customer := tokenFor(t, r, "C", jwt.RoleCustomer)
	stranger := tokenFor(t, r, "X", jwt.RoleCustomer)

	w := sendForm(t, r, "/api/v1/chat/send-message", customer, map[string]string{
		"bookingId": "BK-done", "content": "late",
	}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "CHAT_NOT_ALLOWED", decode[errorBody](t, w).Error.Code)

	// history of a finished booking stays readable
	w = call(r, http.MethodGet, "/api/v1/chat/booking-messages/BK-done", customer, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(r, http.MethodGet, "/api/v1/chat/booking-messages/BK1", stranger, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_A_PARTICIPANT", decode[errorBody](t, w).Error.Code)

	w = call(r, http.MethodGet, "/api/v1/chat/booking-messages/nope", customer, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = sendForm(t, r, "/api/v1/chat/send-message", customer, map[string]string{
		"bookingId": "BK1", "content": "   ",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMediaUpload(t *testing.T) {
	r := newTestRouter(t)
	customer := tokenFor(t, r, "C", jwt.RoleCustomer)

	w := sendForm(t, r, "/api/v1/chat/send-message", customer, map[string]string{
		"bookingId": "BK1", "content": "photo of the sink",
	}, pngHeader)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := decode[models.Message](t, w)
	assert.Equal(t, models.MessageTypeMedia, msg.Type)
	assert.Equal(t, "image/png", msg.MediaType)
	require.True(t, strings.HasPrefix(msg.MediaURL, "/uploads/"), msg.MediaURL)

	w = call(r, http.MethodGet, msg.MediaURL, "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngHeader, w.Body.Bytes())

	// nothing is stored for a booking the caller cannot post to
	w = sendForm(t, r, "/api/v1/chat/send-message", customer, map[string]string{
		"bookingId": "BK-done", "content": "late photo",
	}, pngHeader)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = sendForm(t, r, "/api/v1/chat/send-message", customer, map[string]string{
		"bookingId": "BK1",
	}, []byte("#!/bin/sh\necho hi\n"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func remoteUser(t *testing.T, r *Router, baseURL, userID string, role jwt.Role) *session.Manager {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	backend, err := session.DialRemote(ctx, session.RemoteConfig{
		BaseURL: baseURL,
		Token:   tokenFor(t, r, userID, role),
		UserID:  userID,
		Timeout: 5 * time.Second,
	}, logger.Discard())
	require.NoError(t, err)

	m := session.NewManager(backend, logger.Discard())
	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(runCtx)
	}()
	t.Cleanup(func() {
		stop()
		_ = backend.Close()
		<-done
	})
	return m
}

func TestRemoteSessionsOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	srv := httptest.NewServer(r.Engine)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	customer := remoteUser(t, r, srv.URL, "C", jwt.RoleCustomer)
	worker := remoteUser(t, r, srv.URL, "W", jwt.RoleWorker)

	c, err := customer.Open(ctx, "BK1")
	require.NoError(t, err)

	sent, err := c.Send(ctx, "Hello", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return worker.Unread("BK1") == 1 }, 2*time.Second, 10*time.Millisecond)

	w, err := worker.Open(ctx, "BK1")
	require.NoError(t, err)
	require.Len(t, w.Messages(), 1)
	assert.Equal(t, sent.ID, w.Messages()[0].ID)
	assert.Zero(t, worker.Unread("BK1"))

	_, err = w.React(ctx, sent.ID, "👍")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		m := c.Messages()
		return len(m) == 1 && len(m[0].Reactions) == 1 && m[0].IsRead
	}, 2*time.Second, 10*time.Millisecond)

	photo, err := w.Send(ctx, "see attached", &session.Attachment{Name: "sink.png", Data: bytes.NewReader(pngHeader)})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeMedia, photo.Type)
	assert.Eventually(t, func() bool { return len(c.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)

	_, err = customer.Open(ctx, "BK-done")
	require.Error(t, err)
}

func TestCancelledRemoteJoinIsUndone(t *testing.T) {
	r := newTestRouter(t)
	srv := httptest.NewServer(r.Engine)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	backend, err := session.DialRemote(ctx, session.RemoteConfig{
		BaseURL:     srv.URL,
		Token:       tokenFor(t, r, "C", jwt.RoleCustomer),
		UserID:      "C",
		Timeout:     5 * time.Second,
		EventBuffer: 16,
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	go func() {
		for range backend.Events() {
		}
	}()

	gone, stop := context.WithCancel(ctx)
	stop()
	err = backend.Join(gone, "BK1")
	assert.ErrorIs(t, err, context.Canceled)

	// the server handles frames in order, so this reply comes after the undo
	require.Error(t, backend.Join(ctx, "BK-done"))
	assert.False(t, r.Container.Broker.IsUserJoined("BK1", "C"))
}

type downStore struct {
	*repository.MemoryMessageRepository
}

func (downStore) Create(context.Context, *models.Message) error {
	return stderrors.New("connection refused")
}

func TestFailedSendRemovesUpload(t *testing.T) {
	container := newTestContainer(t)
	log := logger.Discard()
	messages := service.NewMessageService(downStore{repository.NewMemoryMessageRepository()}, log)
	container.ChatService = service.NewChatService(messages, container.BookingService, container.Tracker, container.Channel, log)
	r := New(container)
	r.SetupRoutes()

	w := sendForm(t, r, "/api/v1/chat/send-message", tokenFor(t, r, "C", jwt.RoleCustomer), map[string]string{
		"bookingId": "BK1",
		"senderId":  "C",
	}, pngHeader)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	entries, err := os.ReadDir(container.Config.Chat.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file is left behind for a message that was not stored")
}
