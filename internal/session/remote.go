package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"
	pkgws "marketplace-chat/backend/pkg/ws"

	"github.com/gorilla/websocket"
)

// RemoteConfig points a RemoteBackend at a chat server
type RemoteConfig struct {
	// BaseURL is the server root, e.g. http://localhost:8080
	BaseURL string
	Token   string
	UserID  string
	Timeout time.Duration
	// EventBuffer bounds events not yet consumed by the Manager
	EventBuffer int
}

// RemoteBackend talks to the server over HTTP for request/response calls and
// keeps one websocket open for room membership and pushed events.
type RemoteBackend struct {
	cfg    RemoteConfig
	client *http.Client
	conn   *websocket.Conn
	log    *logger.Logger

	writeMu sync.Mutex
	ackMu   sync.Mutex
	acks    map[string]chan error

	events    chan pkgws.Event
	done      chan struct{}
	closeOnce sync.Once
}

// DialRemote opens the websocket and starts reading events
func DialRemote(ctx context.Context, cfg RemoteConfig, log *logger.Logger) (*RemoteBackend, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 64
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	wsURL, err := websocketURL(cfg.BaseURL, cfg.Token)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.NewTransientError("Could not connect to chat server", err)
	}

	b := &RemoteBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		conn:   conn,
		log:    log.WithUserID(cfg.UserID),
		acks:   make(map[string]chan error),
		events: make(chan pkgws.Event, cfg.EventBuffer),
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func websocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func (b *RemoteBackend) UserID() string             { return b.cfg.UserID }
func (b *RemoteBackend) Events() <-chan pkgws.Event { return b.events }

// Close shuts the websocket; Events is closed once the reader exits
func (b *RemoteBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.writeMu.Lock()
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		b.writeMu.Unlock()
		err = b.conn.Close()
	})
	return err
}

func (b *RemoteBackend) readLoop() {
	defer close(b.events)
	defer b.failAcks(errors.NewTransientError("Chat connection closed", nil))

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case <-b.done:
			default:
				b.log.Warn("Chat connection lost", "error", err.Error())
			}
			return
		}

		evt, err := pkgws.DecodeEvent(data)
		if err != nil {
			b.log.Debug("Skipping unknown frame", "error", err.Error())
			continue
		}

		switch e := evt.(type) {
		case pkgws.RoomJoined:
			b.resolve(e.BookingID, nil)
		case pkgws.ErrorEvent:
			b.resolve(e.BookingID, errors.FromCode(e.Code, e.Message))
		}

		select {
		case b.events <- evt:
		case <-b.done:
			return
		}
	}
}

func (b *RemoteBackend) resolve(bookingID string, err error) {
	b.ackMu.Lock()
	ch, ok := b.acks[bookingID]
	delete(b.acks, bookingID)
	b.ackMu.Unlock()
	if ok {
		ch <- err
	}
}

func (b *RemoteBackend) failAcks(err error) {
	b.ackMu.Lock()
	defer b.ackMu.Unlock()
	for id, ch := range b.acks {
		ch <- err
		delete(b.acks, id)
	}
}

func (b *RemoteBackend) write(cmd pkgws.Command) error {
	data, err := pkgws.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(b.cfg.Timeout))
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.NewTransientError("Could not reach chat server", err)
	}
	return nil
}

// Join sends joinRoom and waits for the server's roomJoined or error reply.
// If ctx ends after joinRoom went out, a leaveRoom follows it so the server
// does not keep a membership the caller never saw.
func (b *RemoteBackend) Join(ctx context.Context, bookingID string) error {
	ack := make(chan error, 1)
	b.ackMu.Lock()
	b.acks[bookingID] = ack
	b.ackMu.Unlock()

	if err := b.write(pkgws.JoinRoom{BookingID: bookingID}); err != nil {
		b.resolve(bookingID, err)
		return err
	}

	if ctx.Err() == nil {
		select {
		case err := <-ack:
			return err
		case <-ctx.Done():
		}
	}
	b.abandonJoin(bookingID, ack)
	return ctx.Err()
}

func (b *RemoteBackend) abandonJoin(bookingID string, ack chan error) {
	b.ackMu.Lock()
	if b.acks[bookingID] == ack {
		delete(b.acks, bookingID)
	}
	b.ackMu.Unlock()

	if err := b.write(pkgws.LeaveRoom{BookingID: bookingID}); err != nil {
		b.log.WithBooking(bookingID).Warn("Failed to undo cancelled join", "error", err.Error())
	}
}

func (b *RemoteBackend) Leave(_ context.Context, bookingID string) error {
	return b.write(pkgws.LeaveRoom{BookingID: bookingID})
}

func (b *RemoteBackend) History(ctx context.Context, bookingID string) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	err := b.do(ctx, http.MethodGet, "/api/v1/chat/booking-messages/"+url.PathEscape(bookingID), nil, "", &out)
	return out.Messages, err
}

func (b *RemoteBackend) Send(ctx context.Context, bookingID, content string, attachment *Attachment) (*models.Message, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("bookingId", bookingID)
	_ = w.WriteField("senderId", b.cfg.UserID)
	_ = w.WriteField("content", content)
	if attachment != nil {
		name := attachment.Name
		if name == "" {
			name = "upload"
		}
		part, err := w.CreateFormFile("media", name)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, attachment.Data); err != nil {
			return nil, errors.NewValidationError("Could not read attachment")
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var msg models.Message
	if err := b.do(ctx, http.MethodPost, "/api/v1/chat/send-message", &body, w.FormDataContentType(), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (b *RemoteBackend) React(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	payload, err := json.Marshal(map[string]string{"emoji": emoji})
	if err != nil {
		return nil, err
	}
	var msg models.Message
	path := "/api/v1/chat/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := b.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json", &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (b *RemoteBackend) MarkRead(ctx context.Context, bookingID string) error {
	path := "/api/v1/chat/booking-messages/" + url.PathEscape(bookingID) + "/read"
	return b.do(ctx, http.MethodPost, path, nil, "", nil)
}

// do performs an authenticated request and decodes either out or the error envelope
func (b *RemoteBackend) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.NewTransientError("Chat server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
			return errors.NewError(resp.StatusCode, errors.CodeInternal, fmt.Sprintf("Unexpected status %d", resp.StatusCode))
		}
		return errors.NewError(resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewTransientError("Malformed response from chat server", err)
	}
	return nil
}
