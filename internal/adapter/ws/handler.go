// Package ws implements the WebSocket chat adapter: a client opens one
// connection and streams any number of sequential chat requests over it.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/alextavares/aichat-sub001/internal/domain"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/middleware"
	"github.com/alextavares/aichat-sub001/internal/service"
)

const maxMessageSize = 1 << 20 // 1 MB

// Streamer runs a streamed, billed chat dispatch.
type Streamer interface {
	StreamWithCallbacks(ctx context.Context, caller service.Caller, msgs []chat.Message, modelID string, opts chat.Options, cb service.Callbacks) (*chat.Outcome, error)
}

// conn wraps a single WebSocket connection. At most one request runs on it
// at a time.
type conn struct {
	ws     *websocket.Conn
	caller service.Caller
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu       sync.Mutex
	activeID string
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// Hub accepts chat sockets and tracks them for shutdown.
type Hub struct {
	gateway Streamer
	origins []string

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub serving chats through gateway. origins are the
// accepted Origin host patterns; none means same-origin only.
func NewHub(gateway Streamer, origins ...string) *Hub {
	return &Hub{
		gateway: gateway,
		origins: origins,
		conns:   make(map[*conn]struct{}),
	}
}

// HandleChat upgrades an identified request and serves chat messages until
// the client disconnects.
func (h *Hub) HandleChat(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, caller: caller, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	slog.InfoContext(ctx, "websocket connected", "remote", r.RemoteAddr)

	defer func() {
		h.remove(c)
		c.cancelActive("")
		c.wg.Wait()
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var msg Message
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			return
		}
		switch msg.Type {
		case TypeChatRequest:
			c.start(ctx, h.gateway, msg)
		case TypeChatCancel:
			c.cancelActive(msg.ID)
		default:
			c.sendError(ctx, msg.ID, fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, msg.Type))
		}
	}
}

func (c *conn) start(ctx context.Context, g Streamer, msg Message) {
	var req ChatRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Model == "" {
		c.sendError(ctx, msg.ID, fmt.Errorf("%w: payload needs a model and messages", domain.ErrValidation))
		return
	}

	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		c.sendError(ctx, msg.ID, fmt.Errorf("%w: request %s is still running", domain.ErrValidation, c.activeID))
		return
	}
	reqCtx, stop := context.WithCancel(ctx)
	c.activeID, c.stop = msg.ID, stop
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer c.finish()
		c.run(ctx, reqCtx, g, msg.ID, req)
	}()
}

// run streams one request. Events are written with the connection context
// so a cancelled request can still be reported.
func (c *conn) run(connCtx, reqCtx context.Context, g Streamer, id string, req ChatRequest) {
	cb := service.Callbacks{
		OnToken:    func(d string) { c.send(connCtx, TypeToken, id, TokenEvent{Delta: d}) },
		OnComplete: func(o *chat.Outcome) { c.send(connCtx, TypeComplete, id, o) },
		OnError:    func(err error) { c.sendError(connCtx, id, err) },
	}
	_, err := g.StreamWithCallbacks(reqCtx, c.caller, req.Messages, req.Model, req.Options, cb)

	var acc *chat.AccountingError
	if errors.As(err, &acc) {
		c.send(connCtx, TypeAccountingError, id, errorEvent(err))
	}
}

func (c *conn) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
	}
	c.activeID, c.stop = "", nil
}

// cancelActive stops the running request. An empty id matches any request.
func (c *conn) cancelActive(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil && (id == "" || id == c.activeID) {
		c.stop()
	}
}

func (c *conn) send(ctx context.Context, typ, id string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "websocket marshal failed", "type", typ, "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, c.ws, Message{Type: typ, ID: id, Payload: data}); err != nil {
		slog.DebugContext(ctx, "websocket write failed", "error", err)
		c.cancel()
	}
}

func (c *conn) sendError(ctx context.Context, id string, err error) {
	ev := errorEvent(err)
	if ev.Code == chat.CodeInternal {
		slog.ErrorContext(ctx, "websocket chat failed", "id", id, "error", err)
	}
	c.send(ctx, TypeError, id, ev)
}

func errorEvent(err error) ErrorEvent {
	code := chat.Code(err)
	if code == chat.CodeInternal && errors.Is(err, context.Canceled) {
		code = CodeCancelled
	}

	ev := ErrorEvent{Code: code, Retryable: code == chat.CodeExhausted}
	var denied *chat.QuotaDeniedError
	switch {
	case errors.As(err, &denied):
		ev.Error = denied.Reason
	case code == chat.CodeValidation:
		ev.Error = strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
	case errorMessages[code] != "":
		ev.Error = errorMessages[code]
	default:
		ev.Error = "internal error"
	}
	return ev
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client. Running requests are cancelled and
// billed for what they delivered.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.cancelActive("")
		c.wg.Wait()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "user_id", c.caller.UserID)
	}
}
