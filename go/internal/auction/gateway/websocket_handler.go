package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketOption configures a WebSocketHandler
type WebSocketOption func(*WebSocketHandler)

// WithOrigins lists the browser origins allowed to open a bidder socket. "*"
// allows any origin. Without it only same-origin browsers and clients that
// send no Origin header are accepted.
func WithOrigins(origins ...string) WebSocketOption {
	return func(h *WebSocketHandler) {
		h.allowedOrigins = origins
	}
}

// WebSocketHandler attaches bidders over websocket. Each text frame carries
// exactly one protocol line.
type WebSocketHandler struct {
	coordinator    *Coordinator
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(c *Coordinator, opts ...WebSocketOption) *WebSocketHandler {
	h := &WebSocketHandler{coordinator: c}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Browsers do not apply CORS to the upgrade request, so the origin is
		// checked here.
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP upgrades the request and serves the bidder until it disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.coordinator.track() {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.coordinator.wg.Done()
		// Upgrade has already written the error response.
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("failed to upgrade WebSocket connection")
		return
	}

	h.coordinator.serveConn(NewWebSocketTransport(conn, h.coordinator.config.Connection.MaxMessageSize))
}
