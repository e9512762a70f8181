// Package operator exposes the auctioneer's commands and the coordinator's
// read-only views over HTTP.
package operator

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/gateway"
	"github.com/mcdev12/gavel/go/internal/auction/protocol"
	"github.com/mcdev12/gavel/go/internal/auction/session"
)

// Auctioneer is the coordinator surface the operator drives
type Auctioneer interface {
	StartAuction(item string, startingBid, minIncrement decimal.Decimal) error
	ResetAuction(item string, startingBid, minIncrement decimal.Decimal) error
	RequestFinalBid() error
	Snapshot() session.Snapshot
	Stats() gateway.Stats
}

// EventSource lists recent auction events
type EventSource interface {
	Recent() []events.AuctionEvent
}

// AuctionRequest is the body of the start and reset commands
type AuctionRequest struct {
	Item         string          `json:"item"`
	StartingBid  decimal.Decimal `json:"starting_bid"`
	MinIncrement decimal.Decimal `json:"min_increment"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Option configures a Handler
type Option func(*Handler)

// WithEvents serves GET /v1/auction/events from source
func WithEvents(source EventSource) Option {
	return func(h *Handler) { h.events = source }
}

// WithMetricsHandler mounts a metrics exposition handler at /metrics
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithWebSocket mounts the bidder websocket endpoint at /ws
func WithWebSocket(ws http.Handler) Option {
	return func(h *Handler) { h.ws = ws }
}

// WithAllowedOrigins restricts CORS origins. The default allows all.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		if len(origins) > 0 {
			h.allowedOrigins = origins
		}
	}
}

// Handler holds the operator HTTP handlers and their dependencies
type Handler struct {
	auction        Auctioneer
	events         EventSource
	metrics        http.Handler
	ws             http.Handler
	allowedOrigins []string
}

// NewHandler creates a new operator handler
func NewHandler(auction Auctioneer, opts ...Option) *Handler {
	h := &Handler{
		auction:        auction,
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router wrapped in CORS.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/v1/auction", func(r chi.Router) {
		r.Post("/start", h.StartAuction)
		r.Post("/reset", h.ResetAuction)
		r.Post("/final-request", h.RequestFinalBid)
		r.Get("/state", h.GetState)
		if h.events != nil {
			r.Get("/events", h.GetEvents)
		}
	})

	r.Get("/healthz", h.Health)
	r.Get("/stats", h.GetStats)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	if h.ws != nil {
		r.Method(http.MethodGet, "/ws", h.ws)
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: h.allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartAuction handles POST /v1/auction/start
func (h *Handler) StartAuction(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, h.auction.StartAuction)
}

// ResetAuction handles POST /v1/auction/reset
func (h *Handler) ResetAuction(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, h.auction.ResetAuction)
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request, op func(string, decimal.Decimal, decimal.Decimal) error) {
	var req AuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := op(req.Item, req.StartingBid, req.MinIncrement); err != nil {
		h.respondSessionError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.auction.Snapshot())
}

// RequestFinalBid handles POST /v1/auction/final-request
func (h *Handler) RequestFinalBid(w http.ResponseWriter, r *http.Request) {
	if err := h.auction.RequestFinalBid(); err != nil {
		h.respondSessionError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.auction.Snapshot())
}

// GetState handles GET /v1/auction/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.auction.Snapshot())
}

// GetEvents handles GET /v1/auction/events
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.events.Recent())
}

// GetStats handles GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.auction.Stats())
}

func (h *Handler) respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidAuction), errors.Is(err, protocol.ErrInvalidField):
		h.respondError(w, http.StatusBadRequest, "invalid auction", err.Error())
	case errors.Is(err, session.ErrNoBids):
		h.respondError(w, http.StatusConflict, "no bids", session.NoticeNoBidsYet)
	case errors.Is(err, session.ErrAuctionNotOpen):
		h.respondError(w, http.StatusConflict, "auction not open", err.Error())
	case errors.Is(err, session.ErrShutdown):
		h.respondError(w, http.StatusServiceUnavailable, "shutting down", err.Error())
	default:
		log.Error().Err(err).Msg("operator command failed")
		h.respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// respondJSON sends a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// respondError sends an error response
func (h *Handler) respondError(w http.ResponseWriter, status int, errorMsg, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: errorMsg, Message: message})
}

// requestLogger logs each request once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
