// Package gateway hosts the coordinator: it accepts bidder connections, keeps
// the connection registry, decodes inbound lines and drives the auction
// session.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/metrics"
	"github.com/mcdev12/gavel/go/internal/auction/protocol"
	"github.com/mcdev12/gavel/go/internal/auction/session"
)

// Notices sent to a single bidder.
const (
	NoticeMalformed           = "Malformed message ignored."
	NoticeInvalidNumber       = "Invalid number in message."
	NoticeUnauthorizedConfirm = "Only last bidder can confirm the final bid."
	NoticeNotOpen             = "No auction is open."
	NoticeSlowDown            = "Too many messages, slow down."
)

var ErrClosed = errors.New("coordinator is closed")

// Config holds configuration for the coordinator
type Config struct {
	Connection     ConnectionConfig
	MaxConnections int
	MaxLinesPerSec float64
	LineBurst      int
}

// DefaultConfig returns default configuration for the coordinator
func DefaultConfig() Config {
	return Config{
		Connection: DefaultConnectionConfig(),
		LineBurst:  5,
	}
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithObserver sets the observer for session and connection notifications
func WithObserver(o events.Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSessionOptions passes extra options to the hosted session
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Coordinator) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// Coordinator is the authoritative side of the auction.
type Coordinator struct {
	config   Config
	session  *session.Session
	registry *Registry
	observer events.Observer
	metrics  metrics.Collector

	sessionOpts []session.Option

	mu        sync.Mutex
	listeners []net.Listener
	closed    bool
	wg        sync.WaitGroup
}

// NewCoordinator creates a coordinator hosting an idle session
func NewCoordinator(config Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		config:   config,
		observer: events.Nop{},
		metrics:  metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.registry = NewRegistry(config.Connection, c.metrics)
	sessionOpts := append([]session.Option{
		session.WithObserver(c.observer),
		session.WithMetrics(c.metrics),
	}, c.sessionOpts...)
	c.session = session.New(c.registry, sessionOpts...)
	return c
}

// ListenAndServe listens on addr and serves bidders until ctx is done or
// Close is called.
func (c *Coordinator) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return c.Serve(ctx, ln)
}

// Serve accepts bidder connections from ln. It returns nil after a clean
// shutdown.
func (c *Coordinator) Serve(ctx context.Context, ln net.Listener) error {
	if c.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, c.config.MaxConnections)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ln.Close()
		return ErrClosed
	}
	c.listeners = append(c.listeners, ln)
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	log.Info().Str("addr", ln.Addr().String()).Msg("coordinator accepting bidders")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if c.isClosed() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if !c.track() {
			conn.Close()
			return nil
		}
		go c.serveConn(NewTCPTransport(conn, int(c.config.Connection.MaxMessageSize)))
	}
}

// track registers a connection handler with the shutdown wait group.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// serveConn reads lines from one bidder until the transport fails. The caller
// must have called track.
func (c *Coordinator) serveConn(t Transport) {
	conn := c.registry.Register(t)
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("connection_id", conn.ID).
				Msg("recovered panic in connection handler")
		}
		c.registry.Remove(conn)
		c.observer.OnDisconnected()
	}()

	// Close may have swept the registry before this connection joined it.
	if c.isClosed() {
		return
	}

	var limiter *rate.Limiter
	if c.config.MaxLinesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.config.MaxLinesPerSec), max(c.config.LineBurst, 1))
	}

	for {
		line, err := t.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.isClosed() {
				log.Debug().Err(err).Str("connection_id", conn.ID).Msg("bidder read failed")
			}
			return
		}
		if limiter != nil && !limiter.Allow() {
			c.reply(conn, NoticeSlowDown)
			continue
		}
		c.handleLine(conn, line)
	}
}

func (c *Coordinator) handleLine(conn *Connection, line string) {
	msg, err := protocol.DecodeClient(line)
	if err != nil {
		c.metrics.RecordMalformed()
		notice := NoticeMalformed
		if errors.Is(err, protocol.ErrInvalidNumber) {
			notice = NoticeInvalidNumber
		}
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Str("line", line).
			Msg("malformed message ignored")
		c.observer.OnInfo(notice)
		c.reply(conn, notice)
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		conn.setName(m.Name)
		text := m.Name + " joined the auction."
		c.broadcast(protocol.Info{Text: text})
		c.observer.OnInfo(text)

	case protocol.Bid:
		if err := c.session.SubmitBid(m.Name, m.Amount); err != nil {
			c.replyError(conn, err)
		}

	case protocol.FinalConfirm:
		if err := c.session.ConfirmFinal(m.Name); err != nil {
			c.replyError(conn, err)
		}
	}
}

// replyError reports a rejected operation to the submitting bidder only.
func (c *Coordinator) replyError(conn *Connection, err error) {
	var rejected *session.BidRejectedError
	switch {
	case errors.As(err, &rejected):
		c.reply(conn, rejected.Notice)
	case errors.Is(err, session.ErrUnauthorizedConfirm):
		c.reply(conn, NoticeUnauthorizedConfirm)
	case errors.Is(err, session.ErrAuctionNotOpen):
		c.reply(conn, NoticeNotOpen)
	case errors.Is(err, protocol.ErrInvalidNumber):
		c.reply(conn, NoticeInvalidNumber)
	case errors.Is(err, protocol.ErrInvalidField):
		c.reply(conn, NoticeMalformed)
	case errors.Is(err, session.ErrShutdown):
	default:
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("unexpected session error")
	}
}

func (c *Coordinator) reply(conn *Connection, text string) {
	line, err := protocol.Encode(protocol.Info{Text: text})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode reply")
		return
	}
	c.registry.SendTo(conn, line)
}

func (c *Coordinator) broadcast(msg protocol.Message) {
	line, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("kind", string(msg.Kind())).Msg("failed to encode broadcast")
		return
	}
	c.registry.Broadcast(line)
}

// StartAuction opens bidding on a new item.
func (c *Coordinator) StartAuction(item string, startingBid, minIncrement decimal.Decimal) error {
	return c.session.StartAuction(item, startingBid, minIncrement)
}

// ResetAuction replaces the current item and announces NEW_AUCTION.
func (c *Coordinator) ResetAuction(item string, startingBid, minIncrement decimal.Decimal) error {
	return c.session.ResetAuction(item, startingBid, minIncrement)
}

// RequestFinalBid asks the high bidder to confirm.
func (c *Coordinator) RequestFinalBid() error {
	return c.session.RequestFinalBid()
}

// Snapshot returns the current session state
func (c *Coordinator) Snapshot() session.Snapshot {
	return c.session.Snapshot()
}

// Stats returns statistics about attached bidders
func (c *Coordinator) Stats() Stats {
	return c.registry.Stats()
}

// Close stops the session, the listeners and every connection, then waits for
// connection handlers to exit. It is safe to call more than once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	c.session.Shutdown()

	var errs []error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	c.registry.CloseAll()
	c.wg.Wait()

	log.Info().Msg("coordinator stopped")
	return errors.Join(errs...)
}
