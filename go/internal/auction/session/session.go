// Package session implements the authoritative single-item auction state
// machine hosted by the coordinator.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/metrics"
	"github.com/mcdev12/gavel/go/internal/auction/protocol"
	"github.com/mcdev12/gavel/go/internal/auction/rules"
)

// State is the lifecycle stage of the current item.
type State string

const (
	StateIdle          State = "idle"
	StateOpen          State = "open"
	StateAwaitingFinal State = "awaiting_final"
	StateClosed        State = "closed"
)

// Notices broadcast or reported locally.
const (
	NoticeNoWinningBids = "Time up. No winning bids."
	NoticeNoBidsYet     = "No bids yet!"
)

var (
	ErrInvalidAuction      = errors.New("invalid auction parameters")
	ErrAuctionNotOpen      = errors.New("no auction is open for bidding")
	ErrNoBids              = errors.New("no bids yet")
	ErrUnauthorizedConfirm = errors.New("only the last bidder can confirm the final bid")
	ErrShutdown            = errors.New("auction session is shut down")
)

// BidRejectedError is returned when a bid fails the bid rule. It is reported
// only to the submitter.
type BidRejectedError struct {
	Verdict rules.Verdict
	Notice  string
}

func (e *BidRejectedError) Error() string {
	return e.Notice
}

// Broadcaster delivers an encoded line to every attached bidder. It must not
// block; it is called with the session locked.
type Broadcaster interface {
	Broadcast(line string)
}

// Snapshot is a point-in-time copy of session state
type Snapshot struct {
	State            State           `json:"state"`
	Item             string          `json:"item"`
	StartingBid      decimal.Decimal `json:"starting_bid"`
	MinIncrement     decimal.Decimal `json:"min_increment"`
	HighBid          decimal.Decimal `json:"high_bid"`
	HighBidder       string          `json:"high_bidder,omitempty"`
	AwaitingFinal    bool            `json:"awaiting_final"`
	TimeRemainingSec int             `json:"time_remaining_sec"`
	CountdownRunning bool            `json:"countdown_running"`
}

// Session owns all auction state. Every operation, timer ticks included, runs
// its validate, apply and broadcast sequence under mu.
type Session struct {
	mu sync.Mutex

	state         State
	item          string
	startingBid   decimal.Decimal
	minIncrement  decimal.Decimal
	highBid       decimal.Decimal
	highBidder    string
	awaitingFinal bool
	shutdown      bool

	countdown *countdown
	out       Broadcaster
	observer  events.Observer
	metrics   metrics.Collector
}

// Option configures a Session
type Option func(*config)

type config struct {
	clock        clockwork.Clock
	countdownSec int
	observer     events.Observer
	metrics      metrics.Collector
}

// WithClock replaces the real clock, typically with a clockwork.FakeClock
func WithClock(clock clockwork.Clock) Option {
	return func(c *config) { c.clock = clock }
}

// WithCountdown sets the inactivity window in seconds
func WithCountdown(seconds int) Option {
	return func(c *config) {
		if seconds > 0 {
			c.countdownSec = seconds
		}
	}
}

// WithObserver sets the observer notified of every state change
func WithObserver(o events.Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates an idle session that broadcasts through out
func New(out Broadcaster, opts ...Option) *Session {
	cfg := config{
		clock:        clockwork.NewRealClock(),
		countdownSec: DefaultCountdownSec,
		observer:     events.Nop{},
		metrics:      metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Session{
		state:        StateIdle,
		startingBid:  decimal.Zero,
		minIncrement: decimal.Zero,
		highBid:      decimal.Zero,
		countdown:    newCountdown(cfg.clock, cfg.countdownSec),
		out:          out,
		observer:     cfg.observer,
		metrics:      cfg.metrics,
	}
}

// StartAuction opens bidding on a new item from any state and broadcasts START.
func (s *Session) StartAuction(item string, startingBid, minIncrement decimal.Decimal) error {
	return s.open(item, startingBid, minIncrement, false)
}

// ResetAuction behaves like StartAuction but broadcasts NEW_AUCTION.
func (s *Session) ResetAuction(item string, startingBid, minIncrement decimal.Decimal) error {
	return s.open(item, startingBid, minIncrement, true)
}

func (s *Session) open(item string, startingBid, minIncrement decimal.Decimal, reset bool) error {
	item = strings.TrimSpace(item)
	if err := protocol.ValidateField("item", item); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAuction, err)
	}
	if startingBid.IsNegative() || minIncrement.IsNegative() {
		return fmt.Errorf("%w: amounts must not be negative", ErrInvalidAuction)
	}
	if err := protocol.CheckAmount(startingBid); err != nil {
		return fmt.Errorf("%w: starting bid: %w", ErrInvalidAuction, err)
	}
	if err := protocol.CheckAmount(minIncrement); err != nil {
		return fmt.Errorf("%w: min increment: %w", ErrInvalidAuction, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrShutdown
	}

	s.item = item
	s.startingBid = startingBid
	s.minIncrement = minIncrement
	s.highBid = decimal.Zero
	s.highBidder = ""
	s.awaitingFinal = false
	s.state = StateOpen
	s.countdown.restart(s.onTick)

	s.broadcast(protocol.Start{Item: item, StartingBid: startingBid, MinIncrement: minIncrement, Reset: reset})
	s.observer.OnStarted(item, startingBid, minIncrement)

	log.Info().
		Str("item", item).
		Str("starting_bid", startingBid.String()).
		Str("min_increment", minIncrement.String()).
		Bool("reset", reset).
		Msg("auction opened")
	return nil
}

// SubmitBid validates and applies a bid. A rule violation returns a
// *BidRejectedError and leaves state unchanged. Amounts outside the protocol
// exponent range fail with protocol.ErrInvalidNumber.
func (s *Session) SubmitBid(name string, amount decimal.Decimal) error {
	name = strings.TrimSpace(name)
	if err := protocol.ValidateField("name", name); err != nil {
		return err
	}
	if err := protocol.CheckAmount(amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrShutdown
	}
	if s.state != StateOpen && s.state != StateAwaitingFinal {
		s.metrics.RecordBid("not_open")
		return ErrAuctionNotOpen
	}

	verdict := rules.CheckBid(s.startingBid, s.minIncrement, s.highBid, amount)
	if !verdict.OK() {
		s.metrics.RecordBid(string(verdict.Reason))
		return &BidRejectedError{
			Verdict: verdict,
			Notice:  rules.Notice(verdict, s.startingBid, s.minIncrement),
		}
	}

	s.highBid = amount
	s.highBidder = name
	s.awaitingFinal = false
	s.state = StateOpen
	s.countdown.restart(s.onTick)

	s.broadcast(protocol.Bid{Name: name, Amount: amount})
	s.observer.OnBidAccepted(name, amount)
	s.metrics.RecordBid(string(rules.Accepted))
	return nil
}

// RequestFinalBid asks the current high bidder to confirm and pauses the
// countdown. Without a high bidder it returns ErrNoBids and broadcasts nothing.
func (s *Session) RequestFinalBid() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrShutdown
	}
	if s.state != StateOpen && s.state != StateAwaitingFinal {
		return ErrAuctionNotOpen
	}
	if s.highBidder == "" {
		s.observer.OnInfo(NoticeNoBidsYet)
		return ErrNoBids
	}

	s.awaitingFinal = true
	s.state = StateAwaitingFinal
	s.countdown.cancel()

	s.broadcast(protocol.FinalRequest{Bidder: s.highBidder, Amount: s.highBid})
	s.observer.OnFinalRequested(s.highBidder, s.highBid)
	return nil
}

// ConfirmFinal closes the auction if name is the awaited high bidder.
func (s *Session) ConfirmFinal(name string) error {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrShutdown
	}
	if !s.awaitingFinal || name != s.highBidder {
		return ErrUnauthorizedConfirm
	}

	s.closeWithWinner(metrics.OutcomeConfirmed)
	return nil
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		State:            s.state,
		Item:             s.item,
		StartingBid:      s.startingBid,
		MinIncrement:     s.minIncrement,
		HighBid:          s.highBid,
		HighBidder:       s.highBidder,
		AwaitingFinal:    s.awaitingFinal,
		TimeRemainingSec: s.countdown.remaining,
		CountdownRunning: s.countdown.running,
	}
}

// Shutdown stops the countdown; every later operation returns ErrShutdown.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown = true
	s.countdown.cancel()
}

// onTick runs on the ticker goroutine.
func (s *Session) onTick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return
	}
	remaining, ok := s.countdown.tick(gen)
	if !ok {
		return
	}

	s.broadcast(protocol.Time{SecondsRemaining: remaining})
	s.observer.OnTick(remaining)
	if remaining > 0 {
		return
	}

	// Expiry closes exactly like a confirmation when someone holds the bid.
	if s.highBidder != "" {
		log.Info().Str("winner", s.highBidder).Msg("time up, auto-ending auction")
		s.closeWithWinner(metrics.OutcomeTimedOut)
		return
	}

	log.Info().Str("item", s.item).Msg("time up, no winning bids")
	s.countdown.cancel()
	s.awaitingFinal = false
	s.state = StateClosed
	s.broadcast(protocol.Info{Text: NoticeNoWinningBids})
	s.observer.OnInfo(NoticeNoWinningBids)
	s.metrics.RecordAuctionClosed(metrics.OutcomeNoBids)
}

// closeWithWinner must be called with mu held.
func (s *Session) closeWithWinner(outcome string) {
	s.countdown.cancel()
	s.awaitingFinal = false
	s.state = StateClosed

	s.broadcast(protocol.End{Winner: s.highBidder, Amount: s.highBid})
	s.observer.OnClosed(s.highBidder, s.highBid)
	s.metrics.RecordAuctionClosed(outcome)
}

// broadcast must be called with mu held.
func (s *Session) broadcast(msg protocol.Message) {
	line, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("kind", string(msg.Kind())).Msg("failed to encode broadcast")
		return
	}
	s.out.Broadcast(line)
}
