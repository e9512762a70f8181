// Package bidder is the client side of the auction: it joins a coordinator,
// mirrors the auction state it is told about and submits bids and final
// confirmations.
package bidder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/protocol"
	"github.com/mcdev12/gavel/go/internal/auction/rules"
)

var (
	ErrInvalidAmount    = errors.New("invalid bid amount")
	ErrNotAwaitedBidder = errors.New("only the last bidder can confirm when requested")
	ErrNotJoined        = errors.New("not joined")
	ErrAlreadyJoined    = errors.New("already joined")
	ErrNoOpenAuction    = errors.New("no auction is open")
)

// RejectedError is a bid that the local copy of the rules already refuses.
type RejectedError struct {
	Verdict rules.Verdict
	Notice  string
}

func (e *RejectedError) Error() string {
	return e.Notice
}

// Shadow is the bidder's read-only copy of the auction. The coordinator is
// authoritative; the shadow only drives pre-validation and display. An empty
// Item means no START has been seen on this agent.
type Shadow struct {
	Item             string          `json:"item"`
	StartingBid      decimal.Decimal `json:"starting_bid"`
	MinIncrement     decimal.Decimal `json:"min_increment"`
	HighBid          decimal.Decimal `json:"high_bid"`
	HighBidder       string          `json:"high_bidder,omitempty"`
	AwaitingFinal    bool            `json:"awaiting_final"`
	TimeRemainingSec int             `json:"time_remaining_sec"`
	Ended            bool            `json:"ended"`
}

// Dialer opens the connection to the coordinator.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

func defaultDialer(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Option configures an Agent
type Option func(*Agent)

// WithDialer replaces the TCP dialer
func WithDialer(d Dialer) Option {
	return func(a *Agent) {
		if d != nil {
			a.dial = d
		}
	}
}

// WithObserver sets the observer that receives every server notification
func WithObserver(o events.Observer) Option {
	return func(a *Agent) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithWriteTimeout bounds each outbound line
func WithWriteTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.writeTimeout = d
		}
	}
}

// Agent is one bidder's connection to the coordinator. After a disconnect it
// may Join again; the shadow is kept until the next START.
type Agent struct {
	addr         string
	dial         Dialer
	observer     events.Observer
	writeTimeout time.Duration

	writeMu sync.Mutex
	conn    net.Conn

	mu     sync.Mutex
	name   string
	shadow Shadow
	done   chan struct{}
}

// New creates an agent for the coordinator at addr
func New(addr string, opts ...Option) *Agent {
	a := &Agent{
		addr:         addr,
		dial:         defaultDialer,
		observer:     events.Nop{},
		writeTimeout: 10 * time.Second,
		shadow: Shadow{
			StartingBid:  decimal.Zero,
			MinIncrement: decimal.Zero,
			HighBid:      decimal.Zero,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Join connects, announces name and starts listening for server lines. It
// fails with ErrAlreadyJoined while a previous connection is still live.
func (a *Agent) Join(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := protocol.ValidateField("name", name); err != nil {
		return err
	}

	a.mu.Lock()
	if a.connectedLocked() {
		a.mu.Unlock()
		return ErrAlreadyJoined
	}
	prevDone, prevName := a.done, a.name
	done := make(chan struct{})
	a.done = done
	a.name = name
	a.mu.Unlock()

	conn, err := a.dial(ctx, a.addr)
	if err != nil {
		a.mu.Lock()
		a.done, a.name = prevDone, prevName
		a.mu.Unlock()
		return fmt.Errorf("failed to connect to %s: %w", a.addr, err)
	}

	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()

	go a.listen(conn, done)

	if err := a.send(protocol.Join{Name: name}); err != nil {
		conn.Close()
		<-done
		return err
	}

	log.Info().Str("name", name).Str("addr", a.addr).Msg("joined auction")
	return nil
}

// SubmitBid parses text as an amount, checks it against the shadow and sends
// it. The coordinator may still reject it.
func (a *Agent) SubmitBid(text string) error {
	amount, err := protocol.ParseAmount(text)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}

	a.mu.Lock()
	name := a.name
	shadow := a.shadow
	joined := a.connectedLocked()
	a.mu.Unlock()

	if !joined {
		return ErrNotJoined
	}
	if shadow.Item == "" || shadow.Ended {
		return ErrNoOpenAuction
	}

	verdict := rules.CheckBid(shadow.StartingBid, shadow.MinIncrement, shadow.HighBid, amount)
	if !verdict.OK() {
		return &RejectedError{
			Verdict: verdict,
			Notice:  rules.Notice(verdict, shadow.StartingBid, shadow.MinIncrement),
		}
	}

	return a.send(protocol.Bid{Name: name, Amount: amount})
}

// ConfirmFinal confirms the final bid. Only the awaited high bidder may.
func (a *Agent) ConfirmFinal() error {
	a.mu.Lock()
	name := a.name
	awaited := a.connectedLocked() && a.shadow.AwaitingFinal && a.shadow.HighBidder == name
	a.mu.Unlock()

	if !awaited {
		return ErrNotAwaitedBidder
	}
	return a.send(protocol.FinalConfirm{Name: name})
}

// Name returns the joined display name
func (a *Agent) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name
}

// Snapshot returns a copy of the shadow state
func (a *Agent) Snapshot() Shadow {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shadow
}

// Done is closed when the current connection to the coordinator ends. It is
// nil before Join.
func (a *Agent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Close drops the connection.
func (a *Agent) Close() error {
	a.writeMu.Lock()
	conn := a.conn
	a.writeMu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (a *Agent) send(msg protocol.Message) error {
	line, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.conn == nil {
		return ErrNotJoined
	}
	if err := a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	if _, err := io.WriteString(a.conn, line+"\n"); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	return nil
}

// connectedLocked reports whether a connection is live. a.mu must be held.
func (a *Agent) connectedLocked() bool {
	if a.done == nil {
		return false
	}
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

func (a *Agent) listen(conn net.Conn, done chan struct{}) {
	defer func() {
		conn.Close()
		a.writeMu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.writeMu.Unlock()
		close(done)
		a.observer.OnDisconnected()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		a.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warn().Err(err).Str("name", a.Name()).Msg("coordinator connection failed")
	}
	log.Info().Str("name", a.Name()).Msg("disconnected from coordinator")
}

func (a *Agent) handleLine(line string) {
	msg, err := protocol.DecodeServer(line)
	if err != nil {
		log.Warn().Err(err).Str("line", line).Msg("malformed message ignored")
		a.observer.OnInfo("Malformed message ignored: " + line)
		return
	}

	// The shadow is updated before the observer is told, so observers always
	// see the state the notification describes.
	switch m := msg.(type) {
	case protocol.Start:
		a.mu.Lock()
		a.shadow = Shadow{
			Item:         m.Item,
			StartingBid:  m.StartingBid,
			MinIncrement: m.MinIncrement,
			HighBid:      decimal.Zero,
		}
		a.mu.Unlock()
		a.observer.OnStarted(m.Item, m.StartingBid, m.MinIncrement)

	case protocol.Bid:
		a.mu.Lock()
		a.shadow.HighBid = m.Amount
		a.shadow.HighBidder = m.Name
		a.shadow.AwaitingFinal = false
		a.mu.Unlock()
		a.observer.OnBidAccepted(m.Name, m.Amount)

	case protocol.FinalRequest:
		a.mu.Lock()
		a.shadow.HighBid = m.Amount
		a.shadow.HighBidder = m.Bidder
		a.shadow.AwaitingFinal = true
		a.mu.Unlock()
		a.observer.OnFinalRequested(m.Bidder, m.Amount)

	case protocol.End:
		a.mu.Lock()
		a.shadow.AwaitingFinal = false
		a.shadow.Ended = true
		a.mu.Unlock()
		a.observer.OnClosed(m.Winner, m.Amount)

	case protocol.Time:
		a.mu.Lock()
		a.shadow.TimeRemainingSec = m.SecondsRemaining
		// The countdown reaching zero closes the auction even without END.
		if m.SecondsRemaining == 0 {
			a.shadow.AwaitingFinal = false
			a.shadow.Ended = true
		}
		a.mu.Unlock()
		a.observer.OnTick(m.SecondsRemaining)

	case protocol.Info:
		a.observer.OnInfo(m.Text)
	}
}
