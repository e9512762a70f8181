package bidder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/protocol"
	"github.com/mcdev12/gavel/go/internal/auction/rules"
)

// pipeServer is the coordinator end of a net.Pipe.
type pipeServer struct {
	conn  net.Conn
	lines chan string
}

func (s *pipeServer) write(t *testing.T, line string) {
	t.Helper()
	assert.NoError(t, s.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := io.WriteString(s.conn, line+"\n")
	assert.NoError(t, err)
}

func (s *pipeServer) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got, ok := <-s.lines:
		assert.True(t, ok)
		check.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (s *pipeServer) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case got := <-s.lines:
		t.Fatalf("unexpected line %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitEvent(t *testing.T, ch <-chan events.AuctionEvent, want events.EventType) events.AuctionEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
			return events.AuctionEvent{}
		}
	}
}

func newPipeServer(conn net.Conn) *pipeServer {
	srv := &pipeServer{conn: conn, lines: make(chan string, 64)}
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			srv.lines <- scanner.Text()
		}
		close(srv.lines)
	}()
	return srv
}

func newPipeAgent(t *testing.T) (*Agent, *pipeServer, chan events.AuctionEvent) {
	t.Helper()
	client, server := net.Pipe()

	evs := make(chan events.AuctionEvent, 64)
	agent := New("pipe",
		WithDialer(func(context.Context, string) (net.Conn, error) { return client, nil }),
		WithObserver(events.Sink(func(e events.AuctionEvent) { evs <- e })),
	)
	srv := newPipeServer(server)

	t.Cleanup(func() {
		agent.Close()
		server.Close()
	})
	return agent, srv, evs
}

func joined(t *testing.T, name string) (*Agent, *pipeServer, chan events.AuctionEvent) {
	t.Helper()
	agent, srv, evs := newPipeAgent(t)
	assert.NoError(t, agent.Join(context.Background(), name))
	srv.expect(t, "JOIN|"+name)
	return agent, srv, evs
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestJoin(t *testing.T) {
	agent, _, _ := joined(t, "alice")
	check.Equal(t, "alice", agent.Name())
	check.NotNil(t, agent.Done())

	err := agent.Join(context.Background(), "alice")
	check.True(t, errors.Is(err, ErrAlreadyJoined))
}

func TestJoin_RejectsUnsafeName(t *testing.T) {
	dialed := false
	agent := New("pipe", WithDialer(func(context.Context, string) (net.Conn, error) {
		dialed = true
		return nil, errors.New("unreachable")
	}))

	for _, name := range []string{"", "  ", "a|b", "line\nbreak"} {
		err := agent.Join(context.Background(), name)
		check.True(t, errors.Is(err, protocol.ErrInvalidField))
	}
	check.False(t, dialed)
}

func TestJoin_DialFailure(t *testing.T) {
	agent := New("pipe", WithDialer(func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}))

	check.Error(t, agent.Join(context.Background(), "alice"))
	check.Nil(t, agent.Done())
	check.True(t, errors.Is(agent.SubmitBid("10"), ErrNotJoined))
}

func TestSubmitBid_InvalidAmount(t *testing.T) {
	agent, srv, _ := joined(t, "alice")

	for _, text := range []string{"", "ten", "1,000", "$5", "1e"} {
		err := agent.SubmitBid(text)
		check.True(t, errors.Is(err, ErrInvalidAmount))
	}
	srv.expectNothing(t)
}

func TestSubmitBid_RejectsOutOfRangeExponent(t *testing.T) {
	agent, srv, evs := joined(t, "alice")
	srv.write(t, "START|Pen|0.00|1.00")
	waitEvent(t, evs, events.EventTypeStarted)

	for _, text := range []string{"1e60000000", "1e-60000000"} {
		err := agent.SubmitBid(text)
		check.True(t, errors.Is(err, ErrInvalidAmount))
		check.True(t, errors.Is(err, protocol.ErrInvalidNumber))
	}

	err := agent.SubmitBid("0")
	var rejected *RejectedError
	assert.True(t, errors.As(err, &rejected))
	check.Equal(t, rules.NotPositive, rejected.Verdict.Reason)
	srv.expectNothing(t)
}

func TestSubmitBid_RequiresOpenAuction(t *testing.T) {
	agent, srv, evs := joined(t, "alice")

	check.True(t, errors.Is(agent.SubmitBid("10"), ErrNoOpenAuction))

	srv.write(t, "START|Vase|10.00|2.00")
	waitEvent(t, evs, events.EventTypeStarted)
	assert.NoError(t, agent.SubmitBid("10"))
	srv.expect(t, "BID|alice|10.00")

	srv.write(t, "END|alice|10.00")
	waitEvent(t, evs, events.EventTypeClosed)
	check.True(t, errors.Is(agent.SubmitBid("20"), ErrNoOpenAuction))

	srv.write(t, "NEW_AUCTION|Lamp|5.00|0.00")
	waitEvent(t, evs, events.EventTypeStarted)
	assert.NoError(t, agent.SubmitBid("5"))
	srv.expect(t, "BID|alice|5.00")

	// Expiry without bids ends with TIME|0 and an INFO, no END.
	srv.write(t, "TIME|0")
	waitEvent(t, evs, events.EventTypeTimerTick)
	check.True(t, agent.Snapshot().Ended)
	check.True(t, errors.Is(agent.SubmitBid("6"), ErrNoOpenAuction))
	srv.expectNothing(t)
}

func TestSubmitBid_PreValidatesAgainstShadow(t *testing.T) {
	agent, srv, evs := joined(t, "alice")

	srv.write(t, "START|Vase|10.00|2.00")
	waitEvent(t, evs, events.EventTypeStarted)

	err := agent.SubmitBid("9.99")
	var rejected *RejectedError
	assert.True(t, errors.As(err, &rejected))
	check.Equal(t, rules.BelowStartingBid, rejected.Verdict.Reason)
	check.Equal(t, "Bid must be at least starting bid $10.00", rejected.Error())

	assert.NoError(t, agent.SubmitBid(" 10 "))
	srv.expect(t, "BID|alice|10.00")

	srv.write(t, "BID|bob|10.00")
	waitEvent(t, evs, events.EventTypeBidAccepted)

	err = agent.SubmitBid("11")
	assert.True(t, errors.As(err, &rejected))
	check.Equal(t, rules.BelowIncrement, rejected.Verdict.Reason)
	check.True(t, rejected.Verdict.Required.Equal(dec("12")))

	assert.NoError(t, agent.SubmitBid("12.50"))
	srv.expect(t, "BID|alice|12.50")
	srv.expectNothing(t)
}

func TestConfirmFinal_OnlyWhenAwaited(t *testing.T) {
	agent, srv, evs := joined(t, "alice")
	srv.write(t, "START|Vase|10.00|2.00")
	waitEvent(t, evs, events.EventTypeStarted)

	check.True(t, errors.Is(agent.ConfirmFinal(), ErrNotAwaitedBidder))

	srv.write(t, "FINAL_REQUEST|bob|12.00")
	waitEvent(t, evs, events.EventTypeFinalRequested)
	check.True(t, agent.Snapshot().AwaitingFinal)
	check.True(t, errors.Is(agent.ConfirmFinal(), ErrNotAwaitedBidder))

	srv.write(t, "BID|alice|14.00")
	waitEvent(t, evs, events.EventTypeBidAccepted)
	check.False(t, agent.Snapshot().AwaitingFinal)
	check.True(t, errors.Is(agent.ConfirmFinal(), ErrNotAwaitedBidder))

	srv.write(t, "FINAL_REQUEST|alice|14.00")
	waitEvent(t, evs, events.EventTypeFinalRequested)
	assert.NoError(t, agent.ConfirmFinal())
	srv.expect(t, "FINAL_CONFIRM|alice")
}

func TestListener_MirrorsServerLines(t *testing.T) {
	agent, srv, evs := joined(t, "alice")

	srv.write(t, "START|Vase|10.00|2.00")
	waitEvent(t, evs, events.EventTypeStarted)
	srv.write(t, "BID|bob|10.00")
	waitEvent(t, evs, events.EventTypeBidAccepted)
	srv.write(t, "TIME|17")
	tick := waitEvent(t, evs, events.EventTypeTimerTick)

	var tickPayload events.TimerTickPayload
	assert.NoError(t, json.Unmarshal(tick.Data, &tickPayload))
	check.Equal(t, 17, tickPayload.TimeRemainingSec)

	shadow := agent.Snapshot()
	check.Equal(t, "Vase", shadow.Item)
	check.Equal(t, "bob", shadow.HighBidder)
	check.True(t, shadow.HighBid.Equal(dec("10")))
	check.Equal(t, 17, shadow.TimeRemainingSec)

	srv.write(t, "END|bob|10.00")
	closed := waitEvent(t, evs, events.EventTypeClosed)
	var closedPayload events.ClosedPayload
	assert.NoError(t, json.Unmarshal(closed.Data, &closedPayload))
	check.Equal(t, "bob", closedPayload.Winner)
	check.True(t, agent.Snapshot().Ended)

	srv.write(t, "NEW_AUCTION|Lamp|5.00|0.00")
	waitEvent(t, evs, events.EventTypeStarted)
	shadow = agent.Snapshot()
	check.Equal(t, "Lamp", shadow.Item)
	check.True(t, shadow.HighBid.IsZero())
	check.Equal(t, "", shadow.HighBidder)
	check.False(t, shadow.Ended)
	check.False(t, shadow.AwaitingFinal)
}

func TestListener_RelaysInfoAndIgnoresMalformed(t *testing.T) {
	agent, srv, evs := joined(t, "alice")

	srv.write(t, "INFO|bob joined the auction.")
	info := waitEvent(t, evs, events.EventTypeInfo)
	var payload events.InfoPayload
	assert.NoError(t, json.Unmarshal(info.Data, &payload))
	check.Equal(t, "bob joined the auction.", payload.Text)

	srv.write(t, "BID|bob|lots")
	info = waitEvent(t, evs, events.EventTypeInfo)
	assert.NoError(t, json.Unmarshal(info.Data, &payload))
	check.True(t, strings.HasPrefix(payload.Text, "Malformed message ignored"))

	// The connection survives a malformed line.
	srv.write(t, "START|Vase|10.00|2.00")
	waitEvent(t, evs, events.EventTypeStarted)
	check.Equal(t, "Vase", agent.Snapshot().Item)
}

func TestListener_DisconnectNotifies(t *testing.T) {
	agent, srv, evs := joined(t, "alice")

	srv.conn.Close()
	waitEvent(t, evs, events.EventTypeDisconnected)

	select {
	case <-agent.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not report done")
	}
	check.True(t, errors.Is(agent.SubmitBid("10"), ErrNotJoined))
}

func TestJoin_AfterDisconnect(t *testing.T) {
	servers := make(chan *pipeServer, 2)
	evs := make(chan events.AuctionEvent, 64)
	agent := New("pipe",
		WithDialer(func(context.Context, string) (net.Conn, error) {
			client, server := net.Pipe()
			t.Cleanup(func() { server.Close() })
			servers <- newPipeServer(server)
			return client, nil
		}),
		WithObserver(events.Sink(func(e events.AuctionEvent) { evs <- e })),
	)
	t.Cleanup(func() { agent.Close() })

	assert.NoError(t, agent.Join(context.Background(), "alice"))
	first := <-servers
	first.expect(t, "JOIN|alice")
	firstDone := agent.Done()

	first.conn.Close()
	waitEvent(t, evs, events.EventTypeDisconnected)
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection did not end")
	}

	assert.NoError(t, agent.Join(context.Background(), "alice"))
	second := <-servers
	second.expect(t, "JOIN|alice")
	check.True(t, errors.Is(agent.Join(context.Background(), "alice"), ErrAlreadyJoined))

	second.write(t, "START|Vase|10.00|2.00")
	waitEvent(t, evs, events.EventTypeStarted)
	assert.NoError(t, agent.SubmitBid("10"))
	second.expect(t, "BID|alice|10.00")
}

func TestJoin_FailedAnnouncementAllowsRetry(t *testing.T) {
	attempts := 0
	servers := make(chan *pipeServer, 1)
	agent := New("pipe", WithDialer(func(context.Context, string) (net.Conn, error) {
		attempts++
		client, server := net.Pipe()
		t.Cleanup(func() { server.Close() })
		if attempts == 1 {
			// The peer is gone before JOIN can be written.
			server.Close()
			return client, nil
		}
		servers <- newPipeServer(server)
		return client, nil
	}))
	t.Cleanup(func() { agent.Close() })

	check.Error(t, agent.Join(context.Background(), "alice"))
	assert.NoError(t, agent.Join(context.Background(), "alice"))
	srv := <-servers
	srv.expect(t, "JOIN|alice")
	check.Equal(t, 2, attempts)
}
