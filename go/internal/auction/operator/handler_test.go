package operator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/gateway"
	"github.com/mcdev12/gavel/go/internal/auction/session"
)

type openCall struct {
	reset        bool
	item         string
	startingBid  decimal.Decimal
	minIncrement decimal.Decimal
}

// fakeAuctioneer records operator calls and returns canned errors.
type fakeAuctioneer struct {
	opens     []openCall
	finalReqs int
	openErr   error
	finalErr  error
	snapshot  session.Snapshot
	stats     gateway.Stats
}

func (f *fakeAuctioneer) StartAuction(item string, startingBid, minIncrement decimal.Decimal) error {
	f.opens = append(f.opens, openCall{false, item, startingBid, minIncrement})
	return f.openErr
}

func (f *fakeAuctioneer) ResetAuction(item string, startingBid, minIncrement decimal.Decimal) error {
	f.opens = append(f.opens, openCall{true, item, startingBid, minIncrement})
	return f.openErr
}

func (f *fakeAuctioneer) RequestFinalBid() error {
	f.finalReqs++
	return f.finalErr
}

func (f *fakeAuctioneer) Snapshot() session.Snapshot { return f.snapshot }
func (f *fakeAuctioneer) Stats() gateway.Stats       { return f.stats }

type staticEvents []events.AuctionEvent

func (s staticEvents) Recent() []events.AuctionEvent { return s }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_StartAndReset(t *testing.T) {
	fake := &fakeAuctioneer{snapshot: session.Snapshot{State: session.StateOpen, Item: "Vase"}}
	h := NewHandler(fake).Routes()

	w := do(t, h, http.MethodPost, "/v1/auction/start", `{"item":"Vase","starting_bid":"10","min_increment":2}`)
	check.Equal(t, http.StatusOK, w.Code)

	var snap session.Snapshot
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	check.Equal(t, session.StateOpen, snap.State)
	check.Equal(t, "Vase", snap.Item)

	w = do(t, h, http.MethodPost, "/v1/auction/reset", `{"item":"Lamp","starting_bid":"5.00","min_increment":"0"}`)
	check.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 2, len(fake.opens))
	check.False(t, fake.opens[0].reset)
	check.Equal(t, "Vase", fake.opens[0].item)
	check.True(t, fake.opens[0].startingBid.Equal(decimal.NewFromInt(10)))
	check.True(t, fake.opens[0].minIncrement.Equal(decimal.NewFromInt(2)))
	check.True(t, fake.opens[1].reset)
	check.Equal(t, "Lamp", fake.opens[1].item)
}

func TestHandler_StartErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		openErr    error
		wantStatus int
	}{
		{"bad json", `{"item":`, nil, http.StatusBadRequest},
		{"bad amount", `{"item":"Vase","starting_bid":"ten"}`, nil, http.StatusBadRequest},
		{"invalid auction", `{"item":""}`, fmt.Errorf("%w: item is empty", session.ErrInvalidAuction), http.StatusBadRequest},
		{"shut down", `{"item":"Vase"}`, session.ErrShutdown, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAuctioneer{openErr: tt.openErr}
			w := do(t, NewHandler(fake).Routes(), http.MethodPost, "/v1/auction/start", tt.body)
			check.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			check.NotEqual(t, "", resp.Error)
		})
	}
}

func TestHandler_RequestFinalBid(t *testing.T) {
	tests := []struct {
		name       string
		finalErr   error
		wantStatus int
		wantMsg    string
	}{
		{"accepted", nil, http.StatusOK, ""},
		{"no bids", session.ErrNoBids, http.StatusConflict, session.NoticeNoBidsYet},
		{"not open", session.ErrAuctionNotOpen, http.StatusConflict, session.ErrAuctionNotOpen.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAuctioneer{finalErr: tt.finalErr}
			w := do(t, NewHandler(fake).Routes(), http.MethodPost, "/v1/auction/final-request", "")
			check.Equal(t, tt.wantStatus, w.Code)
			check.Equal(t, 1, fake.finalReqs)

			if tt.finalErr != nil {
				var resp ErrorResponse
				assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				check.Equal(t, tt.wantMsg, resp.Message)
			}
		})
	}
}

func TestHandler_ReadOnlyViews(t *testing.T) {
	fake := &fakeAuctioneer{
		snapshot: session.Snapshot{State: session.StateAwaitingFinal, HighBidder: "bob", AwaitingFinal: true},
		stats:    gateway.Stats{TotalConnections: 3, NamedBidders: 2, Bidders: []string{"alice", "bob"}},
	}
	started, err := events.NewEvent(events.EventTypeStarted, events.StartedPayload{Item: "Vase"})
	assert.NoError(t, err)

	h := NewHandler(fake, WithEvents(staticEvents{started})).Routes()

	w := do(t, h, http.MethodGet, "/v1/auction/state", "")
	check.Equal(t, http.StatusOK, w.Code)
	var snap session.Snapshot
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	check.Equal(t, "bob", snap.HighBidder)
	check.True(t, snap.AwaitingFinal)

	w = do(t, h, http.MethodGet, "/stats", "")
	check.Equal(t, http.StatusOK, w.Code)
	var stats gateway.Stats
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	check.Equal(t, fake.stats, stats)

	w = do(t, h, http.MethodGet, "/v1/auction/events", "")
	check.Equal(t, http.StatusOK, w.Code)
	var evs []events.AuctionEvent
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&evs))
	assert.Equal(t, 1, len(evs))
	check.Equal(t, started.ID, evs[0].ID)
	check.Equal(t, events.EventTypeStarted, evs[0].Type)

	w = do(t, h, http.MethodGet, "/healthz", "")
	check.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_OptionalRoutes(t *testing.T) {
	fake := &fakeAuctioneer{}

	bare := NewHandler(fake).Routes()
	check.Equal(t, http.StatusNotFound, do(t, bare, http.MethodGet, "/metrics", "").Code)
	check.Equal(t, http.StatusNotFound, do(t, bare, http.MethodGet, "/v1/auction/events", "").Code)
	check.Equal(t, http.StatusNotFound, do(t, bare, http.MethodGet, "/ws", "").Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("gavel_bids_total 0\n"))
	})
	full := NewHandler(fake, WithMetricsHandler(metrics)).Routes()
	w := do(t, full, http.MethodGet, "/metrics", "")
	check.Equal(t, http.StatusOK, w.Code)
	check.Equal(t, "gavel_bids_total 0\n", w.Body.String())

	check.Equal(t, http.StatusMethodNotAllowed, do(t, full, http.MethodGet, "/v1/auction/start", "").Code)
}

func TestHandler_CORS(t *testing.T) {
	h := NewHandler(&fakeAuctioneer{}, WithAllowedOrigins("https://ops.example.com")).Routes()

	req := httptest.NewRequest(http.MethodGet, "/v1/auction/state", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	check.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/auction/state", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	check.Equal(t, "", w.Header().Get("Access-Control-Allow-Origin"))
}
