package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// EventType represents the type of auction event
type EventType string

const (
	EventTypeStarted        EventType = "AuctionStarted"
	EventTypeBidAccepted    EventType = "BidAccepted"
	EventTypeFinalRequested EventType = "FinalRequested"
	EventTypeClosed         EventType = "AuctionClosed"
	EventTypeTimerTick      EventType = "TimerTick"
	EventTypeInfo           EventType = "Info"
	EventTypeDisconnected   EventType = "Disconnected"
)

// AuctionEvent is the envelope every observer notification is serialized into
type AuctionEvent struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// StartedPayload is the payload for an AuctionStarted event
type StartedPayload struct {
	Item         string          `json:"item"`
	StartingBid  decimal.Decimal `json:"starting_bid"`
	MinIncrement decimal.Decimal `json:"min_increment"`
}

// BidPayload is the payload for BidAccepted and FinalRequested events
type BidPayload struct {
	Bidder string          `json:"bidder"`
	Amount decimal.Decimal `json:"amount"`
}

// ClosedPayload is the payload for an AuctionClosed event
type ClosedPayload struct {
	Winner string          `json:"winner"`
	Amount decimal.Decimal `json:"amount"`
}

// TimerTickPayload contains a countdown update
type TimerTickPayload struct {
	TimeRemainingSec int `json:"time_remaining_sec"`
}

// InfoPayload carries a free-text notice
type InfoPayload struct {
	Text string `json:"text"`
}

// Sink turns observer notifications into AuctionEvents and hands each one to
// the wrapped function.
type Sink func(AuctionEvent)

func (s Sink) OnStarted(item string, startingBid, minIncrement decimal.Decimal) {
	s.emit(EventTypeStarted, StartedPayload{Item: item, StartingBid: startingBid, MinIncrement: minIncrement})
}

func (s Sink) OnBidAccepted(bidder string, amount decimal.Decimal) {
	s.emit(EventTypeBidAccepted, BidPayload{Bidder: bidder, Amount: amount})
}

func (s Sink) OnFinalRequested(bidder string, amount decimal.Decimal) {
	s.emit(EventTypeFinalRequested, BidPayload{Bidder: bidder, Amount: amount})
}

func (s Sink) OnClosed(winner string, amount decimal.Decimal) {
	s.emit(EventTypeClosed, ClosedPayload{Winner: winner, Amount: amount})
}

func (s Sink) OnTick(secondsRemaining int) {
	s.emit(EventTypeTimerTick, TimerTickPayload{TimeRemainingSec: secondsRemaining})
}

func (s Sink) OnInfo(text string) {
	s.emit(EventTypeInfo, InfoPayload{Text: text})
}

func (s Sink) OnDisconnected() {
	s.emit(EventTypeDisconnected, struct{}{})
}

func (s Sink) emit(eventType EventType, payload interface{}) {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build auction event")
		return
	}
	s(event)
}

// NewEvent wraps a payload in an AuctionEvent envelope
func NewEvent(eventType EventType, payload interface{}) (AuctionEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return AuctionEvent{}, err
	}
	return AuctionEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
