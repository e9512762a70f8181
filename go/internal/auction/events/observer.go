// Package events defines the observer boundary of the auction and the sinks
// that consume it: structured logs, a recent-event history and NATS.
package events

import "github.com/shopspring/decimal"

// Observer receives auction state-change notifications. Notifications are
// informational only; an observer cannot veto them. Implementations must not
// block, since they may be called while session state is locked.
type Observer interface {
	OnStarted(item string, startingBid, minIncrement decimal.Decimal)
	OnBidAccepted(bidder string, amount decimal.Decimal)
	OnFinalRequested(bidder string, amount decimal.Decimal)
	OnClosed(winner string, amount decimal.Decimal)
	OnTick(secondsRemaining int)
	OnInfo(text string)
	OnDisconnected()
}

// Nop ignores every notification.
type Nop struct{}

func (Nop) OnStarted(string, decimal.Decimal, decimal.Decimal) {}
func (Nop) OnBidAccepted(string, decimal.Decimal)              {}
func (Nop) OnFinalRequested(string, decimal.Decimal)           {}
func (Nop) OnClosed(string, decimal.Decimal)                   {}
func (Nop) OnTick(int)                                         {}
func (Nop) OnInfo(string)                                      {}
func (Nop) OnDisconnected()                                    {}

// Multi fans every notification out to each observer in order.
type Multi []Observer

func (m Multi) OnStarted(item string, startingBid, minIncrement decimal.Decimal) {
	for _, o := range m {
		o.OnStarted(item, startingBid, minIncrement)
	}
}

func (m Multi) OnBidAccepted(bidder string, amount decimal.Decimal) {
	for _, o := range m {
		o.OnBidAccepted(bidder, amount)
	}
}

func (m Multi) OnFinalRequested(bidder string, amount decimal.Decimal) {
	for _, o := range m {
		o.OnFinalRequested(bidder, amount)
	}
}

func (m Multi) OnClosed(winner string, amount decimal.Decimal) {
	for _, o := range m {
		o.OnClosed(winner, amount)
	}
}

func (m Multi) OnTick(secondsRemaining int) {
	for _, o := range m {
		o.OnTick(secondsRemaining)
	}
}

func (m Multi) OnInfo(text string) {
	for _, o := range m {
		o.OnInfo(text)
	}
}

func (m Multi) OnDisconnected() {
	for _, o := range m {
		o.OnDisconnected()
	}
}
