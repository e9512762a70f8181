package protocol

import "github.com/shopspring/decimal"

// Kind identifies a protocol message. It is always the first field of a line.
type Kind string

const (
	// bidder -> coordinator
	KindJoin         Kind = "JOIN"
	KindFinalConfirm Kind = "FINAL_CONFIRM"

	// both directions: a proposed bid inbound, an accepted bid outbound
	KindBid Kind = "BID"

	// coordinator -> bidder
	KindStart        Kind = "START"
	KindNewAuction   Kind = "NEW_AUCTION"
	KindFinalRequest Kind = "FINAL_REQUEST"
	KindEnd          Kind = "END"
	KindTime         Kind = "TIME"
	KindInfo         Kind = "INFO"
)

// Delimiter separates fields within a line. Fields may not contain it.
const Delimiter = "|"

// Message is implemented by every protocol message.
type Message interface {
	Kind() Kind
}

// Join announces a bidder's display name.
type Join struct {
	Name string
}

// Bid carries a proposed bid (bidder to coordinator) or an accepted bid
// (coordinator to bidder).
type Bid struct {
	Name   string
	Amount decimal.Decimal
}

// FinalConfirm accepts a pending final-bid request.
type FinalConfirm struct {
	Name string
}

// Start announces a newly opened auction. Reset is true for NEW_AUCTION.
type Start struct {
	Item         string
	StartingBid  decimal.Decimal
	MinIncrement decimal.Decimal
	Reset        bool
}

// FinalRequest asks the current high bidder to confirm.
type FinalRequest struct {
	Bidder string
	Amount decimal.Decimal
}

// End closes the auction with a winner.
type End struct {
	Winner string
	Amount decimal.Decimal
}

// Time is a countdown tick.
type Time struct {
	SecondsRemaining int
}

// Info is a free-text notice.
type Info struct {
	Text string
}

func (Join) Kind() Kind         { return KindJoin }
func (Bid) Kind() Kind          { return KindBid }
func (FinalConfirm) Kind() Kind { return KindFinalConfirm }
func (FinalRequest) Kind() Kind { return KindFinalRequest }
func (End) Kind() Kind          { return KindEnd }
func (Time) Kind() Kind         { return KindTime }
func (Info) Kind() Kind         { return KindInfo }

func (s Start) Kind() Kind {
	if s.Reset {
		return KindNewAuction
	}
	return KindStart
}
