// Package rules holds the bid acceptance rule shared by the coordinator's
// session and the bidder agent's pre-submission check.
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/protocol"
)

// Reason classifies the outcome of a bid check.
type Reason string

const (
	Accepted         Reason = "accepted"
	BelowStartingBid Reason = "below_starting_bid"
	BelowIncrement   Reason = "below_increment"
	NotPositive      Reason = "not_positive"
)

// Verdict is the result of CheckBid. Required is the smallest amount that
// would have been accepted, or the bound it must exceed for NotPositive.
type Verdict struct {
	Reason   Reason
	Required decimal.Decimal
}

// OK reports whether the bid was accepted.
func (v Verdict) OK() bool {
	return v.Reason == Accepted
}

// CheckBid decides whether amount may become the new high bid. A zero
// priorHigh means no bid exists yet, in which case only the starting bid
// applies. Both boundaries are inclusive. Bids must be positive so that an
// accepted bid always leaves a non-zero high bid.
func CheckBid(startingBid, minIncrement, priorHigh, amount decimal.Decimal) Verdict {
	if amount.LessThan(startingBid) {
		return Verdict{Reason: BelowStartingBid, Required: startingBid}
	}
	if !amount.IsPositive() {
		return Verdict{Reason: NotPositive, Required: decimal.Zero}
	}
	if priorHigh.IsPositive() {
		required := priorHigh.Add(minIncrement)
		if amount.LessThan(required) {
			return Verdict{Reason: BelowIncrement, Required: required}
		}
	}
	return Verdict{Reason: Accepted, Required: amount}
}

// Notice renders a rejection the way it is shown to the bidder.
func Notice(v Verdict, startingBid, minIncrement decimal.Decimal) string {
	switch v.Reason {
	case BelowStartingBid:
		return fmt.Sprintf("Bid must be at least starting bid $%s", protocol.FormatAmount(startingBid))
	case BelowIncrement:
		return fmt.Sprintf("Bid must be at least $%s (min increment $%s)",
			protocol.FormatAmount(v.Required), protocol.FormatAmount(minIncrement))
	case NotPositive:
		return fmt.Sprintf("Bid must be more than $%s", protocol.FormatAmount(v.Required))
	default:
		return ""
	}
}
