package events

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LogObserver writes every notification as a structured log line.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates an observer that logs through logger
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnStarted(item string, startingBid, minIncrement decimal.Decimal) {
	o.logger.Info().
		Str("item", item).
		Str("starting_bid", startingBid.String()).
		Str("min_increment", minIncrement.String()).
		Msg("auction started")
}

func (o *LogObserver) OnBidAccepted(bidder string, amount decimal.Decimal) {
	o.logger.Info().
		Str("bidder", bidder).
		Str("amount", amount.String()).
		Msg("new highest bid")
}

func (o *LogObserver) OnFinalRequested(bidder string, amount decimal.Decimal) {
	o.logger.Info().
		Str("bidder", bidder).
		Str("amount", amount.String()).
		Msg("final bid requested")
}

func (o *LogObserver) OnClosed(winner string, amount decimal.Decimal) {
	o.logger.Info().
		Str("winner", winner).
		Str("amount", amount.String()).
		Msg("auction closed")
}

func (o *LogObserver) OnTick(secondsRemaining int) {
	o.logger.Debug().Int("time_remaining_sec", secondsRemaining).Msg("countdown tick")
}

func (o *LogObserver) OnInfo(text string) {
	o.logger.Info().Str("text", text).Msg("notice")
}

func (o *LogObserver) OnDisconnected() {
	o.logger.Info().Msg("peer disconnected")
}
