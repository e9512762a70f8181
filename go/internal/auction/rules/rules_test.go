package rules

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCheckBid(t *testing.T) {
	tests := []struct {
		name         string
		startingBid  string
		minIncrement string
		priorHigh    string
		amount       string
		expected     Reason
		required     string
	}{
		{"first bid at starting price", "10", "2", "0", "10", Accepted, "10"},
		{"first bid below starting price", "10", "2", "0", "9.99", BelowStartingBid, "10"},
		{"first bid ignores increment", "10", "2", "0", "10.01", Accepted, "10.01"},
		{"increment boundary is inclusive", "10", "2", "10", "12", Accepted, "12"},
		{"just under increment", "10", "2", "10", "11.99", BelowIncrement, "12"},
		{"zero increment allows equal bid", "5", "0", "5", "5", Accepted, "5"},
		{"zero increment rejects lower bid", "5", "0", "6", "5.50", BelowIncrement, "6"},
		{"starting price checked before increment", "10", "2", "10", "8", BelowStartingBid, "10"},
		{"negative amount", "0", "0", "0", "-1", BelowStartingBid, "0"},
		{"fractional cents", "0.10", "0.05", "0.10", "0.15", Accepted, "0.15"},
		{"zero bid on free item", "0", "1", "0", "0", NotPositive, "0"},
		{"zero bid with zero increment", "0", "0", "0", "0.00", NotPositive, "0"},
		{"first positive bid on free item", "0", "1", "0", "0.01", Accepted, "0.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := CheckBid(dec(tt.startingBid), dec(tt.minIncrement), dec(tt.priorHigh), dec(tt.amount))
			check.Equal(t, tt.expected, v.Reason)
			check.Equal(t, tt.expected == Accepted, v.OK())
			check.True(t, v.Required.Equal(dec(tt.required)))
		})
	}
}

func TestNotice(t *testing.T) {
	v := CheckBid(dec("10"), dec("2"), dec("10"), dec("11"))
	check.Equal(t, "Bid must be at least $12.00 (min increment $2.00)", Notice(v, dec("10"), dec("2")))

	v = CheckBid(dec("10"), dec("2"), decimal.Zero, dec("3"))
	check.Equal(t, "Bid must be at least starting bid $10.00", Notice(v, dec("10"), dec("2")))

	v = CheckBid(dec("0"), dec("2"), decimal.Zero, dec("0"))
	check.Equal(t, "Bid must be more than $0.00", Notice(v, dec("0"), dec("2")))

	v = CheckBid(dec("10"), dec("2"), decimal.Zero, dec("10"))
	check.Equal(t, "", Notice(v, dec("10"), dec("2")))
}
