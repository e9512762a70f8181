package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformed is returned for any line that cannot be decoded.
	ErrMalformed = errors.New("malformed message")

	// ErrInvalidNumber is a malformed line whose numeric field failed to parse.
	ErrInvalidNumber = fmt.Errorf("%w: invalid number", ErrMalformed)

	// ErrInvalidField is returned by Encode and ValidateField for values that
	// cannot be carried in a single field.
	ErrInvalidField = errors.New("invalid field")
)

// minFractionDigits is the cent precision every amount is written with.
const minFractionDigits int32 = 2

// MaxAmountExponent bounds the decimal exponent of an amount in either
// direction, so 1e18 and 1e-18 are the extremes. Rendering cost grows with
// the exponent.
const MaxAmountExponent int32 = 18

// FormatAmount renders an amount as a plain decimal with at least cent
// precision. Extra precision is never rounded away.
func FormatAmount(amount decimal.Decimal) string {
	places := -amount.Exponent()
	if places < minFractionDigits {
		places = minFractionDigits
	}
	return amount.StringFixed(places)
}

// ParseAmount parses a decimal amount as written by FormatAmount or typed by a
// human.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrInvalidNumber)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckAmount rejects amounts whose exponent is outside MaxAmountExponent.
func CheckAmount(d decimal.Decimal) error {
	if exp := d.Exponent(); exp > MaxAmountExponent || exp < -MaxAmountExponent {
		return fmt.Errorf("%w: exponent %d out of range", ErrInvalidNumber, exp)
	}
	return nil
}

// ValidateField reports whether value can travel as one non-empty field.
func ValidateField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidField, name)
	}
	if strings.ContainsAny(value, Delimiter+"\r\n") {
		return fmt.Errorf("%w: %s contains %q or a line break", ErrInvalidField, name, Delimiter)
	}
	return nil
}

// Encode renders a message as one line without the trailing line break.
func Encode(m Message) (string, error) {
	switch msg := m.(type) {
	case Join:
		return join(msg.Kind(), field{"name", msg.Name})
	case FinalConfirm:
		return join(msg.Kind(), field{"name", msg.Name})
	case Bid:
		return join(msg.Kind(), field{"name", msg.Name}, field{"", FormatAmount(msg.Amount)})
	case Start:
		return join(msg.Kind(),
			field{"item", msg.Item},
			field{"", FormatAmount(msg.StartingBid)},
			field{"", FormatAmount(msg.MinIncrement)},
		)
	case FinalRequest:
		return join(msg.Kind(), field{"bidder", msg.Bidder}, field{"", FormatAmount(msg.Amount)})
	case End:
		return join(msg.Kind(), field{"winner", msg.Winner}, field{"", FormatAmount(msg.Amount)})
	case Time:
		if msg.SecondsRemaining < 0 {
			return "", fmt.Errorf("%w: negative seconds %d", ErrInvalidField, msg.SecondsRemaining)
		}
		return string(KindTime) + Delimiter + strconv.Itoa(msg.SecondsRemaining), nil
	case Info:
		// Free text may contain the delimiter; only line breaks are fatal.
		if strings.ContainsAny(msg.Text, "\r\n") {
			return "", fmt.Errorf("%w: info text contains a line break", ErrInvalidField)
		}
		return string(KindInfo) + Delimiter + msg.Text, nil
	default:
		return "", fmt.Errorf("%w: unsupported message %T", ErrInvalidField, m)
	}
}

// DecodeClient decodes a line sent by a bidder to the coordinator.
func DecodeClient(line string) (Message, error) {
	kind, fields, err := split(line)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindJoin:
		name, err := nameField(kind, fields, 1)
		if err != nil {
			return nil, err
		}
		return Join{Name: name}, nil

	case KindFinalConfirm:
		name, err := nameField(kind, fields, 1)
		if err != nil {
			return nil, err
		}
		return FinalConfirm{Name: name}, nil

	case KindBid:
		name, amount, err := nameAndAmount(kind, fields)
		if err != nil {
			return nil, err
		}
		return Bid{Name: name, Amount: amount}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
}

// DecodeServer decodes a line sent by the coordinator to a bidder.
func DecodeServer(line string) (Message, error) {
	trimmed := strings.TrimRight(line, "\r\n")

	// INFO carries everything after the first delimiter verbatim.
	if text, ok := strings.CutPrefix(trimmed, string(KindInfo)+Delimiter); ok {
		return Info{Text: text}, nil
	}

	kind, fields, err := split(trimmed)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindStart, KindNewAuction:
		if len(fields) != 3 {
			return nil, fieldCountError(kind, 3, len(fields))
		}
		item := strings.TrimSpace(fields[0])
		if item == "" {
			return nil, fmt.Errorf("%w: %s with empty item", ErrMalformed, kind)
		}
		startingBid, err := ParseAmount(fields[1])
		if err != nil {
			return nil, err
		}
		minIncrement, err := ParseAmount(fields[2])
		if err != nil {
			return nil, err
		}
		return Start{
			Item:         item,
			StartingBid:  startingBid,
			MinIncrement: minIncrement,
			Reset:        kind == KindNewAuction,
		}, nil

	case KindBid:
		name, amount, err := nameAndAmount(kind, fields)
		if err != nil {
			return nil, err
		}
		return Bid{Name: name, Amount: amount}, nil

	case KindFinalRequest:
		name, amount, err := nameAndAmount(kind, fields)
		if err != nil {
			return nil, err
		}
		return FinalRequest{Bidder: name, Amount: amount}, nil

	case KindEnd:
		name, amount, err := nameAndAmount(kind, fields)
		if err != nil {
			return nil, err
		}
		return End{Winner: name, Amount: amount}, nil

	case KindTime:
		if len(fields) != 1 {
			return nil, fieldCountError(kind, 1, len(fields))
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, fields[0])
		}
		return Time{SecondsRemaining: seconds}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
}

type field struct {
	name  string // empty for generated numeric fields
	value string
}

func join(kind Kind, fields ...field) (string, error) {
	var b strings.Builder
	b.WriteString(string(kind))
	for _, f := range fields {
		if f.name != "" {
			if err := ValidateField(f.name, f.value); err != nil {
				return "", fmt.Errorf("encode %s: %w", kind, err)
			}
		}
		b.WriteString(Delimiter)
		b.WriteString(f.value)
	}
	return b.String(), nil
}

func split(line string) (Kind, []string, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", nil, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	parts := strings.Split(line, Delimiter)
	return Kind(strings.TrimSpace(parts[0])), parts[1:], nil
}

func nameField(kind Kind, fields []string, want int) (string, error) {
	if len(fields) != want {
		return "", fieldCountError(kind, want, len(fields))
	}
	name := strings.TrimSpace(fields[0])
	if name == "" {
		return "", fmt.Errorf("%w: %s with empty name", ErrMalformed, kind)
	}
	return name, nil
}

func nameAndAmount(kind Kind, fields []string) (string, decimal.Decimal, error) {
	if len(fields) != 2 {
		return "", decimal.Zero, fieldCountError(kind, 2, len(fields))
	}
	name, err := nameField(kind, fields[:1], 1)
	if err != nil {
		return "", decimal.Zero, err
	}
	amount, err := ParseAmount(fields[1])
	if err != nil {
		return "", decimal.Zero, err
	}
	return name, amount, nil
}

func fieldCountError(kind Kind, want, got int) error {
	return fmt.Errorf("%w: %s expects %d fields, got %d", ErrMalformed, kind, want, got)
}
