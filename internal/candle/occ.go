package candle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionType distinguishes a call from a put in an OCC symbol.
type OptionType string

const (
	Call OptionType = "C"
	Put  OptionType = "P"
)

// OptionFields is the decoded content of an OCC option symbol.
type OptionFields struct {
	Root       string
	Expiration time.Time // date only, UTC midnight
	Type       OptionType
	Strike     float64
}

// EncodeOCC emits the bit-exact OCC symbol per §6: root left-justified and
// space-padded to 6 chars, YYMMDD expiration, C or P, strike in thousandths
// zero-padded to 8 digits. Ported from the original source's
// harvest/api/_base.py: data_to_occ.
func EncodeOCC(root string, expiration time.Time, optType OptionType, strike float64) (Symbol, error) {
	if len(root) == 0 || len(root) > 6 {
		return "", fmt.Errorf("occ root %q must be 1-6 characters", root)
	}
	if optType != Call && optType != Put {
		return "", fmt.Errorf("occ option type must be C or P, got %q", optType)
	}
	padded := root + strings.Repeat(" ", 6-len(root))
	strikeThousandths := int64(strike*1000 + 0.5)
	if strikeThousandths < 0 || strikeThousandths > 99999999 {
		return "", fmt.Errorf("occ strike %v out of range", strike)
	}
	occ := fmt.Sprintf("%s%s%s%08d", padded, expiration.UTC().Format("060102"), optType, strikeThousandths)
	return Symbol(occ), nil
}

// DecodeOCC parses a legal OCC symbol back into its four fields. Round-trips
// with EncodeOCC for any symbol EncodeOCC would produce.
func DecodeOCC(s Symbol) (OptionFields, error) {
	str := string(s)
	if len(str) != 21 {
		return OptionFields{}, fmt.Errorf("occ symbol %q must be exactly 21 characters", str)
	}
	root := strings.TrimRight(str[:6], " ")
	rest := str[6:]
	if len(rest) != 15 {
		return OptionFields{}, fmt.Errorf("occ symbol %q has wrong length after root", str)
	}
	exp, err := time.ParseInLocation("060102", rest[:6], time.UTC)
	if err != nil {
		return OptionFields{}, fmt.Errorf("occ symbol %q bad expiration: %w", str, err)
	}
	var optType OptionType
	switch rest[6] {
	case 'C':
		optType = Call
	case 'P':
		optType = Put
	default:
		return OptionFields{}, fmt.Errorf("occ symbol %q has invalid type byte %q", str, rest[6])
	}
	strikeRaw, err := strconv.ParseInt(rest[7:], 10, 64)
	if err != nil {
		return OptionFields{}, fmt.Errorf("occ symbol %q bad strike: %w", str, err)
	}
	return OptionFields{
		Root:       root,
		Expiration: exp,
		Type:       optType,
		Strike:     float64(strikeRaw) / 1000.0,
	}, nil
}
