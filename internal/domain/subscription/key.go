// Package subscription defines the identity of a logical market-data stream and
// the set algebra used to reconcile desired against active subscriptions.
package subscription

import (
	"strconv"
	"strings"

	"github.com/coachpo/arbwatch/errs"
)

// Channel names a category of real-time data.
type Channel string

const (
	// ChannelTick carries last-price ticks.
	ChannelTick Channel = "tick"
	// ChannelCandle carries interval candle updates.
	ChannelCandle Channel = "candle"
	// ChannelDepth carries order-book depth snapshots.
	ChannelDepth Channel = "depth"
)

// Channels lists every supported channel in dial order.
var Channels = []Channel{ChannelTick, ChannelCandle, ChannelDepth}

// Valid reports whether the channel is supported.
func (c Channel) Valid() bool {
	switch c {
	case ChannelTick, ChannelCandle, ChannelDepth:
		return true
	default:
		return false
	}
}

// Market segments understood by providers.
const (
	SegmentSpot    = "spot"
	SegmentFutures = "futures"
)

const keySeparator = "|"

// Key identifies one logical data stream. The zero value is not a valid key.
// Interval is only meaningful for candles and Levels only for depth, so a
// ticker and a 5-level depth stream on the same instrument are distinct keys.
type Key struct {
	Provider   string
	Instrument string
	Segment    string
	Channel    Channel
	Interval   string
	Levels     int
}

// NewKey normalises and validates a key.
func NewKey(provider, instrument, segment string, channel Channel, interval string, levels int) (Key, error) {
	key := Key{
		Provider:   strings.ToLower(strings.TrimSpace(provider)),
		Instrument: strings.ToUpper(strings.TrimSpace(instrument)),
		Segment:    strings.ToLower(strings.TrimSpace(segment)),
		Channel:    channel,
		Interval:   strings.TrimSpace(interval),
		Levels:     levels,
	}
	if key.Segment == "" {
		key.Segment = SegmentSpot
	}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}

// TickKey is shorthand for a price-tick key.
func TickKey(provider, instrument, segment string) (Key, error) {
	return NewKey(provider, instrument, segment, ChannelTick, "", 0)
}

// Validate checks field presence and channel/param compatibility.
func (k Key) Validate() error {
	if k.Provider == "" {
		return errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("provider required"))
	}
	if k.Instrument == "" {
		return errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("instrument required"))
	}
	if strings.Contains(k.Provider+k.Instrument+k.Segment+k.Interval, keySeparator) {
		return errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("key fields must not contain '|'"))
	}
	switch k.Channel {
	case ChannelTick:
		if k.Interval != "" || k.Levels != 0 {
			return errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("tick keys carry no channel params"))
		}
	case ChannelCandle:
		if k.Interval == "" {
			return errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("candle keys require an interval"))
		}
		if k.Levels != 0 {
			return errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("candle keys carry no depth levels"))
		}
	case ChannelDepth:
		if k.Levels <= 0 {
			return errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("depth keys require levels > 0"))
		}
		if k.Interval != "" {
			return errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("depth keys carry no interval"))
		}
	default:
		return errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("unknown channel "+strconv.Quote(string(k.Channel))))
	}
	return nil
}

// String returns the canonical encoding provider|instrument|segment|channel|interval|levels.
func (k Key) String() string {
	var b strings.Builder
	b.Grow(len(k.Provider) + len(k.Instrument) + len(k.Segment) + len(k.Channel) + len(k.Interval) + 8)
	b.WriteString(k.Provider)
	b.WriteString(keySeparator)
	b.WriteString(k.Instrument)
	b.WriteString(keySeparator)
	b.WriteString(k.Segment)
	b.WriteString(keySeparator)
	b.WriteString(string(k.Channel))
	b.WriteString(keySeparator)
	b.WriteString(k.Interval)
	b.WriteString(keySeparator)
	b.WriteString(strconv.Itoa(k.Levels))
	return b.String()
}

// ParseKey decodes the canonical encoding produced by String.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, keySeparator)
	if len(parts) != 6 {
		return Key{}, errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("malformed key "+strconv.Quote(raw)))
	}
	levels, err := strconv.Atoi(parts[5])
	if err != nil {
		return Key{}, errs.New("subscription/key", errs.CodeInvalid, errs.WithMessage("malformed levels"), errs.WithCause(err))
	}
	return NewKey(parts[0], parts[1], parts[2], Channel(parts[3]), parts[4], levels)
}
