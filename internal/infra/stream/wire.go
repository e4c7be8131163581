package stream

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/arbwatch/errs"
	"github.com/coachpo/arbwatch/internal/domain/subscription"
)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"

	suffixUpdate    = "_update"
	suffixConfirmed = "_subscription_confirmed"
	typeError       = "error"
)

// controlFrame is the outbound subscribe/unsubscribe envelope.
type controlFrame struct {
	Type string      `json:"type"`
	Data controlData `json:"data"`
}

type controlData struct {
	Provider      string `json:"provider"`
	Instrument    string `json:"instrument"`
	MarketSegment string `json:"marketSegment"`
	Channel       string `json:"channel"`
	Interval      string `json:"interval,omitempty"`
	Levels        int    `json:"levels,omitempty"`
}

// inboundFrame is the envelope of every message the endpoint pushes.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type inboundData struct {
	Provider      string          `json:"provider"`
	Instrument    string          `json:"instrument"`
	MarketSegment string          `json:"marketSegment"`
	Interval      string          `json:"interval,omitempty"`
	Levels        int             `json:"levels,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Message       string          `json:"message,omitempty"`
}

func encodeControl(op string, key subscription.Key) ([]byte, error) {
	frame := controlFrame{
		Type: op,
		Data: controlData{
			Provider:      key.Provider,
			Instrument:    key.Instrument,
			MarketSegment: key.Segment,
			Channel:       string(key.Channel),
			Interval:      key.Interval,
			Levels:        key.Levels,
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, errs.New("stream/wire", errs.CodeTransport, errs.WithMessage("marshal "+op), errs.WithCause(err))
	}
	return data, nil
}

type frameKind int

const (
	frameUnknown frameKind = iota
	frameUpdate
	frameConfirmed
	frameError
)

type decodedFrame struct {
	kind    frameKind
	key     subscription.Key
	payload json.RawMessage
	message string
}

// decodeInbound classifies a frame for channel and extracts its key.
func decodeInbound(channel subscription.Channel, raw []byte) (decodedFrame, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return decodedFrame{}, errs.New("stream/wire", errs.CodeTransport, errs.WithMessage("decode frame"), errs.WithCause(err))
	}
	kind := frameUnknown
	switch {
	case frame.Type == string(channel)+suffixUpdate:
		kind = frameUpdate
	case frame.Type == string(channel)+suffixConfirmed:
		kind = frameConfirmed
	case frame.Type == typeError:
		kind = frameError
	default:
		return decodedFrame{kind: frameUnknown}, nil
	}

	var data inboundData
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return decodedFrame{}, errs.New("stream/wire", errs.CodeTransport, errs.WithMessage("decode "+frame.Type+" data"), errs.WithCause(err))
		}
	}
	if kind == frameError {
		return decodedFrame{kind: kind, message: strings.TrimSpace(data.Message)}, nil
	}
	key, err := subscription.NewKey(data.Provider, data.Instrument, data.MarketSegment, channel, data.Interval, data.Levels)
	if err != nil {
		return decodedFrame{}, errs.New("stream/wire", errs.CodeTransport, errs.WithMessage("frame key"), errs.WithCause(err))
	}
	return decodedFrame{kind: kind, key: key, payload: data.Payload}, nil
}
