package subscription

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/arbwatch/errs"
)

func TestNewKeyNormalises(t *testing.T) {
	key, err := NewKey(" Binance ", "btc/usdt", "", ChannelTick, "", 0)
	require.NoError(t, err)
	require.Equal(t, "binance", key.Provider)
	require.Equal(t, "BTC/USDT", key.Instrument)
	require.Equal(t, SegmentSpot, key.Segment)
	require.Equal(t, "binance|BTC/USDT|spot|tick||0", key.String())
}

func TestNewKeyRejectsMismatchedParams(t *testing.T) {
	cases := []struct {
		name     string
		channel  Channel
		interval string
		levels   int
	}{
		{"tick with interval", ChannelTick, "1m", 0},
		{"tick with levels", ChannelTick, "", 5},
		{"candle without interval", ChannelCandle, "", 0},
		{"candle with levels", ChannelCandle, "1m", 5},
		{"depth without levels", ChannelDepth, "", 0},
		{"depth with interval", ChannelDepth, "1m", 5},
		{"unknown channel", Channel("trades"), "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewKey("binance", "BTC/USDT", "spot", tc.channel, tc.interval, tc.levels)
			require.Error(t, err)
			require.True(t, errs.IsCode(err, errs.CodeInvalid))
		})
	}
}

func TestTickAndDepthKeysAreDistinct(t *testing.T) {
	tick, err := TickKey("binance", "BTC/USDT", "spot")
	require.NoError(t, err)
	depth, err := NewKey("binance", "BTC/USDT", "spot", ChannelDepth, "", 5)
	require.NoError(t, err)
	require.NotEqual(t, tick, depth)
	require.NotEqual(t, tick.String(), depth.String())
}

func TestParseKeyRoundTrip(t *testing.T) {
	key, err := NewKey("okx", "ETH/USDT:USDT", "futures", ChannelCandle, "5m", 0)
	require.NoError(t, err)
	parsed, err := ParseKey(key.String())
	require.NoError(t, err)
	require.Equal(t, key, parsed)

	_, err = ParseKey("binance|BTC/USDT|spot")
	require.Error(t, err)
	_, err = ParseKey("binance|BTC/USDT|spot|depth||x")
	require.Error(t, err)
}
