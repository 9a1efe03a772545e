package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEnvelopeEncoding(t *testing.T) {
	winner := "Acme Freight"
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := New("BID12345", 7, at, BiddingCompletedPayload{
		Winner:      &winner,
		FinalAmount: decimal.NewFromInt(850000),
		Reason:      "cooldown expired",
		BidCount:    2,
	})

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "bidding-completed", generic["type"])
	assert.Equal(t, "BID12345", generic["roomId"])
	assert.EqualValues(t, 7, generic["seq"])

	data := generic["data"].(map[string]any)
	assert.EqualValues(t, 850000, data["finalAmount"], "amounts are JSON numbers")
	assert.Equal(t, "Acme Freight", data["winner"])

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, TypeBiddingCompleted, decoded.Type())

	payload, ok := decoded.Payload.(BiddingCompletedPayload)
	require.True(t, ok)
	assert.True(t, payload.FinalAmount.Equal(decimal.NewFromInt(850000)))
	assert.Equal(t, "cooldown expired", payload.Reason)
}

func TestNullWinnerIsEncoded(t *testing.T) {
	raw, err := json.Marshal(New("r", 1, time.Now(), BiddingCompletedPayload{
		FinalAmount: decimal.NewFromInt(500000),
		Reason:      "time limit reached, no bids",
	}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"winner":null`)
	assert.NotContains(t, string(raw), "winnerUserId")
}

func TestParsePayloadUnknownType(t *testing.T) {
	_, err := ParsePayload("auction-paused", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestMarshalWithoutPayloadFails(t *testing.T) {
	_, err := json.Marshal(Event{ID: "x", RoomID: "r"})
	require.Error(t, err)
}
