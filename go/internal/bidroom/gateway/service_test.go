package gateway

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/nexahaul/bidroom/go/internal/bidroom/registry"
	"github.com/nexahaul/bidroom/go/internal/bidroom/room"
	"github.com/nexahaul/bidroom/go/internal/bidroom/roomtest"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func newTestService(t *testing.T, cfg registry.Config) (*Service, *roomtest.Recorder, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rec := roomtest.NewRecorder()
	rooms := registry.New(cfg, clock, rec)
	t.Cleanup(rooms.Close)
	return NewService(rooms, rec, clock), rec, clock
}

func joinCmd(roomID, userID, role string) JoinCommand {
	return JoinCommand{
		RoomID:       roomID,
		UserID:       userID,
		DisplayName:  "User " + userID,
		Role:         role,
		ConnectionID: "conn-" + userID,
	}
}

func TestJoinValidation(t *testing.T) {
	tests := []struct {
		name string
		cmd  JoinCommand
		want error
	}{
		{name: "missing_room", cmd: JoinCommand{UserID: "u", Role: "contractor"}, want: ErrMissingRoomID},
		{name: "blank_room", cmd: JoinCommand{RoomID: "  ", UserID: "u", Role: "contractor"}, want: ErrMissingRoomID},
		{name: "missing_user", cmd: JoinCommand{RoomID: "r", Role: "contractor"}, want: ErrMissingUserID},
		{name: "unknown_role", cmd: JoinCommand{RoomID: "r", UserID: "u", Role: "auctioneer"}, want: room.ErrInvalidRole},
		{name: "negative_price", cmd: JoinCommand{RoomID: "r", UserID: "u", Role: "shipper", StartingPrice: decimal.NewFromInt(-10)}, want: ErrInvalidStartingPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, registry.DefaultConfig())

			_, err := svc.Join(context.Background(), tt.cmd)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, isInvalidArgument(err))
			assert.Equal(t, 0, svc.rooms.Len(), "invalid joins never create rooms")
		})
	}
}

func TestJoinCreatesRoomWithStartingPrice(t *testing.T) {
	svc, rec, _ := newTestService(t, registry.DefaultConfig())

	cmd := joinCmd("BID67890", "s1", "shipper")
	cmd.StartingPrice = decimal.NewFromInt(500000)
	snap, err := svc.Join(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, "BID67890", snap.RoomID)
	assert.True(t, snap.StartingPrice.Equal(decimal.NewFromInt(500000)))
	assert.True(t, snap.CurrentLowestBid.Equal(decimal.NewFromInt(500000)))
	assert.True(t, rec.Subscribed("BID67890", "conn-s1"))
}

func TestJoinDefaultsDisplayNameToUserID(t *testing.T) {
	svc, _, _ := newTestService(t, registry.DefaultConfig())

	snap, err := svc.Join(context.Background(), JoinCommand{RoomID: "r", UserID: "u1", Role: "contractor"})
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "u1", snap.Participants[0].DisplayName)
}

func TestPlaceBidOutcomes(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t, registry.DefaultConfig())

	bid := func(roomID, userID string, amount int64) BidResult {
		t.Helper()
		result, err := svc.PlaceBid(ctx, BidCommand{
			RoomID:       roomID,
			UserID:       userID,
			Amount:       decimal.NewFromInt(amount),
			ConnectionID: "conn-" + userID,
		})
		require.NoError(t, err)
		return result
	}

	result := bid("missing", "a", 10)
	assert.False(t, result.Accepted)
	assert.Equal(t, "room not found", result.Reason)

	_, err := svc.Join(ctx, joinCmd("BID12345", "a", "contractor"))
	require.NoError(t, err)
	assert.Equal(t, "bidding not started", bid("BID12345", "a", 10).Reason)

	_, err = svc.Join(ctx, joinCmd("BID12345", "b", "contractor"))
	require.NoError(t, err)

	result = bid("BID12345", "a", 900000)
	assert.True(t, result.Accepted)
	require.NotNil(t, result.Amount)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(900000)))

	assert.Equal(t, "bid not lower than current", bid("BID12345", "b", 900000).Reason)
	assert.Equal(t, "invalid bid amount", bid("BID12345", "b", 0).Reason)

	var reasons []string
	for _, ev := range rec.Unicasts("conn-b") {
		if p, ok := ev.Payload.(events.BidRejectedPayload); ok {
			reasons = append(reasons, p.Reason)
		}
	}
	assert.Equal(t, []string{"bid not lower than current", "invalid bid amount"}, reasons)
}

func TestPlaceBidValidation(t *testing.T) {
	svc, _, _ := newTestService(t, registry.DefaultConfig())

	_, err := svc.PlaceBid(context.Background(), BidCommand{UserID: "u", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrMissingRoomID)

	_, err = svc.PlaceBid(context.Background(), BidCommand{RoomID: "r", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrMissingUserID)
}

func TestRejectionWithoutConnectionIsNotSent(t *testing.T) {
	svc, rec, _ := newTestService(t, registry.DefaultConfig())

	result, err := svc.PlaceBid(context.Background(), BidCommand{RoomID: "nope", UserID: "u", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Empty(t, rec.Unicasts(""))
}

func TestLeaveEveryJoinedRoom(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, registry.DefaultConfig())

	for _, roomID := range []string{"r1", "r2"} {
		_, err := svc.Join(ctx, JoinCommand{RoomID: roomID, UserID: "u", Role: "contractor", ConnectionID: "c1"})
		require.NoError(t, err)
	}

	left, err := svc.Leave(ctx, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, left)

	for _, roomID := range []string{"r1", "r2"} {
		snap, err := svc.Snapshot(ctx, roomID)
		require.NoError(t, err)
		assert.Empty(t, snap.Participants)
	}

	left, err = svc.Leave(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, left, "leaving twice is a no-op")

	_, err = svc.Leave(ctx, "")
	require.ErrorIs(t, err, ErrMissingConnectionID)
}

func TestLeaveAfterReconnectKeepsNewSession(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, registry.DefaultConfig())

	_, err := svc.Join(ctx, JoinCommand{RoomID: "r", UserID: "u", Role: "contractor", ConnectionID: "old"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, JoinCommand{RoomID: "r", UserID: "u", Role: "contractor", ConnectionID: "new"})
	require.NoError(t, err)

	left, err := svc.Leave(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, left)

	snap, err := svc.Snapshot(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ContractorCount)
}

func TestLateJoinerRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := registry.DefaultConfig()
	cfg.Defaults.CooldownDuration = 2
	svc, rec, clock := newTestService(t, cfg)

	_, err := svc.Join(ctx, joinCmd("BID12345", "a", "contractor"))
	require.NoError(t, err)
	_, err = svc.Join(ctx, joinCmd("BID12345", "b", "contractor"))
	require.NoError(t, err)
	result, err := svc.PlaceBid(ctx, BidCommand{RoomID: "BID12345", UserID: "a", DisplayName: "User a", Amount: decimal.NewFromInt(750000)})
	require.NoError(t, err)
	require.True(t, result.Accepted)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		snap, err := svc.Snapshot(ctx, "BID12345")
		return err == nil && snap.CooldownSecondsRemaining == 1
	}, 2*time.Second, time.Millisecond)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		snap, err := svc.Snapshot(ctx, "BID12345")
		return err == nil && !snap.Active
	}, 2*time.Second, time.Millisecond)

	snap, err := svc.Join(ctx, joinCmd("BID12345", "late", "shipper"))
	require.NoError(t, err)
	assert.False(t, snap.Active)
	require.NotNil(t, snap.Winner)
	assert.Equal(t, "User a", *snap.Winner)
	require.NotNil(t, snap.FinalAmount)
	assert.True(t, snap.FinalAmount.Equal(decimal.NewFromInt(750000)))
	assert.False(t, rec.Subscribed("BID12345", "conn-late"))
}

func TestSnapshotNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, registry.DefaultConfig())

	_, err := svc.Snapshot(context.Background(), "ghost")
	require.ErrorIs(t, err, room.ErrRoomNotFound)
	assert.True(t, isNotFound(err))

	_, err = svc.Snapshot(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingRoomID)
}

func TestListRooms(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, registry.DefaultConfig())

	_, err := svc.Join(ctx, joinCmd("b-room", "u1", "contractor"))
	require.NoError(t, err)
	_, err = svc.Join(ctx, joinCmd("a-room", "u2", "shipper"))
	require.NoError(t, err)

	rooms := svc.ListRooms(ctx)
	require.Len(t, rooms, 2)
	assert.Equal(t, "a-room", rooms[0].RoomID)
	assert.Equal(t, "b-room", rooms[1].RoomID)
	assert.Equal(t, 1, rooms[1].ContractorCount)
	assert.True(t, rooms[0].Active)
	assert.False(t, rooms[0].BiddingStarted)
}
