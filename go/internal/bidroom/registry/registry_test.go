package registry

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
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

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	reg := New(cfg, clock, roomtest.NewRecorder())
	t.Cleanup(reg.Close)
	return reg, clock
}

func TestGetOrCreate(t *testing.T) {
	reg, _ := newTestRegistry(t, DefaultConfig())

	first, err := reg.GetOrCreate("BID12345", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, first.Settings().StartingPrice.Equal(decimal.NewFromInt(1000000)))

	again, err := reg.GetOrCreate("BID12345", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.True(t, again.Settings().StartingPrice.Equal(decimal.NewFromInt(1000000)),
		"an existing room keeps its starting price")

	custom, err := reg.GetOrCreate("BID67890", decimal.NewFromInt(500000))
	require.NoError(t, err)
	assert.True(t, custom.Settings().StartingPrice.Equal(decimal.NewFromInt(500000)))
	assert.Equal(t, 2, reg.Len())
}

func TestGetOrCreateRejectsNegativePrice(t *testing.T) {
	reg, _ := newTestRegistry(t, DefaultConfig())

	_, err := reg.GetOrCreate("BID1", decimal.NewFromInt(-1))
	require.ErrorIs(t, err, room.ErrInvalidSettings)
	assert.Equal(t, 0, reg.Len())
}

func TestGetOrCreateConcurrent(t *testing.T) {
	reg, _ := newTestRegistry(t, DefaultConfig())

	const workers = 32
	results := make([]*room.Room, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rm, err := reg.GetOrCreate("BID12345", decimal.Zero)
			assert.NoError(t, err)
			results[i] = rm
		}(i)
	}
	wg.Wait()

	for _, rm := range results {
		assert.Same(t, results[0], rm)
	}
	assert.Equal(t, 1, reg.Len())
}

func TestCreate(t *testing.T) {
	reg, _ := newTestRegistry(t, DefaultConfig())
	settings := room.DefaultSettings()

	_, err := reg.Create("BID12345", settings)
	require.NoError(t, err)

	_, err = reg.Create("BID12345", settings)
	require.ErrorIs(t, err, ErrRoomExists)

	settings.MainDuration = 0
	_, err = reg.Create("BID2", settings)
	require.ErrorIs(t, err, room.ErrInvalidSettings)
}

func TestGetMissing(t *testing.T) {
	reg, _ := newTestRegistry(t, DefaultConfig())

	_, ok := reg.Get("nope")
	assert.False(t, ok)
}

func TestRoomsSortedByID(t *testing.T) {
	reg, _ := newTestRegistry(t, DefaultConfig())
	for _, id := range []string{"c", "a", "b"} {
		_, err := reg.GetOrCreate(id, decimal.Zero)
		require.NoError(t, err)
	}

	var ids []string
	for _, rm := range reg.Rooms() {
		ids = append(ids, rm.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

// finish drives a room with a one tick cooldown to completion
func finish(t *testing.T, clock *clockwork.FakeClock, rm *room.Room) {
	t.Helper()
	rm.Join(room.Participant{UserID: "a", DisplayName: "A", Role: room.RoleContractor, ConnectionID: "ca"})
	rm.Join(room.Participant{UserID: "b", DisplayName: "B", Role: room.RoleContractor, ConnectionID: "cb"})
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return rm.State() == room.StateTerminated
	}, 2*time.Second, time.Millisecond)
}

func shortCooldownConfig(retention time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Defaults.CooldownDuration = 1
	cfg.Retention = retention
	return cfg
}

func TestSweep(t *testing.T) {
	tests := []struct {
		name      string
		retention time.Duration
		elapsed   time.Duration
		finished  bool
		evicted   bool
	}{
		{name: "terminated_past_retention", retention: time.Hour, elapsed: time.Hour, finished: true, evicted: true},
		{name: "terminated_within_retention", retention: time.Hour, elapsed: 30 * time.Minute, finished: true},
		{name: "still_waiting", retention: time.Hour, elapsed: 2 * time.Hour},
		{name: "retention_disabled", retention: 0, elapsed: 48 * time.Hour, finished: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, clock := newTestRegistry(t, shortCooldownConfig(tt.retention))
			rm, err := reg.GetOrCreate("BID12345", decimal.Zero)
			require.NoError(t, err)
			if tt.finished {
				finish(t, clock, rm)
			}

			clock.Advance(tt.elapsed)
			evicted := reg.Sweep()

			_, present := reg.Get("BID12345")
			assert.Equal(t, !tt.evicted, present)
			if tt.evicted {
				assert.Equal(t, []string{"BID12345"}, evicted)
			} else {
				assert.Empty(t, evicted)
			}
		})
	}
}

func TestEvictedRoomIsRecreatedFresh(t *testing.T) {
	reg, clock := newTestRegistry(t, shortCooldownConfig(time.Minute))
	old, err := reg.GetOrCreate("BID12345", decimal.Zero)
	require.NoError(t, err)
	finish(t, clock, old)

	clock.Advance(time.Minute)
	require.Len(t, reg.Sweep(), 1)

	fresh, err := reg.GetOrCreate("BID12345", decimal.Zero)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, room.StateWaiting, fresh.State())
}

func TestRunJanitor(t *testing.T) {
	cfg := shortCooldownConfig(time.Minute)
	cfg.SweepInterval = 10 * time.Second
	reg, clock := newTestRegistry(t, cfg)

	rm, err := reg.GetOrCreate("BID12345", decimal.Zero)
	require.NoError(t, err)
	finish(t, clock, rm)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.RunJanitor(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	for i := 0; i < 7; i++ {
		clock.Advance(10 * time.Second)
	}
	require.Eventually(t, func() bool {
		return reg.Len() == 0
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
