package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func ok(context.Context) error { return nil }

func TestCheckAllHealthy(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))
	c := NewChecker(clock, time.Second)
	c.Register("nats", ok)
	c.Register("archive", ok)

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, map[string]string{"nats": "ok", "archive": "ok"}, status.Components)
	assert.Empty(t, status.Errors)
	assert.Equal(t, clock.Now(), status.CheckedAt)
}

func TestCheckReportsFailures(t *testing.T) {
	c := NewChecker(clockwork.NewFakeClock(), time.Second)
	c.Register("nats", func(context.Context) error { return errors.New("NATS disconnected") })
	c.Register("archive", ok)

	status := c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "unavailable", status.Components["nats"])
	assert.Equal(t, "ok", status.Components["archive"])
	assert.Equal(t, []string{"nats: NATS disconnected"}, status.Errors)
}

func TestCheckAppliesTimeout(t *testing.T) {
	c := NewChecker(clockwork.NewRealClock(), 10*time.Millisecond)
	c.Register("db", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())
	assert.False(t, status.Healthy)
	require.Len(t, status.Errors, 1)
	assert.Contains(t, status.Errors[0], "deadline exceeded")
}

func TestRegisterReplaces(t *testing.T) {
	c := NewChecker(clockwork.NewFakeClock(), time.Second)
	c.Register("nats", func(context.Context) error { return errors.New("down") })
	c.Register("nats", ok)

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Len(t, status.Components, 1)
}

func TestServeHTTP(t *testing.T) {
	tests := []struct {
		name     string
		check    CheckFunc
		wantCode int
	}{
		{name: "ready", check: ok, wantCode: http.StatusOK},
		{name: "not_ready", check: func(context.Context) error { return errors.New("down") }, wantCode: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(clockwork.NewFakeClock(), time.Second)
			c.Register("nats", tt.check)

			rec := httptest.NewRecorder()
			c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var status Status
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.Equal(t, tt.wantCode == http.StatusOK, status.Healthy)
		})
	}
}

func TestExport(t *testing.T) {
	c := NewChecker(clockwork.NewFakeClock(), time.Second)
	assert.Equal(t, "# HELP bidroom_healthy Whether every dependency is available\n# TYPE bidroom_healthy gauge\nbidroom_healthy 1\n", c.Export(context.Background()))

	c.Register("nats", func(context.Context) error { return errors.New("down") })
	c.Register("archive", ok)

	out := c.Export(context.Background())
	assert.Contains(t, out, "bidroom_healthy 0\n")
	assert.Contains(t, out, `bidroom_component_up{component="nats"} 0`)
	assert.Contains(t, out, `bidroom_component_up{component="archive"} 1`)
}
