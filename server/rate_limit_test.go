package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientLimiter(t *testing.T) {
	l := newClientLimiter(60, 2)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, l.allow("a", now))
	require.True(t, l.allow("a", now))
	require.False(t, l.allow("a", now))
	require.True(t, l.allow("b", now), "clients have separate buckets")

	// One token per second at 60/min
	require.True(t, l.allow("a", now.Add(time.Second)))
}

func TestClientLimiterSweepsIdleClients(t *testing.T) {
	l := newClientLimiter(60, 1)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	l.allow("a", now)
	l.allow("b", now)
	require.Equal(t, 2, l.size())

	l.allow("c", now.Add(limiterIdleTTL+time.Minute))
	require.Equal(t, 1, l.size())
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/login/source", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	require.Equal(t, "192.0.2.10", clientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", clientKey(r))
}
