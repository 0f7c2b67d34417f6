package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimits(t *testing.T) {
	limits, err := ParseLimits("200 per day; 50 per hour;8 per minutes")
	require.NoError(t, err)
	assert.Equal(t, []Limit{
		{Count: 200, Period: 24 * time.Hour},
		{Count: 50, Period: time.Hour},
		{Count: 8, Period: time.Minute},
	}, limits)

	limits, err = ParseLimits("")
	require.NoError(t, err)
	assert.Empty(t, limits)

	for _, bad := range []string{"8", "8 per fortnight", "zero per day", "0 per day", "8 each minute"} {
		_, err := ParseLimits(bad)
		assert.Error(t, err, bad)
	}
}

func fixedClock(l *Limiter, now *time.Time) {
	l.now = func() time.Time { return *now }
}

func TestLimiter_EnforcesCountPerPeriod(t *testing.T) {
	now := time.Now()
	l := New(Limit{Count: 3, Period: time.Minute})
	fixedClock(l, &now)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d", i)
	}
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"), "other clients are independent")

	now = now.Add(20 * time.Second)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestLimiter_RejectionConsumesNothing(t *testing.T) {
	now := time.Now()
	l := New(Limit{Count: 5, Period: time.Minute}, Limit{Count: 2, Period: time.Hour})
	fixedClock(l, &now)

	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	// The hourly bucket is empty; the per-minute bucket must not be drained.
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("k"))
	}

	now = now.Add(30 * time.Minute)
	assert.True(t, l.Allow("k"))
}

func TestLimiter_NoLimitsAllowsAll(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k"))
	}
}

func TestLimiter_Sweep(t *testing.T) {
	now := time.Now()
	l := New(Limit{Count: 1, Period: time.Hour})
	fixedClock(l, &now)

	l.Allow("old")
	now = now.Add(2 * time.Hour)
	l.Allow("new")

	assert.Equal(t, 1, l.Sweep(time.Hour))
	assert.Len(t, l.clients, 1)
}

func TestMiddleware(t *testing.T) {
	l := New(Limit{Count: 1, Period: time.Hour})
	handler := l.Middleware(ClientIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/conversation", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"Rate limit exceeded. Try again later."}`, rec.Body.String())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:1234"
	assert.Equal(t, "192.168.1.9", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(req))
}
