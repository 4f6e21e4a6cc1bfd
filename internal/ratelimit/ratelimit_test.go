package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Allow(t *testing.T) {
	t.Run("burst then deny", func(t *testing.T) {
		l := New(1, 2)
		now := time.Unix(1000, 0)
		l.now = func() time.Time { return now }

		assert.True(t, l.Allow("a"))
		assert.True(t, l.Allow("a"))
		assert.False(t, l.Allow("a"))

		// other clients have their own bucket
		assert.True(t, l.Allow("b"))

		now = now.Add(time.Second)
		assert.True(t, l.Allow("a"))
	})

	t.Run("disabled", func(t *testing.T) {
		l := New(0, 0)
		assert.False(t, l.Enabled())
		for i := 0; i < 100; i++ {
			assert.True(t, l.Allow("a"))
		}
		assert.Empty(t, l.clients)
	})

	t.Run("nil limiter allows", func(t *testing.T) {
		var l *Limiter
		assert.True(t, l.Allow("a"))
	})
}

func TestLimiter_SweepsIdleClients(t *testing.T) {
	l := New(1, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(idleTTL + sweepEvery)
	l.Allow("new")

	assert.Len(t, l.clients, 1)
}

func request(remote string, xff ...string) *http.Request {
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = remote
	for _, v := range xff {
		r.Header.Add("X-Forwarded-For", v)
	}
	return r
}

func TestClientKey(t *testing.T) {
	behindProxy, err := NewClientResolver([]string{"10.0.0.0/8", "192.0.2.7"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		resolver *ClientResolver
		req      *http.Request
		want     string
	}{
		{"remote addr", nil, request("198.51.100.4:53211"), "198.51.100.4"},
		{"unparseable remote addr", nil, request("pipe"), "pipe"},
		{"forwarded for ignored without proxies", nil, request("198.51.100.4:53211", "203.0.113.9"), "198.51.100.4"},
		{"forwarded for ignored from untrusted peer", behindProxy, request("198.51.100.4:53211", "203.0.113.9"), "198.51.100.4"},
		{"single trusted proxy", behindProxy, request("10.0.0.2:4000", "203.0.113.9"), "203.0.113.9"},
		{"spoofed hops left of the real client", behindProxy, request("10.0.0.2:4000", "1.1.1.1, 203.0.113.9"), "203.0.113.9"},
		{"proxy chain", behindProxy, request("10.0.0.2:4000", "203.0.113.9, 192.0.2.7, 10.3.3.3"), "203.0.113.9"},
		{"repeated headers", behindProxy, request("10.0.0.2:4000", "8.8.8.8", "203.0.113.9"), "203.0.113.9"},
		{"garbage hop", behindProxy, request("10.0.0.2:4000", "203.0.113.9, unknown"), "10.0.0.2"},
		{"no header from proxy", behindProxy, request("10.0.0.2:4000"), "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resolver.ClientKey(tt.req))
		})
	}
}

func TestNewClientResolver_RejectsBadProxy(t *testing.T) {
	_, err := NewClientResolver([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestLimiter_RotatingForwardedForStillLimited(t *testing.T) {
	l := New(0.0001, 1)
	var resolver *ClientResolver

	allowed := 0
	for i := 0; i < 5; i++ {
		r := request("198.51.100.4:53211", fmt.Sprintf("10.0.0.%d", i))
		if l.Allow(resolver.ClientKey(r)) {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)
}
