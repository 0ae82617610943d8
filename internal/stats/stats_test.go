package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The expvar map name is process-global, so a single updater serves every
// subtest.
func TestStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.Run()
	defer su.Stop()

	counter := func(name string) int64 {
		v, ok := su.vars.Get(name).(interface{ Value() int64 })
		require.True(t, ok, "metric %s must be an integer", name)
		return v.Value()
	}

	t.Run("mounts the vars handler", func(t *testing.T) {
		handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
		assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
		assert.Equal(t, "GET /debug/vars", pattern)
	})

	t.Run("registers all counters at zero", func(t *testing.T) {
		for _, name := range []string{
			ActiveConnections, ActiveSessions,
			MessagesIn, MessagesOut, MessagesDropped,
			AIRequests, AICacheHits, AICacheMisses, AIFailures,
		} {
			assert.Zero(t, counter(name), "metric %s must start at zero", name)
		}
	})

	t.Run("incr and decr apply asynchronously", func(t *testing.T) {
		su.Incr(MessagesIn)
		su.Incr(MessagesIn)
		su.Decr(MessagesIn)

		assert.Eventually(t, func() bool {
			return counter(MessagesIn) == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("creates unknown metrics on first update", func(t *testing.T) {
		su.Incr("LateMetric")
		assert.Eventually(t, func() bool {
			v, ok := su.vars.Get("LateMetric").(interface{ Value() int64 })
			return ok && v.Value() == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("serves counters as json", func(t *testing.T) {
		su.Incr(ActiveConnections)
		require.Eventually(t, func() bool {
			return counter(ActiveConnections) == 1
		}, 2*time.Second, 10*time.Millisecond)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.EqualValues(t, 1, body[ActiveConnections])
		assert.Contains(t, body, "Uptime")
	})
}
