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

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	assert.NotPanics(t, func() { NewStatsUpdater(http.NewServeMux()) }, "expected a second updater to be allowed")
}

func readVars(t *testing.T, mux *http.ServeMux) map[string]any {
	t.Helper()

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var vars map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &vars))
	return vars
}

func TestUpdateMetrics(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric(Connections)
	su.RegisterMetric(OnlineUsers)
	su.Run()
	defer su.Stop()

	su.Incr(Connections)
	su.Incr(Connections)
	su.Decr(Connections)
	su.Set(OnlineUsers, 7)
	su.Incr("Unregistered")

	assert.Eventually(t, func() bool {
		vars := readVars(t, mux)
		return vars[Connections] == float64(1) && vars[OnlineUsers] == float64(7)
	}, time.Second, 10*time.Millisecond, "expected counters to be applied")

	vars := readVars(t, mux)
	assert.Contains(t, vars, "Uptime")
	assert.NotContains(t, vars, "Unregistered", "expected unknown metrics to be ignored")
}
