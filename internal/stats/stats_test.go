package stats

import (
	"expvar"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestUpdatersAreIndependent(t *testing.T) {
	// Nothing is published to the process-wide expvar namespace, so two
	// updaters with the same metric names must coexist.
	a := NewStatsUpdater(http.NewServeMux())
	b := NewStatsUpdater(http.NewServeMux())
	a.RegisterMetric("Connections")
	b.RegisterMetric("Connections")

	a.vars.Get("Connections").(*expvar.Int).Add(3)
	assert.Equal(t, "3", a.vars.Get("Connections").String(), "expected the first updater's counter bumped")
	assert.Equal(t, "0", b.vars.Get("Connections").String(), "expected the second updater untouched")
	assert.Nil(t, expvar.Get("Connections"), "expected no process-wide var leaked")
}

func TestRegisterMetricAndUpdate(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric("TestCounter")

	metric := su.vars.Get("TestCounter")
	assert.NotNil(t, metric, "expected registered metric present")
	assert.Equal(t, "0", metric.String(), "expected counter to start at zero")

	su.Run()
	defer su.Stop()

	su.Incr("TestCounter")
	su.Incr("TestCounter")
	su.Decr("TestCounter")

	// Updates flow through a channel; wait for them to land.
	assert.Eventually(t, func() bool {
		return metric.String() == "1"
	}, 100*time.Millisecond, time.Millisecond, "expected counter to settle at 1")
}
