package journal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthChecker_StoppedDispatcherIsUnhealthy(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), clockwork.NewFakeClockAt(epoch))
	status := NewHealthChecker(d, nil, nil).Check(context.Background())

	assert.False(t, status.Healthy)
	assert.Contains(t, status.Errors, "dispatcher not running")
	assert.Nil(t, status.DatabaseConnected, "unconfigured database is not reported")
	assert.Nil(t, status.NATSConnected)
}

func TestHealthChecker_DatabasePing(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), clockwork.NewFakeClockAt(epoch))
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	status := NewHealthChecker(d, fakePinger{}, nil).Check(context.Background())
	assert.True(t, status.Healthy)
	require.NotNil(t, status.DatabaseConnected)
	assert.True(t, *status.DatabaseConnected)

	status = NewHealthChecker(d, fakePinger{err: errors.New("connection refused")}, nil).Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, *status.DatabaseConnected)
	require.Len(t, status.Errors, 1)
	assert.Contains(t, status.Errors[0], "connection refused")
}

func TestHealthChecker_ServeHTTP(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), clockwork.NewFakeClockAt(epoch))
	checker := NewHealthChecker(d, nil, nil)

	rec := httptest.NewRecorder()
	checker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/journal", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	rec = httptest.NewRecorder()
	checker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/journal", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.True(t, status.DispatcherRunning)
}
