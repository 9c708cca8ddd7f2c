package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDispatchesOnceAtThreshold(t *testing.T) {
	var calls int32
	var lastBody webhookBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewDecoder(r.Body).Decode(&lastBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := New(Config{Threshold: 3, WebhookURL: server.URL})

	m.Record(EventFailed, LatestRun{ID: "r1"})
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	m.Record(EventFailed, LatestRun{ID: "r2"})
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	m.Record(EventFailed, LatestRun{ID: "r3"})
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 3, lastBody.ConsecutiveFailures)
	assert.Equal(t, EventFailed, lastBody.Event)

	// Further failures past the threshold do not re-dispatch.
	m.Record(EventFailed, LatestRun{ID: "r4"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 4, m.ConsecutiveFailures())
}

func TestSuccessResetsAndRearms(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := New(Config{Threshold: 2, WebhookURL: server.URL})
	m.Record(EventFailed, LatestRun{ID: "r1"})
	m.Record(EventFailed, LatestRun{ID: "r2"})
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	m.Record(EventSuccess, LatestRun{ID: "r3"})
	assert.Equal(t, 0, m.ConsecutiveFailures())

	m.Record(EventFailed, LatestRun{ID: "r4"})
	m.Record(EventFailed, LatestRun{ID: "r5"})
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookFailureDoesNotResetAlertState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := New(Config{Threshold: 1, WebhookURL: server.URL})
	m.Record(EventFailed, LatestRun{ID: "r1"})
	assert.True(t, m.alertedForStreak)

	m.Record(EventFailed, LatestRun{ID: "r2"})
	assert.True(t, m.alertedForStreak)
}

func TestNoWebhookURLSkipsDispatchWithoutError(t *testing.T) {
	m := New(Config{Threshold: 1})
	m.Record(EventFailed, LatestRun{ID: "r1"})
	assert.Equal(t, 1, m.ConsecutiveFailures())
}
