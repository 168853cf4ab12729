package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
	"github.com/vlasvlasvlas/cupdance/internal/vision/fusion"
	"github.com/vlasvlasvlas/cupdance/internal/vision/match"
	"github.com/vlasvlasvlas/cupdance/internal/vision/memory"
)

func testServer(history *History) *httptest.Server {
	ws := NewWebServer(WebServerConfig{
		Address: ":0",
		Stats:   vision.NewPipelineStats(),
		History: history,
		UDPPort: 4011,
	})
	return httptest.NewServer(ws.setupRoutes())
}

func publishedHistory() *History {
	h := NewHistory(16)
	snap := &fusion.Snapshot{Version: 3, TimestampNanos: time.Now().UnixNano()}
	snap.Floor.Coverage = 0.25
	for i := range snap.Cups {
		snap.Cups[i] = vision.CupState{ID: i, Angle: float64(i), Confidence: 1, State: vision.CupTracking}
	}
	var trail memory.Trail
	trail[17] = 0.6
	h.PublishState(snap, trail)
	h.PublishEvent(match.Event{Kind: match.KindPair, Label: "AC", Cups: []int{0, 2}, Edge: match.EdgeRising, TimestampNanos: snap.TimestampNanos})
	return h
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(NewHistory(0))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "cupdance", body["service"])
}

func TestStatusEndpoint(t *testing.T) {
	srv := testServer(publishedHistory())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 3, body["version"])
	assert.EqualValues(t, 0.25, body["coverage"])
	assert.Equal(t, false, body["silenced"])
	assert.Contains(t, body, "counters")
	assert.Contains(t, body, "uptime")
}

func TestCupsEndpoint(t *testing.T) {
	t.Run("before first publish", func(t *testing.T) {
		srv := testServer(NewHistory(0))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/cups")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("after publish", func(t *testing.T) {
		srv := testServer(publishedHistory())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/cups")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var cups [vision.CupCount]vision.CupState
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&cups))
		assert.Equal(t, vision.CupTracking, cups[2].State)
		assert.Equal(t, 2.0, cups[2].Angle)
	})
}

func TestEventsEndpoint(t *testing.T) {
	srv := testServer(publishedHistory())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "AC", rows[0]["label"])
	assert.Equal(t, "rising", rows[0]["edge"])
}

func TestStatusPage(t *testing.T) {
	srv := testServer(publishedHistory())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
}

func TestTrailPNG(t *testing.T) {
	srv := testServer(publishedHistory())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/trail.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestAngleChart(t *testing.T) {
	srv := testServer(publishedHistory())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/angles")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
}

func TestHistoryRingEviction(t *testing.T) {
	h := NewHistory(4)
	for i := 0; i < 10; i++ {
		snap := &fusion.Snapshot{Version: uint64(i), TimestampNanos: int64(i)}
		h.PublishState(snap, memory.Trail{})
	}
	samples := h.Samples()
	require.Len(t, samples, 4)
	assert.EqualValues(t, 6, samples[0].TimestampNanos)
	assert.EqualValues(t, 9, samples[3].TimestampNanos)
}

func TestHistorySilence(t *testing.T) {
	h := publishedHistory()
	require.False(t, h.Silenced())
	h.Silence(time.Now().UnixNano())
	require.True(t, h.Silenced())

	// A new publish clears the silenced flag.
	h.PublishState(fusion.Neutral(9, time.Now().UnixNano()), memory.Trail{})
	require.False(t, h.Silenced())
}
