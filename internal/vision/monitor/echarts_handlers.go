package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/vlasvlasvlas/cupdance/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleAngleChart renders a line chart (HTML) of recent cup angles using
// go-echarts. This is a debugging-only endpoint (no auth) to watch the
// latch behaviour without an external UI.
// Query params:
//   - max_points (optional; default 600) to reduce payload size
func (ws *WebServer) handleAngleChart(w http.ResponseWriter, r *http.Request) {
	if ws.history == nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "no history configured")
		return
	}
	samples := ws.history.Samples()
	if len(samples) == 0 {
		httputil.NotFound(w, "no angle samples available")
		return
	}

	maxPoints := 600
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 10 && v <= 10000 {
			maxPoints = v
		}
	}
	if len(samples) > maxPoints {
		samples = samples[len(samples)-maxPoints:]
	}

	labels := make([]string, len(samples))
	series := [4][]opts.LineData{}
	for i, s := range samples {
		labels[i] = time.Unix(0, s.TimestampNanos).Format("15:04:05.000")
		for c := 0; c < 4; c++ {
			series[c] = append(series[c], opts.LineData{Value: s.Angles[c]})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cup Angles", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Cup Angles", Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 6.2832, Name: "angle (rad)"}),
	)
	line.SetXAxis(labels)
	names := []string{"cup A", "cup B", "cup C", "cup D"}
	for c := 0; c < 4; c++ {
		line.AddSeries(names[c], series[c])
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
