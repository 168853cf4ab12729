// Package monitor serves the HTTP debug and health interface: JSON status
// for dashboards, a cup-angle chart and a memory-trail heatmap for visual
// tuning during rehearsal.
package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/httputil"
	"github.com/vlasvlasvlas/cupdance/internal/version"
	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

//go:embed status.html
var StatusHTML embed.FS

// WebServer handles the HTTP interface for monitoring the fusion core.
type WebServer struct {
	address string
	stats   *vision.PipelineStats
	history *History
	server  *http.Server
	udpPort int
	started time.Time
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Stats   *vision.PipelineStats
	History *History
	UDPPort int
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		stats:   config.Stats,
		history: config.History,
		udpPort: config.UDPPort,
		started: time.Now(),
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/status", ws.handleAPIStatus)
	mux.HandleFunc("/api/cups", ws.handleAPICups)
	mux.HandleFunc("/api/events", ws.handleAPIEvents)
	mux.HandleFunc("/debug/angles", ws.handleAngleChart)
	mux.HandleFunc("/debug/trail.png", ws.handleTrailPNG)

	return mux
}

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "cupdance", "version": "%s", "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

// handleAPIStatus returns the pipeline counters plus the latest fused
// state version.
func (ws *WebServer) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	status := map[string]interface{}{
		"uptime": time.Since(ws.started).Round(time.Second).String(),
	}
	if ws.stats != nil {
		status["counters"] = ws.stats.Snapshot()
	}
	if ws.history != nil {
		if snap, _ := ws.history.Latest(); snap != nil {
			status["version"] = snap.Version
			status["timestamp"] = time.Unix(0, snap.TimestampNanos).UTC().Format(time.RFC3339Nano)
			status["coverage"] = snap.Floor.Coverage
		}
		status["silenced"] = ws.history.Silenced()
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// handleAPICups returns the four cup states from the latest snapshot.
func (ws *WebServer) handleAPICups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.history == nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "no history configured")
		return
	}
	snap, _ := ws.history.Latest()
	if snap == nil {
		httputil.NotFound(w, "no snapshot published yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap.Cups)
}

// handleAPIEvents returns the recent match events.
func (ws *WebServer) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.history == nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "no history configured")
		return
	}
	events := ws.history.Events()
	type eventRow struct {
		Label     string `json:"label"`
		Kind      string `json:"kind"`
		Edge      string `json:"edge"`
		Cups      []int  `json:"cups"`
		Timestamp string `json:"timestamp"`
	}
	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, eventRow{
			Label:     ev.Label,
			Kind:      string(ev.Kind),
			Edge:      string(ev.Edge),
			Cups:      ev.Cups,
			Timestamp: time.Unix(0, ev.TimestampNanos).UTC().Format(time.RFC3339Nano),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, rows)
}

// handleStatus handles the main status page endpoint.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	data := struct {
		UDPPort     int
		HTTPAddress string
		Uptime      string
		Counters    interface{}
		Version     uint64
		Silenced    bool
	}{
		UDPPort:     ws.udpPort,
		HTTPAddress: ws.address,
		Uptime:      time.Since(ws.started).Round(time.Second).String(),
	}
	if ws.stats != nil {
		data.Counters = ws.stats.Snapshot()
	}
	if ws.history != nil {
		if snap, _ := ws.history.Latest(); snap != nil {
			data.Version = snap.Version
		}
		data.Silenced = ws.history.Silenced()
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// Close shuts down the web server.
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}
