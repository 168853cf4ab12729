package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/config"
	"github.com/vlasvlasvlas/cupdance/internal/version"
	"github.com/vlasvlasvlas/cupdance/internal/vision"
	"github.com/vlasvlasvlas/cupdance/internal/vision/floor"
	"github.com/vlasvlasvlas/cupdance/internal/vision/fusion"
	"github.com/vlasvlasvlas/cupdance/internal/vision/geom"
	"github.com/vlasvlasvlas/cupdance/internal/vision/match"
	"github.com/vlasvlasvlas/cupdance/internal/vision/memory"
	"github.com/vlasvlasvlas/cupdance/internal/vision/monitor"
	"github.com/vlasvlasvlas/cupdance/internal/vision/network"
	"github.com/vlasvlasvlas/cupdance/internal/vision/pipeline"
	sqlitestore "github.com/vlasvlasvlas/cupdance/internal/vision/storage/sqlite"
	"github.com/vlasvlasvlas/cupdance/internal/vision/table"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	udpPort     = flag.Int("udp-port", 4011, "UDP port to listen for camera frame bands")
	udpAddress  = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval = flag.Int("log-interval", 60, "Statistics logging interval in seconds")
	configPath  = flag.String("config", "", "Path to tuning config JSON (default: search for config/tuning.defaults.json)")
	calibration = flag.String("calibration", "config/table_homography.json", "Path to the table camera homography JSON")
	dbFile      = flag.String("db", "", "Path to the session SQLite database (empty disables recording)")
	notes       = flag.String("notes", "", "Free-form notes stored with the recorded session")
	pcapFile    = flag.String("pcap", "", "Replay band datagrams from a pcap file instead of listening on UDP")
	pcapSpeed   = flag.Float64("pcap-speed", 1.0, "Replay pacing (1.0 realtime, 0 as fast as possible)")
	debugLog    = flag.Bool("debug", false, "Enable pipeline diagnostic logging to stderr")
	traceLog    = flag.Bool("trace", false, "Enable high-frequency pipeline trace logging to stderr")
)

func main() {
	flag.Parse()

	log.Printf("cupdance %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	var diagW, traceW io.Writer
	if *debugLog {
		diagW = os.Stderr
	}
	if *traceLog {
		traceW = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diagW, traceW)

	var cfg *config.TuningConfig
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	// A table pipeline without calibration would report garbage angles,
	// so a missing homography is fatal rather than degraded.
	homography, err := geom.Load(*calibration)
	if err != nil {
		if errors.Is(err, geom.ErrCalibrationMissing) {
			log.Fatalf("Table calibration missing at %s; run the calibration capture first", *calibration)
		}
		log.Fatalf("Failed to load table calibration: %v", err)
	}

	stats := vision.NewPipelineStats()

	floorAnalyzer := floor.NewAnalyzer(floor.ParamsFromTuning(cfg), stats)
	detParams, latchParams := table.ParamsFromTuning(cfg)
	tableAnalyzer, err := table.NewAnalyzer(detParams, latchParams, homography, stats)
	if err != nil {
		log.Fatalf("Failed to build table analyzer: %v", err)
	}

	board := fusion.NewBoard()
	memoryEngine := memory.NewEngine(memory.ParamsFromTuning(cfg))
	matchDetector := match.NewDetector(match.ParamsFromTuning(cfg), stats)

	floorSlot := network.NewFrameSlot()
	tableSlot := network.NewFrameSlot()
	assembler := network.NewAssembler(floorSlot, tableSlot, stats)

	history := monitor.NewHistory(4096)
	sinks := []pipeline.OutputSink{history}

	if *dbFile != "" {
		store, err := sqlitestore.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open session database: %v", err)
		}
		defer store.Close()
		sink, err := sqlitestore.NewSessionSink(store, *notes, time.Second)
		if err != nil {
			log.Fatalf("Failed to begin recording session: %v", err)
		}
		log.Printf("Recording session %s to %s", sink.SessionID(), *dbFile)
		sinks = append(sinks, sink)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Frame source: live UDP or pcap replay.
	if *pcapFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := network.ReplayPCAPFile(ctx, *pcapFile, assembler, *pcapSpeed); err != nil && err != context.Canceled {
				log.Printf("PCAP replay error: %v", err)
			}
			log.Print("PCAP replay routine terminated")
		}()
	} else {
		var udpListenAddr string
		if *udpAddress == "" {
			udpListenAddr = fmt.Sprintf(":%d", *udpPort)
		} else {
			udpListenAddr = fmt.Sprintf("%s:%d", *udpAddress, *udpPort)
		}
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address:     udpListenAddr,
			RcvBuf:      *rcvBuf,
			LogInterval: time.Duration(*logInterval) * time.Second,
			Assembler:   assembler,
			Stats:       stats,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("UDP listener error: %v", err)
			}
			log.Print("UDP listener routine terminated")
		}()
	}

	webServer := monitor.NewWebServer(monitor.WebServerConfig{
		Address: *listen,
		Stats:   stats,
		History: history,
		UDPPort: *udpPort,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil {
			log.Printf("Web server error: %v", err)
		}
	}()

	p := pipeline.New(pipeline.Config{
		Floor:     floorAnalyzer,
		Table:     tableAnalyzer,
		Board:     board,
		Memory:    memoryEngine,
		Match:     matchDetector,
		FloorSlot: floorSlot,
		TableSlot: tableSlot,
		Sinks:     sinks,
		TickRate:  cfg.GetConsumerRate(),
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Pipeline error: %v", err)
		}
		log.Print("Pipeline routine terminated")
	}()

	wg.Wait()
	log.Print("cupdance stopped")
}
