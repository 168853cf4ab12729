// Package pipeline wires the camera analyzers, the fusion board, the
// memory trail and the match detector into a running system. Two worker
// goroutines drain the per-camera frame slots and publish analyzer
// snapshots to the board; one consumer goroutine ticks at a fixed rate,
// advancing the trail and the detector from the latest board state and
// pushing both to the output sinks.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/vision/floor"
	"github.com/vlasvlasvlas/cupdance/internal/vision/fusion"
	"github.com/vlasvlasvlas/cupdance/internal/vision/match"
	"github.com/vlasvlasvlas/cupdance/internal/vision/memory"
	"github.com/vlasvlasvlas/cupdance/internal/vision/network"
	"github.com/vlasvlasvlas/cupdance/internal/vision/table"
)

// OutputSink receives the fused output stream. Implementations must not
// block; slow consumers buffer or drop on their own side.
type OutputSink interface {
	// PublishState delivers a fused snapshot together with the memory
	// trail advanced to the same tick.
	PublishState(snap *fusion.Snapshot, trail memory.Trail)
	// PublishEvent delivers one match edge.
	PublishEvent(ev match.Event)
	// Silence signals shutdown. A neutral state has already been
	// published; sinks should drive their outputs to rest.
	Silence(tsNanos int64)
}

// Config gathers the pipeline collaborators.
type Config struct {
	Floor     *floor.Analyzer
	Table     *table.Analyzer
	Board     *fusion.Board
	Memory    *memory.Engine
	Match     *match.Detector
	FloorSlot *network.FrameSlot
	TableSlot *network.FrameSlot
	Sinks     []OutputSink
	TickRate  float64 // consumer ticks per second
	Clock     func() int64
}

// Pipeline owns the worker and consumer goroutines.
type Pipeline struct {
	cfg  Config
	tick time.Duration
	now  func() int64
}

// New validates the config and builds a pipeline. TickRate defaults to
// 100 ticks per second.
func New(cfg Config) *Pipeline {
	rate := cfg.TickRate
	if rate <= 0 {
		rate = 100
	}
	now := cfg.Clock
	if now == nil {
		now = func() int64 { return time.Now().UnixNano() }
	}
	return &Pipeline{
		cfg:  cfg,
		tick: time.Duration(float64(time.Second) / rate),
		now:  now,
	}
}

// Run starts the workers and the consumer and blocks until the context
// is cancelled. On shutdown it publishes a neutral state and signals
// Silence to every sink, so downstream output decays to rest rather than
// freezing on the last live state.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if p.cfg.Floor != nil && p.cfg.FloorSlot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.floorWorker(ctx)
		}()
	}
	if p.cfg.Table != nil && p.cfg.TableSlot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.tableWorker(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.consumer(ctx)
	}()

	<-ctx.Done()
	wg.Wait()

	ts := p.now()
	if p.cfg.Board != nil {
		p.cfg.Board.PublishNeutral(ts)
	}
	if p.cfg.Memory != nil {
		p.cfg.Memory.Reset()
	}
	for _, sink := range p.cfg.Sinks {
		if p.cfg.Board != nil && p.cfg.Memory != nil {
			sink.PublishState(p.cfg.Board.Latest(), p.cfg.Memory.Snapshot())
		}
		sink.Silence(ts)
	}
	opsf("pipeline stopped, outputs silenced")
	return ctx.Err()
}

// floorWorker drains the floor frame slot. Analyzer faults are counted
// in stats by the analyzer itself; here they only get a diag line.
func (p *Pipeline) floorWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.cfg.FloorSlot.Frames():
			if err := p.cfg.Floor.Process(&frame); err != nil {
				diagf("floor frame skipped: %v", err)
				continue
			}
			grid, summary := p.cfg.Floor.Snapshot()
			snap := p.cfg.Board.PublishGrid(grid, summary, frame.TimestampNanos)
			tracef("floor frame ts=%d version=%d coverage=%.3f", frame.TimestampNanos, snap.Version, summary.Coverage)
		}
	}
}

// tableWorker drains the table frame slot.
func (p *Pipeline) tableWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.cfg.TableSlot.Frames():
			if err := p.cfg.Table.Process(&frame); err != nil {
				diagf("table frame skipped: %v", err)
				continue
			}
			cups := p.cfg.Table.Snapshot()
			snap := p.cfg.Board.PublishCups(cups, frame.TimestampNanos)
			tracef("table frame ts=%d version=%d", frame.TimestampNanos, snap.Version)
		}
	}
}

// consumer advances the trail and detector from the latest board state
// at the fixed tick rate and pushes results to the sinks. Camera frames
// arriving faster than the tick rate collapse to their latest snapshot;
// frames arriving slower are re-consumed with further decay applied.
func (p *Pipeline) consumer(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	var lastVersion uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := p.now()
			snap := p.cfg.Board.Latest()

			var trail memory.Trail
			if p.cfg.Memory != nil {
				trail = p.cfg.Memory.Tick(&snap.Grid, &snap.Cups, now)
			}

			var events []match.Event
			if p.cfg.Match != nil {
				events = p.cfg.Match.Observe(&snap.Cups, now)
			}

			for _, sink := range p.cfg.Sinks {
				sink.PublishState(snap, trail)
				for _, ev := range events {
					sink.PublishEvent(ev)
				}
			}
			for _, ev := range events {
				diagf("match %s %s at ts=%d", ev.Label, ev.Edge, ev.TimestampNanos)
			}
			if snap.Version != lastVersion {
				tracef("tick consumed version %d", snap.Version)
				lastVersion = snap.Version
			}
		}
	}
}
