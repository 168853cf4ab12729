package network

import (
	"fmt"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

// FrameSlot is a single-frame handoff between the assembler and one
// analyzer goroutine. The newest complete frame always wins: publishing
// replaces any frame the consumer has not collected yet, so a slow
// analyzer sees the freshest frame rather than a growing backlog.
type FrameSlot struct {
	ch chan vision.Frame
}

// NewFrameSlot creates an empty slot.
func NewFrameSlot() *FrameSlot {
	return &FrameSlot{ch: make(chan vision.Frame, 1)}
}

// Publish stores a frame, displacing an uncollected older one.
// It reports whether an older frame was dropped.
func (s *FrameSlot) Publish(f vision.Frame) (dropped bool) {
	for {
		select {
		case s.ch <- f:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

// Frames exposes the receive side for the consumer.
func (s *FrameSlot) Frames() <-chan vision.Frame {
	return s.ch
}

// cameraAssembly accumulates bands for one in-flight frame.
type cameraAssembly struct {
	seq       uint32
	ts        int64
	width     uint16
	height    uint16
	pix       []byte
	rowsSeen  []bool
	rowsTotal int
	rowsFill  int
}

// Assembler reassembles row bands into complete frames, one in-flight
// frame per camera. A band from a newer sequence abandons the current
// partial frame; bands from older sequences are dropped. Callers feed it
// from a single goroutine.
type Assembler struct {
	slots   [2]*FrameSlot
	current [2]*cameraAssembly
	stats   *vision.PipelineStats
}

// NewAssembler wires an assembler to one output slot per camera. Stats
// may be nil.
func NewAssembler(floorSlot, tableSlot *FrameSlot, stats *vision.PipelineStats) *Assembler {
	return &Assembler{
		slots: [2]*FrameSlot{floorSlot, tableSlot},
		stats: stats,
	}
}

// AddBand folds one decoded band into the per-camera assembly, publishing
// a frame when the last missing row arrives.
func (a *Assembler) AddBand(b RowBand) error {
	cam := int(b.Camera)
	cur := a.current[cam]

	switch {
	case cur == nil || b.FrameSeq > cur.seq:
		if cur != nil && a.stats != nil {
			a.stats.AddDropped(b.Camera)
		}
		cur = &cameraAssembly{
			seq:       b.FrameSeq,
			ts:        b.TimestampNanos,
			width:     b.Width,
			height:    b.Height,
			pix:       make([]byte, int(b.Width)*int(b.Height)),
			rowsSeen:  make([]bool, b.Height),
			rowsTotal: int(b.Height),
		}
		a.current[cam] = cur
	case b.FrameSeq < cur.seq:
		if a.stats != nil {
			a.stats.AddStale(b.Camera)
		}
		return nil
	}

	if b.Width != cur.width || b.Height != cur.height {
		return fmt.Errorf("camera %d frame %d geometry changed mid-frame: %dx%d vs %dx%d",
			cam, b.FrameSeq, b.Width, b.Height, cur.width, cur.height)
	}

	offset := int(b.RowStart) * int(b.Width)
	copy(cur.pix[offset:], b.Pixels)
	for r := int(b.RowStart); r < int(b.RowStart)+int(b.RowCount); r++ {
		if !cur.rowsSeen[r] {
			cur.rowsSeen[r] = true
			cur.rowsFill++
		}
	}

	if cur.rowsFill == cur.rowsTotal {
		frame := vision.Frame{
			Camera:         b.Camera,
			TimestampNanos: cur.ts,
			Width:          int(cur.width),
			Height:         int(cur.height),
			Pix:            cur.pix,
		}
		a.current[cam] = nil
		if slot := a.slots[cam]; slot != nil {
			if slot.Publish(frame) && a.stats != nil {
				a.stats.AddDropped(b.Camera)
			}
		}
	}
	return nil
}
