package sqlite

import (
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/monitoring"
	"github.com/vlasvlasvlas/cupdance/internal/vision/fusion"
	"github.com/vlasvlasvlas/cupdance/internal/vision/match"
	"github.com/vlasvlasvlas/cupdance/internal/vision/memory"
)

// SessionSink records the output stream into a session. Snapshots are
// sampled down to at most one per interval; every match event is kept.
// Write failures are logged and skipped so recording never stalls the
// pipeline.
type SessionSink struct {
	store     *Store
	sessionID string
	interval  time.Duration
	lastWrite time.Time
}

// NewSessionSink begins a session and returns a sink recording into it.
func NewSessionSink(store *Store, notes string, sampleInterval time.Duration) (*SessionSink, error) {
	if sampleInterval <= 0 {
		sampleInterval = time.Second
	}
	id, err := store.BeginSession(notes)
	if err != nil {
		return nil, err
	}
	return &SessionSink{
		store:     store,
		sessionID: id,
		interval:  sampleInterval,
	}, nil
}

// SessionID returns the id of the session being recorded.
func (k *SessionSink) SessionID() string {
	return k.sessionID
}

// PublishState samples the snapshot stream into the session.
func (k *SessionSink) PublishState(snap *fusion.Snapshot, trail memory.Trail) {
	now := time.Now()
	if now.Sub(k.lastWrite) < k.interval {
		return
	}
	if err := k.store.RecordSnapshot(k.sessionID, snap, trail); err != nil {
		monitoring.Logf("session %s: snapshot write failed: %v", k.sessionID, err)
		return
	}
	k.lastWrite = now
}

// PublishEvent records every match edge.
func (k *SessionSink) PublishEvent(ev match.Event) {
	if err := k.store.RecordMatchEvent(k.sessionID, ev); err != nil {
		monitoring.Logf("session %s: event write failed: %v", k.sessionID, err)
	}
}

// Silence ends the session.
func (k *SessionSink) Silence(tsNanos int64) {
	if err := k.store.EndSession(k.sessionID); err != nil {
		monitoring.Logf("session %s: end failed: %v", k.sessionID, err)
	}
}
