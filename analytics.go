package main

import (
	"log"
	"sync"
	"time"
)

// Diagnostics event kinds
const (
	EvtSessionStart = "session_start"
	EvtSessionEnd   = "session_end"
	EvtMatchEnd     = "match_end"
	EvtDesync       = "desync"
	EvtWinner       = "winner"
	EvtClientLog    = "client_log"
)

// DiagEvent represents a single trackable event
type DiagEvent struct {
	Kind      string
	SessionID string
	ClientID  string
	Detail    string
}

// Diagnostics handles event tracking with batched background writes
type Diagnostics struct {
	db     *DB
	events chan DiagEvent
	stop   chan struct{}
	wg     sync.WaitGroup

	// Live metrics
	mu              sync.RWMutex
	concurrentPeers int
	activeSessions  int
}

// NewDiagnostics creates and starts the diagnostics background writer
func NewDiagnostics(db *DB) *Diagnostics {
	d := &Diagnostics{
		db:     db,
		events: make(chan DiagEvent, 1024),
		stop:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.writer()
	return d
}

// Track enqueues an event for async persistence (non-blocking)
func (d *Diagnostics) Track(kind, sessionID, clientID, detail string) {
	select {
	case d.events <- DiagEvent{
		Kind:      kind,
		SessionID: sessionID,
		ClientID:  clientID,
		Detail:    detail,
	}:
	default:
		// Channel full — drop the event rather than blocking the tick loop
	}
}

// SetConcurrentPeers updates the live connection count metric
func (d *Diagnostics) SetConcurrentPeers(n int) {
	d.mu.Lock()
	d.concurrentPeers = n
	d.mu.Unlock()
}

// SetActiveSessions updates the live session count metric
func (d *Diagnostics) SetActiveSessions(n int) {
	d.mu.Lock()
	d.activeSessions = n
	d.mu.Unlock()
}

// GetLiveMetrics returns current live metrics
func (d *Diagnostics) GetLiveMetrics() (int, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.concurrentPeers, d.activeSessions
}

// Stop gracefully shuts down the diagnostics writer
func (d *Diagnostics) Stop() {
	close(d.stop)
	d.wg.Wait()
}

// writer is the background goroutine that batches and writes events to DB
func (d *Diagnostics) writer() {
	defer d.wg.Done()

	batch := make([]DiagEvent, 0, 64)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-d.events:
			batch = append(batch, evt)
			// Flush immediately if batch is large
			if len(batch) >= 50 {
				d.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				d.flush(batch)
				batch = batch[:0]
			}
		case <-d.stop:
			// Drain remaining events
			close(d.events)
			for evt := range d.events {
				batch = append(batch, evt)
			}
			if len(batch) > 0 {
				d.flush(batch)
			}
			return
		}
	}
}

// flush writes a batch of events to the database
func (d *Diagnostics) flush(events []DiagEvent) {
	if d.db == nil {
		return
	}
	for _, evt := range events {
		if err := d.db.RecordEvent(evt.SessionID, evt.Kind, evt.ClientID, evt.Detail); err != nil {
			log.Printf("diagnostics: record error: %v", err)
		}
	}
}

// EventCounts returns counts of each event kind for the last N days
func (d *Diagnostics) EventCounts(days int) (map[string]int, error) {
	if d.db == nil {
		return nil, nil
	}
	rows, err := d.db.conn.Query(`
		SELECT kind, COUNT(*) FROM events
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY kind ORDER BY COUNT(*) DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			continue
		}
		result[kind] = count
	}
	return result, rows.Err()
}

// DesyncsBySession returns desync event counts per session for the last N days
func (d *Diagnostics) DesyncsBySession(days int) (map[string]int, error) {
	if d.db == nil {
		return nil, nil
	}
	rows, err := d.db.conn.Query(`
		SELECT session_id, COUNT(*) FROM events
		WHERE kind = ? AND created_at >= date('now', '-' || ? || ' days')
		GROUP BY session_id ORDER BY COUNT(*) DESC
	`, EvtDesync, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var sid string
		var count int
		if err := rows.Scan(&sid, &count); err != nil {
			continue
		}
		result[sid] = count
	}
	return result, rows.Err()
}
