package main

import (
	"log/slog"
	"sync"
	"time"
)

// Event types for metrics tracking
const (
	EvtLobbyCreated = "lobby_created"
	EvtLobbyRemoved = "lobby_removed"
	EvtMatchStart   = "match_start"
	EvtHit          = "hit"
	EvtPoint        = "point"
	EvtConnect      = "connect"
	EvtRejected     = "rejected"
)

// MetricsSnapshot is the JSON body of GET /stats
type MetricsSnapshot struct {
	ActiveLobbies int              `json:"active_lobbies"`
	Connections   int              `json:"connections"`
	Events        map[string]int64 `json:"events"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Metrics aggregates server events in a background goroutine, which also
// forwards them to the event sink. Recording never blocks the caller.
type Metrics struct {
	events   chan MatchEvent
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	sink     *EventSink
	logger   *slog.Logger
	logEvery time.Duration
	started  time.Time

	mu            sync.RWMutex
	counts        map[string]int64
	activeLobbies int
	connections   int
}

// NewMetrics creates and starts the aggregator. A zero logEvery disables the
// periodic summary log; a nil sink disables publishing.
func NewMetrics(logger *slog.Logger, logEvery time.Duration, sink *EventSink) *Metrics {
	m := &Metrics{
		events:   make(chan MatchEvent, 1024),
		stop:     make(chan struct{}),
		sink:     sink,
		logger:   logger,
		logEvery: logEvery,
		started:  time.Now(),
		counts:   make(map[string]int64),
	}
	m.wg.Add(1)
	go m.aggregate()
	return m
}

// Track records an event that carries no details
func (m *Metrics) Track(evtType string) {
	m.Record(MatchEvent{Type: evtType})
}

// Record enqueues an event. Events are dropped when the queue is full.
func (m *Metrics) Record(evt MatchEvent) {
	if m == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case m.events <- evt:
	default:
		// Channel full, drop event rather than blocking a game tick
	}
}

// SetActiveLobbies updates the live lobby gauge
func (m *Metrics) SetActiveLobbies(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.activeLobbies = n
	m.mu.Unlock()
}

// SetConnections updates the live connection gauge
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.connections = n
	m.mu.Unlock()
}

// Snapshot returns the current counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		events[k] = v
	}
	return MetricsSnapshot{
		ActiveLobbies: m.activeLobbies,
		Connections:   m.connections,
		Events:        events,
		UptimeSeconds: int64(time.Since(m.started).Seconds()),
	}
}

// Stop drains queued events and shuts the aggregator down
func (m *Metrics) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Metrics) aggregate() {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.logEvery > 0 {
		ticker := time.NewTicker(m.logEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case evt := <-m.events:
			m.handle(evt)
		case <-tick:
			m.logSummary()
		case <-m.stop:
			// Drain remaining events
			for {
				select {
				case evt := <-m.events:
					m.handle(evt)
				default:
					m.logSummary()
					return
				}
			}
		}
	}
}

func (m *Metrics) handle(evt MatchEvent) {
	m.mu.Lock()
	m.counts[evt.Type]++
	m.mu.Unlock()
	m.sink.Emit(evt)
}

func (m *Metrics) logSummary() {
	s := m.Snapshot()
	m.logger.Info("metrics",
		"lobbies", s.ActiveLobbies,
		"connections", s.Connections,
		"matches", s.Events[EvtMatchStart],
		"points", s.Events[EvtPoint],
		"hits", s.Events[EvtHit],
		"rejected", s.Events[EvtRejected],
	)
}
