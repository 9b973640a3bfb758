package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// MatchEvent is a lobby or match event, counted by Metrics and optionally
// published to NATS
type MatchEvent struct {
	Type    string    `json:"type"`
	LobbyID string    `json:"lobby_id,omitempty"`
	Mode    string    `json:"mode,omitempty"`
	Player  int       `json:"player,omitempty"`
	Score   []int     `json:"score,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher is the subset of *nats.Conn used by EventSink
type Publisher interface {
	Publish(subject string, data []byte) error
}

// EventSink publishes match events on <prefix>.<type>
type EventSink struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// NewEventSink wraps a publisher
func NewEventSink(pub Publisher, prefix string, logger *slog.Logger) *EventSink {
	return &EventSink{pub: pub, prefix: prefix, logger: logger}
}

// ConnectNATS dials the NATS server and returns a sink plus its close func
func ConnectNATS(url, prefix string, logger *slog.Logger) (*EventSink, func(), error) {
	conn, err := nats.Connect(url,
		nats.Name("pong-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	closeFn := func() {
		if err := conn.Drain(); err != nil {
			logger.Warn("nats drain error", "error", err)
		}
	}
	return NewEventSink(conn, prefix, logger), closeFn, nil
}

// Emit publishes one event. Failures are logged, never returned.
func (s *EventSink) Emit(evt MatchEvent) {
	if s == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("marshal event", "error", err)
		return
	}
	if err := s.pub.Publish(s.prefix+"."+evt.Type, data); err != nil {
		s.logger.Warn("publish event", "type", evt.Type, "error", err)
	}
}
