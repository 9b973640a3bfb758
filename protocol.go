package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Server -> Client message types
const (
	MsgLobbyCreated   = "lobby_created"
	MsgLobbyInfo      = "lobby_info"
	MsgRoleAssigned   = "role_assigned"
	MsgLobbyState     = "lobby_state"
	MsgGameInProgress = "game_in_progress"
	MsgCoordinates    = "coordinates"
	MsgScore          = "score"
	MsgSound          = "sound"
	MsgCollision      = "collision"
	MsgError          = "error"
)

// Client -> Server message types
const (
	MsgSwing = "swing"
)

// StartSignal goes out as a bare text frame, not as JSON
const StartSignal = "start"

// Score messages, from the recipient's point of view
const (
	msgYourServe     = "Swing to start"
	msgOpponentServe = "Opponent starts"
)

// LobbyCreatedMsg answers a create action
type LobbyCreatedMsg struct {
	Type    string `json:"type"`
	LobbyID string `json:"lobbyId"`
}

// LobbyInfoMsg tells a newly registered client which lobby it is in
type LobbyInfoMsg struct {
	Type    string `json:"type"`
	LobbyID string `json:"lobbyId"`
}

// RoleAssignedMsg tells a client which slot it holds
type RoleAssignedMsg struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

// LobbyStateMsg lists the occupied slots, broadcast on every slot change
type LobbyStateMsg struct {
	Type     string   `json:"type"`
	LobbyID  string   `json:"lobbyId"`
	Occupied []string `json:"occupied"`
}

// GameInProgressMsg is sent to a client that joins a running match
type GameInProgressMsg struct {
	Type string `json:"type"`
}

// BallData is the ball snapshot sent to hosts
type BallData struct {
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	Z     float64 `json:"z" msgpack:"z"`
	V     float64 `json:"v" msgpack:"v"` // already multiplied by VScale
	GoalX float64 `json:"goal_x" msgpack:"goal_x"`
}

// CoordinatesMsg is the periodic ball broadcast
type CoordinatesMsg struct {
	Type string   `json:"type" msgpack:"type"`
	Data BallData `json:"data" msgpack:"data"`
}

// ScoreMsg is sent to each host after a point, mine first
type ScoreMsg struct {
	Type    string `json:"type"`
	Score   [2]int `json:"score"`
	Message string `json:"message"`
}

// SoundMsg asks a player's phone to play a sound
type SoundMsg struct {
	Type  string `json:"type"`
	Sound string `json:"sound"`
}

// CollisionMsg is sent to hosts whenever a hit is applied
type CollisionMsg struct {
	Type string   `json:"type"`
	From string   `json:"from"`
	Data BallData `json:"data"`
}

// ErrorMsg precedes closing a rejected connection
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorMsg builds an error message
func NewErrorMsg(message string) ErrorMsg {
	return ErrorMsg{Type: MsgError, Message: message}
}

// Inbound is a decoded client message. The set of implementations is closed.
type Inbound interface {
	inbound()
}

// SwingMsg is a paddle swing reported by a player's phone
type SwingMsg struct {
	Speed float64
}

func (SwingMsg) inbound() {}

// inEnvelope is the raw shape of every client message. Extra sensor fields
// sent by phones are ignored.
type inEnvelope struct {
	Type  string   `json:"type"`
	Speed *float64 `json:"speed"`
}

var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// ParseInbound decodes a client message. A message without a type is a swing.
func ParseInbound(raw []byte) (Inbound, error) {
	var env inEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch env.Type {
	case "", MsgSwing:
		if env.Speed == nil {
			return nil, fmt.Errorf("%w: missing speed", ErrMalformedMessage)
		}
		return SwingMsg{Speed: *env.Speed}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}
