package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Role is one of the four fixed slots of a lobby
type Role int

const (
	Host1 Role = iota
	Host2
	Player1
	Player2
)

const roleCount = 4

var allRoles = [roleCount]Role{Host1, Host2, Player1, Player2}

func (r Role) String() string {
	switch r {
	case Host1:
		return "host1"
	case Host2:
		return "host2"
	case Player1:
		return "player1"
	case Player2:
		return "player2"
	}
	return "unknown"
}

// IsPlayer reports whether the role sends swings
func (r Role) IsPlayer() bool { return r == Player1 || r == Player2 }

// PlayerNumber returns 1 or 2 for player roles and 0 for hosts
func (r Role) PlayerNumber() int {
	switch r {
	case Player1:
		return 1
	case Player2:
		return 2
	}
	return 0
}

// PlayerRole returns the role of player n
func PlayerRole(n int) Role {
	if n == 2 {
		return Player2
	}
	return Player1
}

// RoleKind groups roles for auto-assignment
type RoleKind int

const (
	KindHost RoleKind = iota
	KindPlayer
)

// RoleRequest is a parsed connection token: either an exact role or the
// first free slot of a kind
type RoleRequest struct {
	Role Role
	Auto bool
	Kind RoleKind
}

// Registration errors
var (
	ErrUnknownRole  = errors.New("unknown role")
	ErrLobbyFull    = errors.New("lobby is full")
	ErrNoPlayerSlot = errors.New("no player slots available")
	ErrNoHostSlot   = errors.New("no host slots available")
	ErrRoleTaken    = errors.New("role already taken")
	ErrRoleReserved = errors.New("role is reserved for the bot")
)

// ParseToken maps a connection token to a role request
func ParseToken(token string) (RoleRequest, error) {
	switch token {
	case "host":
		return RoleRequest{Auto: true, Kind: KindHost}, nil
	case "player":
		return RoleRequest{Auto: true, Kind: KindPlayer}, nil
	}
	for _, r := range allRoles {
		if r.String() == token {
			kind := KindHost
			if r.IsPlayer() {
				kind = KindPlayer
			}
			return RoleRequest{Role: r, Kind: kind}, nil
		}
	}
	return RoleRequest{}, ErrUnknownRole
}

// Conn is the outbound side of a client connection. Sends are fire-and-forget
// and must not block.
type Conn interface {
	SendRaw(data []byte)
	SendBinary(data []byte)
	IsOpen() bool
	// Binary reports whether the client asked for msgpack coordinate frames
	Binary() bool
}

// ClientRegistry maps the four roles of one lobby to live connections
type ClientRegistry struct {
	mu       sync.RWMutex
	mode     GameMode
	slots    [roleCount]Conn
	reserved [roleCount]bool
	logger   *slog.Logger
}

// NewClientRegistry creates an empty registry. Singleplayer lobbies reserve
// player2 for the bot.
func NewClientRegistry(mode GameMode, logger *slog.Logger) *ClientRegistry {
	r := &ClientRegistry{mode: mode, logger: logger}
	if mode == ModeSingleplayer {
		r.reserved[Player2] = true
	}
	return r
}

// Claim atomically resolves a role request and stores conn in the slot
func (r *ClientRegistry) Claim(req RoleRequest, conn Conn) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isFullLocked() {
		return 0, ErrLobbyFull
	}

	if req.Auto {
		role, ok := r.availableLocked(req.Kind)
		if !ok {
			if req.Kind == KindPlayer {
				return 0, ErrNoPlayerSlot
			}
			return 0, ErrNoHostSlot
		}
		r.slots[role] = conn
		return role, nil
	}

	if r.reserved[req.Role] {
		return 0, ErrRoleReserved
	}
	if r.slots[req.Role] != nil {
		return 0, ErrRoleTaken
	}
	r.slots[req.Role] = conn
	return req.Role, nil
}

// Remove clears the slot if it still holds conn. A nil conn clears it
// unconditionally.
func (r *ClientRegistry) Remove(role Role, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[role] == nil {
		return false
	}
	if conn != nil && r.slots[role] != conn {
		return false
	}
	r.slots[role] = nil
	return true
}

// Get returns the connection in a slot, or nil
func (r *ClientRegistry) Get(role Role) Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[role]
}

// IsReady reports whether every slot the mode needs holds an open connection
func (r *ClientRegistry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var need []Role
	switch r.mode {
	case ModeHeadless:
		need = []Role{Player1, Player2}
	case ModeSingleplayer:
		need = []Role{Host1, Player1}
	default:
		need = allRoles[:]
	}
	for _, role := range need {
		c := r.slots[role]
		if c == nil || !c.IsOpen() {
			return false
		}
	}
	return true
}

// IsFull reports whether all four slots are taken, the bot's slot included
func (r *ClientRegistry) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isFullLocked()
}

func (r *ClientRegistry) isFullLocked() bool {
	for i := range r.slots {
		if r.slots[i] == nil && !r.reserved[i] {
			return false
		}
	}
	return true
}

// IsEmpty reports whether no client connection is registered
func (r *ClientRegistry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.slots {
		if c != nil {
			return false
		}
	}
	return true
}

// Occupied lists the taken roles in slot order, the bot's slot included
func (r *ClientRegistry) Occupied() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]Role, 0, roleCount)
	for _, role := range allRoles {
		if r.slots[role] != nil || r.reserved[role] {
			roles = append(roles, role)
		}
	}
	return roles
}

func (r *ClientRegistry) availableLocked(kind RoleKind) (Role, bool) {
	candidates := [2]Role{Host1, Host2}
	if kind == KindPlayer {
		candidates = [2]Role{Player1, Player2}
	}
	for _, role := range candidates {
		if r.slots[role] == nil && !r.reserved[role] {
			return role, true
		}
	}
	return 0, false
}

// SendJSON frames msg as JSON and sends it to one role
func (r *ClientRegistry) SendJSON(role Role, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal error", "error", err)
		return
	}
	r.sendTo(data, role)
}

// Broadcast sends msg as JSON to every connected role
func (r *ClientRegistry) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal error", "error", err)
		return
	}
	r.sendTo(data, allRoles[:]...)
}

// BroadcastText sends a bare text frame to every connected role
func (r *ClientRegistry) BroadcastText(text string) {
	r.sendTo([]byte(text), allRoles[:]...)
}

// SendText sends a bare text frame to one role
func (r *ClientRegistry) SendText(role Role, text string) {
	r.sendTo([]byte(text), role)
}

// SendSound asks player n's phone to play a sound
func (r *ClientRegistry) SendSound(player int, sound string) {
	r.SendJSON(PlayerRole(player), SoundMsg{Type: MsgSound, Sound: sound})
}

// SyncHosts pushes the ball snapshot to both hosts, as msgpack to hosts that
// asked for binary frames
func (r *ClientRegistry) SyncHosts(data BallData) {
	msg := CoordinatesMsg{Type: MsgCoordinates, Data: data}
	var text, bin []byte
	for _, role := range [2]Role{Host1, Host2} {
		c := r.Get(role)
		if c == nil || !c.IsOpen() {
			continue
		}
		var err error
		if c.Binary() {
			if bin == nil {
				if bin, err = msgpack.Marshal(msg); err != nil {
					r.logger.Error("msgpack marshal error", "error", err)
					continue
				}
			}
			c.SendBinary(bin)
			continue
		}
		if text == nil {
			if text, err = json.Marshal(msg); err != nil {
				r.logger.Error("marshal error", "error", err)
				continue
			}
		}
		c.SendRaw(text)
	}
}

func (r *ClientRegistry) sendTo(data []byte, roles ...Role) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range roles {
		c := r.slots[role]
		if c != nil && c.IsOpen() {
			c.SendRaw(data)
		}
	}
}
