package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Connection actions
const (
	ActionCreate             = "create"
	ActionCreateSingleplayer = "create_singleplayer"
)

// ErrUnknownAction is returned for an action other than create or create_singleplayer
var ErrUnknownAction = errors.New("unknown action")

// ConnectRequest holds the query parameters of a websocket connection
type ConnectRequest struct {
	Token      string
	Action     string
	LobbyID    string
	Difficulty string
}

// Hub tracks connected clients and routes new connections to lobbies
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	lobbies  *LobbyManager
	metrics  *Metrics
	headless bool
	logger   *slog.Logger

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
	connRate   AllowFunc
}

// NewHub creates a Hub. In headless mode plain create actions make lobbies
// that only need the two players.
func NewHub(lobbies *LobbyManager, metrics *Metrics, headless bool, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		stop:       make(chan struct{}),
		lobbies:    lobbies,
		metrics:    metrics,
		headless:   headless,
		logger:     logger,
		ipConns:    make(map[string]int),
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

// SetConnRateLimit installs a limit on connection attempts per IP.
// Call before serving.
func (h *Hub) SetConnRateLimit(fn AllowFunc) {
	h.connRate = fn
}

// AllowAttempt applies the connection rate limit, if any. Limiter errors let
// the attempt through.
func (h *Hub) AllowAttempt(ctx context.Context, ip string) bool {
	if h.connRate == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, connLimitTimeout)
	defer cancel()
	ok, err := h.connRate(ctx, ip)
	if err != nil {
		h.logger.Warn("connection rate limiter unavailable", "ip", ip, "error", err)
		return true
	}
	return ok
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Admit resolves the lobby and role of a new connection and registers conn
// in it. A lobby created for a connection whose registration fails is
// removed again.
func (h *Hub) Admit(req ConnectRequest, conn Conn) (*Lobby, Role, error) {
	switch req.Action {
	case ActionCreate, ActionCreateSingleplayer:
		mode := ModeMultiplayer
		var difficulty BotDifficulty
		if req.Action == ActionCreateSingleplayer {
			mode = ModeSingleplayer
			d, err := ParseBotDifficulty(req.Difficulty)
			if err != nil {
				return nil, 0, err
			}
			difficulty = d
		} else if h.headless {
			mode = ModeHeadless
		}

		lobby, err := h.lobbies.CreateLobby(mode, difficulty)
		if err != nil {
			return nil, 0, err
		}
		sendJSON(conn, LobbyCreatedMsg{Type: MsgLobbyCreated, LobbyID: lobby.ID}, h.logger)

		role, err := lobby.Game.Join(req.Token, conn)
		if err != nil {
			h.lobbies.RemoveLobby(lobby.ID)
			return nil, 0, err
		}
		return lobby, role, nil

	case "":
		lobby, err := h.lobbies.GetLobby(strings.ToUpper(req.LobbyID))
		if err != nil {
			return nil, 0, err
		}
		role, err := lobby.Game.Join(req.Token, conn)
		if err != nil {
			return nil, 0, err
		}
		return lobby, role, nil
	}
	return nil, 0, ErrUnknownAction
}

// ErrorMessage maps an admission error to the message shown to the client
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrLobbyNotFound), errors.Is(err, ErrLobbyClosed):
		return "Lobby not found"
	case errors.Is(err, ErrLobbyFull):
		return "Lobby is full"
	case errors.Is(err, ErrNoPlayerSlot):
		return "No player slots available"
	case errors.Is(err, ErrNoHostSlot):
		return "No host slots available"
	case errors.Is(err, ErrRoleTaken):
		return "Role already taken"
	case errors.Is(err, ErrRoleReserved):
		return "Role is reserved for the bot"
	case errors.Is(err, ErrUnknownRole):
		return "Unknown role"
	case errors.Is(err, ErrUnknownDifficulty):
		return "Unknown difficulty"
	case errors.Is(err, ErrUnknownAction):
		return "Unknown action"
	case errors.Is(err, ErrTooManyLobbies):
		return "Too many active lobbies"
	}
	return "Internal error"
}

// Run processes register/unregister events until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if !client.IsOpen() {
				// unregister won the race
				continue
			}
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetConnections(n)

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			if client.open.Swap(false) {
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetConnections(n)

			if client.lobby != nil {
				client.lobby.Game.RemoveClient(client.role, client)
			}

		case <-h.stop:
			return
		}
	}
}

// Stop ends Run and closes every client connection
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}

func sendJSON(conn Conn, msg any, logger *slog.Logger) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("marshal error", "error", err)
		return
	}
	conn.SendRaw(data)
}
