package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const maxCodeAttempts = 64

var (
	ErrLobbyNotFound  = errors.New("lobby not found")
	ErrTooManyLobbies = errors.New("too many active lobbies")
)

// Lobby is one match and the clients attached to it
type Lobby struct {
	ID         string
	Mode       GameMode
	Difficulty BotDifficulty
	CreatedAt  time.Time
	Game       *Game
}

// LobbyInfo is the listing entry of a lobby
type LobbyInfo struct {
	ID       string   `json:"id"`
	Mode     string   `json:"mode"`
	Occupied []string `json:"occupied"`
	Running  bool     `json:"running"`
}

// LobbyManager creates, looks up and destroys lobbies
type LobbyManager struct {
	mu      sync.RWMutex
	lobbies map[string]*Lobby

	cfg         MatchConfig
	maxLobbies  int
	idleTimeout time.Duration
	metrics     *Metrics
	logger      *slog.Logger
	gameOpts    []GameOption
	newCode     func() string
	now         func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLobbyManager creates a manager and starts the idle-lobby reaper when
// idleTimeout is positive. gameOpts are applied to every match engine.
func NewLobbyManager(cfg MatchConfig, maxLobbies int, idleTimeout time.Duration, metrics *Metrics, logger *slog.Logger, gameOpts ...GameOption) *LobbyManager {
	lm := &LobbyManager{
		lobbies:     make(map[string]*Lobby),
		cfg:         cfg,
		maxLobbies:  maxLobbies,
		idleTimeout: idleTimeout,
		metrics:     metrics,
		logger:      logger,
		gameOpts:    gameOpts,
		newCode:     GenerateLobbyCode,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
	if idleTimeout > 0 {
		lm.wg.Add(1)
		go lm.cleanupLoop()
	}
	return lm
}

// CreateLobby creates a lobby with a fresh code. difficulty only matters for
// singleplayer lobbies.
func (lm *LobbyManager) CreateLobby(mode GameMode, difficulty BotDifficulty) (*Lobby, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.maxLobbies > 0 && len(lm.lobbies) >= lm.maxLobbies {
		return nil, ErrTooManyLobbies
	}

	code, err := lm.uniqueCodeLocked()
	if err != nil {
		return nil, err
	}

	opts := make([]GameOption, 0, len(lm.gameOpts)+2)
	opts = append(opts, lm.gameOpts...)
	opts = append(opts,
		WithMetrics(lm.metrics),
		WithOnEmpty(func() { lm.RemoveLobby(code) }),
	)

	lobby := &Lobby{
		ID:         code,
		Mode:       mode,
		Difficulty: difficulty,
		CreatedAt:  lm.now(),
		Game:       NewGame(code, mode, difficulty, lm.cfg, lm.logger, opts...),
	}
	lm.lobbies[code] = lobby

	lm.metrics.Record(MatchEvent{Type: EvtLobbyCreated, LobbyID: code, Mode: mode.String()})
	lm.metrics.SetActiveLobbies(len(lm.lobbies))
	lm.logger.Info("lobby created", "lobby", code, "mode", mode, "difficulty", difficulty)
	return lobby, nil
}

func (lm *LobbyManager) uniqueCodeLocked() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := lm.newCode()
		if _, taken := lm.lobbies[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("generate lobby code: %w", ErrTooManyLobbies)
}

// GetLobby returns a lobby by code
func (lm *LobbyManager) GetLobby(id string) (*Lobby, error) {
	if !IsLobbyCode(id) {
		return nil, ErrLobbyNotFound
	}
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	lobby, ok := lm.lobbies[id]
	if !ok {
		return nil, ErrLobbyNotFound
	}
	return lobby, nil
}

// RemoveLobby stops the lobby's match engine and deletes it. It reports
// whether this call deleted the lobby.
func (lm *LobbyManager) RemoveLobby(id string) bool {
	lm.mu.RLock()
	lobby, ok := lm.lobbies[id]
	lm.mu.RUnlock()
	if !ok {
		return false
	}

	lobby.Game.Stop()

	lm.mu.Lock()
	if lm.lobbies[id] != lobby {
		lm.mu.Unlock()
		return false
	}
	delete(lm.lobbies, id)
	n := len(lm.lobbies)
	lm.mu.Unlock()

	lm.metrics.Record(MatchEvent{Type: EvtLobbyRemoved, LobbyID: id, Mode: lobby.Mode.String()})
	lm.metrics.SetActiveLobbies(n)
	lm.logger.Info("lobby removed", "lobby", id)
	return true
}

// List returns the active lobbies ordered by code
func (lm *LobbyManager) List() []LobbyInfo {
	lm.mu.RLock()
	lobbies := make([]*Lobby, 0, len(lm.lobbies))
	for _, l := range lm.lobbies {
		lobbies = append(lobbies, l)
	}
	lm.mu.RUnlock()

	list := make([]LobbyInfo, 0, len(lobbies))
	for _, l := range lobbies {
		occupied := l.Game.Clients().Occupied()
		names := make([]string, len(occupied))
		for i, r := range occupied {
			names[i] = r.String()
		}
		list = append(list, LobbyInfo{
			ID:       l.ID,
			Mode:     l.Mode.String(),
			Occupied: names,
			Running:  l.Game.IsRunning(),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Count returns the number of active lobbies
func (lm *LobbyManager) Count() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.lobbies)
}

// Stop ends the reaper and every lobby's match engine
func (lm *LobbyManager) Stop() {
	lm.stopOnce.Do(func() { close(lm.stopCh) })
	lm.wg.Wait()

	lm.mu.RLock()
	ids := make([]string, 0, len(lm.lobbies))
	for id := range lm.lobbies {
		ids = append(ids, id)
	}
	lm.mu.RUnlock()

	for _, id := range ids {
		lm.RemoveLobby(id)
	}
}

func (lm *LobbyManager) cleanupLoop() {
	defer lm.wg.Done()

	interval := lm.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lm.reapIdle()
		case <-lm.stopCh:
			return
		}
	}
}

// reapIdle removes lobbies that have had no client for longer than the idle
// timeout since creation
func (lm *LobbyManager) reapIdle() {
	now := lm.now()
	var aged []*Lobby

	lm.mu.RLock()
	for _, l := range lm.lobbies {
		if now.Sub(l.CreatedAt) > lm.idleTimeout {
			aged = append(aged, l)
		}
	}
	lm.mu.RUnlock()

	for _, l := range aged {
		// closing under the game lock keeps a concurrent join out
		if !l.Game.closeIfEmpty() {
			continue
		}
		if lm.RemoveLobby(l.ID) {
			lm.logger.Info("idle lobby reaped", "lobby", l.ID)
		}
	}
}
