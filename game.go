package main

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"
)

// ErrLobbyClosed is returned when joining a lobby that is shutting down
var ErrLobbyClosed = errors.New("lobby is closed")

// Stopper is a pending timer that can be cancelled
type Stopper interface {
	Stop() bool
}

// Game is the match engine of one lobby. A single mutex serializes the
// physics, broadcast and bot ticks with inbound swings.
type Game struct {
	mu      sync.Mutex
	id      string
	mode    GameMode
	cfg     MatchConfig
	state   *GameState
	physics Physics
	clients *ClientRegistry
	bot     *BotAI
	metrics *Metrics
	logger  *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) Stopper

	onEmpty   func()
	emptyOnce sync.Once
	closing   bool // last client left, no more joins

	loopsStarted bool
	stopped      bool
	stop         chan struct{}
	wg           sync.WaitGroup

	// a scheduled bot swing only fires if botEpoch is unchanged
	botTimer   Stopper
	botEpoch   uint64
	botPending bool
}

// GameOption customizes a Game
type GameOption func(*Game)

// WithClock replaces time.Now
func WithClock(now func() time.Time) GameOption {
	return func(g *Game) { g.now = now }
}

// WithAfterFunc replaces time.AfterFunc for bot reaction timers
func WithAfterFunc(fn func(time.Duration, func()) Stopper) GameOption {
	return func(g *Game) { g.afterFunc = fn }
}

// WithMetrics reports hits and points to m
func WithMetrics(m *Metrics) GameOption {
	return func(g *Game) { g.metrics = m }
}

// WithOnEmpty registers the callback run once when the last client leaves
func WithOnEmpty(fn func()) GameOption {
	return func(g *Game) { g.onEmpty = fn }
}

// NewGame creates a match engine. The difficulty is only used in
// singleplayer mode.
func NewGame(id string, mode GameMode, difficulty BotDifficulty, cfg MatchConfig, logger *slog.Logger, opts ...GameOption) *Game {
	g := &Game{
		id:      id,
		mode:    mode,
		cfg:     cfg,
		physics: NewPhysics(cfg),
		logger:  logger.With("lobby", id),
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) Stopper {
			return time.AfterFunc(d, f)
		},
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.clients = NewClientRegistry(mode, g.logger)
	g.state = NewGameState(cfg.OuterBound, g.now())
	if mode == ModeSingleplayer {
		g.bot = NewBotAI(difficulty, g.physics)
	}
	return g
}

// ID returns the lobby code
func (g *Game) ID() string { return g.id }

// Mode returns the lobby mode
func (g *Game) Mode() GameMode { return g.mode }

// Clients returns the lobby's client registry
func (g *Game) Clients() *ClientRegistry { return g.clients }

// Snapshot returns a copy of the current state
func (g *Game) Snapshot() GameState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.state
}

// IsRunning reports whether the match has started and not been stopped
func (g *Game) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.IsRunning
}

// Join claims a slot for the connection token and registers conn in it
func (g *Game) Join(token string, conn Conn) (Role, error) {
	req, err := ParseToken(token)
	if err != nil {
		return 0, err
	}
	return g.register(req, conn)
}

// RegisterClient registers conn in an explicit role
func (g *Game) RegisterClient(role Role, conn Conn) error {
	_, err := g.register(RoleRequest{Role: role}, conn)
	return err
}

func (g *Game) register(req RoleRequest, conn Conn) (Role, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped || g.closing {
		return 0, ErrLobbyClosed
	}
	role, err := g.clients.Claim(req, conn)
	if err != nil {
		return 0, err
	}
	g.logger.Info("client registered", "role", role)

	g.clients.SendJSON(role, RoleAssignedMsg{Type: MsgRoleAssigned, Role: role.String()})
	g.clients.SendJSON(role, LobbyInfoMsg{Type: MsgLobbyInfo, LobbyID: g.id})
	g.broadcastLobbyStateLocked()

	if g.state.IsRunning {
		g.clients.SendJSON(role, GameInProgressMsg{Type: MsgGameInProgress})
		g.clients.SendText(role, StartSignal)
		return role, nil
	}
	if g.clients.IsReady() {
		g.startGameLocked()
	}
	return role, nil
}

// RemoveClient clears the role if it still holds conn. The destroy callback
// runs once, when the last client leaves.
func (g *Game) RemoveClient(role Role, conn Conn) {
	g.mu.Lock()
	if !g.clients.Remove(role, conn) {
		g.mu.Unlock()
		return
	}
	g.logger.Info("client removed", "role", role)
	g.broadcastLobbyStateLocked()
	empty := g.clients.IsEmpty()
	if empty {
		g.closing = true
	}
	g.mu.Unlock()

	if empty && g.onEmpty != nil {
		g.emptyOnce.Do(g.onEmpty)
	}
}

// closeIfEmpty marks the lobby closing when nobody is connected, so later
// joins fail with ErrLobbyClosed. It reports whether the lobby is closing.
func (g *Game) closeIfEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closing && !g.clients.IsEmpty() {
		return false
	}
	g.closing = true
	return true
}

// StartGame starts the match and its tick loops. It is a no-op while running.
func (g *Game) StartGame() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startGameLocked()
}

func (g *Game) startGameLocked() {
	if g.state.IsRunning || g.stopped {
		return
	}
	now := g.now()
	g.state.ResetBall(1, now)
	g.state.CurrentServer = 1
	g.state.SwingToStartPlayer = 1
	g.state.IsRunning = true
	g.invalidateBotLocked()

	g.clients.BroadcastText(StartSignal)
	g.logger.Info("match started, waiting for player 1 serve", "mode", g.mode)
	g.metrics.Record(MatchEvent{Type: EvtMatchStart, LobbyID: g.id, Mode: g.mode.String()})
	g.startLoopsLocked()
}

func (g *Game) startLoopsLocked() {
	if g.loopsStarted {
		return
	}
	g.loopsStarted = true
	g.wg.Add(2)
	go g.loop(g.cfg.PhysicsTick, g.physicsTick)
	go g.loop(g.cfg.BroadcastTick, g.broadcastTick)
	if g.bot != nil {
		g.wg.Add(1)
		go g.loop(g.cfg.BotTick, g.botTick)
	}
}

// Stop terminates the tick loops and cancels a pending bot swing. It waits
// for the loops to exit and is safe to call more than once.
func (g *Game) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.state.IsRunning = false
	close(g.stop)
	g.invalidateBotLocked()
	g.mu.Unlock()

	g.wg.Wait()
	g.logger.Info("match stopped")
}

func (g *Game) loop(interval time.Duration, tick func()) {
	defer g.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.safeTick(tick)
		case <-g.stop:
			return
		}
	}
}

// safeTick keeps a panicking tick from taking the process down
func (g *Game) safeTick(tick func()) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("tick panicked", "panic", r)
		}
	}()
	tick()
}

// physicsTick advances the ball and resolves the two ways a point ends
func (g *Game) physicsTick() {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state
	if !s.IsRunning {
		return
	}
	now := g.now()

	if g.physics.Update(&s.Ball, s.LastHitDirection, now) == FloorHit {
		// the ball missed the table, the receiver takes the point
		winner := s.TargetPlayer()
		g.logger.Info("ball hit the floor", "winner", winner)
		g.handleScoreLocked(winner, now)
	}

	// a falling ball already missed the table and ends on the floor instead
	if !s.Ball.Falling && math.Abs(s.Ball.Y) >= g.cfg.OuterBound {
		g.handleScoreLocked(s.FromPlayer(), now)
	}
}

func (g *Game) broadcastTick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients.IsReady() {
		g.clients.SyncHosts(g.ballDataLocked())
	}
}

// HandlePlayerSwing applies a swing reported by a player's phone
func (g *Game) HandlePlayerSwing(role Role, speed float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handleSwingLocked(role.PlayerNumber(), speed, nil)
}

// handleSwingLocked returns whether the swing was turned into a hit. A nil
// goal lets physics pick one.
func (g *Game) handleSwingLocked(player int, speed float64, goal *float64) bool {
	s := g.state
	if player == 0 || !s.IsRunning || !g.clients.IsReady() {
		return false
	}
	now := g.now()
	if s.InHitTimeout(now) {
		return false
	}
	if speed <= 0 || speed <= g.cfg.MinSwingSpeed {
		return false
	}

	if s.SwingToStartPlayer == player {
		g.logger.Debug("serve", "player", player, "speed", speed)
		g.applyHitLocked(speed, goal, true, now)
		s.SwingToStartPlayer = 0
		return true
	}
	if s.SwingToStartPlayer != 0 {
		return false
	}

	if player != s.TargetPlayer() || !g.physics.IsCollisionFor(s.Ball, player) {
		return false
	}
	if !s.LastHitTime.IsZero() && now.Sub(s.LastHitTime) < g.cfg.HitCooldown {
		return false
	}
	g.logger.Debug("return", "player", player, "speed", speed)
	g.applyHitLocked(speed, goal, false, now)
	g.clients.SendSound(player, "hit")
	return true
}

func (g *Game) applyHitLocked(speed float64, goal *float64, isServe bool, now time.Time) {
	s := g.state
	g.physics.ApplyHit(&s.Ball, speed, goal, isServe, now)
	s.LastHitDirection = s.Ball.D
	s.LastHitTime = now
	if g.bot != nil {
		g.bot.ResetApproach()
	}
	g.metrics.Track(EvtHit)
	g.notifyCollisionLocked()
}

func (g *Game) notifyCollisionLocked() {
	if g.mode == ModeHeadless {
		return
	}
	msg := CollisionMsg{Type: MsgCollision, From: "collision", Data: g.ballDataLocked()}
	g.clients.SendJSON(Host1, msg)
	g.clients.SendJSON(Host2, msg)
}

// handleScoreLocked awards a point and sets up the next serve
func (g *Game) handleScoreLocked(scorer int, now time.Time) {
	s := g.state
	if scorer == 1 {
		s.Score.P1++
	} else {
		s.Score.P2++
	}
	// serve changes every two points
	if s.Score.Total()%2 == 0 {
		s.CurrentServer = 3 - s.CurrentServer
	}
	server := s.CurrentServer

	g.clients.SendJSON(Host1, ScoreMsg{
		Type:    MsgScore,
		Score:   [2]int{s.Score.P1, s.Score.P2},
		Message: serveMessage(server == 1),
	})
	g.clients.SendJSON(Host2, ScoreMsg{
		Type:    MsgScore,
		Score:   [2]int{s.Score.P2, s.Score.P1},
		Message: serveMessage(server == 2),
	})

	s.HitTimeout = now.Add(g.cfg.UseTimeout)
	s.ResetBall(server, now)
	s.SwingToStartPlayer = server
	g.invalidateBotLocked()

	g.logger.Info("point scored", "scorer", scorer, "p1", s.Score.P1, "p2", s.Score.P2, "server", server)
	g.metrics.Record(MatchEvent{
		Type:    EvtPoint,
		LobbyID: g.id,
		Mode:    g.mode.String(),
		Player:  scorer,
		Score:   []int{s.Score.P1, s.Score.P2},
		At:      now,
	})
}

func serveMessage(mine bool) string {
	if mine {
		return msgYourServe
	}
	return msgOpponentServe
}

func (g *Game) ballDataLocked() BallData {
	b := g.state.Ball
	return BallData{
		X:     b.X,
		Y:     b.Y,
		Z:     b.Z,
		V:     b.V * g.cfg.VScale,
		GoalX: b.Goal,
	}
}

func (g *Game) broadcastLobbyStateLocked() {
	occupied := g.clients.Occupied()
	names := make([]string, len(occupied))
	for i, r := range occupied {
		names[i] = r.String()
	}
	g.clients.Broadcast(LobbyStateMsg{Type: MsgLobbyState, LobbyID: g.id, Occupied: names})
}

// botTick decides whether the bot serves or returns, and schedules the swing
// after its reaction delay
func (g *Game) botTick() {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state
	if g.bot == nil || !s.IsRunning || g.botPending {
		return
	}
	now := g.now()
	if s.InHitTimeout(now) {
		return
	}

	serving := s.SwingToStartPlayer == botPlayer
	if !serving && s.SwingToStartPlayer != 0 {
		return
	}
	if !serving && !g.physics.IsCollisionFor(s.Ball, botPlayer) {
		return
	}

	speed, ok := g.bot.ShouldSwing(s.Ball, serving, now)
	if !ok {
		return
	}
	g.scheduleBotSwingLocked(speed, g.bot.ReactionDelay())
}

func (g *Game) scheduleBotSwingLocked(speed float64, delay time.Duration) {
	epoch := g.botEpoch
	g.botPending = true
	g.botTimer = g.afterFunc(delay, func() {
		g.safeTick(func() { g.fireBotSwing(epoch, speed) })
	})
}

// fireBotSwing runs when the reaction delay has passed. The ball moved in the
// meantime, so zone and direction are checked again.
func (g *Game) fireBotSwing(epoch uint64, speed float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if epoch != g.botEpoch || g.stopped {
		return
	}
	g.botPending = false
	g.botTimer = nil

	s := g.state
	if s.SwingToStartPlayer == botPlayer ||
		(s.SwingToStartPlayer == 0 && g.physics.IsCollisionFor(s.Ball, botPlayer)) {
		goal := g.bot.AimGoal()
		g.handleSwingLocked(botPlayer, speed, &goal)
	}
}

// invalidateBotLocked drops any scheduled bot swing
func (g *Game) invalidateBotLocked() {
	g.botEpoch++
	g.botPending = false
	if g.botTimer != nil {
		g.botTimer.Stop()
		g.botTimer = nil
	}
	if g.bot != nil {
		g.bot.ResetApproach()
	}
}
