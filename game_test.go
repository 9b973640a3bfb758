package main

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGame(t *testing.T, mode GameMode, opts ...GameOption) (*Game, *fakeClock, *fakeTimers) {
	t.Helper()
	clock := newFakeClock()
	timers := &fakeTimers{}
	all := append([]GameOption{WithClock(clock.Now), WithAfterFunc(timers.AfterFunc)}, opts...)
	g := NewGame("ABCD", mode, BotMedium, testMatchConfig(), discardLogger(), all...)
	t.Cleanup(g.Stop)
	return g, clock, timers
}

// joinAll fills the four roles of a multiplayer game
func joinAll(t *testing.T, g *Game) map[Role]*mockConn {
	t.Helper()
	conns := make(map[Role]*mockConn)
	for _, token := range []string{"host", "host", "player", "player"} {
		c := &mockConn{}
		role, err := g.Join(token, c)
		require.NoError(t, err)
		conns[role] = c
	}
	return conns
}

func setBall(g *Game, b Ball) {
	g.mu.Lock()
	g.state.Ball = b
	g.mu.Unlock()
}

func TestGameStartsWhenAllRolesJoin(t *testing.T) {
	g, _, _ := newTestGame(t, ModeMultiplayer)

	conns := make(map[Role]*mockConn)
	for i, token := range []string{"host", "host", "player", "player"} {
		require.False(t, g.IsRunning())
		c := &mockConn{}
		role, err := g.Join(token, c)
		require.NoError(t, err)
		assert.Equal(t, allRoles[i], role)
		conns[role] = c
	}

	s := g.Snapshot()
	assert.True(t, s.IsRunning)
	assert.Equal(t, 1, s.SwingToStartPlayer)
	assert.Equal(t, 1, s.CurrentServer)
	assert.Equal(t, -99.0, s.Ball.Y)
	assert.Equal(t, -1, s.Ball.D)

	for role, c := range conns {
		assert.Equal(t, []string{StartSignal}, c.texts(), role.String())
	}

	host1 := conns[Host1]
	assert.Equal(t, []string{MsgRoleAssigned, MsgLobbyInfo, MsgLobbyState}, host1.types()[:3])
	states := host1.messages(t, MsgLobbyState)
	require.Len(t, states, 4)
	assert.Len(t, states[3]["occupied"], 4)
	assert.Equal(t, "ABCD", host1.messages(t, MsgLobbyInfo)[0]["lobbyId"])
}

func TestGameServe(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	conns := joinAll(t, g)

	g.HandlePlayerSwing(Player2, 1.5)
	require.Equal(t, 1, g.Snapshot().SwingToStartPlayer, "only the server may serve")

	g.HandlePlayerSwing(Player1, 1.5)
	s := g.Snapshot()
	assert.Equal(t, 0, s.SwingToStartPlayer)
	assert.Equal(t, 1, s.Ball.D)
	assert.Equal(t, 1, s.LastHitDirection)
	assert.Equal(t, 1.5, s.Ball.V)
	assert.Equal(t, ServeFlight, s.Ball.State)
	assert.Equal(t, clock.Now(), s.LastHitTime)

	for _, host := range []Role{Host1, Host2} {
		collisions := conns[host].messages(t, MsgCollision)
		require.Len(t, collisions, 1)
		assert.Equal(t, "collision", collisions[0]["from"])
		data := collisions[0]["data"].(map[string]any)
		assert.Equal(t, 225.0, data["v"])
		assert.Equal(t, -99.0, data["y"])
	}
}

func TestGameIgnoresSwingsBeforeReady(t *testing.T) {
	g, _, _ := newTestGame(t, ModeMultiplayer)
	for _, token := range []string{"host", "host", "player"} {
		_, err := g.Join(token, &mockConn{})
		require.NoError(t, err)
	}

	g.HandlePlayerSwing(Player1, 2)
	s := g.Snapshot()
	assert.False(t, s.IsRunning)
	assert.Zero(t, s.Ball.V)
}

func TestGameIgnoresNonPositiveSpeed(t *testing.T) {
	g, _, _ := newTestGame(t, ModeMultiplayer)
	joinAll(t, g)

	g.HandlePlayerSwing(Player1, 0)
	g.HandlePlayerSwing(Player1, -1)
	assert.Equal(t, 1, g.Snapshot().SwingToStartPlayer)
}

func TestGameRallyReturn(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	conns := joinAll(t, g)
	g.HandlePlayerSwing(Player1, 1.5)

	clock.Advance(300 * time.Millisecond)
	s := g.Snapshot()
	b := s.Ball
	b.Y = 100
	setBall(g, b)

	// the hitter cannot play its own ball
	g.HandlePlayerSwing(Player1, 1.5)
	require.Equal(t, 1, g.Snapshot().Ball.D)

	g.HandlePlayerSwing(Player2, 1.2)
	s = g.Snapshot()
	assert.Equal(t, -1, s.Ball.D)
	assert.Equal(t, -1, s.LastHitDirection)
	assert.Equal(t, Flight, s.Ball.State)
	assert.Equal(t, 1.2, s.Ball.V)
	assert.Equal(t, 100.0, s.Ball.StartY)

	sounds := conns[Player2].messages(t, MsgSound)
	require.Len(t, sounds, 1)
	assert.Equal(t, "hit", sounds[0]["sound"])
	assert.Empty(t, conns[Player1].messages(t, MsgSound))
}

func TestGameRejectsSwingOutsideZone(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	joinAll(t, g)
	g.HandlePlayerSwing(Player1, 1.5)

	clock.Advance(300 * time.Millisecond)
	b := g.Snapshot().Ball
	b.Y = 20
	setBall(g, b)

	g.HandlePlayerSwing(Player2, 1.5)
	assert.Equal(t, 1, g.Snapshot().Ball.D)
}

func TestGameRejectsReturnOverHitterEnd(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	joinAll(t, g)
	g.HandlePlayerSwing(Player1, 1.5)

	clock.Advance(300 * time.Millisecond)
	b := g.Snapshot().Ball
	b.Y = -90
	setBall(g, b)

	// heading to player 2 but still over player 1's end of the table
	g.HandlePlayerSwing(Player2, 1.5)
	s := g.Snapshot()
	assert.Equal(t, 1, s.Ball.D)
	assert.Equal(t, ServeFlight, s.Ball.State)

	b.Y = 90
	setBall(g, b)
	g.HandlePlayerSwing(Player2, 1.5)
	assert.Equal(t, -1, g.Snapshot().Ball.D)
}

func TestGameRegisterClientExplicitRoles(t *testing.T) {
	g, _, _ := newTestGame(t, ModeMultiplayer)

	host2 := &mockConn{}
	require.NoError(t, g.RegisterClient(Host2, host2))
	assert.Equal(t, "host2", host2.messages(t, MsgRoleAssigned)[0]["role"])
	assert.ErrorIs(t, g.RegisterClient(Host2, &mockConn{}), ErrRoleTaken)

	for _, role := range []Role{Host1, Player1, Player2} {
		require.NoError(t, g.RegisterClient(role, &mockConn{}))
	}
	assert.True(t, g.IsRunning())
	assert.Equal(t, []string{StartSignal}, host2.texts())
}

func TestGameStartGameIsNoOpWhileRunning(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	host := &mockConn{}
	require.NoError(t, g.RegisterClient(Host1, host))

	g.StartGame()
	s := g.Snapshot()
	require.True(t, s.IsRunning)
	assert.Equal(t, 1, s.SwingToStartPlayer)
	assert.Equal(t, -Baseline, s.Ball.Y)

	clock.Advance(time.Second)
	b := s.Ball
	b.Y = 10
	setBall(g, b)

	g.StartGame()
	assert.Equal(t, 10.0, g.Snapshot().Ball.Y, "a running match is not reset")
	assert.Equal(t, []string{StartSignal}, host.texts())
}

func TestGameHitCooldown(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	joinAll(t, g)
	g.HandlePlayerSwing(Player1, 1.5)

	b := g.Snapshot().Ball
	b.Y = 100
	setBall(g, b)

	g.HandlePlayerSwing(Player2, 1.5)
	assert.Equal(t, 1, g.Snapshot().Ball.D)

	clock.Advance(199 * time.Millisecond)
	g.HandlePlayerSwing(Player2, 1.5)
	assert.Equal(t, 1, g.Snapshot().Ball.D)

	clock.Advance(time.Millisecond)
	g.HandlePlayerSwing(Player2, 1.5)
	assert.Equal(t, -1, g.Snapshot().Ball.D)
}

func TestGameScoringAndServeRotation(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	conns := joinAll(t, g)

	score := func(player int) GameState {
		g.mu.Lock()
		g.handleScoreLocked(player, clock.Now())
		g.mu.Unlock()
		return g.Snapshot()
	}
	lastScore := func(role Role) map[string]any {
		msgs := conns[role].messages(t, MsgScore)
		require.NotEmpty(t, msgs)
		return msgs[len(msgs)-1]
	}

	s := score(1)
	assert.Equal(t, Score{P1: 1}, s.Score)
	assert.Equal(t, 1, s.CurrentServer)
	assert.Equal(t, 1, s.SwingToStartPlayer)
	assert.Equal(t, -99.0, s.Ball.Y)
	assert.Equal(t, clock.Now().Add(time.Second), s.HitTimeout)
	assert.Equal(t, []any{1.0, 0.0}, lastScore(Host1)["score"])
	assert.Equal(t, "Swing to start", lastScore(Host1)["message"])
	assert.Equal(t, []any{0.0, 1.0}, lastScore(Host2)["score"])
	assert.Equal(t, "Opponent starts", lastScore(Host2)["message"])

	s = score(2)
	assert.Equal(t, 2, s.CurrentServer)
	assert.Equal(t, 2, s.SwingToStartPlayer)
	assert.Equal(t, 99.0, s.Ball.Y)
	assert.Equal(t, 1, s.Ball.D)
	assert.Equal(t, "Opponent starts", lastScore(Host1)["message"])
	assert.Equal(t, "Swing to start", lastScore(Host2)["message"])

	s = score(2)
	assert.Equal(t, 2, s.CurrentServer)
	assert.Equal(t, []any{2.0, 1.0}, lastScore(Host2)["score"])

	s = score(1)
	assert.Equal(t, Score{P1: 2, P2: 2}, s.Score)
	assert.Equal(t, 1, s.CurrentServer)
}

func TestGameHitTimeoutBlocksServe(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	joinAll(t, g)

	g.mu.Lock()
	g.handleScoreLocked(1, clock.Now())
	g.mu.Unlock()

	g.HandlePlayerSwing(Player1, 1.5)
	assert.Equal(t, 1, g.Snapshot().SwingToStartPlayer)

	clock.Advance(999 * time.Millisecond)
	g.HandlePlayerSwing(Player1, 1.5)
	assert.Equal(t, 1, g.Snapshot().SwingToStartPlayer)

	clock.Advance(time.Millisecond)
	g.HandlePlayerSwing(Player1, 1.5)
	assert.Equal(t, 0, g.Snapshot().SwingToStartPlayer)
}

func TestGameFloorHitScoresReceiver(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	conns := joinAll(t, g)
	g.HandlePlayerSwing(Player1, 1.5)

	setBall(g, Ball{Y: 95, Z: 10, V: 1, D: 1, StartY: 0, BounceY: 130, State: Flight, LastUpdate: clock.Now()})
	clock.Advance(100 * time.Millisecond)
	g.physicsTick()

	s := g.Snapshot()
	assert.Equal(t, Score{P2: 1}, s.Score)
	assert.Equal(t, clock.Now().Add(time.Second), s.HitTimeout)
	assert.Equal(t, 1, s.SwingToStartPlayer)
	assert.Equal(t, -99.0, s.Ball.Y)

	clock.Advance(100 * time.Millisecond)
	g.physicsTick()
	assert.Equal(t, Score{P2: 1}, g.Snapshot().Score)
	assert.Len(t, conns[Host1].messages(t, MsgScore), 1)
}

func TestGameBallPastLineScoresHitter(t *testing.T) {
	g, clock, _ := newTestGame(t, ModeMultiplayer)
	joinAll(t, g)
	g.HandlePlayerSwing(Player1, 1.5)

	setBall(g, Ball{Y: 135, V: 1, D: 1, StartY: 0, BounceY: 80, State: Bounce, LastUpdate: clock.Now()})
	clock.Advance(100 * time.Millisecond)
	g.physicsTick()

	assert.Equal(t, Score{P1: 1}, g.Snapshot().Score)
}

func TestGameBroadcastTick(t *testing.T) {
	g, _, _ := newTestGame(t, ModeMultiplayer)
	host1, host2 := &mockConn{}, &mockConn{bin: true}
	p1, p2 := &mockConn{}, &mockConn{}
	for token, c := range map[string]*mockConn{"host1": host1, "host2": host2, "player1": p1, "player2": p2} {
		_, err := g.Join(token, c)
		require.NoError(t, err)
	}

	g.broadcastTick()

	coords := host1.messages(t, MsgCoordinates)
	require.Len(t, coords, 1)
	assert.Equal(t, -99.0, coords[0]["data"].(map[string]any)["y"])

	bin := host2.binaryCoordinates(t)
	require.Len(t, bin, 1)
	assert.Equal(t, -99.0, bin[0].Data.Y)
	assert.Empty(t, host2.messages(t, MsgCoordinates))

	assert.Empty(t, p1.messages(t, MsgCoordinates))
}

func TestGameLateJoinerGetsGameInProgress(t *testing.T) {
	g, _, _ := newTestGame(t, ModeMultiplayer)
	conns := joinAll(t, g)

	g.RemoveClient(Player2, conns[Player2])
	require.True(t, g.IsRunning())

	c := &mockConn{}
	role, err := g.Join("player", c)
	require.NoError(t, err)
	assert.Equal(t, Player2, role)
	assert.Len(t, c.messages(t, MsgGameInProgress), 1)
	assert.Equal(t, []string{StartSignal}, c.texts())
}

func TestGameRemoveClientIgnoresStaleConn(t *testing.T) {
	g, _, _ := newTestGame(t, ModeMultiplayer)
	conns := joinAll(t, g)

	g.RemoveClient(Player1, &mockConn{})
	assert.Same(t, conns[Player1], g.Clients().Get(Player1))
}

func TestGameDestroyCallbackRunsOnce(t *testing.T) {
	var calls atomic.Int32
	g, _, _ := newTestGame(t, ModeMultiplayer, WithOnEmpty(func() { calls.Add(1) }))
	conns := joinAll(t, g)

	for role, c := range conns {
		g.RemoveClient(role, c)
	}
	assert.Equal(t, int32(1), calls.Load())

	for role, c := range conns {
		g.RemoveClient(role, c)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := g.Join("host", &mockConn{})
	assert.ErrorIs(t, err, ErrLobbyClosed)
}

func TestGameStopIsIdempotent(t *testing.T) {
	g, _, _ := newTestGame(t, ModeMultiplayer)
	joinAll(t, g)

	g.Stop()
	g.Stop()
	assert.False(t, g.IsRunning())

	_, err := g.Join("host", &mockConn{})
	assert.ErrorIs(t, err, ErrLobbyClosed)
}

func TestGameHeadlessSkipsCollision(t *testing.T) {
	g, _, _ := newTestGame(t, ModeHeadless)
	host := &mockConn{}
	_, err := g.Join("host", host)
	require.NoError(t, err)
	_, err = g.Join("player", &mockConn{})
	require.NoError(t, err)
	_, err = g.Join("player", &mockConn{})
	require.NoError(t, err)
	require.True(t, g.IsRunning())

	g.HandlePlayerSwing(Player1, 1.5)
	assert.Equal(t, 0, g.Snapshot().SwingToStartPlayer)
	assert.Empty(t, host.messages(t, MsgCollision))
}

func newBotGame(t *testing.T) (*Game, *fakeClock, *fakeTimers, *mockConn) {
	t.Helper()
	g, clock, timers := newTestGame(t, ModeSingleplayer)
	host := &mockConn{}
	_, err := g.Join("host", host)
	require.NoError(t, err)
	_, err = g.Join("player", &mockConn{})
	require.NoError(t, err)
	require.True(t, g.IsRunning())
	return g, clock, timers, host
}

func giveBotServe(g *Game, now time.Time) {
	g.mu.Lock()
	g.state.ResetBall(2, now)
	g.state.SwingToStartPlayer = 2
	g.mu.Unlock()
}

func TestGameBotServes(t *testing.T) {
	g, clock, timers, host := newBotGame(t)
	giveBotServe(g, clock.Now())

	g.botTick()
	require.Equal(t, 1, timers.len())
	cfg := BotConfigFor(BotMedium)
	assert.InDelta(t, float64(cfg.ReactionDelay), float64(timers.delays[0]), float64(botReactJitter))

	// a pending swing is not scheduled twice
	g.botTick()
	assert.Equal(t, 1, timers.len())

	timers.fire(0)
	s := g.Snapshot()
	assert.Equal(t, 0, s.SwingToStartPlayer)
	assert.Equal(t, -1, s.Ball.D)
	assert.GreaterOrEqual(t, s.Ball.V, botMinSpeed)
	assert.Len(t, host.messages(t, MsgCollision), 1)
}

func TestGameBotReturnsBall(t *testing.T) {
	g, clock, timers, _ := newBotGame(t)
	g.bot.config.MissChance = 0

	g.HandlePlayerSwing(Player1, 1.5)
	clock.Advance(600 * time.Millisecond)
	b := g.Snapshot().Ball
	b.Y = 100
	setBall(g, b)

	g.botTick()
	require.Equal(t, 1, timers.len())
	timers.fire(0)

	s := g.Snapshot()
	assert.Equal(t, -1, s.Ball.D)
	assert.Equal(t, Flight, s.Ball.State)
}

func TestGameBotIgnoresBallOverOpponentEnd(t *testing.T) {
	g, clock, timers, _ := newBotGame(t)
	g.bot.config.MissChance = 0

	g.HandlePlayerSwing(Player1, 1.5)
	clock.Advance(600 * time.Millisecond)
	b := g.Snapshot().Ball
	b.Y = -90
	setBall(g, b)

	g.botTick()
	assert.Zero(t, timers.len())
}

func TestGameBotAimsReturns(t *testing.T) {
	g, clock, timers, _ := newBotGame(t)
	g.bot.config.MissChance = 0
	g.bot.config.HitAccuracy = 1

	g.HandlePlayerSwing(Player1, 1.5)
	clock.Advance(600 * time.Millisecond)
	b := g.Snapshot().Ball
	b.Y = 100
	setBall(g, b)

	g.botTick()
	require.Equal(t, 1, timers.len())
	timers.fire(0)

	s := g.Snapshot()
	require.Equal(t, -1, s.Ball.D)
	assert.LessOrEqual(t, math.Abs(s.Ball.Goal), testMatchConfig().TableXLimit*botAimSpread)
}

func TestGameStaleBotSwingIgnored(t *testing.T) {
	g, clock, timers, _ := newBotGame(t)
	giveBotServe(g, clock.Now())
	g.botTick()
	require.Equal(t, 1, timers.len())

	// the point is replayed before the reaction delay ends
	g.mu.Lock()
	g.handleScoreLocked(1, clock.Now())
	g.mu.Unlock()
	before := g.Snapshot()

	timers.fire(0)
	after := g.Snapshot()
	assert.Equal(t, before.SwingToStartPlayer, after.SwingToStartPlayer)
	assert.Equal(t, before.Ball, after.Ball)
}

func TestGameStopCancelsBotSwing(t *testing.T) {
	g, clock, timers, _ := newBotGame(t)
	giveBotServe(g, clock.Now())
	g.botTick()
	require.Equal(t, 1, timers.len())

	g.Stop()
	timers.fire(0)
	assert.Equal(t, 2, g.Snapshot().SwingToStartPlayer)
}

func TestGameTickRecoversFromPanic(t *testing.T) {
	g, _, _ := newTestGame(t, ModeMultiplayer)
	assert.NotPanics(t, func() {
		g.safeTick(func() { panic("boom") })
	})
}
