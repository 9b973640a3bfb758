package main

import (
	"math/rand/v2"
	"time"
)

// BallState selects the height formula used while the ball travels
type BallState int

const (
	ServeFlight BallState = iota
	Flight
	Bounce
)

func (s BallState) String() string {
	switch s {
	case ServeFlight:
		return "SERVE_FLIGHT"
	case Flight:
		return "FLIGHT"
	case Bounce:
		return "BOUNCE"
	}
	return "UNKNOWN"
}

// Ball is the authoritative ball. Y runs along the play axis, player 1 at
// negative Y and player 2 at positive Y.
type Ball struct {
	X, Y, Z float64
	V       float64
	D       int // -1 toward player 1, +1 toward player 2
	Goal    float64
	StartY  float64
	BounceY float64
	State   BallState
	// Falling is set once the ball has missed the table; it drops until the
	// floor hit ends the point.
	Falling    bool
	LastUpdate time.Time
}

// Score counts points per player
type Score struct {
	P1 int
	P2 int
}

// Total returns the number of points played
func (s Score) Total() int { return s.P1 + s.P2 }

// GameState is the mutable per-match data. Only the owning Game touches it.
type GameState struct {
	Score Score
	// SwingToStartPlayer is 0 while a rally is in progress, otherwise the
	// player whose serve is awaited.
	SwingToStartPlayer int
	CurrentServer      int
	IsRunning          bool
	LastHitDirection   int
	HitTimeout         time.Time // zero when no timeout is pending
	LastHitTime        time.Time
	Ball               Ball

	outerBound float64
}

// NewGameState creates a reset state for a table with the given scoring line
func NewGameState(outerBound float64, now time.Time) *GameState {
	s := &GameState{outerBound: outerBound}
	s.Reset(now)
	return s
}

// Reset reinitializes everything for a new match
func (s *GameState) Reset(now time.Time) {
	s.ResetBall(1, now)
	s.Score = Score{}
	s.SwingToStartPlayer = 0
	s.CurrentServer = 1
	s.IsRunning = false
	s.HitTimeout = time.Time{}
	s.LastHitTime = time.Time{}
}

// ResetBall places a held ball on the given server's baseline, heading toward
// that server so the serve flips it toward the opponent.
func (s *GameState) ResetBall(server int, now time.Time) {
	y, d := -Baseline, -1
	if server == 2 {
		y, d = Baseline, 1
	}
	s.Ball = Ball{
		Y:          y,
		Z:          HandHeight,
		D:          d,
		Goal:       randomGoal(s.outerBound),
		StartY:     y,
		BounceY:    y,
		State:      ServeFlight,
		LastUpdate: now,
	}
	s.LastHitDirection = d
}

// InHitTimeout reports whether input is still frozen after a point
func (s *GameState) InHitTimeout(now time.Time) bool {
	return !s.HitTimeout.IsZero() && now.Before(s.HitTimeout)
}

// TargetPlayer is the player the ball is traveling toward
func (s *GameState) TargetPlayer() int { return (3 + s.Ball.D) / 2 }

// FromPlayer is the player who last sent the ball
func (s *GameState) FromPlayer() int { return (3 - s.Ball.D) / 2 }

func randomGoal(outerBound float64) float64 {
	return (rand.Float64() - 0.5) * 2 * GoalSpread * outerBound
}
