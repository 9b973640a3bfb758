package main

import "time"

// GameMode defines who fills the four roles of a lobby
type GameMode int

const (
	// ModeMultiplayer needs both hosts and both players
	ModeMultiplayer GameMode = iota
	// ModeSingleplayer puts the bot in the player2 slot
	ModeSingleplayer
	// ModeHeadless runs without host displays, only the two players
	ModeHeadless
)

func (m GameMode) String() string {
	switch m {
	case ModeSingleplayer:
		return "singleplayer"
	case ModeHeadless:
		return "headless"
	default:
		return "multiplayer"
	}
}

// MatchConfig holds the geometry and timing of one match
type MatchConfig struct {
	VScale      float64 // velocity scale, world units per second per unit of speed
	TableXLimit float64 // half table width
	TableYLimit float64 // half table length
	OuterBound  float64 // scoring line
	InnerBound  float64 // start of the paddle reachable zone

	PhysicsTick   time.Duration
	BroadcastTick time.Duration
	BotTick       time.Duration

	UseTimeout    time.Duration // input freeze after a point
	HitCooldown   time.Duration // minimum gap between accepted rally hits
	MinSwingSpeed float64       // swings at or below this speed are ignored
}

// DefaultMatchConfig returns the stock table and tick rates
func DefaultMatchConfig() MatchConfig {
	return DefaultConfig().MatchConfig()
}
