package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const (
	botSwingInterval = 500 * time.Millisecond // minimum gap between two bot swings
	botMinSpeed      = 0.5
	botReactJitter   = 25 * time.Millisecond
	botPlayer        = 2 // the bot always plays as player 2
	botAimSpread     = 0.5 // accurate shots stay within this fraction of the table half-width
)

// BotDifficulty names a bot tuning tier
type BotDifficulty string

const (
	BotEasy   BotDifficulty = "easy"
	BotMedium BotDifficulty = "medium"
	BotHard   BotDifficulty = "hard"
)

// BotConfig is the immutable tuning of one difficulty tier
type BotConfig struct {
	ReactionDelay  time.Duration
	HitAccuracy    float64 // 0-1, chance a shot is aimed near the middle of the table
	MissChance     float64 // 0-1, chance to let a ball through
	SpeedVariation float64
	BaseSpeed      float64
}

// ErrUnknownDifficulty is returned for a difficulty other than easy, medium or hard
var ErrUnknownDifficulty = errors.New("unknown bot difficulty")

var botConfigs = map[BotDifficulty]BotConfig{
	BotEasy: {
		ReactionDelay:  300 * time.Millisecond,
		HitAccuracy:    0.5,
		MissChance:     0.15,
		SpeedVariation: 0.3,
		BaseSpeed:      1,
	},
	BotMedium: {
		ReactionDelay:  150 * time.Millisecond,
		HitAccuracy:    0.75,
		MissChance:     0.05,
		SpeedVariation: 0.2,
		BaseSpeed:      1.2,
	},
	BotHard: {
		ReactionDelay:  50 * time.Millisecond,
		HitAccuracy:    0.95,
		MissChance:     0.01,
		SpeedVariation: 0.1,
		BaseSpeed:      1.6,
	},
}

// ParseBotDifficulty accepts easy, medium or hard (case-insensitive). An empty
// string selects medium.
func ParseBotDifficulty(s string) (BotDifficulty, error) {
	if s == "" {
		return BotMedium, nil
	}
	d := BotDifficulty(strings.ToLower(s))
	if _, ok := botConfigs[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, s)
	}
	return d, nil
}

// BotConfigFor returns the tuning of a difficulty, medium for unknown tiers
func BotConfigFor(d BotDifficulty) BotConfig {
	if c, ok := botConfigs[d]; ok {
		return c
	}
	return botConfigs[BotMedium]
}

// BotAI decides when the bot swings. It performs no timing itself; the caller
// delays execution by ReactionDelay.
type BotAI struct {
	mu            sync.Mutex
	difficulty    BotDifficulty
	config        BotConfig
	physics       Physics
	lastSwingTime time.Time
	// missedApproach latches a rolled miss until the ball is hit again, so a
	// ball sitting in the zone for several ticks gets a single roll
	missedApproach bool
}

// NewBotAI creates a bot for the given difficulty and table
func NewBotAI(difficulty BotDifficulty, physics Physics) *BotAI {
	if _, ok := botConfigs[difficulty]; !ok {
		difficulty = BotMedium
	}
	return &BotAI{
		difficulty: difficulty,
		config:     botConfigs[difficulty],
		physics:    physics,
	}
}

// Difficulty returns the bot's tier
func (b *BotAI) Difficulty() BotDifficulty { return b.difficulty }

// ShouldSwing returns the swing speed and true when the bot decides to swing
func (b *BotAI) ShouldSwing(ball Ball, isServing bool, now time.Time) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lastSwingTime.IsZero() && now.Sub(b.lastSwingTime) < botSwingInterval {
		return 0, false
	}
	if ball.D != directionOf(botPlayer) {
		return 0, false
	}

	if isServing {
		b.lastSwingTime = now
		return b.swingSpeed(), true
	}

	if !b.physics.IsCollisionFor(ball, botPlayer) {
		return 0, false
	}
	if b.missedApproach {
		return 0, false
	}
	if rand.Float64() < b.config.MissChance {
		b.missedApproach = true
		return 0, false
	}

	b.lastSwingTime = now
	return b.swingSpeed(), true
}

// ResetApproach clears a latched miss; called whenever the ball is hit or reset
func (b *BotAI) ResetApproach() {
	b.mu.Lock()
	b.missedApproach = false
	b.mu.Unlock()
}

// ReactionDelay returns the tier's delay with ±25ms of jitter
func (b *BotAI) ReactionDelay() time.Duration {
	jitter := time.Duration((rand.Float64()*2 - 1) * float64(botReactJitter))
	d := b.config.ReactionDelay + jitter
	if d < 0 {
		return 0
	}
	return d
}

// AimGoal picks the x coordinate the bot sends the ball to
func (b *BotAI) AimGoal() float64 {
	if rand.Float64() < b.config.HitAccuracy {
		half := b.physics.cfg.TableXLimit * botAimSpread
		return (rand.Float64()*2 - 1) * half
	}
	return randomGoal(b.physics.cfg.OuterBound)
}

func (b *BotAI) swingSpeed() float64 {
	variation := (rand.Float64() - 0.5) * 2 * b.config.SpeedVariation
	return math.Max(botMinSpeed, b.config.BaseSpeed+variation)
}
