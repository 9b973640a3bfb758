package main

import (
	"math"
	"time"
)

// Height model, in the same units as the table plane
const (
	HandHeight           = 30.0  // ball held for a serve
	ServeArc             = 25.0  // apex added over the serve arc
	PaddleHeight         = 50.0  // contact height for a hit from behind the baseline
	MidTableFactor       = 0.5   // start height and arc scale for a hit from mid-table
	ArcMax               = 135.0 // apex added over a full flight
	ArcShape             = 0.85  // progress exponent, moves the apex toward the hitter
	BouncePeak           = 100.0 // apex of the arc after the ball hits the table
	VirtualLandFactor    = 2.8   // bounce arc ends OuterBound*2.8 from the net
	FallRate             = 400.0 // height lost per second once the ball missed the table
	ServeDamping         = 0.8   // speed kept after the serve lands
	ServeSecondaryBounce = 0.8   // second landing of a serve, fraction of half table length
	BounceScale          = 0.4   // bounce depth per unit of hit speed, fraction of OuterBound
	GoalSpread           = 0.95  // random goals stay within ±0.95*OuterBound
	Baseline             = 99.0  // |y| of a held ball; must be inside OuterBound
)

// Outcome is the result of one physics step
type Outcome int

const (
	Continue Outcome = iota
	FloorHit
)

// Physics computes ball motion for one table. It holds no mutable state; the
// ball passed in is owned by the caller.
type Physics struct {
	cfg MatchConfig
}

// NewPhysics creates a Physics for the given table
func NewPhysics(cfg MatchConfig) Physics {
	return Physics{cfg: cfg}
}

// Update advances the ball to now. The ball steers toward (Goal, D*OuterBound)
// at constant scaled speed.
func (p Physics) Update(b *Ball, lastHitDirection int, now time.Time) Outcome {
	ob := p.cfg.OuterBound
	if math.Abs(b.Y) >= ob && lastHitDirection == b.D {
		// the point should already be over, stop extrapolating past the line
		b.Y = Baseline * sign(b.Y)
		b.LastUpdate = now
	}

	dt := now.Sub(b.LastUpdate).Seconds()
	if dt < 0 {
		dt = 0
	}

	distX := b.Goal - b.X
	distY := float64(b.D)*ob - b.Y
	dist := math.Hypot(distX, distY)
	step := p.cfg.VScale * b.V * dt
	if step >= dist {
		b.X = b.Goal
		b.Y = float64(b.D) * ob
	} else {
		dist = math.Max(dist, 1)
		b.X += step * distX / dist
		b.Y += step * distY / dist
	}

	out := p.updateHeight(b, dt)
	b.LastUpdate = now
	return out
}

func (p Physics) updateHeight(b *Ball, dt float64) Outcome {
	if b.V == 0 {
		return Continue
	}
	if b.Falling {
		return p.fall(b, dt)
	}

	switch b.State {
	case ServeFlight:
		prog := p.progress(b)
		if p.leftTable(b) {
			b.Falling = true
			return p.fall(b, dt)
		}
		if prog >= 1 {
			if !p.onTable(b.X, b.Y) {
				b.Falling = true
				return p.fall(b, dt)
			}
			b.State = Flight
			b.StartY = b.Y
			b.BounceY = float64(b.D) * p.cfg.TableYLimit * ServeSecondaryBounce
			b.V *= ServeDamping
			b.Z = 0
			return Continue
		}
		b.Z = HandHeight*(1-prog) + ServeArc*math.Sin(prog*math.Pi)

	case Flight:
		prog := p.progress(b)
		if p.leftTable(b) {
			b.Falling = true
			return p.fall(b, dt)
		}
		if prog >= 1 {
			if !p.onTable(b.X, b.Y) {
				b.Falling = true
				return p.fall(b, dt)
			}
			b.State = Bounce
			b.Z = 0
			return Continue
		}
		h0, arc := PaddleHeight, ArcMax
		if math.Abs(b.StartY) < p.cfg.InnerBound {
			h0 *= MidTableFactor
			arc *= MidTableFactor
		}
		b.Z = h0*(1-prog) + arc*math.Sin(math.Pow(prog, ArcShape)*math.Pi)

	case Bounce:
		landing := p.cfg.OuterBound * VirtualLandFactor
		bounce := math.Abs(b.BounceY)
		t := Clamp((math.Abs(b.Y)-bounce)/(landing-bounce), 0, 1)
		b.Z = math.Max(0, BouncePeak*4*t*(1-t))
	}
	return Continue
}

func (p Physics) fall(b *Ball, dt float64) Outcome {
	b.Z -= FallRate * dt
	if b.Z <= 0 {
		b.Z = 0
		return FloorHit
	}
	return Continue
}

// progress is the fraction of the way from StartY to BounceY along the play axis
func (p Physics) progress(b *Ball) float64 {
	span := math.Max(math.Abs(b.BounceY-b.StartY), 1)
	return math.Abs(b.Y-b.StartY) / span
}

func (p Physics) onTable(x, y float64) bool {
	return math.Abs(x) <= p.cfg.TableXLimit && math.Abs(y) <= p.cfg.TableYLimit
}

// leftTable reports a ball over the receiver's half that is outside the table
func (p Physics) leftTable(b *Ball) bool {
	return b.Y*float64(b.D) > 0 && !p.onTable(b.X, b.Y)
}

// ApplyHit sends the ball back the other way. A nil goal picks a random one.
func (p Physics) ApplyHit(b *Ball, velocity float64, goal *float64, isServe bool, now time.Time) {
	ob := p.cfg.OuterBound
	b.V = velocity
	if goal != nil {
		b.Goal = *goal
	} else {
		b.Goal = randomGoal(ob)
	}
	b.StartY = b.Y
	b.D = -b.D
	b.Falling = false

	if isServe {
		b.State = ServeFlight
		b.BounceY = float64(b.D) * math.Abs(b.StartY) * 0.5
	} else {
		b.State = Flight
		depth := Clamp(BounceScale*velocity*ob, 0.2*ob, ob)
		b.BounceY = float64(b.D) * depth
	}
	b.LastUpdate = now
}

// IsCollision reports whether y is inside the paddle reachable zone
func (p Physics) IsCollision(y float64) bool {
	abs := math.Abs(y)
	return abs >= p.cfg.InnerBound && abs <= p.cfg.OuterBound
}

// IsCollisionFor also requires the ball to be over player's end and
// traveling toward them
func (p Physics) IsCollisionFor(b Ball, player int) bool {
	dir := directionOf(player)
	return b.D == dir && b.Y*float64(dir) > 0 && p.IsCollision(b.Y)
}

// directionOf maps a player number to the ball direction that reaches them
func directionOf(player int) int {
	if player == 1 {
		return -1
	}
	return 1
}
