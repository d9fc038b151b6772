package bot

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/roostbot/roost/internal/game"
	"github.com/roostbot/roost/internal/utils"
)

// idleAction is one low-impact behavior the idler can perform.
type idleAction int

const (
	idleJump idleAction = iota
	idleSwing
	idleLook
	idleSneak
	idleJumpSwing
	idleActionCount
)

const (
	idleJumpHold  = 400 * time.Millisecond
	idleSneakHold = 800 * time.Millisecond
)

// Idler performs randomized presence-simulating actions on a jittered
// interval. It owns its timer exclusively and is suspended whenever the agent
// is doing purposeful movement (navigation, verification responses).
type Idler struct {
	logger *slog.Logger

	mu        sync.Mutex
	client    game.Client
	timer     *time.Timer
	running   bool
	suspended int

	baseIntervalMs int
	jitterMs       int
}

func NewIdler(logger *slog.Logger, baseIntervalMs, jitterMs int) *Idler {
	return &Idler{
		logger:         logger,
		baseIntervalMs: baseIntervalMs,
		jitterMs:       jitterMs,
	}
}

// Start begins the idle loop against the given client. Restarting an already
// running idler rebinds it to the new client.
func (i *Idler) Start(client game.Client) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.client = client
	// A fresh session always starts unsuspended; suspensions belong to the
	// session that issued them.
	i.suspended = 0
	if i.running {
		return
	}
	i.running = true
	i.scheduleLocked()
}

// Stop cancels the loop. Safe to call repeatedly.
func (i *Idler) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.running = false
	i.client = nil
	i.suspended = 0
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
}

// Suspend pauses idle behavior without tearing the loop down. Calls nest:
// every Suspend needs a matching Resume.
func (i *Idler) Suspend() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.suspended++
}

func (i *Idler) Resume() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.suspended > 0 {
		i.suspended--
	}
}

func (i *Idler) scheduleLocked() {
	// Log-normal skew around the base interval so the cadence never looks
	// metronomic.
	interval := time.Duration(utils.RandLogNormal(float64(i.baseIntervalMs), float64(i.jitterMs))) * time.Millisecond
	i.timer = time.AfterFunc(interval, i.tick)
}

func (i *Idler) tick() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	client := i.client
	suspended := i.suspended > 0
	i.scheduleLocked()
	i.mu.Unlock()

	if suspended || client == nil {
		return
	}

	i.perform(client, idleAction(rand.Intn(int(idleActionCount))))
}

// perform executes one action, swallowing transport errors: idle behavior is
// best-effort and must never take the session down.
func (i *Idler) perform(client game.Client, action idleAction) {
	var err error
	switch action {
	case idleJump:
		err = i.holdControl(client, game.ControlJump, idleJumpHold)
	case idleSwing:
		err = client.SwingArm()
	case idleLook:
		yaw := utils.RandFloatBetween(-180, 180)
		pitch := utils.RandFloatBetween(-45, 45)
		err = client.Look(yaw, pitch)
	case idleSneak:
		err = i.holdControl(client, game.ControlSneak, idleSneakHold)
	case idleJumpSwing:
		if err = client.SwingArm(); err == nil {
			err = i.holdControl(client, game.ControlJump, idleJumpHold)
		}
	}

	if err != nil {
		i.logger.Debug("Idle action failed", slog.Int("action", int(action)), slog.Any("error", err))
	}
}

func (i *Idler) holdControl(client game.Client, control game.Control, hold time.Duration) error {
	if err := client.SetControlState(control, true); err != nil {
		return err
	}
	time.AfterFunc(hold, func() {
		// The client may be gone by release time; releasing a dead control is
		// harmless.
		i.mu.Lock()
		c := i.client
		i.mu.Unlock()
		if c != nil {
			_ = c.SetControlState(control, false)
		}
	})
	return nil
}
