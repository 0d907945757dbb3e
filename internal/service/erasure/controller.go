// Package erasure wipes a session on exit, panic or inactivity.
//
// Every wipe runs the same ordered steps. Each step is guarded on its own so
// a failure or panic in one never prevents the next from running, and the
// visible outcome is always "erased".
package erasure

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/safe-connect/backend/internal/metrics"
	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
	"github.com/zhouzirui/safe-connect/backend/internal/model/exit"
)

// State of the per-session erasure state machine.
type State string

const (
	StateActive    State = "ACTIVE"
	StateErasing   State = "ERASING"
	StateRestarted State = "RESTARTED"
	StateExited    State = "EXITED"
)

// Trigger names what started an erasure.
type Trigger string

const (
	TriggerRestart    Trigger = "restart"
	TriggerQuickExit  Trigger = "quick_exit"
	TriggerCancelKeys Trigger = "cancel_keys"
	TriggerInactivity Trigger = "inactivity"
	TriggerDisconnect Trigger = "disconnect"
	TriggerShutdown   Trigger = "shutdown"
)

// Step names, in execution order.
const (
	StepDropMessages     = "drop_messages"
	StepDeactivate       = "deactivate"
	StepLeaveRelay       = "leave_relay"
	StepResetView        = "reset_view"
	StepClearClientState = "clear_client_state"
)

// SecureNotice replaces the visible transcript after a wipe.
const SecureNotice = "This is a secure session. Nothing from this conversation has been kept."

// ExitPath is the route that clears browser state for a quick-exit variant.
const ExitPath = "/exit"

// VariantRestart sends the browser back to the welcome screen after clearing.
const VariantRestart = "restart"

const leaveTimeout = 5 * time.Second

// Target performs the concrete wipe operations for one session.
type Target interface {
	// DropMessages discards the in-memory transcript.
	DropMessages() error
	// Deactivate marks the session as no longer active.
	Deactivate() error
	// LeaveRelay detaches the session from the relay channel.
	LeaveRelay(ctx context.Context) error
	// ResetView tells the client to clear inputs and transcript and show notice.
	ResetView(notice string) error
	// ClearClientState tells the client to drop history and storage by
	// navigating to redirect, and which screen it ends on.
	ClearClientState(screen, redirect string) error
}

// Result describes a finished erasure.
type Result struct {
	Trigger  Trigger
	State    State
	Redirect string
	Failed   []string
}

// Config tunes the panic triggers.
type Config struct {
	InactivityTimeout time.Duration
	CancelPresses     int
	CancelWindow      time.Duration
}

// Controller runs the erasure state machine for one session.
type Controller struct {
	target  Target
	metrics *metrics.Metrics
	clock   Clock
	cancel  *CancelDetector
	idle    *InactivityTimer
	timeout time.Duration
	onIdle  func()

	once   sync.Once
	mu     sync.Mutex
	state  State
	result Result
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the real clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithMetrics records erasures and step failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithIdleHandler replaces the default inactivity action, which erases
// directly. Callers that serialise work use it to post the erasure to their
// own loop instead.
func WithIdleHandler(fn func()) Option {
	return func(c *Controller) { c.onIdle = fn }
}

// NewController starts the inactivity countdown for target.
func NewController(cfg Config, target Target, opts ...Option) *Controller {
	c := &Controller{
		target:  target,
		clock:   RealClock,
		state:   StateActive,
		timeout: cfg.InactivityTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cancel = NewCancelDetector(cfg.CancelPresses, cfg.CancelWindow)
	if c.onIdle == nil {
		c.onIdle = func() { c.Erase(TriggerInactivity, "") }
	}
	if cfg.InactivityTimeout > 0 {
		c.idle = NewInactivityTimer(c.clock, cfg.InactivityTimeout, c.onIdle)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Activity resets the inactivity countdown while the session is active.
func (c *Controller) Activity() {
	if c.State() != StateActive || c.idle == nil {
		return
	}
	c.idle.Reset()
}

// IdleExpired confirms an inactivity expiry against the last recorded
// activity. When activity landed after the countdown fired, it re-arms for
// the remaining time and reports false.
func (c *Controller) IdleExpired(lastActivity time.Time) bool {
	if c.State() != StateActive || c.idle == nil {
		return false
	}
	remaining := c.timeout - c.clock.Now().Sub(lastActivity)
	if remaining <= 0 {
		return true
	}
	c.idle.Rearm(remaining)
	return false
}

// CancelKey records one press and erases when the rapid-press threshold is
// reached. It reports whether an erasure was triggered.
func (c *Controller) CancelKey() bool {
	if c.State() != StateActive {
		return false
	}
	if !c.cancel.Press(c.clock.Now()) {
		return false
	}
	c.Erase(TriggerCancelKeys, "")
	return true
}

// Clear wipes the transcript and resets the view without ending the session.
func (c *Controller) Clear() {
	if c.State() != StateActive {
		return
	}
	var failed []string
	c.runStep(StepDropMessages, c.target.DropMessages, &failed)
	c.runStep(StepResetView, func() error { return c.target.ResetView(SecureNotice) }, &failed)
}

// Erase runs every step once. Later calls return the first result unchanged.
func (c *Controller) Erase(trigger Trigger, variant string) Result {
	c.once.Do(func() {
		c.mu.Lock()
		c.state = StateErasing
		c.mu.Unlock()

		if c.idle != nil {
			c.idle.Stop()
		}

		final, screen, redirect := outcome(trigger, variant)
		var failed []string

		c.runStep(StepDropMessages, c.target.DropMessages, &failed)
		c.runStep(StepDeactivate, c.target.Deactivate, &failed)
		c.runStep(StepLeaveRelay, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			defer cancel()
			return c.target.LeaveRelay(ctx)
		}, &failed)
		c.runStep(StepResetView, func() error { return c.target.ResetView(SecureNotice) }, &failed)
		c.runStep(StepClearClientState, func() error { return c.target.ClearClientState(screen, redirect) }, &failed)

		c.metrics.Erased(string(trigger))

		c.mu.Lock()
		c.state = final
		c.result = Result{Trigger: trigger, State: final, Redirect: redirect, Failed: failed}
		c.mu.Unlock()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *Controller) runStep(name string, fn func() error, failed *[]string) {
	defer func() {
		if r := recover(); r != nil {
			*failed = append(*failed, name)
			c.metrics.ErasureStepFailed(name)
			log.Warn().Str("step", name).Interface("panic", r).Msg("[erasure] step panicked, continuing")
		}
	}()
	if err := fn(); err != nil {
		*failed = append(*failed, name)
		c.metrics.ErasureStepFailed(name)
		log.Warn().Err(err).Str("step", name).Msg("[erasure] step failed, continuing")
	}
}

// outcome maps a trigger to the final state, the screen the client lands on
// and the redirect that clears its browser state.
func outcome(trigger Trigger, variant string) (State, string, string) {
	switch trigger {
	case TriggerRestart:
		return StateRestarted, chat.ScreenWelcome, RedirectFor(VariantRestart)
	case TriggerQuickExit:
		if variant == "" {
			variant = exit.VariantBlank
		}
		return StateExited, chat.ScreenExit, RedirectFor(variant)
	case TriggerCancelKeys, TriggerInactivity:
		return StateExited, chat.ScreenExit, RedirectFor(exit.VariantA)
	default:
		return StateExited, chat.ScreenExit, ""
	}
}

// RedirectFor builds the clearing route for variant.
func RedirectFor(variant string) string {
	return fmt.Sprintf("%s?to=%s", ExitPath, url.QueryEscape(variant))
}
