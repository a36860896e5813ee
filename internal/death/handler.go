// Package death reacts to a player death: one latched pass through in-game
// effects, statistics, analysis, notification, and the reset offer. The
// latch makes the whole reaction at-most-once per challenge.
package death

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mcwarden/warden/internal/analyzer"
	"github.com/mcwarden/warden/internal/dispatch"
	"github.com/mcwarden/warden/internal/domain"
	"github.com/mcwarden/warden/internal/notify"
	"github.com/mcwarden/warden/internal/stats"
)

// Notifier is the slice of notify.Router the orchestrator uses.
type Notifier interface {
	HasNotice() bool
	HasAdmin() bool
	NotifyDeath(ctx context.Context, n notify.DeathNotice) error
	AdminLog(ctx context.Context, level, message string) error
	OperatorDM(ctx context.Context, message string) error
}

// CauseAnalyzer produces the death description; satisfied by analyzer.Analyzer.
type CauseAnalyzer interface {
	Analyze(ctx context.Context, rawMessage string) (analyzer.Analysis, error)
}

// Deps carries the orchestrator's collaborators. Scoreboard, Analyzer, and
// ResetRunner may be nil; the matching steps degrade or are skipped.
type Deps struct {
	Store          *stats.Store
	Notifier       Notifier
	Actions        *Actions
	Scoreboard     *Scoreboard
	Analyzer       CauseAnalyzer
	Confirm        *notify.Confirmations
	Dispatcher     *dispatch.Dispatcher
	ResetRunner    func(ctx context.Context) bool
	ConfirmTimeout time.Duration
}

// Orchestrator runs the death reaction sequence. HandleDeath is meant to be
// invoked from the scheduler loop; ResetLatch may be called from anywhere.
type Orchestrator struct {
	deps Deps

	mu          sync.Mutex
	actionTaken bool

	tasks sync.WaitGroup
}

// NewOrchestrator creates an orchestrator with an idle latch.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.ConfirmTimeout == 0 {
		deps.ConfirmTimeout = 5 * time.Minute
	}
	return &Orchestrator{deps: deps}
}

// SetResetRunner installs the world-reset trigger after construction; the
// workflow needs the orchestrator's latch, so the two are wired in stages.
func (o *Orchestrator) SetResetRunner(fn func(ctx context.Context) bool) {
	o.mu.Lock()
	o.deps.ResetRunner = fn
	o.mu.Unlock()
}

// ResetLatch re-arms the orchestrator for the next challenge. Called on
// server start and after a completed world reset.
func (o *Orchestrator) ResetLatch() {
	o.mu.Lock()
	was := o.actionTaken
	o.actionTaken = false
	o.mu.Unlock()
	if was {
		log.Printf("[death] latch re-armed, ready for the next challenge")
	}
}

// ActionTaken reports whether this challenge's death was already handled.
func (o *Orchestrator) ActionTaken() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.actionTaken
}

// tryAcquire flips the latch and reports whether this caller won it.
func (o *Orchestrator) tryAcquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.actionTaken {
		return false
	}
	o.actionTaken = true
	return true
}

// Wait blocks until all fire-and-forget tasks have finished.
func (o *Orchestrator) Wait() {
	o.tasks.Wait()
}

// HandleDeath runs the full reaction to one death event. Duplicate events
// arriving after the latch is taken are logged and suppressed. No error
// escapes: the top-level recover turns panics into a critical report.
func (o *Orchestrator) HandleDeath(ev domain.DeathEvent) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[death] CRITICAL: unhandled failure while handling death of %s: %v\n%s",
				ev.Player, r, debug.Stack())
			if err := o.deps.Notifier.OperatorDM(ctx,
				fmt.Sprintf("Internal error while handling %s's death: %v", ev.Player, r)); err != nil {
				log.Printf("[death] operator report failed too: %v", err)
			}
		}
	}()

	// The latch must flip before any I/O so a racing duplicate cannot slip
	// past the check.
	if !o.tryAcquire() {
		log.Printf("[death] death of %s ignored, reaction already taken this challenge", ev.Player)
		return
	}
	log.Printf("[death] handling death of %s: %s", ev.Player, ev.RawLine)

	notifiable := o.deps.Notifier.HasNotice() || o.deps.Notifier.HasAdmin()
	if !notifiable {
		if err := o.deps.Notifier.OperatorDM(ctx, fmt.Sprintf(
			"%s died but no notification channels are configured. Raw: %s", ev.Player, ev.RawLine)); err != nil {
			log.Printf("[death] no endpoints and operator unreachable: %v", err)
		}
	}

	o.spawn("death title", func() error { return o.deps.Actions.ShowDeathTitle(ev.Player) })
	o.spawn("death sound", func() error { return o.deps.Actions.PlayDeathSound() })

	challengeTime := o.deps.Store.Elapsed()

	data, err := o.deps.Store.IncrementDeath(ev.Player)
	if err != nil {
		log.Printf("[death] CRITICAL: failed to persist death of %s: %v", ev.Player, err)
		if dmErr := o.deps.Notifier.OperatorDM(ctx,
			fmt.Sprintf("Failed to record %s's death: %v", ev.Player, err)); dmErr != nil {
			log.Printf("[death] operator report failed too: %v", dmErr)
		}
		data = o.deps.Store.Snapshot()
	}

	if o.deps.Scoreboard != nil {
		o.deps.Scoreboard.Push(ev.Player, data.Players[ev.Player].DeathCount)
	}

	// The very first challenge has no history to accumulate: the cumulative
	// figure is the per-challenge figure.
	totalTime := challengeTime
	if data.ChallengeCount != 1 {
		totalTime = o.deps.Store.TotalElapsed()
	}

	result := o.analyze(ctx, ev.RawLine)

	if notifiable {
		n := notify.DeathNotice{
			Player:        ev.Player,
			Summary:       result.Summary,
			Description:   result.Description,
			DeathCount:    data.Players[ev.Player].DeathCount,
			ChallengeNo:   data.ChallengeCount,
			ChallengeTime: challengeTime,
			TotalTime:     totalTime,
		}
		if err := o.deps.Notifier.NotifyDeath(ctx, n); err != nil {
			log.Printf("[death] death notification failed: %v", err)
			if dmErr := o.deps.Notifier.OperatorDM(ctx,
				fmt.Sprintf("Failed to deliver %s's death notification: %v", ev.Player, err)); dmErr != nil {
				log.Printf("[death] operator report failed too: %v", dmErr)
			}
		}
	}

	if err := o.deps.Actions.IgniteSurvivors(ev.Player); err != nil {
		log.Printf("[death] survivor explosion skipped: %v", err)
	}

	o.offerReset(ctx, ev.Player)

	o.deps.Dispatcher.Dispatch(ev)
}

// analyze asks the AI collaborator for a cause description, degrading to the
// generic fallback on any failure.
func (o *Orchestrator) analyze(ctx context.Context, rawLine string) analyzer.Analysis {
	if o.deps.Analyzer == nil {
		return analyzer.Fallback(rawLine, "")
	}
	result, err := o.deps.Analyzer.Analyze(ctx, rawLine)
	if err != nil {
		log.Printf("[death] cause analysis failed: %v", err)
		return analyzer.Fallback(rawLine, "automatic cause analysis was unavailable")
	}
	return result
}

// offerReset posts the time-boxed world-reset confirmation. Acceptance runs
// the reset workflow on its own goroutine; decline and expiry only log.
func (o *Orchestrator) offerReset(ctx context.Context, player string) {
	o.mu.Lock()
	runner := o.deps.ResetRunner
	o.mu.Unlock()
	if runner == nil || o.deps.Confirm == nil {
		return
	}
	prompt := fmt.Sprintf("%s died. Reset the world and start a new challenge?", player)
	token := o.deps.Confirm.Request(prompt, o.deps.ConfirmTimeout, func(outcome string) {
		if outcome != notify.OutcomeAccepted {
			log.Printf("[death] world reset offer %s", outcome)
			return
		}
		go func() {
			if ok := runner(context.Background()); !ok {
				log.Printf("[death] confirmed world reset did not complete")
			}
		}()
	})
	msg := fmt.Sprintf("World reset confirmation pending (token `%s`, expires in %v): %s",
		token, o.deps.ConfirmTimeout, prompt)
	if err := o.deps.Notifier.AdminLog(ctx, notify.LevelWarning, msg); err != nil {
		if dmErr := o.deps.Notifier.OperatorDM(ctx, msg); dmErr != nil {
			log.Printf("[death] could not deliver reset offer anywhere: %v", dmErr)
		}
	}
}

// spawn launches a supervised fire-and-forget task. Failures are logged and
// never touch the critical path.
func (o *Orchestrator) spawn(name string, fn func() error) {
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[death] task %q panicked: %v", name, r)
			}
		}()
		if err := fn(); err != nil {
			log.Printf("[death] task %q failed: %v", name, err)
		}
	}()
}
