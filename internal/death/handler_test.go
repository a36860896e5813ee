package death

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mcwarden/warden/internal/config"
	"github.com/mcwarden/warden/internal/dispatch"
	"github.com/mcwarden/warden/internal/domain"
	"github.com/mcwarden/warden/internal/notify"
	"github.com/mcwarden/warden/internal/stats"
)

type fakeNotifier struct {
	mu        sync.Mutex
	noNotice  bool
	noAdmin   bool
	notices   []notify.DeathNotice
	adminLogs []string
	dms       []string
}

func (f *fakeNotifier) HasNotice() bool { return !f.noNotice }
func (f *fakeNotifier) HasAdmin() bool  { return !f.noAdmin }

func (f *fakeNotifier) NotifyDeath(ctx context.Context, n notify.DeathNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return nil
}

func (f *fakeNotifier) AdminLog(ctx context.Context, level, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noAdmin {
		return notify.ErrNoEndpoint
	}
	f.adminLogs = append(f.adminLogs, message)
	return nil
}

func (f *fakeNotifier) OperatorDM(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, message)
	return nil
}

func (f *fakeNotifier) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

func testStore(t *testing.T) *stats.Store {
	t.Helper()
	s, err := stats.Open(filepath.Join(t.TempDir(), "stats.yml"))
	if err != nil {
		t.Fatalf("opening stats store: %v", err)
	}
	return s
}

func testOrchestrator(t *testing.T, notifier Notifier) (*Orchestrator, *stats.Store) {
	t.Helper()
	store := testStore(t)
	orch := NewOrchestrator(Deps{
		Store:      store,
		Notifier:   notifier,
		Actions:    NewActions(nil, config.EffectsConfig{}),
		Dispatcher: dispatch.New(),
	})
	return orch, store
}

func deathEvent(player string) domain.DeathEvent {
	return domain.NewDeathEvent(player, "[12:00:00] [Server thread/INFO]: "+player+" died", "12:00:00")
}

func TestHandleDeathAtMostOnce(t *testing.T) {
	notifier := &fakeNotifier{}
	orch, store := testOrchestrator(t, notifier)

	orch.HandleDeath(deathEvent("Steve"))
	orch.HandleDeath(deathEvent("Alex"))
	orch.Wait()

	if got := notifier.noticeCount(); got != 1 {
		t.Errorf("notices sent = %d, want 1 (second death must be suppressed)", got)
	}
	if got := store.ChallengeCount(); got != 1 {
		t.Errorf("challenge count = %d, want 1", got)
	}
	if got := store.PlayerDeathCount("Alex"); got != 0 {
		t.Errorf("suppressed death was persisted: Alex deaths = %d", got)
	}
	if !orch.ActionTaken() {
		t.Error("latch is not set after handling a death")
	}
}

func TestResetLatchReArms(t *testing.T) {
	notifier := &fakeNotifier{}
	orch, store := testOrchestrator(t, notifier)

	orch.HandleDeath(deathEvent("Steve"))
	orch.ResetLatch()
	orch.HandleDeath(deathEvent("Steve"))
	orch.Wait()

	if got := notifier.noticeCount(); got != 2 {
		t.Errorf("notices sent = %d, want 2 after re-arming", got)
	}
	if got := store.ChallengeCount(); got != 2 {
		t.Errorf("challenge count = %d, want 2", got)
	}
	if got := store.PlayerDeathCount("Steve"); got != 2 {
		t.Errorf("Steve deaths = %d, want 2", got)
	}
}

func TestFirstChallengeTotalEqualsChallengeTime(t *testing.T) {
	notifier := &fakeNotifier{}
	orch, store := testOrchestrator(t, notifier)
	if err := store.MarkChallengeStart(); err != nil {
		t.Fatal(err)
	}

	orch.HandleDeath(deathEvent("Steve"))
	orch.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.notices) != 1 {
		t.Fatalf("notices sent = %d, want 1", len(notifier.notices))
	}
	n := notifier.notices[0]
	if n.TotalTime != n.ChallengeTime {
		t.Errorf("first challenge total = %q, want the per-challenge figure %q",
			n.TotalTime, n.ChallengeTime)
	}
}

func TestLaterChallengesUseCumulativeTime(t *testing.T) {
	notifier := &fakeNotifier{}
	orch, store := testOrchestrator(t, notifier)
	if err := store.MarkChallengeStart(); err != nil {
		t.Fatal(err)
	}

	orch.HandleDeath(deathEvent("Steve"))
	orch.ResetLatch()
	orch.HandleDeath(deathEvent("Steve"))
	orch.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.notices) != 2 {
		t.Fatalf("notices sent = %d, want 2", len(notifier.notices))
	}
	// The second death starts its cumulative clock at the first death, so the
	// store renders its distinct short-total phrase here.
	if got := notifier.notices[1].TotalTime; got != "just started" {
		t.Errorf("second challenge total = %q, want the cumulative figure", got)
	}
}

func TestHandleDeathWithoutEndpointsStillCountsStats(t *testing.T) {
	notifier := &fakeNotifier{noNotice: true, noAdmin: true}
	orch, store := testOrchestrator(t, notifier)

	orch.HandleDeath(deathEvent("Steve"))
	orch.Wait()

	if got := store.PlayerDeathCount("Steve"); got != 1 {
		t.Errorf("Steve deaths = %d, want 1 (stats processing must survive missing endpoints)", got)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.dms) == 0 {
		t.Error("operator was not informed that no channels are configured")
	}
	if len(notifier.notices) != 0 {
		t.Error("notice sent despite no configured endpoint")
	}
}

func TestHandleDeathFansOutToDispatcher(t *testing.T) {
	notifier := &fakeNotifier{}
	store := testStore(t)
	dispatcher := dispatch.New()

	var seen []domain.DeathEvent
	dispatcher.Register("recorder", func(ev domain.DeathEvent) { seen = append(seen, ev) })

	orch := NewOrchestrator(Deps{
		Store:      store,
		Notifier:   notifier,
		Actions:    NewActions(nil, config.EffectsConfig{}),
		Dispatcher: dispatcher,
	})

	ev := deathEvent("Steve")
	orch.HandleDeath(ev)
	orch.Wait()

	if len(seen) != 1 {
		t.Fatalf("dispatcher saw %d events, want 1", len(seen))
	}
	if seen[0].ID != ev.ID {
		t.Errorf("dispatched event id = %q, want %q", seen[0].ID, ev.ID)
	}

	// Fan-out happens after the statistics increment.
	if got := store.PlayerDeathCount("Steve"); got != 1 {
		t.Errorf("Steve deaths = %d, want 1", got)
	}
}

func TestConfirmedResetRuns(t *testing.T) {
	notifier := &fakeNotifier{}
	store := testStore(t)
	confirms := notify.NewConfirmations()

	ran := make(chan struct{})
	orch := NewOrchestrator(Deps{
		Store:          store,
		Notifier:       notifier,
		Actions:        NewActions(nil, config.EffectsConfig{}),
		Dispatcher:     dispatch.New(),
		Confirm:        confirms,
		ConfirmTimeout: time.Minute,
	})
	orch.SetResetRunner(func(ctx context.Context) bool {
		close(ran)
		return true
	})

	orch.HandleDeath(deathEvent("Steve"))

	pending := confirms.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending confirmations = %d, want 1", len(pending))
	}
	for token := range pending {
		if err := confirms.Resolve(token, true); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("accepted confirmation did not trigger the reset workflow")
	}
}

func TestDeclinedResetDoesNotRun(t *testing.T) {
	notifier := &fakeNotifier{}
	store := testStore(t)
	confirms := notify.NewConfirmations()

	orch := NewOrchestrator(Deps{
		Store:          store,
		Notifier:       notifier,
		Actions:        NewActions(nil, config.EffectsConfig{}),
		Dispatcher:     dispatch.New(),
		Confirm:        confirms,
		ConfirmTimeout: time.Minute,
	})
	ran := false
	orch.SetResetRunner(func(ctx context.Context) bool {
		ran = true
		return true
	})

	orch.HandleDeath(deathEvent("Steve"))

	for token := range confirms.Pending() {
		if err := confirms.Resolve(token, false); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if ran {
		t.Error("declined confirmation still ran the reset workflow")
	}
}
