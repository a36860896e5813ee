package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordDeathIsIdempotentPerEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := DeathRecord{
		EventID:     "evt-1",
		Player:      "Steve",
		RawLine:     "[12:00:00] [Server thread/INFO]: Steve drowned",
		LogTime:     "12:00:00",
		Summary:     "Drowned in the harbor",
		ChallengeNo: 3,
		DeathCount:  1,
	}
	if err := s.RecordDeath(ctx, r); err != nil {
		t.Fatalf("RecordDeath: %v", err)
	}
	if err := s.RecordDeath(ctx, r); err != nil {
		t.Fatalf("duplicate RecordDeath: %v", err)
	}

	deaths, err := s.RecentDeaths(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDeaths: %v", err)
	}
	if len(deaths) != 1 {
		t.Fatalf("got %d rows for one event id, want 1", len(deaths))
	}
	got := deaths[0]
	if got.Player != "Steve" || got.Summary != "Drowned in the harbor" || got.ChallengeNo != 3 {
		t.Errorf("stored record = %+v", got)
	}
	if got.RecordedAt.IsZero() {
		t.Error("recorded_at was not stamped")
	}
}

func TestRecentDeathsNewestFirstAndLimited(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.RecordDeath(ctx, DeathRecord{
			EventID: fmt.Sprintf("evt-%d", i),
			Player:  fmt.Sprintf("Player%d", i),
		})
		if err != nil {
			t.Fatalf("RecordDeath %d: %v", i, err)
		}
	}

	deaths, err := s.RecentDeaths(ctx, 3)
	if err != nil {
		t.Fatalf("RecentDeaths: %v", err)
	}
	if len(deaths) != 3 {
		t.Fatalf("got %d rows, want 3", len(deaths))
	}
	if deaths[0].Player != "Player4" || deaths[2].Player != "Player2" {
		t.Errorf("order wrong: %s .. %s", deaths[0].Player, deaths[2].Player)
	}

	// Zero limit falls back to the default.
	all, err := s.RecentDeaths(ctx, 0)
	if err != nil {
		t.Fatalf("RecentDeaths(0): %v", err)
	}
	if len(all) != 5 {
		t.Errorf("default limit returned %d rows, want 5", len(all))
	}
}

func TestDeathTotalsSpanChallenges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows := []DeathRecord{
		{EventID: "a", Player: "Steve", ChallengeNo: 1},
		{EventID: "b", Player: "Steve", ChallengeNo: 2},
		{EventID: "c", Player: "Alex", ChallengeNo: 2},
	}
	for _, r := range rows {
		if err := s.RecordDeath(ctx, r); err != nil {
			t.Fatalf("RecordDeath: %v", err)
		}
	}

	totals, err := s.DeathTotals(ctx)
	if err != nil {
		t.Fatalf("DeathTotals: %v", err)
	}
	if totals["Steve"] != 2 || totals["Alex"] != 1 {
		t.Errorf("totals = %v", totals)
	}
}

func TestRecordReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordReset(ctx, "death", true); err != nil {
		t.Fatalf("RecordReset: %v", err)
	}
	if err := s.RecordReset(ctx, "api", false); err != nil {
		t.Fatalf("RecordReset: %v", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM resets").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("reset rows = %d, want 2", n)
	}
}

func TestOpenIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.RecordDeath(context.Background(), DeathRecord{EventID: "a", Player: "Steve"}); err != nil {
		t.Fatalf("RecordDeath: %v", err)
	}
	s1.Close()

	// Schema creation must be safe on an existing database.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	deaths, err := s2.RecentDeaths(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentDeaths: %v", err)
	}
	if len(deaths) != 1 {
		t.Errorf("rows after reopen = %d, want 1", len(deaths))
	}
}
