package stats

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stats.yml"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestIncrementDeathCounters(t *testing.T) {
	s := openTestStore(t)

	deaths := []string{"Steve", "Alex", "Steve"}
	for _, p := range deaths {
		if _, err := s.IncrementDeath(p); err != nil {
			t.Fatalf("IncrementDeath(%s): %v", p, err)
		}
	}

	if got := s.ChallengeCount(); got != 3 {
		t.Errorf("challenge count = %d, want 3 (one per death)", got)
	}
	if got := s.PlayerDeathCount("Steve"); got != 2 {
		t.Errorf("Steve deaths = %d, want 2", got)
	}
	if got := s.PlayerDeathCount("Alex"); got != 1 {
		t.Errorf("Alex deaths = %d, want 1", got)
	}
	if s.CurrentStart() == "" {
		t.Error("current start was not stamped")
	}
	if s.Snapshot().FirstChallengeStartAt == "" {
		t.Error("first-ever start was not stamped")
	}

	// The sum of player deaths must equal the challenge counter.
	total := 0
	for _, p := range s.Snapshot().Players {
		total += p.DeathCount
	}
	if total != s.ChallengeCount() {
		t.Errorf("player deaths sum to %d, challenge count is %d", total, s.ChallengeCount())
	}
}

func TestIncrementSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.yml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.IncrementDeath("Steve"); err != nil {
		t.Fatalf("IncrementDeath: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.PlayerDeathCount("Steve"); got != 1 {
		t.Errorf("after reopen Steve deaths = %d, want 1", got)
	}
	if got := reopened.ChallengeCount(); got != 1 {
		t.Errorf("after reopen challenge count = %d, want 1", got)
	}
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.IncrementDeath("Steve"); err != nil {
		t.Fatalf("IncrementDeath: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if got := s.ChallengeCount(); got != 0 {
		t.Errorf("challenge count after reset = %d, want 0", got)
	}
	if got := s.PlayerDeathCount("Steve"); got != 0 {
		t.Errorf("Steve deaths after reset = %d, want 0", got)
	}
	if s.CurrentStart() != "" {
		t.Error("current start survived reset")
	}
	if s.Snapshot().FirstChallengeStartAt != "" {
		t.Error("first start survived reset")
	}
}

func TestMigrations(t *testing.T) {
	tests := []struct {
		name          string
		file          string
		wantCount     int
		wantDeaths    map[string]int
		wantCurrentAt string
	}{
		{
			name: "renamed attempts counter",
			file: "challenge_attempts: 4\n" +
				"current_challenge_start_time: \"2026-08-01T00:00:00Z\"\n",
			wantCount:     4,
			wantCurrentAt: "2026-08-01T00:00:00Z",
		},
		{
			name: "legacy scalar players",
			file: "challenge_count: 2\n" +
				"current_challenge_start_time: \"2026-08-01T00:00:00Z\"\n" +
				"players:\n  Steve: 2\n",
			wantCount:     2,
			wantDeaths:    map[string]int{"Steve": 2},
			wantCurrentAt: "2026-08-01T00:00:00Z",
		},
		{
			name: "legacy deaths key",
			file: "challenge_count: 1\n" +
				"current_challenge_start_time: \"2026-08-01T00:00:00Z\"\n" +
				"players:\n  Alex:\n    deaths: 1\n",
			wantCount:     1,
			wantDeaths:    map[string]int{"Alex": 1},
			wantCurrentAt: "2026-08-01T00:00:00Z",
		},
		{
			name:          "missing start time becomes unknown sentinel then refreshed",
			file:          "challenge_count: 3\n",
			wantCount:     3,
			wantCurrentAt: startTimeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, migrated, err := decode([]byte(tt.file))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !migrated {
				t.Error("expected the legacy shape to be flagged as migrated")
			}
			if data.ChallengeCount != tt.wantCount {
				t.Errorf("challenge count = %d, want %d", data.ChallengeCount, tt.wantCount)
			}
			if data.CurrentChallengeStartAt != tt.wantCurrentAt {
				t.Errorf("current start = %q, want %q", data.CurrentChallengeStartAt, tt.wantCurrentAt)
			}
			for player, want := range tt.wantDeaths {
				if got := data.Players[player].DeathCount; got != want {
					t.Errorf("%s deaths = %d, want %d", player, got, want)
				}
			}
		})
	}
}

func TestOpenMigratesAndRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.yml")
	legacy := "challenge_attempts: 2\nplayers:\n  Steve: 2\n"
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.ChallengeCount(); got != 2 {
		t.Errorf("challenge count = %d, want 2", got)
	}
	if got := s.PlayerDeathCount("Steve"); got != 2 {
		t.Errorf("Steve deaths = %d, want 2", got)
	}

	// The migrated file must parse as the current shape on the next open.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.ChallengeCount(); got != 2 {
		t.Errorf("after reopen challenge count = %d, want 2", got)
	}
}

func TestElapsedSentinels(t *testing.T) {
	s := openTestStore(t)

	if got := s.Elapsed(); got != "no record" {
		t.Errorf("Elapsed with no start = %q, want \"no record\"", got)
	}
	if got := s.ElapsedSince(startTimeUnknown); got != "no record" {
		t.Errorf("ElapsedSince(unknown) = %q, want \"no record\"", got)
	}
	if got := s.ElapsedSince("not-a-timestamp"); got != "time parse error" {
		t.Errorf("ElapsedSince(garbage) = %q, want \"time parse error\"", got)
	}
	if got := s.TotalElapsed(); got != "no record" {
		t.Errorf("TotalElapsed with no challenges = %q, want \"no record\"", got)
	}
}

func TestTotalElapsed(t *testing.T) {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		first string
		now   time.Time
		want  string
	}{
		{
			name:  "fresh cumulative run",
			first: base.Add(-2 * time.Second).Format(time.RFC3339),
			now:   base,
			want:  "just started",
		},
		{
			name:  "normal cumulative run",
			first: base.Add(-90 * time.Second).Format(time.RFC3339),
			now:   base,
			want:  "1 minute 30 seconds",
		},
		{
			name:  "unknown sentinel",
			first: startTimeUnknown,
			now:   base,
			want:  "not measurable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			s.now = func() time.Time { return tt.now }
			if _, err := s.IncrementDeath("Steve"); err != nil {
				t.Fatalf("IncrementDeath: %v", err)
			}
			s.mu.Lock()
			s.data.FirstChallengeStartAt = tt.first
			s.mu.Unlock()

			if got := s.TotalElapsed(); got != tt.want {
				t.Errorf("TotalElapsed = %q, want %q", got, tt.want)
			}
		})
	}
}
