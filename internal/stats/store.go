// Package stats owns the persisted challenge statistics file.
//
// The file is YAML and human-editable. Every mutation is a read-modify-write
// followed by a synchronous save; a mutex serializes mutations so a death
// increment can never interleave with a reset. The store is only ever called
// from the loop goroutine, the mutex guards concurrent loop tasks.
package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// startTimeUnknown marks a start time that predates time tracking. It
// survives round-trips so old files keep their meaning.
const startTimeUnknown = "unknown"

// PlayerStats is the per-player slice of the aggregate.
type PlayerStats struct {
	DeathCount int `yaml:"death_count"`
}

// Data is the durable aggregate, mapped 1:1 onto the YAML file.
type Data struct {
	ChallengeCount          int                    `yaml:"challenge_count"`
	Players                 map[string]PlayerStats `yaml:"players"`
	CurrentChallengeStartAt string                 `yaml:"current_challenge_start_time"` // RFC 3339 or empty
	FirstChallengeStartAt   string                 `yaml:"first_challenge_start_time"`
}

// Store loads, mutates, and saves the aggregate.
type Store struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	data Data
}

// Open loads the stats file, creating it with zero defaults if absent and
// migrating older shapes in place.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		log := s.freshData()
		s.data = log
		return s.save()
	}
	if err != nil {
		return fmt.Errorf("reading stats file: %w", err)
	}

	data, migrated, err := decode(raw)
	if err != nil {
		return fmt.Errorf("parsing stats file %s: %w", s.path, err)
	}
	s.data = data

	// A challenge in progress needs a start time; fall back to now rather
	// than carrying a hole forward.
	if s.data.ChallengeCount > 0 && s.data.CurrentChallengeStartAt == "" {
		s.rollStartTime()
		migrated = true
	}
	if migrated {
		return s.save()
	}
	return nil
}

func (s *Store) freshData() Data {
	return Data{Players: map[string]PlayerStats{}}
}

// decode unmarshals the file, applying forward-compatible migration of older
// shapes: the renamed challenge_attempts counter, scalar player entries, and
// the old per-player "deaths" key.
func decode(raw []byte) (Data, bool, error) {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return Data{}, false, err
	}
	if generic == nil {
		return Data{Players: map[string]PlayerStats{}}, true, nil
	}

	migrated := false
	data := Data{Players: map[string]PlayerStats{}}

	if v, ok := generic["challenge_count"]; ok {
		data.ChallengeCount = asInt(v)
	} else if v, ok := generic["challenge_attempts"]; ok {
		data.ChallengeCount = asInt(v)
		migrated = true
	}

	if v, ok := generic["current_challenge_start_time"]; ok {
		data.CurrentChallengeStartAt = asString(v)
	} else if data.ChallengeCount > 0 {
		data.CurrentChallengeStartAt = startTimeUnknown
		migrated = true
	}
	if v, ok := generic["first_challenge_start_time"]; ok {
		data.FirstChallengeStartAt = asString(v)
	}

	players, _ := generic["players"].(map[string]interface{})
	for name, entry := range players {
		switch p := entry.(type) {
		case int:
			// Legacy scalar format: the value was the death count.
			data.Players[name] = PlayerStats{DeathCount: p}
			migrated = true
		case map[string]interface{}:
			if v, ok := p["death_count"]; ok {
				data.Players[name] = PlayerStats{DeathCount: asInt(v)}
			} else if v, ok := p["deaths"]; ok {
				data.Players[name] = PlayerStats{DeathCount: asInt(v)}
				migrated = true
			} else {
				data.Players[name] = PlayerStats{}
				migrated = true
			}
		default:
			data.Players[name] = PlayerStats{}
			migrated = true
		}
	}

	return data, migrated, nil
}

func asInt(v interface{}) int {
	n, _ := v.(int)
	return n
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	str, _ := v.(string)
	return str
}

func (s *Store) save() error {
	out, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating stats directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("writing stats file: %w", err)
	}
	return nil
}

// rollStartTime stamps the current challenge start, and the first-ever start
// if it is still missing while challenges exist.
func (s *Store) rollStartTime() {
	now := s.now().UTC().Format(time.RFC3339)
	s.data.CurrentChallengeStartAt = now
	if s.data.FirstChallengeStartAt == "" && s.data.ChallengeCount > 0 {
		s.data.FirstChallengeStartAt = now
	}
}

// IncrementDeath records one death: the player's counter and the global
// challenge counter go up by one, and the challenge start time rolls forward
// to now. One durable write covers the whole mutation.
func (s *Store) IncrementDeath(player string) (Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Players == nil {
		s.data.Players = map[string]PlayerStats{}
	}
	p := s.data.Players[player]
	p.DeathCount++
	s.data.Players[player] = p
	s.data.ChallengeCount++
	s.rollStartTime()

	if err := s.save(); err != nil {
		return Data{}, err
	}
	return s.snapshotLocked(), nil
}

// MarkChallengeStart stamps a fresh challenge start time, used when a new
// server process comes up or a world reset completes.
func (s *Store) MarkChallengeStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollStartTime()
	return s.save()
}

// Reset zeroes the counters and clears both start timestamps. The next
// server start begins a new challenge cycle.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = s.freshData()
	return s.save()
}

// Snapshot returns a copy of the aggregate.
func (s *Store) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Data {
	out := s.data
	out.Players = make(map[string]PlayerStats, len(s.data.Players))
	for k, v := range s.data.Players {
		out.Players[k] = v
	}
	return out
}

// PlayerDeathCount returns the recorded deaths for one player.
func (s *Store) PlayerDeathCount(player string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Players[player].DeathCount
}

// ChallengeCount returns the global attempt counter.
func (s *Store) ChallengeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ChallengeCount
}

// CurrentStart returns the current challenge start marker ("" if unset).
func (s *Store) CurrentStart() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.CurrentChallengeStartAt
}

// Elapsed renders the time since the current challenge started.
func (s *Store) Elapsed() string {
	return s.ElapsedSince(s.CurrentStart())
}

// ElapsedSince renders the time since the given RFC 3339 start marker.
func (s *Store) ElapsedSince(startAt string) string {
	if startAt == "" || startAt == startTimeUnknown {
		return "no record"
	}
	start, err := time.Parse(time.RFC3339, startAt)
	if err != nil {
		return "time parse error"
	}
	return FormatDuration(s.now().Sub(start))
}

// TotalElapsed renders the cumulative time since the first recorded
// challenge. Very short totals render as a distinct "just started" phrase;
// this special case deliberately applies only to the cumulative figure.
func (s *Store) TotalElapsed() string {
	s.mu.Lock()
	count := s.data.ChallengeCount
	first := s.data.FirstChallengeStartAt
	s.mu.Unlock()

	if count == 0 {
		return "no record"
	}
	if first == "" || first == startTimeUnknown {
		return "not measurable"
	}
	start, err := time.Parse(time.RFC3339, first)
	if err != nil {
		return "time parse error"
	}
	elapsed := s.now().Sub(start)
	if elapsed >= 0 && elapsed < 5*time.Second {
		return "just started"
	}
	return FormatDuration(elapsed)
}
