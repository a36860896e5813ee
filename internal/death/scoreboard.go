package death

import (
	"fmt"
	"log"
)

// Commander is the slice of the rcon client the in-world actions need.
type Commander interface {
	Command(cmd string) (string, error)
}

const deathsObjective = "deaths"

// Scoreboard mirrors persisted death counts onto the in-game sidebar.
type Scoreboard struct {
	rcon Commander
}

// NewScoreboard creates a scoreboard pusher over the given rcon session.
func NewScoreboard(rcon Commander) *Scoreboard {
	return &Scoreboard{rcon: rcon}
}

// Init creates the objectives and display slots. The server rejects
// re-creation of an existing objective, which is fine; the error is logged
// and ignored so Init is safe to call on every server start.
func (s *Scoreboard) Init(counts map[string]int) {
	cmds := []string{
		fmt.Sprintf(`scoreboard objectives add %s dummy {"text":"Deaths","color":"red"}`, deathsObjective),
		fmt.Sprintf("scoreboard objectives setdisplay sidebar %s", deathsObjective),
		"scoreboard objectives add health health",
		"scoreboard objectives setdisplay list health",
	}
	for _, cmd := range cmds {
		if _, err := s.rcon.Command(cmd); err != nil {
			log.Printf("[scoreboard] %q failed: %v", cmd, err)
		}
	}
	for player, n := range counts {
		s.Push(player, n)
	}
	log.Printf("[scoreboard] initialized with %d player entries", len(counts))
}

// Push sets one player's death count on the sidebar.
func (s *Scoreboard) Push(player string, count int) {
	cmd := fmt.Sprintf("scoreboard players set %s %s %d", player, deathsObjective, count)
	if _, err := s.rcon.Command(cmd); err != nil {
		log.Printf("[scoreboard] failed to push count for %s: %v", player, err)
	}
}
