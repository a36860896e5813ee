package death

import (
	"fmt"
	"log"
	"strings"

	"github.com/mcwarden/warden/internal/config"
)

// Actions triggers the in-game reactions to a death over rcon.
type Actions struct {
	rcon Commander
	cfg  config.EffectsConfig
}

// NewActions creates the action runner for the configured effects.
func NewActions(rcon Commander, cfg config.EffectsConfig) *Actions {
	return &Actions{rcon: rcon, cfg: cfg}
}

// ShowDeathTitle flashes the death announcement on every player's screen.
func (a *Actions) ShowDeathTitle(player string) error {
	if !a.cfg.Title.Enabled {
		return nil
	}
	t := a.cfg.Title
	if _, err := a.rcon.Command(fmt.Sprintf("title @a times %d %d %d", t.FadeIn, t.Stay, t.FadeOut)); err != nil {
		return fmt.Errorf("setting title timing: %w", err)
	}
	payload := fmt.Sprintf(`{"text":"%s has died!","color":"red","bold":true}`, player)
	if _, err := a.rcon.Command("title @a title " + payload); err != nil {
		return fmt.Errorf("showing title: %w", err)
	}
	subtitle := `{"text":"The challenge is over...","color":"gray"}`
	if _, err := a.rcon.Command("title @a subtitle " + subtitle); err != nil {
		return fmt.Errorf("showing subtitle: %w", err)
	}
	return nil
}

// PlayDeathSound plays the configured cue for every player.
func (a *Actions) PlayDeathSound() error {
	if !a.cfg.Sound.Enabled {
		return nil
	}
	s := a.cfg.Sound
	cmd := fmt.Sprintf("execute as @a at @s run playsound %s master @s ~ ~ ~ %g %g",
		s.SoundID, s.Volume, s.Pitch)
	if _, err := a.rcon.Command(cmd); err != nil {
		return fmt.Errorf("playing death sound: %w", err)
	}
	return nil
}

// IgniteSurvivors summons primed TNT at every online player except the one
// who died. Failure to fetch the player list aborts only this effect.
func (a *Actions) IgniteSurvivors(deadPlayer string) error {
	if !a.cfg.Explosion.Enabled {
		return nil
	}
	players, err := a.onlinePlayers()
	if err != nil {
		return fmt.Errorf("fetching online players: %w", err)
	}
	fuse := a.cfg.Explosion.Delay * 20 // seconds to ticks
	for _, p := range players {
		if p == deadPlayer {
			continue
		}
		cmd := fmt.Sprintf("execute at %s run summon minecraft:tnt ~ ~ ~ {Fuse:%d}", p, fuse)
		if _, err := a.rcon.Command(cmd); err != nil {
			log.Printf("[death] failed to ignite %s: %v", p, err)
		}
	}
	return nil
}

// onlinePlayers parses the response of the list command, e.g.
// "There are 3 of a max of 20 players online: Alice, Bob, Carol".
func (a *Actions) onlinePlayers() ([]string, error) {
	resp, err := a.rcon.Command("list")
	if err != nil {
		return nil, err
	}
	_, names, found := strings.Cut(resp, ":")
	if !found {
		return nil, fmt.Errorf("unexpected list response: %q", resp)
	}
	var players []string
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name != "" {
			players = append(players, name)
		}
	}
	return players, nil
}
