package monitor

import (
	"regexp"
	"strings"

	"github.com/mcwarden/warden/internal/domain"
)

// Death verb phrases from Minecraft Java Edition death messages. A console
// line is a death line when one of these follows a player name after the
// log preamble.
var deathVerbs = []string{
	`died`,
	`was killed`,

	// attacks by players and mobs
	`was slain by`,
	`was fireballed by`,
	`was shot by`,
	`was pummeled by`,
	`was killed by .+ using`,
	`was killed while trying to hurt`,
	`was impaled by`,
	`was destroyed by`,
	`was shot by a skull from`,

	// environment
	`burned to death`,
	`went up in flames`,
	`drowned`,
	`experienced kinetic energy`,
	`blew up`,
	`was blown up by`,
	`was killed by \[Intentional Game Design\]`,
	`hit the ground too hard`,
	`fell from a high place`,
	`fell off`,
	`fell while climbing`,
	`was doomed to fall`,
	`was impaled on a stalagmite`,
	`tried to swim in lava`,
	`was struck by lightning`,
	`discovered the floor was lava`,
	`walked into the danger zone`,
	`froze to death`,
	`was frozen to death by`,
	`starved to death`,
	`suffocated in a wall`,
	`was squished too much`,
	`was squashed by`,
	`left the confines of this world`,
	`fell out of the world`,
	`didn't want to live in the same world as`,
	`withered away`,

	// oddities
	`was pricked to death`,
	`walked into a cactus`,
	`went off with a bang`,
	`was squashed by a falling anvil`,
	`was squashed by a falling block`,
	`was skewered by a falling stalactite`,
	`was poked to death by a sweet berry bush`,
	`died from dehydration`,
	`was stung to death`,
	`was obliterated by a sonically-charged shriek`,
	`didn't want to live as`,
}

// deathLine matches "[HH:MM:SS] <preamble>: PlayerName <verb phrase>".
// Player names cannot contain angle or square brackets, which keeps chat
// lines ("<name> message") from matching.
var deathLine = regexp.MustCompile(
	`\[(\d+:\d+:\d+)\]` + `.*?: ` + `([^<>\[\]]+)` + ` (` + strings.Join(deathVerbs, "|") + `)`,
)

// rconReady matches the one-shot line the server prints when its RCON
// listener starts accepting connections.
var rconReady = regexp.MustCompile(`RCON running on .+:\d+`)

// Classify reports whether line is a player death message. Pure and
// stateless; safe for concurrent use. Non-death INFO lines are rejected on
// the verb table, not the log level.
func Classify(line string) (domain.DeathEvent, bool) {
	m := deathLine.FindStringSubmatch(line)
	if m == nil {
		return domain.DeathEvent{}, false
	}
	return domain.NewDeathEvent(strings.TrimSpace(m[2]), line, m[1]), true
}

// MatchReady reports whether line announces the RCON listener.
func MatchReady(line string) bool {
	return rconReady.MatchString(line)
}
