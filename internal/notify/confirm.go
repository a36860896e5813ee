package notify

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Confirmation outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeDeclined = "declined"
	OutcomeExpired  = "expired"
)

// ErrUnknownConfirmation is returned when resolving a token that does not
// exist or was already resolved.
var ErrUnknownConfirmation = errors.New("notify: unknown or resolved confirmation")

type pending struct {
	prompt string
	timer  *time.Timer
	onDone func(outcome string)
}

// Confirmations is the time-boxed accept/decline broker. A prompt is posted
// to the admin channel with its token; the admin API (or CLI) resolves the
// token, and expiry counts as a decline.
type Confirmations struct {
	mu      sync.Mutex
	pending map[string]*pending
}

// NewConfirmations creates an empty broker.
func NewConfirmations() *Confirmations {
	return &Confirmations{pending: make(map[string]*pending)}
}

// Request registers a pending confirmation and returns its token. onDone is
// invoked exactly once, from whichever of Resolve or the expiry timer wins.
func (c *Confirmations) Request(prompt string, timeout time.Duration, onDone func(outcome string)) string {
	token := uuid.NewString()
	p := &pending{prompt: prompt, onDone: onDone}
	p.timer = time.AfterFunc(timeout, func() {
		if c.take(token) != nil {
			log.Printf("[notify] confirmation %s expired: %s", token, prompt)
			onDone(OutcomeExpired)
		}
	})

	c.mu.Lock()
	c.pending[token] = p
	c.mu.Unlock()
	log.Printf("[notify] confirmation %s pending (%v): %s", token, timeout, prompt)
	return token
}

// Resolve settles a pending confirmation.
func (c *Confirmations) Resolve(token string, accept bool) error {
	p := c.take(token)
	if p == nil {
		return ErrUnknownConfirmation
	}
	p.timer.Stop()
	outcome := OutcomeDeclined
	if accept {
		outcome = OutcomeAccepted
	}
	log.Printf("[notify] confirmation %s %s: %s", token, outcome, p.prompt)
	p.onDone(outcome)
	return nil
}

// Pending lists open confirmations as token -> prompt.
func (c *Confirmations) Pending() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.pending))
	for token, p := range c.pending {
		out[token] = p.prompt
	}
	return out
}

// take removes and returns the pending entry, or nil if already settled.
func (c *Confirmations) take(token string) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending[token]
	delete(c.pending, token)
	return p
}
