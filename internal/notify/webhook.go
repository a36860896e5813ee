// Package notify delivers rich messages to the configured chat-platform
// webhooks: a public notice channel, an admin channel for workflow
// narration, and an operator endpoint used as the direct-message fallback
// when the channels are unreachable.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrNoEndpoint is returned when the requested webhook is not configured.
var ErrNoEndpoint = errors.New("notify: endpoint not configured")

// Severity levels for admin narration.
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelSuccess  = "success"
	LevelCritical = "critical"
)

var levelBadge = map[string]struct {
	emoji string
	color int
}{
	LevelInfo:     {"ℹ️", 0x3498db},
	LevelWarning:  {"⚠️", 0xe67e22},
	LevelError:    {"❌", 0xe74c3c},
	LevelSuccess:  {"✅", 0x2ecc71},
	LevelCritical: {"\U0001f525", 0x992d22},
}

// DeathNotice is the payload of the public death notification.
type DeathNotice struct {
	Player        string
	Summary       string
	Description   string
	DeathCount    int
	ChallengeNo   int
	ChallengeTime string
	TotalTime     string
}

// Embed mirrors the webhook embed object.
type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Author      *embedAuthor `json:"author,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

// Router sends to the three configured endpoints. Unconfigured endpoints
// report ErrNoEndpoint so callers can fall through.
type Router struct {
	notice   string
	admin    string
	operator string
	client   *http.Client
}

// NewRouter creates a router over the given webhook URLs; any may be empty.
func NewRouter(noticeURL, adminURL, operatorURL string) *Router {
	return &Router{
		notice:   noticeURL,
		admin:    adminURL,
		operator: operatorURL,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// HasNotice reports whether the public notice endpoint is configured.
func (r *Router) HasNotice() bool { return r.notice != "" }

// HasAdmin reports whether the admin endpoint is configured.
func (r *Router) HasAdmin() bool { return r.admin != "" }

// NotifyDeath sends the rich death notification to the notice channel.
func (r *Router) NotifyDeath(ctx context.Context, n DeathNotice) error {
	if r.notice == "" {
		return ErrNoEndpoint
	}
	e := embed{
		Title:       fmt.Sprintf("%s has died!", n.Player),
		Description: fmt.Sprintf("Cause: `%s`\n\n%s", n.Summary, n.Description),
		Color:       levelBadge[LevelError].color,
		Author: &embedAuthor{
			Name:    n.Player,
			IconURL: fmt.Sprintf("https://minotar.net/avatar/%s/64.png", n.Player),
		},
		Fields: []embedField{
			{Name: "Total deaths", Value: fmt.Sprintf("%d", n.DeathCount), Inline: true},
			{Name: "Attempt", Value: fmt.Sprintf("#%d", n.ChallengeNo), Inline: true},
			{Name: "This challenge", Value: n.ChallengeTime, Inline: true},
			{Name: "All challenges", Value: n.TotalTime, Inline: true},
		},
		Footer:    &embedFooter{Text: "A new challenge begins..."},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	return r.post(ctx, r.notice, webhookPayload{Embeds: []embed{e}})
}

// AdminLog narrates a workflow step to the admin channel and the local log.
func (r *Router) AdminLog(ctx context.Context, level, message string) error {
	badge, ok := levelBadge[level]
	if !ok {
		badge = levelBadge[LevelInfo]
	}
	log.Printf("[notify] %s: %s", level, message)
	if r.admin == "" {
		return ErrNoEndpoint
	}
	e := embed{
		Description: fmt.Sprintf("%s %s", badge.emoji, message),
		Color:       badge.color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	return r.post(ctx, r.admin, webhookPayload{Embeds: []embed{e}})
}

// OperatorDM sends a plain message to the operator endpoint. This is the
// last-resort path; its own failure is only logged by callers.
func (r *Router) OperatorDM(ctx context.Context, message string) error {
	if r.operator == "" {
		return ErrNoEndpoint
	}
	return r.post(ctx, r.operator, webhookPayload{Content: message})
}

func (r *Router) post(ctx context.Context, url string, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, detail)
	}
	return nil
}
