// Package analyzer turns a raw death message into a short cause summary and
// a narrated description using an OpenAI-compatible chat endpoint. The
// service is strictly best-effort: callers fall back to Fallback on any
// error.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Analysis is the cause description pair shown in the death notification.
type Analysis struct {
	Summary     string
	Description string
}

// Analyzer calls the configured chat-completion endpoint.
type Analyzer struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// New creates an analyzer. An empty baseURL yields a disabled analyzer whose
// Analyze always errors, pushing callers onto the fallback path.
func New(baseURL, apiKey, model string, timeout time.Duration) *Analyzer {
	return &Analyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Fallback builds the generic description used whenever analysis is
// unavailable or fails.
func Fallback(rawMessage, note string) Analysis {
	desc := fmt.Sprintf("Cause of death: `%s`", rawMessage)
	if note != "" {
		desc += "\n\n_(" + note + ")_"
	}
	return Analysis{Summary: "death", Description: desc}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Analyze asks the model for a summary and description of the death. Every
// failure kind comes back as an error; callers degrade to Fallback.
func (a *Analyzer) Analyze(ctx context.Context, rawMessage string) (Analysis, error) {
	if a.baseURL == "" || a.model == "" {
		return Analysis{}, fmt.Errorf("analyzer not configured")
	}

	prompt := fmt.Sprintf(
		"A Minecraft hardcore player just died. The server log death message is %q.\n"+
			"Reply in exactly this format:\n"+
			"Summary: <cause in at most six words>\n"+
			"Description: <one or two sentences describing what happened, concise and a little wry>",
		rawMessage)

	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a dry-witted narrator of Minecraft events."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   200,
		Temperature: 0.7,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("encoding analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Analysis{}, fmt.Errorf("building analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Analysis{}, fmt.Errorf("calling analysis endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Analysis{}, fmt.Errorf("analysis endpoint returned %s", resp.Status)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Analysis{}, fmt.Errorf("decoding analysis response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Analysis{}, fmt.Errorf("analysis endpoint returned no choices")
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return Analysis{}, fmt.Errorf("analysis endpoint returned empty content")
	}

	result := parseReply(text, rawMessage)
	log.Printf("[analyzer] generated death analysis (%d chars)", len(text))
	return result, nil
}

// parseReply pulls the two labeled lines out of the model reply, tolerating
// models that ignore the format by using the whole reply as description.
func parseReply(text, rawMessage string) Analysis {
	result := Fallback(rawMessage, "")
	result.Description = text

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Summary:"); ok {
			if s := strings.TrimSpace(rest); s != "" {
				result.Summary = s
			}
		} else if rest, ok := strings.CutPrefix(line, "Description:"); ok {
			if s := strings.TrimSpace(rest); s != "" {
				result.Description = s
			}
		}
	}
	return result
}
