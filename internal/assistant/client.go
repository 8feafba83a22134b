// Package assistant talks to an OpenAI-compatible chat completion API and
// turns editor events into short commentary.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/hooks"
)

const (
	historyWindow    = 10
	promptCodeLimit  = 200
	contextCodeLimit = 500
	recentErrorLimit = 3
)

var ErrEmptyResponse = errors.New("assistant returned no content")

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	MaxRetries  int
}

// Client implements hooks.Assistant.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

var _ hooks.Assistant = (*Client)(nil)

func New(opts Options) *Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 300
	}
	return &Client{
		client:      openai.NewClient(reqOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
}

// GenerateResponse answers a free-form prompt with the session context.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, aiCtx hooks.AIContext) (string, error) {
	return c.complete(ctx, buildMessages(prompt, aiCtx), c.temperature)
}

// ReactToEvent comments on a run, error or save.
func (c *Client) ReactToEvent(ctx context.Context, event hooks.Event, aiCtx hooks.AIContext) (string, error) {
	// Reactions run slightly warmer than answers.
	temp := min(c.temperature+0.1, 2)
	return c.complete(ctx, buildMessages(eventPrompt(event, aiCtx), aiCtx), temp)
}

func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    msgs,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}

	log.Debug().
		Str("model", c.model).
		Int64("total_tokens", completion.Usage.TotalTokens).
		Dur("latency", time.Since(start)).
		Msg("assistant response")
	return content, nil
}

const systemPrompt = `You are a concise coding companion watching a user work in an online code sandbox.
Give accurate, practical feedback in one to three sentences. Be friendly and a little playful,
but never at the expense of technical correctness. Prefer concrete suggestions over generic praise.`

func buildMessages(prompt string, aiCtx hooks.AIContext) []openai.ChatCompletionMessageParamUnion {
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt)}

	history := aiCtx.ChatHistory
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		if m.Role == "user" {
			msgs = append(msgs, openai.UserMessage(m.Content))
		} else {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		}
	}

	if info := contextInfo(aiCtx); info != "" {
		msgs = append(msgs, openai.SystemMessage(info))
	}
	return append(msgs, openai.UserMessage(prompt))
}

func contextInfo(aiCtx hooks.AIContext) string {
	var parts []string
	if aiCtx.Code != "" {
		parts = append(parts, fmt.Sprintf("Current code (%s):\n```%s\n%s\n```",
			aiCtx.Language, aiCtx.Language, clip(aiCtx.Code, contextCodeLimit)))
	}
	if n := len(aiCtx.RecentErrors); n > 0 {
		errs := aiCtx.RecentErrors[max(0, n-recentErrorLimit):]
		parts = append(parts, "Recent errors:\n"+strings.Join(errs, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func eventPrompt(event hooks.Event, aiCtx hooks.AIContext) string {
	code, _ := event.Data["code"].(string)
	language, _ := event.Data["language"].(string)
	if language == "" {
		language = aiCtx.Language
	}

	switch event.Type {
	case hooks.OnRun:
		return fmt.Sprintf("The user just ran their %s code. React briefly: encourage them or point out one thing worth improving.\nCode: %s",
			language, clip(code, promptCodeLimit))
	case hooks.OnError:
		errText, _ := event.Data["error"].(string)
		if errText == "" {
			errText = "Unknown error"
		}
		return fmt.Sprintf("The user's %s code failed with: %s\nExplain the likely cause and how to fix it.\nCode: %s",
			language, errText, clip(code, promptCodeLimit))
	case hooks.OnSave:
		return fmt.Sprintf("The user saved their %s code. Comment on its quality or suggest one improvement.\nCode: %s",
			language, clip(code, promptCodeLimit))
	}
	return "React to this coding event."
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var fallbacks = map[hooks.EventType]string{
	hooks.OnRun:   "Your code is running. Let's see what it does.",
	hooks.OnError: "Something went wrong. Check the error output above for the line that failed.",
	hooks.OnSave:  "Saved. Nice work keeping things tidy.",
}

// Fallback is a canned reply for when the API is unavailable.
func Fallback(t hooks.EventType) string {
	if s, ok := fallbacks[t]; ok {
		return s
	}
	return "The assistant is temporarily unavailable."
}
