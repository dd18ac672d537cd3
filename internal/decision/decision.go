package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"oraclebridge/internal/llm"
	"oraclebridge/internal/logging"
	"oraclebridge/internal/search"
	"oraclebridge/internal/tasks"
)

// ErrEngine wraps transport and API failures of the decision engine. The
// task is deferred to the next poll.
var ErrEngine = errors.New("decision engine failure")

type Decision bool

const (
	Yes Decision = true
	No  Decision = false
)

func (d Decision) String() string {
	if d {
		return "YES"
	}
	return "NO"
}

// MockResponse is what the engine answers with when no client is configured.
const MockResponse = "YES, mock decision: no decision-engine credential configured."

const systemPrompt = "You are evaluating a prediction market question. Answer strictly with YES or NO first."

func userPrompt(question string) string {
	return "Your task is to respond with either YES or NO, followed by a brief explanation of your reasoning.\n\n" +
		"Question: " + question + "\n\n" +
		"Response format: Start with YES or NO (capitalized), followed by your explanation."
}

type Engine struct {
	client   llm.Client
	searcher search.Searcher
	log      *zap.Logger
}

type Option func(*Engine)

// WithSearch folds web results for the task text into the prompt. A failed
// search falls back to the plain prompt.
func WithSearch(s search.Searcher) Option {
	return func(e *Engine) { e.searcher = s }
}

// NewEngine wraps client. A nil client puts the engine in mock mode, which
// answers YES to everything and says so on every call.
func NewEngine(client llm.Client, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{client: client, log: logging.OrNop(log)}
	for _, opt := range opts {
		opt(e)
	}
	if client == nil {
		e.log.Warn("decision engine in MOCK mode: every eligible task will be answered YES")
	}
	return e
}

func (e *Engine) Mock() bool { return e.client == nil }

// Decide asks the engine about task and extracts the decision. Output that
// does not start with YES or NO yields No.
func (e *Engine) Decide(ctx context.Context, task tasks.Task) (Decision, string, error) {
	var raw string
	if e.client == nil {
		e.log.Warn("MOCK decision", zap.Uint32("task", task.Index), zap.String("reason", "no_credential"))
		raw = MockResponse
	} else {
		text, err := e.client.Generate(ctx, e.Prompt(ctx, task))
		if err != nil {
			return No, "", fmt.Errorf("%w: %s/%s: %v", ErrEngine, e.client.Provider(), e.client.Model(), err)
		}
		raw = text
	}
	d, ok := Parse(raw)
	if !ok {
		e.log.Warn("decision output has no YES/NO prefix, defaulting to NO",
			zap.Uint32("task", task.Index),
			zap.String("reason", "unclear_output"),
			zap.String("output", truncate(raw, 200)))
	}
	return d, raw, nil
}

// Prompt builds the decision prompt for task, with search results when a
// searcher is configured.
func (e *Engine) Prompt(ctx context.Context, task tasks.Task) llm.Prompt {
	p := llm.Prompt{System: systemPrompt, User: userPrompt(task.Name)}
	if e.searcher == nil {
		return p
	}
	results, err := e.searcher.Search(ctx, task.Name)
	if err != nil {
		e.log.Warn("web search failed, deciding without it",
			zap.Uint32("task", task.Index), zap.String("reason", "search_failed"), zap.Error(err))
		return p
	}
	if len(results) == 0 {
		return p
	}
	p.System = systemPrompt + " Use the provided web search results when relevant."
	p.User = search.Preamble(results) + p.User
	return p
}

// Parse reads the leading token of text. ok is false when the token is
// neither YES nor NO.
func Parse(text string) (d Decision, ok bool) {
	trimmed := strings.TrimLeftFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	end := strings.IndexFunc(trimmed, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(trimmed)
	}
	switch strings.ToUpper(trimmed[:end]) {
	case "YES":
		return Yes, true
	case "NO":
		return No, true
	default:
		return No, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
