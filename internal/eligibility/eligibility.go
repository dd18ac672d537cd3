package eligibility

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/config"
	"oraclebridge/internal/logging"
	"oraclebridge/internal/tasks"
)

// Verdict is a filter decision. A negative verdict is terminal for the task;
// Reason goes into the skip log line and the outcome metric.
type Verdict struct {
	Eligible bool
	Reason   string
}

func eligible() Verdict { return Verdict{Eligible: true, Reason: "eligible"} }

func skip(reason string) Verdict { return Verdict{Reason: reason} }

// Filter decides whether a task should be answered. Check is read-only and
// returns an error only when the answer could not be determined, in which
// case the task is retried on the next poll.
type Filter interface {
	Check(ctx context.Context, task tasks.Task) (Verdict, error)
	Name() string
}

// Phrases matched case-insensitively by the keyword policy.
var Phrases = []string{
	"prediction market",
	"market question",
	"please respond with yes or no",
}

type KeywordPolicy struct {
	phrases []string
}

func NewKeywordPolicy(phrases ...string) *KeywordPolicy {
	if len(phrases) == 0 {
		phrases = Phrases
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &KeywordPolicy{phrases: lowered}
}

func (p *KeywordPolicy) Name() string { return config.PolicyKeyword }

func (p *KeywordPolicy) Check(_ context.Context, task tasks.Task) (Verdict, error) {
	if Matches(task.Name, p.phrases) {
		return eligible(), nil
	}
	return skip("no_keyword"), nil
}

// Matches reports whether text contains any of phrases, ignoring case.
// phrases are expected lowercase.
func Matches(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// MarketPolicy only admits tasks whose linked market is InResolution.
type MarketPolicy struct {
	markets chain.Markets
	log     *zap.Logger
}

func NewMarketPolicy(markets chain.Markets, log *zap.Logger) *MarketPolicy {
	return &MarketPolicy{markets: markets, log: logging.OrNop(log)}
}

func (p *MarketPolicy) Name() string { return config.PolicyMarket }

func (p *MarketPolicy) Check(ctx context.Context, task tasks.Task) (Verdict, error) {
	if p.markets == nil {
		return skip("no_market_contract"), nil
	}
	id, err := p.markets.MarketIDForTask(ctx, task.Index)
	if err != nil {
		if chain.IsRevert(err) {
			return skip("no_market"), nil
		}
		return Verdict{}, fmt.Errorf("market id for task %d: %w", task.Index, err)
	}
	if id == nil || id.Sign() == 0 {
		return skip("no_market"), nil
	}
	state, err := p.markets.MarketState(ctx, id)
	if err != nil {
		return Verdict{}, fmt.Errorf("state of market %s: %w", id, err)
	}
	if state != chain.MarketInResolution {
		p.log.Debug("market not in resolution",
			zap.Uint32("task", task.Index),
			zap.String("market", id.String()),
			zap.Stringer("state", state))
		return skip("market_not_in_resolution"), nil
	}
	return eligible(), nil
}

// New picks the policy named by cfg. markets may be nil when no market
// contract is configured; the market policy then rejects every task.
func New(policy string, markets chain.Markets, log *zap.Logger) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", config.PolicyKeyword:
		return NewKeywordPolicy(), nil
	case config.PolicyMarket:
		return NewMarketPolicy(markets, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown eligibility policy %q", config.ErrFatalStartup, policy)
	}
}
