package engine

import (
	"context"

	"crewline/internal/board"
	"crewline/internal/events"
	"crewline/internal/policy"
)

// EvaluatePolicy runs a proposed action through the configured rules and
// records the verdict in the audit log.
func (e Engine) EvaluatePolicy(ctx context.Context, actor, action string, scope []string, extra map[string]any) policy.Result {
	in := policy.Input{
		Actor:   actor,
		Action:  action,
		Scope:   scope,
		Context: extra,
		Now:     e.now().UTC(),
	}
	res := policy.Evaluate(in, e.Config.Rules())
	e.record(ctx, "policy.evaluated", "policy", "", actor, events.EventPayload{
		"action":   action,
		"decision": res.Decision,
		"matched":  res.MatchedRules,
	})
	return res
}

// BoardReview submits a high-impact request to the two-director review
// board and records the outcome.
func (e Engine) BoardReview(ctx context.Context, actor string, req board.Request) board.Result {
	res := e.Config.ReviewBoard().Review(req)
	e.record(ctx, "board.reviewed", "board", "", actor, events.EventPayload{
		"kind":     req.Kind,
		"decision": res.Decision,
	})
	return res
}
