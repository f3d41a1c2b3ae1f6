package board_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewline/internal/board"
)

func review(vote string) board.Review {
	return board.Review{DirectorID: "d", Vote: vote}
}

func TestResolveTable(t *testing.T) {
	cases := []struct {
		v1, v2   string
		decision string
		escalate bool
	}{
		{board.VoteVeto, board.VoteVeto, board.DecisionBlocked, true},
		{board.VoteVeto, board.VoteApprove, board.DecisionEscalated, true},
		{board.VoteApprove, board.VoteVeto, board.DecisionEscalated, true},
		{board.VoteVeto, board.VoteAbstain, board.DecisionBlocked, true},
		{board.VoteAbstain, board.VoteVeto, board.DecisionBlocked, true},
		{board.VoteAbstain, board.VoteAbstain, board.DecisionEscalated, true},
		{board.VoteApprove, board.VoteApprove, board.DecisionApproved, false},
		{board.VoteApprove, board.VoteAbstain, board.DecisionApproved, false},
		{board.VoteAbstain, board.VoteApprove, board.DecisionApproved, false},
	}
	for _, tc := range cases {
		res := board.Resolve(review(tc.v1), review(tc.v2))
		assert.Equal(t, tc.decision, res.Decision, "%s + %s", tc.v1, tc.v2)
		assert.Equal(t, tc.escalate, res.RequiresHumanEscalation, "%s + %s", tc.v1, tc.v2)
	}
}

func TestCleanRequestApproved(t *testing.T) {
	b := board.Default()
	res := b.Review(board.Request{
		Kind:    "merge",
		Summary: "merge fix for flaky retry backoff",
		Scope:   []string{"internal/retry/backoff.go"},
	})
	assert.Equal(t, board.DecisionApproved, res.Decision)
	assert.False(t, res.RequiresHumanEscalation)
	require.Len(t, res.Reviews, 2)
	for _, r := range res.Reviews {
		assert.Equal(t, board.VoteApprove, r.Vote)
		assert.InDelta(t, 1.0, r.Confidence, 0.001)
	}
}

func TestSensitiveScopeEscalated(t *testing.T) {
	b := board.Default()
	res := b.Review(board.Request{
		Kind:    "merge",
		Summary: "rotate deployment settings",
		Scope:   []string{"config/secrets/prod.yaml"},
	})
	// safety vetoes on the critical sensitive-path concern while delivery
	// approves, so the split goes to a human
	assert.Equal(t, board.DecisionEscalated, res.Decision)
	assert.True(t, res.RequiresHumanEscalation)
	safety := res.Reviews[0]
	assert.Equal(t, board.VoteVeto, safety.Vote)
	require.NotEmpty(t, safety.Concerns)
	assert.Equal(t, "sensitive_path", safety.Concerns[0].Type)
	assert.Equal(t, board.SeverityCritical, safety.Concerns[0].Severity)
}

func TestOverrideWithoutJustification(t *testing.T) {
	b := board.Default()
	r := b.ReviewAs(b.Delivery, board.Request{Kind: "override", Summary: "skip review gate"})
	// high concern is below the delivery director's critical veto threshold,
	// but above medium, so it abstains rather than approves
	assert.Equal(t, board.VoteAbstain, r.Vote)
	require.Len(t, r.Concerns, 1)
	assert.Equal(t, "missing_justification", r.Concerns[0].Type)
}

func TestUnboundedScopeVetoedBySafety(t *testing.T) {
	b := board.Default()
	r := b.ReviewAs(b.Safety, board.Request{Kind: "merge", Summary: "touch everything", Scope: []string{"**"}})
	assert.Equal(t, board.VoteVeto, r.Vote)
}

func TestCostThreshold(t *testing.T) {
	b := board.Default()
	r := b.ReviewAs(b.Delivery, board.Request{Kind: "run", Summary: "bulk refactor pass", CostUSD: 250})
	require.Len(t, r.Concerns, 1)
	assert.Equal(t, "cost_threshold", r.Concerns[0].Type)
	assert.Equal(t, board.VoteAbstain, r.Vote)
}

func TestAbsoluteLanguageLowersConfidence(t *testing.T) {
	b := board.Default()
	r := b.ReviewAs(b.Delivery, board.Request{Kind: "merge", Summary: "this change never fails"})
	require.Len(t, r.Concerns, 1)
	assert.Equal(t, "absolute_language", r.Concerns[0].Type)
	assert.InDelta(t, 0.85, r.Confidence, 0.001)
}

func TestConfidenceFloor(t *testing.T) {
	b := board.Default()
	r := b.ReviewAs(b.Safety, board.Request{
		Kind:    "override",
		Summary: "rewrite credential handling, guaranteed safe",
		Scope:   []string{"vault/secrets/a.pem", "vault/secrets/b.pem", "vault/secrets/c.pem", "etc/credentials/app.key"},
	})
	assert.GreaterOrEqual(t, r.Confidence, 0.5)
	assert.Equal(t, board.VoteVeto, r.Vote)
}
