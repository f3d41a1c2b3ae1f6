// Package board runs high-risk decisions past two independent director
// profiles and resolves their votes into a final verdict.
package board

import (
	"fmt"
	"strings"

	"crewline/internal/scope"
)

// Votes.
const (
	VoteApprove = "approve"
	VoteVeto    = "veto"
	VoteAbstain = "abstain"
)

// Board decisions.
const (
	DecisionApproved  = "approved"
	DecisionBlocked   = "blocked"
	DecisionEscalated = "escalated"
)

// Concern severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SeverityRank maps a severity to its rank (low=1 .. critical=4).
func SeverityRank(s string) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Focus areas a profile may carry. Each concern detector is gated by one.
const (
	FocusSecurity = "security"
	FocusScope    = "scope"
	FocusProcess  = "process"
	FocusQuality  = "quality"
	FocusCost     = "cost"
)

// Profile is one fixed reviewer identity. A profile vetoes when any
// detected concern's severity rank reaches its veto threshold rank.
type Profile struct {
	ID            string   `json:"id" yaml:"id"`
	FocusAreas    []string `json:"focus_areas" yaml:"focus_areas"`
	VetoThreshold string   `json:"veto_threshold" yaml:"veto_threshold"`
}

// Request is the decision put before the board.
type Request struct {
	Kind          string   `json:"kind"`
	Summary       string   `json:"summary"`
	Justification string   `json:"justification,omitempty"`
	Scope         []string `json:"scope,omitempty"`
	CostUSD       float64  `json:"cost_usd,omitempty"`
}

type Concern struct {
	Type        string `json:"type"`
	Severity    string `json:"severity" enum:"low,medium,high,critical"`
	Description string `json:"description"`
}

// Review is one director's independent verdict.
type Review struct {
	DirectorID string    `json:"director_id"`
	Vote       string    `json:"vote" enum:"approve,veto,abstain"`
	Concerns   []Concern `json:"concerns,omitempty"`
	Confidence float64   `json:"confidence"`
}

// Result aggregates exactly two reviews.
type Result struct {
	Decision                string   `json:"decision" enum:"approved,blocked,escalated"`
	RequiresHumanEscalation bool     `json:"requires_human_escalation"`
	Reasoning               string   `json:"reasoning"`
	Reviews                 []Review `json:"reviews"`
}

// Board holds the two fixed profiles plus detector tuning.
type Board struct {
	Safety         Profile
	Delivery       Profile
	SensitivePaths []string
	CostThreshold  float64
}

// Default returns the stock board: a safety director focused on security
// and scope breadth with a high veto threshold, and a delivery director
// focused on process, quality and cost that only vetoes on critical
// concerns.
func Default() Board {
	return Board{
		Safety: Profile{
			ID:            "director-safety",
			FocusAreas:    []string{FocusSecurity, FocusScope},
			VetoThreshold: SeverityHigh,
		},
		Delivery: Profile{
			ID:            "director-delivery",
			FocusAreas:    []string{FocusProcess, FocusQuality, FocusCost},
			VetoThreshold: SeverityCritical,
		},
		SensitivePaths: []string{"**/.env*", "**/secrets/**", "**/credentials/**", "**/*.pem", "**/*.key"},
		CostThreshold:  100,
	}
}

// Review runs both directors independently and resolves their votes.
func (b Board) Review(req Request) Result {
	r1 := b.ReviewAs(b.Safety, req)
	r2 := b.ReviewAs(b.Delivery, req)
	res := Resolve(r1, r2)
	res.Reviews = []Review{r1, r2}
	return res
}

// ReviewAs runs the concern detectors gated by one profile's focus areas
// and derives its vote.
func (b Board) ReviewAs(p Profile, req Request) Review {
	var concerns []Concern
	for _, area := range p.FocusAreas {
		switch area {
		case FocusSecurity:
			concerns = append(concerns, b.detectSensitive(req)...)
		case FocusScope:
			concerns = append(concerns, detectBreadth(req)...)
		case FocusProcess:
			concerns = append(concerns, detectMissingJustification(req)...)
		case FocusQuality:
			concerns = append(concerns, detectAbsoluteLanguage(req)...)
		case FocusCost:
			concerns = append(concerns, b.detectCost(req)...)
		}
	}
	return Review{
		DirectorID: p.ID,
		Vote:       deriveVote(p, concerns),
		Concerns:   concerns,
		Confidence: confidence(len(concerns)),
	}
}

func deriveVote(p Profile, concerns []Concern) string {
	threshold := SeverityRank(p.VetoThreshold)
	sawMedium := false
	for _, c := range concerns {
		rank := SeverityRank(c.Severity)
		if rank >= threshold {
			return VoteVeto
		}
		if rank >= SeverityRank(SeverityMedium) {
			sawMedium = true
		}
	}
	if sawMedium {
		return VoteAbstain
	}
	return VoteApprove
}

func confidence(concernCount int) float64 {
	c := 1 - 0.15*float64(concernCount)
	if c < 0.5 {
		return 0.5
	}
	return c
}

// Resolve applies the fixed aggregation table. A single veto never yields
// approved; a unanimous veto blocks outright, a mixed veto/approve pair
// escalates, and a double abstention escalates for lack of signal.
func Resolve(r1, r2 Review) Result {
	v1, v2 := r1.Vote, r2.Vote
	switch {
	case v1 == VoteVeto && v2 == VoteVeto:
		return Result{Decision: DecisionBlocked, RequiresHumanEscalation: true,
			Reasoning: "both directors vetoed"}
	case (v1 == VoteVeto && v2 == VoteApprove) || (v1 == VoteApprove && v2 == VoteVeto):
		return Result{Decision: DecisionEscalated, RequiresHumanEscalation: true,
			Reasoning: "directors split veto/approve"}
	case v1 == VoteVeto || v2 == VoteVeto:
		return Result{Decision: DecisionBlocked, RequiresHumanEscalation: true,
			Reasoning: "one director vetoed, the other abstained"}
	case v1 == VoteAbstain && v2 == VoteAbstain:
		return Result{Decision: DecisionEscalated, RequiresHumanEscalation: true,
			Reasoning: "both directors abstained"}
	default:
		return Result{Decision: DecisionApproved, RequiresHumanEscalation: false,
			Reasoning: "no director objected"}
	}
}

var absoluteWords = []string{"always", "never", "guaranteed", "impossible", "everyone", "100%"}

func detectAbsoluteLanguage(req Request) []Concern {
	text := strings.ToLower(req.Summary + " " + req.Justification)
	for _, w := range absoluteWords {
		if strings.Contains(text, w) {
			return []Concern{{
				Type:        "absolute_language",
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("summary uses absolute language (%q)", w),
			}}
		}
	}
	return nil
}

func detectMissingJustification(req Request) []Concern {
	if req.Kind == "override" && strings.TrimSpace(req.Justification) == "" {
		return []Concern{{
			Type:        "missing_justification",
			Severity:    SeverityHigh,
			Description: "override requested without justification",
		}}
	}
	return nil
}

var sensitiveKeywords = []string{"secret", "credential", "password", "token", "private key"}

func (b Board) detectSensitive(req Request) []Concern {
	var concerns []Concern
	for _, s := range req.Scope {
		for _, sensitive := range b.SensitivePaths {
			// the requested pattern is tested as a literal path against the
			// sensitive globs; unbounded patterns are the breadth detector's job
			if scope.Match(sensitive, s) {
				concerns = append(concerns, Concern{
					Type:        "sensitive_path",
					Severity:    SeverityCritical,
					Description: fmt.Sprintf("scope %q touches sensitive path %q", s, sensitive),
				})
			}
		}
	}
	text := strings.ToLower(req.Summary + " " + req.Justification)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(text, kw) {
			concerns = append(concerns, Concern{
				Type:        "sensitive_keyword",
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("request text mentions %q", kw),
			})
			break
		}
	}
	return concerns
}

func detectBreadth(req Request) []Concern {
	for _, s := range req.Scope {
		if s == "**" || strings.HasPrefix(s, "**/") {
			return []Concern{{
				Type:        "scope_breadth",
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("scope pattern %q is unbounded", s),
			}}
		}
	}
	if len(req.Scope) > 8 {
		return []Concern{{
			Type:        "scope_breadth",
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("scope spans %d patterns", len(req.Scope)),
		}}
	}
	return nil
}

func (b Board) detectCost(req Request) []Concern {
	if b.CostThreshold > 0 && req.CostUSD > b.CostThreshold {
		return []Concern{{
			Type:        "cost_threshold",
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("estimated cost $%.2f exceeds threshold $%.2f", req.CostUSD, b.CostThreshold),
		}}
	}
	return nil
}
