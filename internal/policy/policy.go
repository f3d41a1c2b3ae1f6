// Package policy evaluates proposed actions against a prioritized rule set.
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"crewline/internal/scope"
)

// Rule effects.
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
	EffectWarn  = "warn"
)

// Rule enforcement levels.
const (
	EnforcementHard = "hard"
	EnforcementSoft = "soft"
)

// Decisions.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Rule is one declarative policy rule. Lower priority values take
// precedence. Rules are immutable during evaluation.
type Rule struct {
	ID          string           `json:"id" yaml:"id"`
	Priority    int              `json:"priority" yaml:"priority"`
	Enabled     bool             `json:"enabled" yaml:"enabled"`
	Effect      string           `json:"effect" yaml:"effect" enum:"allow,deny,warn"`
	Enforcement string           `json:"enforcement,omitempty" yaml:"enforcement" enum:"hard,soft"`
	Reason      string           `json:"reason,omitempty" yaml:"reason"`
	Actors      []string         `json:"actors,omitempty" yaml:"actors"`
	Actions     []string         `json:"actions,omitempty" yaml:"actions"`
	Scopes      []string         `json:"scopes,omitempty" yaml:"scopes"`
	Windows     []TimeWindow     `json:"windows,omitempty" yaml:"windows"`
	Fields      []FieldCondition `json:"fields,omitempty" yaml:"fields"`
}

// TimeWindow restricts a rule to hours of the day and days of the week,
// in the evaluation clock's location. EndHour is exclusive. Empty Days
// means every day.
type TimeWindow struct {
	StartHour int      `json:"start_hour" yaml:"start_hour"`
	EndHour   int      `json:"end_hour" yaml:"end_hour"`
	Days      []string `json:"days,omitempty" yaml:"days"`
}

// FieldCondition tests one dot-path field of the request context.
type FieldCondition struct {
	Field  string `json:"field" yaml:"field"`
	Op     string `json:"op" yaml:"op" enum:"eq,neq,gt,gte,lt,lte,in,not_in,contains,regex,exists,not_exists"`
	Value  any    `json:"value,omitempty" yaml:"value"`
	Values []any  `json:"values,omitempty" yaml:"values"`
}

// Input is a proposed action to evaluate.
type Input struct {
	Actor   string         `json:"actor"`
	Action  string         `json:"action"`
	Scope   []string       `json:"scope,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	Now     time.Time      `json:"-"`
}

// Violation is a matched deny/warn rule.
type Violation struct {
	RuleID      string `json:"rule_id"`
	Effect      string `json:"effect"`
	Enforcement string `json:"enforcement"`
	Reason      string `json:"reason,omitempty"`
}

// Result of an evaluation. Decision is deny exactly when HardViolations is
// non-empty; HasWarnings exactly when SoftViolations is non-empty. All
// matched rules are retained for audit, allow rules included.
type Result struct {
	Decision       string      `json:"decision"`
	HasWarnings    bool        `json:"has_warnings"`
	MatchedRules   []string    `json:"matched_rules,omitempty"`
	HardViolations []Violation `json:"hard_violations,omitempty"`
	SoftViolations []Violation `json:"soft_violations,omitempty"`
	Reasons        []string    `json:"reasons,omitempty"`
}

// Evaluate runs input against the rule set. With no enabled rules the
// decision is allow: the engine is default-allow by design, and callers
// relying on deny semantics must supply an explicit deny rule.
func Evaluate(in Input, rules []Rule) Result {
	res := Result{Decision: DecisionAllow}
	enabled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	for _, r := range enabled {
		if !ruleMatches(r, in) {
			continue
		}
		res.MatchedRules = append(res.MatchedRules, r.ID)
		if r.Effect != EffectDeny && r.Effect != EffectWarn {
			continue
		}
		v := Violation{RuleID: r.ID, Effect: r.Effect, Enforcement: r.Enforcement, Reason: r.Reason}
		if v.Reason == "" {
			v.Reason = fmt.Sprintf("rule %s (%s/%s) matched action %s by %s", r.ID, r.Effect, r.Enforcement, in.Action, in.Actor)
		}
		if r.Enforcement == EnforcementHard {
			res.HardViolations = append(res.HardViolations, v)
		} else {
			res.SoftViolations = append(res.SoftViolations, v)
		}
		res.Reasons = append(res.Reasons, v.Reason)
	}
	if len(res.HardViolations) > 0 {
		res.Decision = DecisionDeny
	}
	res.HasWarnings = len(res.SoftViolations) > 0
	return res
}

func ruleMatches(r Rule, in Input) bool {
	if !globsMatch(r.Actors, in.Actor) {
		return false
	}
	if !globsMatch(r.Actions, in.Action) {
		return false
	}
	if !scopeMatches(r.Scopes, in.Scope) {
		return false
	}
	if !windowContains(r.Windows, in.Now) {
		return false
	}
	for _, fc := range r.Fields {
		if !fieldHolds(fc, in.Context) {
			return false
		}
	}
	return true
}

// globsMatch: an empty pattern list matches any value.
func globsMatch(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if scope.Match(p, value) {
			return true
		}
	}
	return false
}

// scopeMatches: a rule with no scope patterns matches unconditionally; a
// request with no scope cannot satisfy a rule that requires one.
func scopeMatches(rulePatterns, requested []string) bool {
	if len(rulePatterns) == 0 {
		return true
	}
	if len(requested) == 0 {
		return false
	}
	for _, req := range requested {
		for _, rp := range rulePatterns {
			if scope.Match(rp, req) {
				return true
			}
		}
	}
	return false
}

func windowContains(windows []TimeWindow, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	if now.IsZero() {
		now = time.Now()
	}
	for _, w := range windows {
		if w.contains(now) {
			return true
		}
	}
	return false
}

func (w TimeWindow) contains(now time.Time) bool {
	h := now.Hour()
	if h < w.StartHour || h >= w.EndHour {
		return false
	}
	if len(w.Days) == 0 {
		return true
	}
	day := strings.ToLower(now.Weekday().String())
	for _, d := range w.Days {
		if strings.ToLower(d) == day {
			return true
		}
	}
	return false
}

func fieldHolds(fc FieldCondition, ctx map[string]any) bool {
	val, ok := lookupPath(ctx, fc.Field)
	switch fc.Op {
	case "exists":
		return ok && val != nil
	case "not_exists":
		return !ok || val == nil
	}
	if !ok {
		return false
	}
	switch fc.Op {
	case "eq", "neq", "gt", "gte", "lt", "lte":
		a, aok := toFloat(val)
		b, bok := toFloat(fc.Value)
		if !aok || !bok {
			return false
		}
		switch fc.Op {
		case "eq":
			return a == b
		case "neq":
			return a != b
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		case "lte":
			return a <= b
		}
	case "in", "not_in":
		found := false
		for _, candidate := range fc.Values {
			if looseEqual(val, candidate) {
				found = true
				break
			}
		}
		if fc.Op == "in" {
			return found
		}
		return !found
	case "contains":
		s, sok := val.(string)
		sub, subok := fc.Value.(string)
		return sok && subok && strings.Contains(s, sub)
	case "regex":
		s, sok := val.(string)
		if !sok {
			return false
		}
		pat, pok := fc.Value.(string)
		if !pok {
			return false
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	}
	return false
}

// lookupPath resolves a dot-path like "task.priority" in a nested context map.
func lookupPath(ctx map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = ctx
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func looseEqual(a, b any) bool {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa == fb
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
