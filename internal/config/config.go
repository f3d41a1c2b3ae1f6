package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"crewline/internal/board"
	"crewline/internal/policy"
)

// Config models crewline.yml.
type Config struct {
	Lease struct {
		DefaultTTLMinutes int `yaml:"default_ttl_minutes"`
		MaxTTLMinutes     int `yaml:"max_ttl_minutes"`
	} `yaml:"lease"`
	Policy struct {
		Rules []ruleEntry `yaml:"rules"`
	} `yaml:"policy"`
	Board struct {
		CostThresholdUSD float64  `yaml:"cost_threshold_usd"`
		SensitivePaths   []string `yaml:"sensitive_paths"`
		Directors        struct {
			Safety   directorEntry `yaml:"safety"`
			Delivery directorEntry `yaml:"delivery"`
		} `yaml:"directors"`
	} `yaml:"board"`
}

// ruleEntry mirrors policy.Rule but lets "enabled" default to true when the
// key is omitted.
type ruleEntry struct {
	ID          string                  `yaml:"id"`
	Priority    int                     `yaml:"priority"`
	Enabled     *bool                   `yaml:"enabled"`
	Effect      string                  `yaml:"effect"`
	Enforcement string                  `yaml:"enforcement"`
	Reason      string                  `yaml:"reason"`
	Actors      []string                `yaml:"actors"`
	Actions     []string                `yaml:"actions"`
	Scopes      []string                `yaml:"scopes"`
	Windows     []policy.TimeWindow     `yaml:"windows"`
	Fields      []policy.FieldCondition `yaml:"fields"`
}

func (e ruleEntry) rule() policy.Rule {
	return policy.Rule{
		ID:          e.ID,
		Priority:    e.Priority,
		Enabled:     e.Enabled == nil || *e.Enabled,
		Effect:      e.Effect,
		Enforcement: e.Enforcement,
		Reason:      e.Reason,
		Actors:      e.Actors,
		Actions:     e.Actions,
		Scopes:      e.Scopes,
		Windows:     e.Windows,
		Fields:      e.Fields,
	}
}

type directorEntry struct {
	VetoThreshold string `yaml:"veto_threshold"`
}

// Rules returns the policy rule set with defaults applied.
func (c *Config) Rules() []policy.Rule {
	rules := make([]policy.Rule, 0, len(c.Policy.Rules))
	for _, e := range c.Policy.Rules {
		r := e.rule()
		if r.Effect == "" {
			r.Effect = policy.EffectAllow
		}
		if r.Enforcement == "" {
			r.Enforcement = policy.EnforcementHard
		}
		rules = append(rules, r)
	}
	return rules
}

// ReviewBoard returns the board tuned by this config.
func (c *Config) ReviewBoard() board.Board {
	b := board.Default()
	if c.Board.CostThresholdUSD > 0 {
		b.CostThreshold = c.Board.CostThresholdUSD
	}
	if len(c.Board.SensitivePaths) > 0 {
		b.SensitivePaths = c.Board.SensitivePaths
	}
	if t := c.Board.Directors.Safety.VetoThreshold; t != "" {
		b.Safety.VetoThreshold = t
	}
	if t := c.Board.Directors.Delivery.VetoThreshold; t != "" {
		b.Delivery.VetoThreshold = t
	}
	return b
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Lease.DefaultTTLMinutes < 0 {
		return fmt.Errorf("config.lease.default_ttl_minutes must not be negative")
	}
	if c.Lease.MaxTTLMinutes > 0 && c.Lease.MaxTTLMinutes < c.Lease.DefaultTTLMinutes {
		return fmt.Errorf("config.lease.max_ttl_minutes is below default_ttl_minutes")
	}
	seen := map[string]bool{}
	for _, e := range c.Policy.Rules {
		r := e.rule()
		if r.ID == "" {
			return fmt.Errorf("policy rule without id")
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate policy rule id %s", r.ID)
		}
		seen[r.ID] = true
		switch r.Effect {
		case "", policy.EffectAllow, policy.EffectDeny, policy.EffectWarn:
		default:
			return fmt.Errorf("rule %s has unknown effect %s", r.ID, r.Effect)
		}
		switch r.Enforcement {
		case "", policy.EnforcementHard, policy.EnforcementSoft:
		default:
			return fmt.Errorf("rule %s has unknown enforcement %s", r.ID, r.Enforcement)
		}
		for _, w := range r.Windows {
			if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 1 || w.EndHour > 24 || w.EndHour <= w.StartHour {
				return fmt.Errorf("rule %s has invalid time window %d-%d", r.ID, w.StartHour, w.EndHour)
			}
		}
	}
	for _, t := range []string{c.Board.Directors.Safety.VetoThreshold, c.Board.Directors.Delivery.VetoThreshold} {
		if t != "" && board.SeverityRank(t) == 0 {
			return fmt.Errorf("unknown veto threshold %s", t)
		}
	}
	return nil
}

// DefaultTTLMinutes returns the configured lease TTL, falling back to 60.
func (c *Config) DefaultTTLMinutes() int {
	if c.Lease.DefaultTTLMinutes > 0 {
		return c.Lease.DefaultTTLMinutes
	}
	return 60
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "crewline.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the stock configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// WriteDefault writes the default crewline.yml unless one already exists.
func WriteDefault(workspace string) (string, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return path, os.WriteFile(path, []byte(defaultTemplate), 0o644)
}

const defaultTemplate = `lease:
  default_ttl_minutes: 60
  max_ttl_minutes: 480

policy:
  rules:
    - id: protect-secrets
      priority: 1
      effect: deny
      enforcement: hard
      reason: "secret material may only change through the board"
      actions: ["lease.claim", "queue.push"]
      scopes: ["**/.env*", "**/secrets/**", "**/credentials/**"]

    - id: warn-night-merges
      priority: 10
      effect: warn
      enforcement: soft
      reason: "merging while the team is asleep; double-check the queue"
      actions: ["queue.merge"]
      windows:
        - start_hour: 0
          end_hour: 6

    - id: allow-workers
      priority: 100
      effect: allow
      actors: ["worker-*", "human-*"]

board:
  cost_threshold_usd: 100
  sensitive_paths:
    - "**/.env*"
    - "**/secrets/**"
    - "**/credentials/**"
    - "**/*.pem"
    - "**/*.key"
  directors:
    safety:
      veto_threshold: high
    delivery:
      veto_threshold: critical
`
