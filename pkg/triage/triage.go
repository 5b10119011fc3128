// Package triage decides whether an agent-completed edit is safe to ship
// automatically or must be routed to a human for a quote. Evaluate is a
// pure function: identical inputs always produce an identical Result.
//
// Precedence is the safety policy. Hard failures (agent error, no edits,
// empty request) outrank content heuristics, which outrank the auto
// default. The rule lists below are evaluated in fixed order and that
// order is covered by tests; tune the pattern lists, not the precedence.
package triage

import (
	"fmt"
	"regexp"
	"strings"
)

// PolicyVersion is stamped on every result so past decisions remain
// interpretable after the pattern lists change.
const PolicyVersion = "2026-08"

// Decision classifies an evaluated turn.
type Decision string

// Decision constants.
const (
	DecisionAuto Decision = "auto"
	DecisionFlag Decision = "flag"
)

// Scope estimates the size of the change for quoting purposes.
type Scope string

// Scope constants.
const (
	ScopeMinor     Scope = "minor"
	ScopeMajor     Scope = "major"
	ScopeUncertain Scope = "uncertain"
)

// Input is everything Evaluate looks at. No external state.
type Input struct {
	RequestText    string
	FilesTouched   []string
	AgentSucceeded bool
	AgentErrored   bool
}

// Result is the machine-checkable triage outcome.
type Result struct {
	Decision      Decision `json:"decision"`
	Scope         Scope    `json:"scope"`
	Confidence    float64  `json:"confidence"`
	Reason        string   `json:"reason"`
	Triggers      []string `json:"triggers"`
	PolicyVersion string   `json:"policy_version"`
}

// Policy holds the tunable knobs. The zero value is not valid; use
// DefaultPolicy.
type Policy struct {
	// MaxFilesTouched is the wide-change-set threshold.
	MaxFilesTouched int

	// FlagIncompleteWithEdits controls the judgment call for turns where
	// the agent reported non-success but did touch files. Off (the
	// default), such turns are treated as likely-successful-despite-status
	// and fall through to the content checks; on, they are flagged
	// outright.
	FlagIncompleteWithEdits bool
}

// DefaultPolicy returns the shipped policy knobs.
func DefaultPolicy() Policy {
	return Policy{MaxFilesTouched: 8}
}

// intentPattern is one named major-intent keyword family.
type intentPattern struct {
	name string
	re   *regexp.Regexp
}

// majorIntentPatterns are request-text families that signal work beyond a
// copy tweak. Evaluated in order; every match is recorded.
var majorIntentPatterns = []intentPattern{
	{"booking", regexp.MustCompile(`(?i)\b(book(ing)?|appointment|schedul(e|ing)|reservation|calendar)\b`)},
	{"payment", regexp.MustCompile(`(?i)\b(payment|pay online|checkout|stripe|paypal|invoice|subscription|billing|shopping cart)\b`)},
	{"auth", regexp.MustCompile(`(?i)\b(log ?in|sign ?up|sign ?in|password|user account|auth(entication)?|register|members? area)\b`)},
	{"database", regexp.MustCompile(`(?i)\b(database|data storage|cms|content management|admin panel|user data)\b`)},
	{"redesign", regexp.MustCompile(`(?i)\b(redesign|rebuild|overhaul|start over|from scratch|whole new (site|website|look))\b`)},
	{"integration", regexp.MustCompile(`(?i)\b(integrat(e|ion)|api|webhook|crm|mailchimp|zapier|third[- ]party|sync with)\b`)},
}

// highRiskPathPatterns match files whose edits can break deploys or leak
// secrets: env files, manifests and lockfiles, build config, and anything
// under server/api/route directories.
var highRiskPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)\.env(\.[A-Za-z0-9._-]+)?$`),
	regexp.MustCompile(`(^|/)(package\.json|package-lock\.json|yarn\.lock|pnpm-lock\.yaml|composer\.(json|lock)|Gemfile(\.lock)?|requirements\.txt|pyproject\.toml|go\.(mod|sum))$`),
	regexp.MustCompile(`(^|/)(vite|webpack|next|nuxt|astro|svelte|rollup|tailwind|postcss|babel)\.config\.[cm]?[jt]s$`),
	regexp.MustCompile(`(^|/)(tsconfig\.json|Dockerfile|docker-compose\.ya?ml|netlify\.toml|vercel\.json)$`),
	regexp.MustCompile(`(^|/)(server|api|routes?|middleware|functions|lambda)(/|$)`),
}

// Evaluate classifies one agent turn. First match wins for the hard
// failures; the content heuristics accumulate triggers before deciding.
func Evaluate(in Input, policy Policy) Result {
	// 1. Agent execution error — nothing else matters.
	if in.AgentErrored {
		return result(DecisionFlag, ScopeUncertain, 0.97,
			"agent hit an execution error; a human must review before anything ships",
			[]string{"agent_execution_error"})
	}

	// 2. Agent reported non-success. With no files touched this is a hard
	// incomplete. With files touched it is treated as likely successful
	// and falls through to the content checks, unless the policy knob
	// says otherwise.
	incompleteWithEdits := false
	if !in.AgentSucceeded {
		if len(in.FilesTouched) == 0 {
			return result(DecisionFlag, ScopeUncertain, 0.90,
				"agent did not complete and produced no edits",
				[]string{"agent_incomplete_no_edits"})
		}
		if policy.FlagIncompleteWithEdits {
			return result(DecisionFlag, ScopeUncertain, 0.90,
				"agent reported non-success despite producing edits",
				[]string{"agent_incomplete_with_edits"})
		}
		incompleteWithEdits = true
	}

	// 3. Empty request text.
	if strings.TrimSpace(in.RequestText) == "" {
		return result(DecisionFlag, ScopeUncertain, 0.90,
			"request text is empty", []string{"empty_request"})
	}

	// 4-6. Content heuristics, in fixed order.
	var triggers []string
	for _, p := range majorIntentPatterns {
		if p.re.MatchString(in.RequestText) {
			triggers = append(triggers, "major_intent:"+p.name)
		}
	}
	if max := policy.MaxFilesTouched; max > 0 && len(in.FilesTouched) > max {
		triggers = append(triggers, "wide_file_change_set")
	}
	for _, path := range in.FilesTouched {
		for _, re := range highRiskPathPatterns {
			if re.MatchString(path) {
				triggers = append(triggers, "high_risk_file:"+path)
				break
			}
		}
	}

	// 7. Any content trigger flags the turn for a quote.
	if len(triggers) > 0 {
		confidence := 0.84
		scope := ScopeMajor
		if incompleteWithEdits {
			triggers = append([]string{"agent_incomplete_with_edits"}, triggers...)
			confidence = 0.97
		}
		return result(DecisionFlag, scope, confidence,
			fmt.Sprintf("request needs human review (%d trigger(s))", len(triggers)), triggers)
	}

	// 8. Clean, small, successful edit — safe to ship.
	return result(DecisionAuto, ScopeMinor, 0.92,
		"small content change completed cleanly", nil)
}

func result(d Decision, s Scope, confidence float64, reason string, triggers []string) Result {
	return Result{
		Decision:      d,
		Scope:         s,
		Confidence:    confidence,
		Reason:        reason,
		Triggers:      triggers,
		PolicyVersion: PolicyVersion,
	}
}
