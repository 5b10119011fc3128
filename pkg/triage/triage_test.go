package triage

import (
	"reflect"
	"strings"
	"testing"
)

func manyFiles(n int) []string {
	files := make([]string, n)
	for i := range files {
		files[i] = "src/components/section" + string(rune('a'+i)) + ".html"
	}
	return files
}

func TestEvaluate_Precedence(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name           string
		in             Input
		wantDecision   Decision
		wantScope      Scope
		wantConfidence float64
		wantTriggers   []string
	}{
		{
			name:           "agent error outranks everything",
			in:             Input{RequestText: "change the headline", FilesTouched: []string{"index.html"}, AgentErrored: true},
			wantDecision:   DecisionFlag,
			wantScope:      ScopeUncertain,
			wantConfidence: 0.97,
			wantTriggers:   []string{"agent_execution_error"},
		},
		{
			name:           "incomplete with no edits",
			in:             Input{RequestText: "change the headline", AgentSucceeded: false},
			wantDecision:   DecisionFlag,
			wantScope:      ScopeUncertain,
			wantConfidence: 0.90,
			wantTriggers:   []string{"agent_incomplete_no_edits"},
		},
		{
			name:           "empty request",
			in:             Input{RequestText: "   ", AgentSucceeded: true},
			wantDecision:   DecisionFlag,
			wantScope:      ScopeUncertain,
			wantConfidence: 0.90,
			wantTriggers:   []string{"empty_request"},
		},
		{
			name:           "booking intent",
			in:             Input{RequestText: "Can you add a booking form for appointments?", FilesTouched: []string{"index.html"}, AgentSucceeded: true},
			wantDecision:   DecisionFlag,
			wantScope:      ScopeMajor,
			wantConfidence: 0.84,
			wantTriggers:   []string{"major_intent:booking"},
		},
		{
			name:           "payment intent",
			in:             Input{RequestText: "I want customers to pay online with Stripe", FilesTouched: []string{"index.html"}, AgentSucceeded: true},
			wantDecision:   DecisionFlag,
			wantScope:      ScopeMajor,
			wantConfidence: 0.84,
			wantTriggers:   []string{"major_intent:payment"},
		},
		{
			name:           "wide change set",
			in:             Input{RequestText: "refresh the colors everywhere", FilesTouched: manyFiles(9), AgentSucceeded: true},
			wantDecision:   DecisionFlag,
			wantScope:      ScopeMajor,
			wantConfidence: 0.84,
			wantTriggers:   []string{"wide_file_change_set"},
		},
		{
			name:           "high risk env file",
			in:             Input{RequestText: "update the contact address", FilesTouched: []string{"index.html", ".env"}, AgentSucceeded: true},
			wantDecision:   DecisionFlag,
			wantScope:      ScopeMajor,
			wantConfidence: 0.84,
			wantTriggers:   []string{"high_risk_file:.env"},
		},
		{
			name:           "high risk api directory",
			in:             Input{RequestText: "fix the typo on the about page", FilesTouched: []string{"api/contact.js"}, AgentSucceeded: true},
			wantDecision:   DecisionFlag,
			wantScope:      ScopeMajor,
			wantConfidence: 0.84,
			wantTriggers:   []string{"high_risk_file:api/contact.js"},
		},
		{
			name:           "clean small edit ships automatically",
			in:             Input{RequestText: "make the headline bigger", FilesTouched: []string{"index.html", "styles.css"}, AgentSucceeded: true},
			wantDecision:   DecisionAuto,
			wantScope:      ScopeMinor,
			wantConfidence: 0.92,
			wantTriggers:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.in, policy)
			if got.Decision != tt.wantDecision {
				t.Errorf("decision = %s, want %s", got.Decision, tt.wantDecision)
			}
			if got.Scope != tt.wantScope {
				t.Errorf("scope = %s, want %s", got.Scope, tt.wantScope)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
			if !reflect.DeepEqual(got.Triggers, tt.wantTriggers) {
				t.Errorf("triggers = %v, want %v", got.Triggers, tt.wantTriggers)
			}
			if got.PolicyVersion != PolicyVersion {
				t.Errorf("policy version = %q, want %q", got.PolicyVersion, PolicyVersion)
			}
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	in := Input{
		RequestText:    "Add a members area with login and a booking calendar",
		FilesTouched:   []string{"index.html", "server/auth.js", ".env.production"},
		AgentSucceeded: true,
	}
	first := Evaluate(in, DefaultPolicy())
	for i := 0; i < 10; i++ {
		if got := Evaluate(in, DefaultPolicy()); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differed: %+v vs %+v", i, got, first)
		}
	}
}

func TestEvaluate_MultipleTriggersAccumulate(t *testing.T) {
	in := Input{
		RequestText:    "Let customers sign up and pay online",
		FilesTouched:   []string{"package.json", "server/checkout.js"},
		AgentSucceeded: true,
	}
	got := Evaluate(in, DefaultPolicy())

	want := []string{
		"major_intent:payment",
		"major_intent:auth",
		"high_risk_file:package.json",
		"high_risk_file:server/checkout.js",
	}
	if !reflect.DeepEqual(got.Triggers, want) {
		t.Fatalf("triggers = %v, want %v", got.Triggers, want)
	}
	if got.Decision != DecisionFlag {
		t.Fatalf("decision = %s, want flag", got.Decision)
	}
}

func TestEvaluate_IncompleteWithEditsFallsThrough(t *testing.T) {
	// Agent said non-success but edited files: content checks decide.
	clean := Input{
		RequestText:    "make the footer smaller",
		FilesTouched:   []string{"styles.css"},
		AgentSucceeded: false,
	}
	got := Evaluate(clean, DefaultPolicy())
	if got.Decision != DecisionAuto {
		t.Fatalf("clean fall-through decision = %s, want auto", got.Decision)
	}

	// With a content trigger present the uncertainty raises confidence.
	risky := Input{
		RequestText:    "make the footer smaller",
		FilesTouched:   []string{"styles.css", ".env"},
		AgentSucceeded: false,
	}
	got = Evaluate(risky, DefaultPolicy())
	if got.Decision != DecisionFlag {
		t.Fatalf("risky fall-through decision = %s, want flag", got.Decision)
	}
	if got.Confidence != 0.97 {
		t.Fatalf("confidence = %v, want 0.97", got.Confidence)
	}
	if got.Triggers[0] != "agent_incomplete_with_edits" {
		t.Fatalf("first trigger = %q, want agent_incomplete_with_edits", got.Triggers[0])
	}
}

func TestEvaluate_FlagIncompleteWithEditsKnob(t *testing.T) {
	policy := DefaultPolicy()
	policy.FlagIncompleteWithEdits = true

	got := Evaluate(Input{
		RequestText:    "make the footer smaller",
		FilesTouched:   []string{"styles.css"},
		AgentSucceeded: false,
	}, policy)

	if got.Decision != DecisionFlag {
		t.Fatalf("decision = %s, want flag", got.Decision)
	}
	if len(got.Triggers) != 1 || got.Triggers[0] != "agent_incomplete_with_edits" {
		t.Fatalf("triggers = %v, want [agent_incomplete_with_edits]", got.Triggers)
	}
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	policy := DefaultPolicy()

	at := Evaluate(Input{RequestText: "tidy up the pages", FilesTouched: manyFiles(8), AgentSucceeded: true}, policy)
	if at.Decision != DecisionAuto {
		t.Fatalf("at threshold: decision = %s, want auto", at.Decision)
	}

	over := Evaluate(Input{RequestText: "tidy up the pages", FilesTouched: manyFiles(9), AgentSucceeded: true}, policy)
	if over.Decision != DecisionFlag {
		t.Fatalf("over threshold: decision = %s, want flag", over.Decision)
	}
	found := false
	for _, trig := range over.Triggers {
		if trig == "wide_file_change_set" {
			found = true
		}
	}
	if !found {
		t.Fatalf("triggers = %v, want wide_file_change_set present", over.Triggers)
	}
}

func TestEvaluate_ReasonNeverEmpty(t *testing.T) {
	inputs := []Input{
		{AgentErrored: true},
		{RequestText: "", AgentSucceeded: true},
		{RequestText: "add a database", FilesTouched: []string{"a.html"}, AgentSucceeded: true},
		{RequestText: "fix typo", FilesTouched: []string{"a.html"}, AgentSucceeded: true},
	}
	for _, in := range inputs {
		if got := Evaluate(in, DefaultPolicy()); strings.TrimSpace(got.Reason) == "" {
			t.Errorf("empty reason for input %+v", in)
		}
	}
}
