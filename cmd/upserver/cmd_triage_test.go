package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"upserver/pkg/triage"
)

func runTriageCmd(t *testing.T, stdin string, args ...string) triage.Result {
	t.Helper()

	cmd := newTriageCmd()
	cmd.SetIn(strings.NewReader(stdin))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var res triage.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("parse output %q: %v", out.String(), err)
	}
	return res
}

func TestTriageCmd_Flagged(t *testing.T) {
	res := runTriageCmd(t, `{
		"request_text": "add a booking form for appointments",
		"files_touched": ["index.html"],
		"agent_succeeded": true
	}`)

	if res.Decision != triage.DecisionFlag || res.Scope != triage.ScopeMajor {
		t.Fatalf("result: %+v", res)
	}
	if len(res.Triggers) == 0 || res.Triggers[0] != "major_intent:booking" {
		t.Fatalf("triggers: %v", res.Triggers)
	}
}

func TestTriageCmd_Auto(t *testing.T) {
	res := runTriageCmd(t, `{
		"request_text": "make the headline bigger",
		"files_touched": ["index.html"],
		"agent_succeeded": true
	}`)

	if res.Decision != triage.DecisionAuto {
		t.Fatalf("decision = %s, want auto", res.Decision)
	}
}

func TestTriageCmd_MaxFilesFlag(t *testing.T) {
	res := runTriageCmd(t, `{
		"request_text": "tidy both pages",
		"files_touched": ["a.html", "b.html"],
		"agent_succeeded": true
	}`, "--max-files", "1")

	if res.Decision != triage.DecisionFlag {
		t.Fatalf("decision = %s, want flag with lowered threshold", res.Decision)
	}
	found := false
	for _, trig := range res.Triggers {
		if trig == "wide_file_change_set" {
			found = true
		}
	}
	if !found {
		t.Fatalf("triggers: %v", res.Triggers)
	}
}

func TestTriageCmd_BadInput(t *testing.T) {
	cmd := newTriageCmd()
	cmd.SetIn(strings.NewReader("{not json"))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(nil)

	if err := cmd.Execute(); err == nil {
		t.Fatal("malformed input accepted")
	}
}
