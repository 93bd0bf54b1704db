package consensus

import (
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"bare", `{"action":"wait"}`, `{"action":"wait"}`, false},
		{"fenced", "```json\n{\"action\":\"wait\"}\n```", `{"action":"wait"}`, false},
		{"prose around", `Sure, here you go: {"action":"wait"} hope that helps`, `{"action":"wait"}`, false},
		{"nested braces", `{"action":"shell","params":{"command":"echo {}"}}`, `{"action":"shell","params":{"command":"echo {}"}}`, false},
		{"brace in string", `{"action":"shell","params":{"command":"awk '{print}'"}}`, `{"action":"shell","params":{"command":"awk '{print}'"}}`, false},
		{"no object", "I cannot decide.", "", true},
		{"unbalanced", `{"action":"wait"`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseActionResponse(t *testing.T) {
	resp, err := parseActionResponse(`{"action":"shell","params":{"command":"ls"},"wait":true,"reasoning":"list files"}`)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Action != "shell" {
		t.Errorf("action = %q", resp.Action)
	}
	if resp.Params["command"] != "ls" {
		t.Errorf("params = %v", resp.Params)
	}
	if !resp.Wait.True() || resp.Wait.Kind != WaitBool {
		t.Errorf("wait = %+v", resp.Wait)
	}

	if _, err := parseActionResponse(`{"params":{}}`); err == nil {
		t.Error("expected error for missing action")
	}
	if _, err := parseActionResponse("no json here"); err == nil {
		t.Error("expected error for non-JSON")
	}
}

func TestParseActionResponseWaitVariants(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		kind   WaitKind
		isTrue bool
	}{
		{"bool true", `{"action":"shell","wait":true}`, WaitBool, true},
		{"bool false", `{"action":"shell","wait":false}`, WaitBool, false},
		{"seconds", `{"action":"shell","wait":30}`, WaitSeconds, true},
		{"zero seconds", `{"action":"shell","wait":0}`, WaitSeconds, false},
		{"null", `{"action":"shell","wait":null}`, WaitNone, false},
		{"absent", `{"action":"shell"}`, WaitNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseActionResponse(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if resp.Wait.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", resp.Wait.Kind, tt.kind)
			}
			if resp.Wait.True() != tt.isTrue {
				t.Errorf("True() = %v, want %v", resp.Wait.True(), tt.isTrue)
			}
		})
	}
}

func TestVoteKeyIgnoresParamOrder(t *testing.T) {
	a := &ActionResponse{Action: "shell", Params: map[string]any{"command": "ls", "cwd": "/tmp"}}
	b := &ActionResponse{Action: "shell", Params: map[string]any{"cwd": "/tmp", "command": "ls"}}
	if voteKey(a) != voteKey(b) {
		t.Errorf("keys differ: %q vs %q", voteKey(a), voteKey(b))
	}
	c := &ActionResponse{Action: "shell", Params: map[string]any{"command": "pwd"}}
	if voteKey(a) == voteKey(c) {
		t.Error("different params produced the same key")
	}
}

func TestVoteKeyIgnoresReasoning(t *testing.T) {
	a := &ActionResponse{Action: "wait", Reasoning: "nothing to do"}
	b := &ActionResponse{Action: "wait", Reasoning: "idle until next message"}
	if voteKey(a) != voteKey(b) {
		t.Error("reasoning should not affect the vote key")
	}
}

func TestTally(t *testing.T) {
	shell := &ActionResponse{Action: "shell", Params: map[string]any{"command": "ls"}}
	wait := &ActionResponse{Action: "wait"}
	orient := &ActionResponse{Action: "orient"}

	tests := []struct {
		name           string
		outcomes       []modelOutcome
		wantAction     string
		strictMajority bool
		found          bool
	}{
		{
			"unanimous",
			[]modelOutcome{{Response: shell}, {Response: shell}, {Response: shell}},
			"shell", true, true,
		},
		{
			"majority two of three",
			[]modelOutcome{{Response: shell}, {Response: wait}, {Response: shell}},
			"shell", true, true,
		},
		{
			"three-way split breaks to pool order",
			[]modelOutcome{{Response: wait}, {Response: shell}, {Response: orient}},
			"wait", false, true,
		},
		{
			"tie breaks to earliest proposer",
			[]modelOutcome{{Response: orient}, {Response: orient}, {Response: wait}, {Response: wait}},
			"orient", false, true,
		},
		{
			"failed models excluded",
			[]modelOutcome{{Response: nil}, {Response: shell}, {Response: nil}},
			"shell", true, true,
		},
		{
			"nothing parsed",
			[]modelOutcome{{Response: nil}, {Response: nil}},
			"", false, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, strict, found := tally(tt.outcomes)
			if found != tt.found {
				t.Fatalf("found = %v, want %v", found, tt.found)
			}
			if !found {
				return
			}
			if winner.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", winner.Action, tt.wantAction)
			}
			if strict != tt.strictMajority {
				t.Errorf("strictMajority = %v, want %v", strict, tt.strictMajority)
			}
		})
	}
}
