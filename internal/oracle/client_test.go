package oracle

import (
	"strings"
	"testing"
)

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		verdict  Verdict
		feedback string
	}{
		{
			name:     "plain json",
			content:  `{"decision": "APPROVE", "feedback": "符合策略"}`,
			verdict:  VerdictApprove,
			feedback: "符合策略",
		},
		{
			name:     "fenced json block",
			content:  "```json\n{\"decision\": \"REJECT\", \"feedback\": \"风险过高\"}\n```",
			verdict:  VerdictReject,
			feedback: "风险过高",
		},
		{
			name:     "fence without language tag",
			content:  "```\n{\"decision\": \"approve\", \"feedback\": \" ok \"}\n```",
			verdict:  VerdictApprove,
			feedback: "ok",
		},
		{
			name:     "json surrounded by prose",
			content:  "审批结果如下：\n{\"decision\": \"REJECT\", \"feedback\": \"超过仓位上限\"}\n请查收。",
			verdict:  VerdictReject,
			feedback: "超过仓位上限",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := ParseDecision(tc.content)
			if err != nil {
				t.Fatalf("ParseDecision failed: %v", err)
			}
			if decision.Verdict != tc.verdict {
				t.Errorf("verdict: got %s, want %s", decision.Verdict, tc.verdict)
			}
			if decision.Feedback != tc.feedback {
				t.Errorf("feedback: got %q, want %q", decision.Feedback, tc.feedback)
			}
		})
	}
}

func TestParseDecision_Malformed(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no json at all", "我无法给出结论。"},
		{"truncated json", `{"decision": "APPROVE", "feedba`},
		{"unknown verdict", `{"decision": "MAYBE", "feedback": "?"}`},
		{"empty string", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDecision(tc.content); err == nil {
				t.Fatalf("expected parse error for %q", tc.content)
			}
		})
	}
}

func TestBuildPrompt_ContainsTradeContext(t *testing.T) {
	req := sampleRequest(10, 150)
	req.Trade.Rationale = "看好财报"
	req.Strategy = "稳健成长"

	prompt, err := BuildPrompt(req)
	if err != nil {
		t.Fatalf("BuildPrompt failed: %v", err)
	}

	for _, want := range []string{"AAPL", "alice", "看好财报", "稳健成长", "decision", "feedback"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
