package analysis

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeValidPayload(t *testing.T) {
	raw := `{
		"summary": "  Discussed Q3 roadmap and budget cuts. ",
		"actionItems": [{"description": "Send revised quote", "owner": "Me", "dueHint": "Friday"}],
		"sentimentScore": -0.4,
		"riskSignals": ["Budget Mention", "budget-mention", ""],
		"topics": ["roadmap", " "],
		"communicationStyle": "direct"
	}`

	got, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Summary != "Discussed Q3 roadmap and budget cuts." {
		t.Fatalf("summary = %q", got.Summary)
	}
	if len(got.RiskSignals) != 1 || got.RiskSignals[0] != "budget_mention" {
		t.Fatalf("risk signals = %v", got.RiskSignals)
	}
	if len(got.ActionItems) != 1 || got.ActionItems[0].Owner != OwnerMe {
		t.Fatalf("action items = %+v", got.ActionItems)
	}
	if len(got.Topics) != 1 {
		t.Fatalf("topics = %v", got.Topics)
	}
	if got.KeyInsights == nil || got.RelationshipSignals == nil || got.FollowUpRecommendations == nil {
		t.Fatalf("expected empty, non-nil lists: %+v", got)
	}
	if got.CommunicationStyle == nil || *got.CommunicationStyle != "direct" {
		t.Fatalf("communication style = %v", got.CommunicationStyle)
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "not json", raw: "Here is your analysis"},
		{name: "array", raw: `[{"summary":"x"}]`},
		{name: "missing summary", raw: `{"sentimentScore": 0.2}`},
		{name: "blank summary", raw: `{"summary": "  ", "sentimentScore": 0.2}`},
		{name: "missing sentiment", raw: `{"summary": "ok"}`},
		{name: "sentiment out of range", raw: `{"summary": "ok", "sentimentScore": 1.5}`},
		{name: "sentiment wrong type", raw: `{"summary": "ok", "sentimentScore": "high"}`},
		{name: "action item without description", raw: `{"summary": "ok", "sentimentScore": 0, "actionItems": [{"owner": "me"}]}`},
		{name: "list wrong type", raw: `{"summary": "ok", "sentimentScore": 0, "topics": "budget"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestResultEncodesEmptyListsNotNull(t *testing.T) {
	got := Normalize(Result{Summary: "ok"})
	data, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "null,") || strings.Contains(string(data), `"riskSignals":null`) {
		t.Fatalf("lists must encode as []: %s", data)
	}
	if !strings.Contains(string(data), `"actionItems":[]`) {
		t.Fatalf("expected empty actionItems: %s", data)
	}
}

func TestNormalizeToken(t *testing.T) {
	cases := map[string]string{
		"Budget Mention":   "budget_mention",
		"scope-creep":      "scope_creep",
		"  churn__risk!! ": "churn_risk",
		"PaymentDelay":     "paymentdelay",
		"":                 "",
	}
	for in, want := range cases {
		if got := NormalizeToken(in); got != want {
			t.Fatalf("NormalizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeOwner(t *testing.T) {
	cases := map[string]string{"ME": OwnerMe, "we": OwnerMe, "Client": OwnerClient, "": OwnerUnknown, "Bob": OwnerUnknown}
	for in, want := range cases {
		if got := NormalizeOwner(in); got != want {
			t.Fatalf("NormalizeOwner(%q) = %q, want %q", in, got, want)
		}
	}
}
