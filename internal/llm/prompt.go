package llm

import "fmt"

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string
	Content string
}

// SystemPrompt instructs the model to return the analysis JSON shape only.
const SystemPrompt = `You analyze meeting notes written by a freelancer about one of their clients.
Respond with a single JSON object and nothing else. No markdown.
Keys (never omit any; use [] for empty lists):
  "summary": string, two or three sentences,
  "actionItems": [{"description": string, "owner": "me" | "client", "dueHint": string}],
  "sentimentScore": number between -1 and 1 describing the client's sentiment,
  "riskSignals": [snake_case strings such as "budget_mention", "scope_creep", "churn_risk",
                  "payment_delay", "competitor_mention", "stakeholder_change", "timeline_slip"],
  "topics": [string],
  "keyInsights": [string],
  "relationshipSignals": [string],
  "followUpRecommendations": [string],
  "communicationStyle": string or null`

// BuildMessages returns the system and user turns for analyzing noteText.
func BuildMessages(noteText string) []Message {
	return []Message{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Meeting note:\n%s", noteText)},
	}
}
