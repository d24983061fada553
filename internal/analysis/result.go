// Package analysis defines the provider-independent result of analyzing a meeting note.
package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid marks a provider payload that does not match the Result shape.
var ErrInvalid = errors.New("invalid analysis payload")

// Action item owners.
const (
	OwnerMe      = "me"
	OwnerClient  = "client"
	OwnerUnknown = "unknown"
)

// Result is the normalized output of any provider. List fields are never nil.
type Result struct {
	Summary                 string       `json:"summary"`
	ActionItems             []ActionItem `json:"actionItems"`
	SentimentScore          float64      `json:"sentimentScore"`
	RiskSignals             []string     `json:"riskSignals"`
	Topics                  []string     `json:"topics"`
	KeyInsights             []string     `json:"keyInsights"`
	RelationshipSignals     []string     `json:"relationshipSignals"`
	FollowUpRecommendations []string     `json:"followUpRecommendations"`
	CommunicationStyle      *string      `json:"communicationStyle"`
}

// ActionItem is a commitment extracted from a note.
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
	DueHint     string `json:"dueHint"`
}

// wireResult mirrors Result with pointers so missing required fields are detectable.
type wireResult struct {
	Summary                 *string          `json:"summary" validate:"required"`
	ActionItems             []wireActionItem `json:"actionItems" validate:"dive"`
	SentimentScore          *float64         `json:"sentimentScore" validate:"required,gte=-1,lte=1"`
	RiskSignals             []string         `json:"riskSignals"`
	Topics                  []string         `json:"topics"`
	KeyInsights             []string         `json:"keyInsights"`
	RelationshipSignals     []string         `json:"relationshipSignals"`
	FollowUpRecommendations []string         `json:"followUpRecommendations"`
	CommunicationStyle      *string          `json:"communicationStyle"`
}

type wireActionItem struct {
	Description string `json:"description" validate:"required"`
	Owner       string `json:"owner"`
	DueHint     string `json:"dueHint"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and validates a raw provider payload. Structurally invalid payloads
// return an error wrapping ErrInvalid and are never partially coerced.
func Decode(raw []byte) (Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Result{}, fmt.Errorf("%w: empty payload", ErrInvalid)
	}
	if trimmed[0] != '{' {
		return Result{}, fmt.Errorf("%w: payload is not a JSON object", ErrInvalid)
	}

	var w wireResult
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validate.Struct(w); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalid, describeValidation(err))
	}
	if strings.TrimSpace(*w.Summary) == "" {
		return Result{}, fmt.Errorf("%w: summary is blank", ErrInvalid)
	}
	for i, item := range w.ActionItems {
		if strings.TrimSpace(item.Description) == "" {
			return Result{}, fmt.Errorf("%w: actionItems[%d].description is blank", ErrInvalid, i)
		}
	}

	r := Result{
		Summary:                 *w.Summary,
		SentimentScore:          *w.SentimentScore,
		RiskSignals:             w.RiskSignals,
		Topics:                  w.Topics,
		KeyInsights:             w.KeyInsights,
		RelationshipSignals:     w.RelationshipSignals,
		FollowUpRecommendations: w.FollowUpRecommendations,
		CommunicationStyle:      w.CommunicationStyle,
	}
	for _, item := range w.ActionItems {
		r.ActionItems = append(r.ActionItems, ActionItem(item))
	}
	return Normalize(r), nil
}

// Normalize trims strings, drops blanks, defaults every list to empty, and canonicalizes
// risk signals and owners.
func Normalize(r Result) Result {
	out := Result{
		Summary:                 strings.TrimSpace(r.Summary),
		SentimentScore:          clamp(r.SentimentScore),
		ActionItems:             make([]ActionItem, 0, len(r.ActionItems)),
		RiskSignals:             normalizeTokens(r.RiskSignals),
		Topics:                  normalizeStrings(r.Topics),
		KeyInsights:             normalizeStrings(r.KeyInsights),
		RelationshipSignals:     normalizeStrings(r.RelationshipSignals),
		FollowUpRecommendations: normalizeStrings(r.FollowUpRecommendations),
	}
	for _, item := range r.ActionItems {
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			continue
		}
		out.ActionItems = append(out.ActionItems, ActionItem{
			Description: desc,
			Owner:       NormalizeOwner(item.Owner),
			DueHint:     strings.TrimSpace(item.DueHint),
		})
	}
	if r.CommunicationStyle != nil {
		if style := strings.TrimSpace(*r.CommunicationStyle); style != "" {
			out.CommunicationStyle = &style
		}
	}
	return out
}

// NormalizeOwner maps free-form owner labels onto me|client|unknown.
func NormalizeOwner(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "me", "i", "self", "freelancer", "us", "we", "myself":
		return OwnerMe
	case "client", "them", "customer", "they":
		return OwnerClient
	default:
		return OwnerUnknown
	}
}

// NormalizeToken turns "Budget Mention" or "budget-mention" into "budget_mention".
func NormalizeToken(raw string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func normalizeTokens(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, raw := range in {
		token := NormalizeToken(raw)
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	return out
}

func normalizeStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		if s := strings.TrimSpace(raw); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
