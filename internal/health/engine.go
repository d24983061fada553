package health

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"radar-backend/internal/analysis"
)

const (
	weightContact     = 0.30
	weightCommitments = 0.25
	weightSentiment   = 0.25
	weightRisk        = 0.20

	healthyThreshold = 80
	watchThreshold   = 50
	trendBand        = 5

	overduePenalty = 0.25
)

var riskSeverities = map[string]Severity{
	"budget_mention":       SeverityMedium,
	"churn_risk":           SeverityHigh,
	"payment_delay":        SeverityHigh,
	"cancellation_mention": SeverityHigh,
	"competitor_mention":   SeverityMedium,
	"stakeholder_change":   SeverityMedium,
	"scope_creep":          SeverityLow,
	"timeline_slip":        SeverityLow,
}

var riskPenalties = map[Severity]float64{
	SeverityLow:    0.15,
	SeverityMedium: 0.30,
	SeverityHigh:   0.50,
}

// Components are the per-factor scores in [0,1] before weighting.
type Components struct {
	Contact     float64 `json:"contact"`
	Commitments float64 `json:"commitments"`
	Sentiment   float64 `json:"sentiment"`
	Risk        float64 `json:"risk"`
}

// Result is the output of Score.
type Result struct {
	Score      int        `json:"score"`
	Status     Status     `json:"status"`
	Signals    []Signal   `json:"signals"`
	Components Components `json:"components"`
}

// Score computes a client's health. It is pure: equal inputs give equal results.
func Score(in Inputs) Result {
	var signals []Signal
	contact, s := contactComponent(in)
	signals = append(signals, s...)
	commitments, s := commitmentComponent(in.ActionItems)
	signals = append(signals, s...)
	sentiment, s := sentimentComponent(in.RecentNotes)
	signals = append(signals, s...)
	risk, s := riskComponent(in.RecentNotes)
	signals = append(signals, s...)

	raw := 100 * (weightContact*contact + weightCommitments*commitments + weightSentiment*sentiment + weightRisk*risk)
	// Absorb float noise before rounding half away from zero.
	score := int(math.Round(round4(raw)))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	sortSignals(signals)
	if signals == nil {
		signals = []Signal{}
	}
	return Result{
		Score:   score,
		Status:  StatusFor(score),
		Signals: signals,
		Components: Components{
			Contact:     round4(contact),
			Commitments: round4(commitments),
			Sentiment:   round4(sentiment),
			Risk:        round4(risk),
		},
	}
}

// StatusFor buckets a score.
func StatusFor(score int) Status {
	switch {
	case score >= healthyThreshold:
		return StatusHealthy
	case score >= watchThreshold:
		return StatusWatch
	default:
		return StatusAttention
	}
}

// TrendFor compares score with the latest snapshot. No history means stable.
func TrendFor(score int, latest *Snapshot) Trend {
	if latest == nil {
		return TrendStable
	}
	diff := score - latest.Score
	switch {
	case diff >= trendBand:
		return TrendImproving
	case diff <= -trendBand:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// RiskSeverity returns the severity for a provider risk signal token.
func RiskSeverity(token string) Severity {
	if sev, ok := riskSeverities[token]; ok {
		return sev
	}
	return SeverityLow
}

func contactComponent(in Inputs) (float64, []Signal) {
	var signals []Signal
	var value float64
	if in.DaysSinceContact == nil {
		value = 0.3
		signals = append(signals, Signal{
			Type:        "no_contact_recorded",
			Severity:    SeverityLow,
			Title:       "No contact recorded",
			Description: "There is no recorded meeting or contact with this client yet.",
		})
	} else {
		days := *in.DaysSinceContact
		switch {
		case days <= 7:
			value = 1.0
		case days <= 14:
			value = 0.85
		case days <= 30:
			value = 0.6
		case days <= 60:
			value = 0.3
		default:
			value = 0.1
		}
		if days > 14 {
			sev := SeverityLow
			if days > 60 {
				sev = SeverityHigh
			} else if days > 30 {
				sev = SeverityMedium
			}
			signals = append(signals, Signal{
				Type:        "contact_gap",
				Severity:    sev,
				Title:       "Contact gap",
				Description: fmt.Sprintf("Last contact was %d days ago.", days),
			})
		}
	}
	if in.MeetingsPrior30 >= 2 && in.MeetingsLast30*2 < in.MeetingsPrior30 {
		value *= 0.8
		signals = append(signals, Signal{
			Type:        "meeting_frequency_drop",
			Severity:    SeverityMedium,
			Title:       "Fewer meetings",
			Description: fmt.Sprintf("%d meetings in the last 30 days, down from %d in the 30 days before.", in.MeetingsLast30, in.MeetingsPrior30),
		})
	}
	return value, signals
}

func commitmentComponent(items []ActionItemInput) (float64, []Signal) {
	var overdue []ActionItemInput
	for _, item := range items {
		if item.Owner == analysis.OwnerMe && item.DaysOverdue > 0 {
			overdue = append(overdue, item)
		}
	}
	if len(overdue) == 0 {
		return 1.0, nil
	}
	sort.Slice(overdue, func(i, j int) bool {
		if overdue[i].DaysOverdue != overdue[j].DaysOverdue {
			return overdue[i].DaysOverdue > overdue[j].DaysOverdue
		}
		return overdue[i].ID < overdue[j].ID
	})
	worst := overdue[0].DaysOverdue
	sev := SeverityLow
	switch {
	case len(overdue) >= 3 || worst > 14:
		sev = SeverityHigh
	case len(overdue) >= 2 || worst > 7:
		sev = SeverityMedium
	}
	evidence := make([]string, 0, len(overdue))
	for _, item := range overdue {
		evidence = append(evidence, fmt.Sprintf("%s (%d days overdue)", item.Description, item.DaysOverdue))
	}
	value := math.Max(0, 1-overduePenalty*float64(len(overdue)))
	return value, []Signal{{
		Type:        "overdue_commitments",
		Severity:    sev,
		Title:       "Overdue commitments",
		Description: fmt.Sprintf("%d of your commitments are overdue, the oldest by %d days.", len(overdue), worst),
		Evidence:    evidence,
	}}
}

func sentimentComponent(notes []NoteInput) (float64, []Signal) {
	var sum, weights float64
	for _, n := range notes {
		if n.SentimentScore == nil {
			continue
		}
		age := math.Max(0, float64(n.AgeDays))
		w := 1 / (1 + age/30)
		sum += w * clampUnit(*n.SentimentScore)
		weights += w
	}
	if weights == 0 {
		return 0.5, nil
	}
	avg := sum / weights
	value := (avg + 1) / 2
	if avg >= -0.3 {
		return value, nil
	}
	sev := SeverityMedium
	if avg < -0.6 {
		sev = SeverityHigh
	}
	return value, []Signal{{
		Type:        "negative_sentiment",
		Severity:    sev,
		Title:       "Negative sentiment",
		Description: fmt.Sprintf("Recent meetings average a sentiment of %.2f.", avg),
	}}
}

func riskComponent(notes []NoteInput) (float64, []Signal) {
	evidence := make(map[string][]string)
	for _, n := range notes {
		for _, raw := range n.RiskSignals {
			token := analysis.NormalizeToken(raw)
			if token == "" {
				continue
			}
			if !containsString(evidence[token], n.NoteID) {
				evidence[token] = append(evidence[token], n.NoteID)
			}
		}
	}
	if len(evidence) == 0 {
		return 1.0, nil
	}
	var penalty float64
	signals := make([]Signal, 0, len(evidence))
	for token, noteIDs := range evidence {
		sev := RiskSeverity(token)
		penalty += riskPenalties[sev]
		ids := append([]string(nil), noteIDs...)
		sort.Strings(ids)
		signals = append(signals, Signal{
			Type:        token,
			Severity:    sev,
			Title:       humanize(token),
			Description: fmt.Sprintf("Raised in %d recent note(s).", len(ids)),
			Evidence:    ids,
		})
	}
	return math.Max(0, 1-penalty), signals
}

func sortSignals(signals []Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() > b.Severity.rank()
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Title < b.Title
	})
}

func humanize(token string) string {
	words := strings.Split(token, "_")
	if len(words) > 0 && words[0] != "" {
		words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	}
	return strings.Join(words, " ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
