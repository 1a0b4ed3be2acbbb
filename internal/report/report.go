// Package report merges the stage outputs of one call into its AuditReport.
// Assemble is pure: the same inputs always give the same report.
package report

import (
	"fmt"
	"strings"
	"time"

	"vigilant-go/internal/config"
	"vigilant-go/internal/types"
)

const (
	TimeClauseID        = "INTERNAL-TIME-01"
	TimeRuleName        = "Operating Hours Compliance"
	flagPolicyViolation = "Policy Violation Detected"
)

type Inputs struct {
	RequestID  string
	CallTime   time.Time
	Elapsed    time.Duration
	Config     config.Config
	Transcript types.Transcription
	Segments   []types.AcousticSegment
	Reasoning  types.Reasoning
	Time       types.TimeCheck
}

// Complexity buckets a conversation by its number of turns.
func Complexity(turns int) string {
	switch {
	case turns <= 6:
		return "low"
	case turns <= 14:
		return "medium"
	}
	return "high"
}

func Assemble(in Inputs) *types.AuditReport {
	r := in.Reasoning

	threads := make([]types.TranscriptThread, len(in.Transcript.Utterances))
	for i, u := range in.Transcript.Utterances {
		threads[i] = types.TranscriptThread{
			Speaker:   u.Speaker,
			Message:   u.Text,
			Timestamp: types.Clock(u.Offset),
			Tone:      ClassifyTone(u.Text),
		}
	}

	violations := normalizeViolations(r.PolicyViolations)
	if in.Time.Violation && !hasClause(violations, TimeClauseID) {
		violations = append(violations, timeViolation(in.Time))
	}

	flags := strs(r.ComplianceFlags)
	if len(violations) > 0 && len(flags) == 0 {
		flags = []string{flagPolicyViolation}
	}

	category := r.Category
	if category == "" {
		category = in.Transcript.Category
	}

	return &types.AuditReport{
		RequestID: in.RequestID,
		Metadata: types.Metadata{
			Timestamp:              in.CallTime.UTC().Format(time.RFC3339),
			DetectedLanguages:      strs(in.Transcript.Languages),
			ProcessingTimeMs:       in.Elapsed.Milliseconds(),
			ConversationComplexity: Complexity(len(threads)),
		},
		ConfigApplied: types.ConfigApplied{
			BusinessDomain:    in.Config.BusinessDomain,
			MonitoredProducts: strs(in.Config.MonitoredProducts),
			ActivePolicySet:   in.Config.ActivePolicySet,
			RiskTriggers:      strs(in.Config.RiskTriggers),
		},
		IntelligenceSummary: types.IntelligenceSummary{
			Summary:           orDefault(r.Summary, "No summary available."),
			Category:          category,
			ConversationAbout: in.Transcript.ConversationAbout,
			PrimaryIntent:     in.Transcript.PrimaryIntent,
			KeyTopics:         strs(in.Transcript.KeyTopics),
			Entities:          cleanEntities(in.Transcript.Entities),
			RootCause:         in.Transcript.RootCause,
		},
		EmotionalAnalysis: types.EmotionalAnalysis{
			OverallSentiment: valueOr(r.OverallSentiment, "Neutral"),
			EmotionalTone:    valueOr(r.EmotionalTone, "Neutral"),
			ToneProgression:  strs(r.ToneProgression),
			EmotionalGraph:   backfillArousal(r.EmotionalGraph, in.Segments),
			EmotionTimeline:  timeline(r.EmotionTimeline),
		},
		ComplianceAudit: types.ComplianceAudit{
			IsWithinPolicy:   valueOr(r.IsWithinPolicy, len(violations) == 0),
			ComplianceFlags:  flags,
			PolicyViolations: violations,
			DetectedThreats:  strs(r.DetectedThreats),
			RiskScores: types.RiskScores{
				FraudRisk:           valueOr(r.FraudRisk, "low"),
				EscalationRisk:      valueOr(r.EscalationRisk, "low"),
				UrgencyLevel:        valueOr(r.UrgencyLevel, "low"),
				RiskEscalationScore: valueOr(r.RiskEscalationScore, 0),
			},
		},
		TranscriptThreads: threads,
		PerformanceAndOutcomes: types.PerformanceOutcomes{
			AgentPerformance: types.AgentPerformance{
				Politeness:          valueOr(r.AgentPoliteness, "fair"),
				Empathy:             valueOr(r.AgentEmpathy, "medium"),
				Professionalism:     valueOr(r.AgentProfessionalism, "fair"),
				OverallQualityScore: valueOr(r.AgentQualityScore, 50),
			},
			CallOutcomePrediction:   valueOr(r.CallOutcomePrediction, "Resolved"),
			RepeatComplaintDetected: valueOr(r.RepeatComplaintDetected, false),
			FinalStatus:             valueOr(r.FinalStatus, "Pending Review"),
			RecommendedAction:       valueOr(r.RecommendedAction, "Review manually."),
		},
	}
}

func normalizeViolations(in []types.Violation) []types.Violation {
	out := make([]types.Violation, len(in))
	for i, v := range in {
		switch sev := strings.ToLower(strings.TrimSpace(v.Severity)); sev {
		case "low", "medium", "high", "critical":
			v.Severity = sev
		default:
			v.Severity = "medium"
		}
		out[i] = v
	}
	return out
}

func hasClause(vs []types.Violation, id string) bool {
	for _, v := range vs {
		if v.ClauseID == id {
			return true
		}
	}
	return false
}

func timeViolation(tc types.TimeCheck) types.Violation {
	name := tc.RuleName
	if name == "" {
		name = TimeRuleName
	}
	return types.Violation{
		ClauseID:      TimeClauseID,
		RuleName:      name,
		Severity:      "high",
		Description:   tc.Description,
		Timestamp:     tc.LocalTime,
		EvidenceQuote: fmt.Sprintf("Call timestamp detected as %s local time.", tc.LocalTime),
	}
}

func cleanEntities(in []types.Entity) []types.Entity {
	out := make([]types.Entity, len(in))
	for i, e := range in {
		if e.ID == "" {
			e.ID = fmt.Sprintf("entity_%02d", i)
		}
		if e.Type == "" {
			e.Type = "UNKNOWN"
		}
		out[i] = e
	}
	return out
}

// backfillArousal fills missing arousal labels on graph points from the
// acoustic segment starting at the same MM:SS, Low otherwise.
func backfillArousal(graph []types.GraphPoint, segs []types.AcousticSegment) []types.GraphPoint {
	byClock := make(map[string]types.Arousal, len(segs))
	for _, s := range segs {
		byClock[types.Clock(s.Start)] = s.Arousal
	}
	out := make([]types.GraphPoint, len(graph))
	for i, p := range graph {
		if p.AcousticArousal == "" {
			if a, ok := byClock[p.Timestamp]; ok {
				p.AcousticArousal = string(a)
			} else {
				p.AcousticArousal = string(types.ArousalLow)
			}
		}
		out[i] = p
	}
	return out
}

func timeline(in []types.TimelinePoint) []types.TimelinePoint {
	if len(in) > 0 {
		return append([]types.TimelinePoint(nil), in...)
	}
	return []types.TimelinePoint{
		{Time: "start", Emotion: "neutral"},
		{Time: "middle", Emotion: "neutral"},
		{Time: "end", Emotion: "neutral"},
	}
}

// strs copies a list so the report never aliases its inputs and never
// serialises as null.
func strs(in []string) []string {
	return append([]string{}, in...)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// valueOr copies a model value through unchanged, or encodes def when the
// model left it out.
func valueOr(v types.Value, def any) types.Value {
	if v.IsZero() {
		return types.ValueOf(def)
	}
	return append(types.Value(nil), v...)
}
