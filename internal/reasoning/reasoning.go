// Package reasoning runs the single compliance reasoning call: it turns the
// transcript, acoustic features, clauses, tenant config and time check into
// one prompt and validates the structured answer.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/config"
	"vigilant-go/internal/retry"
	"vigilant-go/internal/types"
)

// RequiredKeys must all be present in the model's answer.
var RequiredKeys = []string{
	"is_within_policy",
	"compliance_flags",
	"policy_violations",
	"overall_sentiment",
	"emotional_tone",
	"fraud_risk",
	"escalation_risk",
	"urgency_level",
	"risk_escalation_score",
	"agent_politeness",
	"agent_empathy",
	"agent_professionalism",
	"agent_quality_score",
	"call_outcome_prediction",
	"recommended_action",
}

type Input struct {
	Transcript types.Transcription
	Segments   []types.AcousticSegment
	Clauses    []types.Clause
	Relevant   []types.Clause
	Config     config.Config
	Time       types.TimeCheck
	CallTime   time.Time
}

// Reasoner sends the prompt through the retry-guarded caller.
type Reasoner struct {
	Model  Model
	Caller *retry.Caller
	Log    *logrus.Entry
}

func New(model Model, caller *retry.Caller, log *logrus.Entry) *Reasoner {
	return &Reasoner{Model: model, Caller: caller, Log: log}
}

func (r *Reasoner) Reason(ctx context.Context, in Input) (types.Reasoning, error) {
	prompt := BuildPrompt(in)

	body, err := retry.Do(ctx, r.Caller, func(ctx context.Context) ([]byte, error) {
		return r.Model.Complete(ctx, prompt)
	})
	if err != nil {
		return types.Reasoning{}, err
	}

	res, err := Parse(body)
	if err != nil {
		r.Log.WithError(err).WithField("body", truncate(string(body), 500)).Warn("reasoning response rejected")
		return types.Reasoning{}, err
	}
	r.Log.WithFields(logrus.Fields{
		"violations": len(res.PolicyViolations),
		"risk_score": res.RiskEscalationScore.String(),
	}).Info("reasoning complete")
	return res, nil
}

// Parse extracts and validates the structured answer from a raw model
// response. A missing or null required key is a SchemaViolation; values of an
// unexpected JSON type are kept as sent.
func Parse(body []byte) (types.Reasoning, error) {
	const op = "reasoning"

	candidate := extractContentFromChoices(body)
	if candidate == "" {
		candidate = extractJSON(string(body))
	}
	if candidate == "" {
		return types.Reasoning{}, apperr.New(apperr.KindSchemaViolation, op, "no JSON object in model output")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		return types.Reasoning{}, apperr.Wrap(apperr.KindSchemaViolation, op, fmt.Errorf("unparseable model output: %w", err))
	}
	var missing []string
	for _, k := range RequiredKeys {
		if v, ok := fields[k]; !ok || string(v) == "null" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return types.Reasoning{}, apperr.Newf(apperr.KindSchemaViolation, op, "missing required keys: %s", strings.Join(missing, ", "))
	}

	return decode(fields), nil
}

// decode copies the answer into a Reasoning. Scalar fields keep the JSON the
// model sent; list fields are read loosely and malformed entries are dropped.
func decode(fields map[string]json.RawMessage) types.Reasoning {
	val := func(k string) types.Value { return types.Value(fields[k]) }
	return types.Reasoning{
		Summary:                 val("summary").String(),
		Category:                val("category").String(),
		OverallSentiment:        val("overall_sentiment"),
		EmotionalTone:           val("emotional_tone"),
		ToneProgression:         stringList(fields["tone_progression"]),
		EmotionalGraph:          graph(fields["emotional_graph"]),
		EmotionTimeline:         timeline(fields["emotion_timeline"]),
		IsWithinPolicy:          val("is_within_policy"),
		ComplianceFlags:         stringList(fields["compliance_flags"]),
		PolicyViolations:        violations(fields["policy_violations"]),
		DetectedThreats:         stringList(fields["detected_threats"]),
		FraudRisk:               val("fraud_risk"),
		EscalationRisk:          val("escalation_risk"),
		UrgencyLevel:            val("urgency_level"),
		RiskEscalationScore:     val("risk_escalation_score"),
		AgentPoliteness:         val("agent_politeness"),
		AgentEmpathy:            val("agent_empathy"),
		AgentProfessionalism:    val("agent_professionalism"),
		AgentQualityScore:       val("agent_quality_score"),
		CallOutcomePrediction:   val("call_outcome_prediction"),
		RepeatComplaintDetected: val("repeat_complaint_detected"),
		FinalStatus:             val("final_status"),
		RecommendedAction:       val("recommended_action"),
	}
}

// objects splits a JSON array into its object elements.
func objects(raw json.RawMessage) []map[string]types.Value {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]map[string]types.Value, 0, len(items))
	for _, it := range items {
		var m map[string]types.Value
		if err := json.Unmarshal(it, &m); err != nil || m == nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// stringList accepts an array of scalars or a single string.
func stringList(raw json.RawMessage) []string {
	if types.Value(raw).IsZero() {
		return nil
	}
	var items []types.Value
	if err := json.Unmarshal(raw, &items); err != nil {
		var one string
		if json.Unmarshal(raw, &one) == nil && one != "" {
			return []string{one}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := it.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func violations(raw json.RawMessage) []types.Violation {
	objs := objects(raw)
	if objs == nil {
		return nil
	}
	out := make([]types.Violation, 0, len(objs))
	for _, m := range objs {
		out = append(out, types.Violation{
			ClauseID:      m["clause_id"].String(),
			RuleName:      m["rule_name"].String(),
			Severity:      m["severity"].String(),
			Description:   m["description"].String(),
			Timestamp:     m["timestamp"].String(),
			EvidenceQuote: m["evidence_quote"].String(),
		})
	}
	return out
}

func graph(raw json.RawMessage) []types.GraphPoint {
	var out []types.GraphPoint
	for _, m := range objects(raw) {
		score, _ := m["score"].Float()
		out = append(out, types.GraphPoint{
			Timestamp:       m["timestamp"].String(),
			Tone:            m["tone"].String(),
			Score:           score,
			AcousticArousal: m["acoustic_arousal"].String(),
		})
	}
	return out
}

func timeline(raw json.RawMessage) []types.TimelinePoint {
	var out []types.TimelinePoint
	for _, m := range objects(raw) {
		out = append(out, types.TimelinePoint{Time: m["time"].String(), Emotion: m["emotion"].String()})
	}
	return out
}

// Mock answers with a fixed reasoning document derived from the inputs, so
// the pipeline runs without a gateway.
type Mock struct{}

func (Mock) Complete(ctx context.Context, prompt string) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, apperr.FromContext(ctx, "llm_mock")
	}
	threatening := strings.Contains(strings.ToLower(prompt), "must pay")
	res := types.Reasoning{
		Summary:          "Agent called about overdue dues. Customer disputed the balance. Agent agreed to verify.",
		Category:         "Debt Recovery",
		OverallSentiment: types.ValueOf("Negative"),
		EmotionalTone:    types.ValueOf("Tense"),
		ToneProgression:  []string{"Neutral", "Frustrated", "Calmer"},
		EmotionalGraph: []types.GraphPoint{
			{Timestamp: "00:00", Tone: "Neutral", Score: 0.3},
			{Timestamp: "00:30", Tone: "Frustrated", Score: 0.6},
		},
		EmotionTimeline: []types.TimelinePoint{
			{Time: "start", Emotion: "neutral"},
			{Time: "middle", Emotion: "frustrated"},
			{Time: "end", Emotion: "calm"},
		},
		IsWithinPolicy:        types.ValueOf(!threatening),
		ComplianceFlags:       []string{},
		PolicyViolations:      []types.Violation{},
		DetectedThreats:       []string{},
		FraudRisk:             types.ValueOf("low"),
		EscalationRisk:        types.ValueOf("medium"),
		UrgencyLevel:          types.ValueOf("medium"),
		RiskEscalationScore:   types.ValueOf(35),
		AgentPoliteness:       types.ValueOf("fair"),
		AgentEmpathy:          types.ValueOf("medium"),
		AgentProfessionalism:  types.ValueOf("good"),
		AgentQualityScore:     types.ValueOf(70),
		CallOutcomePrediction: types.ValueOf("Follow-up Required"),
		FinalStatus:           types.ValueOf("Pending Review"),
		RecommendedAction:     types.ValueOf("Verify the disputed payment and confirm with the customer."),
	}
	if threatening {
		res.PolicyViolations = append(res.PolicyViolations, types.Violation{
			ClauseID:      "RBI-REC-03",
			RuleName:      "No Undue Pressure",
			Severity:      "Medium",
			Description:   "Agent demanded same-day payment.",
			EvidenceQuote: "You must pay today itself.",
		})
		res.RiskEscalationScore = types.ValueOf(55)
	}
	content, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": string(content)}},
		},
	})
}
