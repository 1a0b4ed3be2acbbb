package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vigilant-go/internal/types"
)

const promptTemplate = `You are a senior RBI (Reserve Bank of India) compliance auditor called "Vigilant".
You audit debt recovery calls for policy violations, emotional tone and agent conduct.

You are given:
1. TRANSCRIPT: diarized call transcript (agent vs. customer turns with timestamps)
2. ACOUSTIC DATA: per-segment audio emotion data (energy, pitch, arousal level)
3. POLICY CLAUSES: the complete set of clauses you MUST check, most relevant first
4. CLIENT CONFIG: active risk triggers and rules for this tenant
5. CALL TIME: when the call was placed and whether it breached calling hours

----------------------------------------------------------------------
TRANSCRIPT:
%s

----------------------------------------------------------------------
ACOUSTIC DATA:
%s

----------------------------------------------------------------------
MOST RELEVANT CLAUSES (retrieved for the agent's own words):
%s

ALL POLICY CLAUSES (CHECK EVERY SINGLE ONE AGAINST THE TRANSCRIPT):
%s

----------------------------------------------------------------------
CLIENT CONFIG:
%s

----------------------------------------------------------------------
CALL TIMESTAMP (UTC): %s
CALL TIMESTAMP (LOCAL): %s
TIME VIOLATION DETECTED: %s
%s
----------------------------------------------------------------------

MANDATORY COMPLIANCE CHECK INSTRUCTIONS:
1. Read EVERY clause listed above and decide whether the agent violated it.
2. Every violation goes into "policy_violations" with exact evidence.
3. Be strict. A missed violation is worse than a false positive.
4. Watch for threats, intimidation, unauthorized visits, calls outside permitted hours,
   police/jail/legal action mentioned without basis, lack of empathy, abusive language.

Return ONLY valid JSON (no markdown, no commentary) with EXACTLY these top-level keys:

{
  "summary": "3-sentence intelligence summary of what happened",
  "category": "call category e.g. Fraud Complaint / Debt Recovery",
  "overall_sentiment": "e.g. Negative / High Tension",
  "emotional_tone": "e.g. Distressed / Aggressive",
  "tone_progression": ["ordered list tracking tone evolution"],
  "emotional_graph": [
    {"timestamp": "MM:SS", "tone": "Neutral|Frustrated|Angry|Threatening|Distressed|Aggressive", "score": 0.0, "acoustic_arousal": "Low|Medium|High"}
  ],
  "emotion_timeline": [{"time": "start", "emotion": "neutral"}],
  "is_within_policy": false,
  "compliance_flags": ["high-level flag names"],
  "policy_violations": [
    {"clause_id": "", "rule_name": "", "severity": "low|medium|high|critical", "description": "", "timestamp": "MM:SS", "evidence_quote": "exact agent quote"}
  ],
  "detected_threats": ["plain English threat descriptions"],
  "fraud_risk": "low|medium|high",
  "escalation_risk": "low|medium|high",
  "urgency_level": "low|medium|high",
  "risk_escalation_score": 0,
  "agent_politeness": "excellent|good|fair|poor|unacceptable",
  "agent_empathy": "high|medium|low|none",
  "agent_professionalism": "excellent|good|fair|poor|unacceptable",
  "agent_quality_score": 0,
  "call_outcome_prediction": "e.g. Escalation Likely",
  "repeat_complaint_detected": false,
  "final_status": "e.g. Escalated to Compliance Manager",
  "recommended_action": "specific action for the compliance team"
}

Rules:
- emotional_graph has one entry per ~30 seconds of conversation, using transcript timestamps
- merge acoustic_arousal from ACOUSTIC DATA with the conversational tone
- policy_violations must cite real clause_ids from the clauses above
- severity: "critical" criminal threats/violence, "high" intimidation/harassment, "medium" procedural breach, "low" minor
- if a time violation was detected, add it with clause_id %s and severity "high"
- risk_escalation_score: 0-100 integer; agent_quality_score: 0-100 (100 = perfect agent)
- evidence_quote must be an exact agent utterance from the transcript
`

// BuildPrompt renders the single reasoning payload from its inputs.
func BuildPrompt(in Input) string {
	cfg, _ := json.MarshalIndent(in.Config, "", "  ")

	detail := ""
	violated := "NO"
	if in.Time.Violation {
		violated = "YES"
		detail = "TIME VIOLATION DETAIL: " + in.Time.Description + "\n"
	}
	clauseID := in.Time.ClauseID
	if clauseID == "" {
		clauseID = "INTERNAL-TIME-01"
	}

	return fmt.Sprintf(promptTemplate,
		formatTranscript(in.Transcript.Utterances),
		formatAcoustic(in.Segments),
		formatClauses(in.Relevant, "None retrieved."),
		formatClauses(in.Clauses, "No specific clauses available. Apply general RBI recovery guidelines."),
		string(cfg),
		in.CallTime.UTC().Format(time.RFC3339),
		in.Time.LocalTime,
		violated,
		detail,
		clauseID,
	)
}

func formatTranscript(us []types.Utterance) string {
	if len(us) == 0 {
		return "(empty transcript)"
	}
	var b strings.Builder
	for _, u := range us {
		fmt.Fprintf(&b, "[%s] %s: %s\n", types.Clock(u.Offset), strings.ToUpper(string(u.Speaker)), u.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatAcoustic(segs []types.AcousticSegment) string {
	if len(segs) == 0 {
		return "No acoustic data available."
	}
	var b strings.Builder
	for _, s := range segs {
		pitch := "unvoiced"
		if s.PitchHz != nil {
			pitch = fmt.Sprintf("%.0fHz", *s.PitchHz)
		}
		fmt.Fprintf(&b, "[%s] Energy=%.2f Pitch=%s ZCR=%.4f Arousal=%s\n",
			types.Clock(s.Start), s.Energy, pitch, s.ZCR, s.Arousal)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatClauses(cs []types.Clause, empty string) string {
	if len(cs) == 0 {
		return empty
	}
	var b strings.Builder
	for _, c := range cs {
		desc := c.Description
		if r := []rune(desc); len(r) > 200 {
			desc = string(r[:200])
		}
		fmt.Fprintf(&b, "[%s] %s\n  %s\n", c.ID, c.RuleName, desc)
	}
	return strings.TrimRight(b.String(), "\n")
}
