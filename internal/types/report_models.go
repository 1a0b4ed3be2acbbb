package types

// Reasoning is the compliance reasoner's answer. Field values are passed
// through to the report as received.
type Reasoning struct {
	Summary                 string          `json:"summary"`
	Category                string          `json:"category"`
	OverallSentiment        Value           `json:"overall_sentiment"`
	EmotionalTone           Value           `json:"emotional_tone"`
	ToneProgression         []string        `json:"tone_progression"`
	EmotionalGraph          []GraphPoint    `json:"emotional_graph"`
	EmotionTimeline         []TimelinePoint `json:"emotion_timeline"`
	IsWithinPolicy          Value           `json:"is_within_policy"`
	ComplianceFlags         []string        `json:"compliance_flags"`
	PolicyViolations        []Violation     `json:"policy_violations"`
	DetectedThreats         []string        `json:"detected_threats"`
	FraudRisk               Value           `json:"fraud_risk"`
	EscalationRisk          Value           `json:"escalation_risk"`
	UrgencyLevel            Value           `json:"urgency_level"`
	RiskEscalationScore     Value           `json:"risk_escalation_score"`
	AgentPoliteness         Value           `json:"agent_politeness"`
	AgentEmpathy            Value           `json:"agent_empathy"`
	AgentProfessionalism    Value           `json:"agent_professionalism"`
	AgentQualityScore       Value           `json:"agent_quality_score"`
	CallOutcomePrediction   Value           `json:"call_outcome_prediction"`
	RepeatComplaintDetected Value           `json:"repeat_complaint_detected"`
	FinalStatus             Value           `json:"final_status"`
	RecommendedAction       Value           `json:"recommended_action"`
}

type GraphPoint struct {
	Timestamp       string  `json:"timestamp"`
	Tone            string  `json:"tone"`
	Score           float64 `json:"score"`
	AcousticArousal string  `json:"acoustic_arousal"`
}

type TimelinePoint struct {
	Time    string `json:"time"`
	Emotion string `json:"emotion"`
}

type Violation struct {
	ClauseID      string `json:"clause_id"`
	RuleName      string `json:"rule_name"`
	Severity      string `json:"severity"`
	Description   string `json:"description"`
	Timestamp     string `json:"timestamp"`
	EvidenceQuote string `json:"evidence_quote"`
}

// --------------------------------------------
// Final audit report
// --------------------------------------------
type AuditReport struct {
	RequestID              string              `json:"request_id"`
	Metadata               Metadata            `json:"metadata"`
	ConfigApplied          ConfigApplied       `json:"config_applied"`
	IntelligenceSummary    IntelligenceSummary `json:"intelligence_summary"`
	EmotionalAnalysis      EmotionalAnalysis   `json:"emotional_and_tonal_analysis"`
	ComplianceAudit        ComplianceAudit     `json:"compliance_and_risk_audit"`
	TranscriptThreads      []TranscriptThread  `json:"transcript_threads"`
	PerformanceAndOutcomes PerformanceOutcomes `json:"performance_and_outcomes"`
}

type Metadata struct {
	Timestamp              string   `json:"timestamp"`
	DetectedLanguages      []string `json:"detected_languages"`
	ProcessingTimeMs       int64    `json:"processing_time_ms"`
	ConversationComplexity string   `json:"conversation_complexity"`
}

type ConfigApplied struct {
	BusinessDomain    string   `json:"business_domain"`
	MonitoredProducts []string `json:"monitored_products"`
	ActivePolicySet   string   `json:"active_policy_set"`
	RiskTriggers      []string `json:"risk_triggers"`
}

type IntelligenceSummary struct {
	Summary           string   `json:"summary"`
	Category          string   `json:"category"`
	ConversationAbout string   `json:"conversation_about"`
	PrimaryIntent     string   `json:"primary_intent"`
	KeyTopics         []string `json:"key_topics"`
	Entities          []Entity `json:"entities"`
	RootCause         string   `json:"root_cause"`
}

type EmotionalAnalysis struct {
	OverallSentiment Value           `json:"overall_sentiment"`
	EmotionalTone    Value           `json:"emotional_tone"`
	ToneProgression  []string        `json:"tone_progression"`
	EmotionalGraph   []GraphPoint    `json:"emotional_graph"`
	EmotionTimeline  []TimelinePoint `json:"emotion_timeline"`
}

type ComplianceAudit struct {
	IsWithinPolicy   Value       `json:"is_within_policy"`
	ComplianceFlags  []string    `json:"compliance_flags"`
	PolicyViolations []Violation `json:"policy_violations"`
	DetectedThreats  []string    `json:"detected_threats"`
	RiskScores       RiskScores  `json:"risk_scores"`
}

type RiskScores struct {
	FraudRisk           Value `json:"fraud_risk"`
	EscalationRisk      Value `json:"escalation_risk"`
	UrgencyLevel        Value `json:"urgency_level"`
	RiskEscalationScore Value `json:"risk_escalation_score"`
}

type TranscriptThread struct {
	Speaker   Speaker `json:"speaker"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	Tone      string  `json:"tone"`
}

type PerformanceOutcomes struct {
	AgentPerformance        AgentPerformance `json:"agent_performance"`
	CallOutcomePrediction   Value            `json:"call_outcome_prediction"`
	RepeatComplaintDetected Value            `json:"repeat_complaint_detected"`
	FinalStatus             Value            `json:"final_status"`
	RecommendedAction       Value            `json:"recommended_action"`
}

type AgentPerformance struct {
	Politeness          Value `json:"politeness"`
	Empathy             Value `json:"empathy"`
	Professionalism     Value `json:"professionalism"`
	OverallQualityScore Value `json:"overall_quality_score"`
}
