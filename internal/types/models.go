package types

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
	SpeakerUnknown  Speaker = "unknown"
)

// ParseSpeaker maps a free-form role label onto the closed speaker set.
func ParseSpeaker(s string) Speaker {
	switch sp := Speaker(strings.ToLower(strings.TrimSpace(s))); sp {
	case SpeakerAgent, SpeakerCustomer:
		return sp
	}
	return SpeakerUnknown
}

type Arousal string

const (
	ArousalLow    Arousal = "Low"
	ArousalMedium Arousal = "Medium"
	ArousalHigh   Arousal = "High"
)

// Artifact is the temporary on-disk copy of the uploaded audio. Adapters
// only read it; the orchestrator owns its lifetime.
type Artifact struct {
	ID     string
	Path   string
	Format string
	Size   int64
}

func (a Artifact) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// AcousticSegment is one fixed-width analysis window. PitchHz is nil when
// the window is unvoiced.
type AcousticSegment struct {
	Start   time.Duration
	Energy  float64
	PitchHz *float64
	ZCR     float64
	Arousal Arousal
}

type Utterance struct {
	Speaker Speaker
	Text    string
	Offset  time.Duration
}

type Entity struct {
	Text string `json:"text"`
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Transcription is the structured output of the transcription stage.
type Transcription struct {
	Languages         []string
	Utterances        []Utterance
	KeyTopics         []string
	Entities          []Entity
	PrimaryIntent     string
	RootCause         string
	ConversationAbout string
	Category          string
}

// Clause is one addressable unit of reference policy text.
type Clause struct {
	ID          string `json:"clause_id"`
	RuleName    string `json:"rule_name"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// TimeCheck is the outcome of the calling-hours check.
type TimeCheck struct {
	Violation   bool   `json:"violation"`
	LocalTime   string `json:"local_time"`
	ClauseID    string `json:"clause_id"`
	RuleName    string `json:"rule_name"`
	Description string `json:"description"`
}

// Clock renders an offset as MM:SS.
func Clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
