package transcription

import (
	"context"
	"strconv"
	"strings"
	"time"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/types"
)

// Document is the transcript JSON served by the transcription service.
type Document struct {
	DetectedLanguages []string       `json:"detected_languages"`
	DurationSeconds   float64        `json:"duration_seconds"`
	Threads           []Thread       `json:"transcript_threads"`
	KeyTopics         []string       `json:"key_topics"`
	Entities          []types.Entity `json:"entities"`
	PrimaryIntent     string         `json:"primary_intent"`
	RootCause         string         `json:"root_cause"`
	ConversationAbout string         `json:"conversation_about"`
	Category          string         `json:"category"`
}

type Thread struct {
	Speaker   string `json:"speaker"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Normalize maps the wire document onto the domain transcript: unknown
// roles collapse to unknown, missing languages default to English, and
// offsets are forced to be non-decreasing.
func Normalize(doc Document) types.Transcription {
	tr := types.Transcription{
		Languages:         nonEmpty(doc.DetectedLanguages),
		KeyTopics:         doc.KeyTopics,
		Entities:          doc.Entities,
		PrimaryIntent:     orUnknown(doc.PrimaryIntent),
		RootCause:         orUnknown(doc.RootCause),
		ConversationAbout: orUnknown(doc.ConversationAbout),
		Category:          orUnknown(doc.Category),
	}
	if len(tr.Languages) == 0 {
		tr.Languages = []string{"English"}
	}

	offsets := make([]time.Duration, len(doc.Threads))
	for i, th := range doc.Threads {
		offsets[i] = parseClock(th.Timestamp)
	}
	offsets = RepairOffsets(offsets, time.Duration(doc.DurationSeconds*float64(time.Second)))

	tr.Utterances = make([]types.Utterance, len(doc.Threads))
	for i, th := range doc.Threads {
		tr.Utterances[i] = types.Utterance{
			Speaker: types.ParseSpeaker(th.Speaker),
			Text:    strings.TrimSpace(th.Message),
			Offset:  offsets[i],
		}
	}
	return tr
}

// RepairOffsets redistributes offsets evenly over duration when they are
// clearly wrong (all identical, out of order, or past the end). Without a
// known duration, out-of-order offsets are clamped to their predecessor.
// Negative (unparseable) offsets count as broken.
func RepairOffsets(offsets []time.Duration, duration time.Duration) []time.Duration {
	n := len(offsets)
	if n == 0 {
		return offsets
	}
	broken := false
	allSame := n > 1
	for i, o := range offsets {
		if o < 0 {
			broken = true
		}
		if i > 0 {
			if o < offsets[i-1] {
				broken = true
			}
			if o != offsets[0] {
				allSame = false
			}
		}
	}
	if duration > 0 && offsets[n-1] > duration+duration/10 {
		broken = true
	}
	if !broken && !allSame {
		return offsets
	}

	out := make([]time.Duration, n)
	if duration > 0 {
		step := duration / time.Duration(n)
		for i := range out {
			out[i] = (time.Duration(i) * step).Truncate(time.Second)
		}
		return out
	}
	var prev time.Duration
	for i, o := range offsets {
		if o < prev {
			o = prev
		}
		out[i] = o
		prev = o
	}
	return out
}

// parseClock reads MM:SS (or HH:MM:SS); -1 when unparseable.
func parseClock(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return -1
	}
	total := 0
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return -1
		}
		total = total*60 + v
	}
	return time.Duration(total) * time.Second
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

// Mock returns a fixed collections call so the pipeline runs without the
// transcription service.
type Mock struct {
	Doc *Document
}

func (m Mock) Transcribe(ctx context.Context, art types.Artifact) (types.Transcription, error) {
	if ctx.Err() != nil {
		return types.Transcription{}, apperr.FromContext(ctx, op)
	}
	if art.Size == 0 {
		return types.Transcription{}, apperr.New(apperr.KindDecodeFailure, op, "artifact is empty")
	}
	if m.Doc != nil {
		return Normalize(*m.Doc), nil
	}
	return Normalize(Document{
		DetectedLanguages: []string{"English", "Hindi"},
		DurationSeconds:   45,
		Threads: []Thread{
			{Speaker: "agent", Message: "Hello, I am calling regarding your outstanding loan dues.", Timestamp: "00:02"},
			{Speaker: "customer", Message: "I have already paid last week. Please check your records.", Timestamp: "00:09"},
			{Speaker: "agent", Message: "Our system shows the EMI is overdue. You must pay today itself.", Timestamp: "00:17"},
			{Speaker: "customer", Message: "I am worried, please stop calling me so late.", Timestamp: "00:28"},
			{Speaker: "agent", Message: "I understand, I will verify the payment and call you back.", Timestamp: "00:36"},
		},
		KeyTopics: []string{"Debt Collection", "Payment Dispute", "Call Timing"},
		Entities: []types.Entity{
			{Text: "EMI", ID: "product_01", Type: "PRODUCT"},
			{Text: "last week", Type: "DATE"},
		},
		PrimaryIntent:     "Dispute outstanding payment",
		RootCause:         "Payment not reflected in lender records",
		ConversationAbout: "Loan repayment dispute",
		Category:          "Debt Recovery",
	}), nil
}
