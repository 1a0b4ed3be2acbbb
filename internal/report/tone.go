package report

import "strings"

const (
	TonePositive = "positive"
	ToneNeutral  = "neutral"
	ToneAngry    = "angry/frustrated"
	ToneFearful  = "fearful/anxious"
	ToneUrgent   = "urgent"
)

// Stems are matched as substrings so "harassing" hits "harass".
var (
	positiveStems = []string{
		"thank", "great", "good", "happy", "perfect", "nice", "appreciat",
		"wonderful", "excellent", "okay", "sure", "fine", "alright",
		"help", "assist", "solut", "resolv", "understand", "pleasant",
		"cooperat", "willing", "absolut", "certainly", "of course",
	}
	angryStems = []string{
		"angr", "upset", "frustrat", "annoy", "complain",
		"terribl", "horribl", "unacceptabl", "ridicul",
		"useless", "fraud", "scam", "cheat", "liar", "threaten", "threat",
		"demand", "refus", "impossib", "wrong", "mistak",
		"harass", "abuse", "abusiv", "insult", "stupid", "idiot",
		"nonsense", "enough", "fed up", "shut up", "get out",
		"illegal", "police", "jail", "arrest", "legal action",
	}
	fearfulStems = []string{
		"afraid", "scar", "worr", "anxious", "nervous", "panic",
		"fear", "stress", "concern", "uncertain", "confus", "lost",
		"beg", "mercy", "please don't", "please stop",
	}
	urgentStems = []string{
		"immediately", "asap", "urgent", "right away", "right now",
		"quick", "deadlin", "overd", "final notice", "last chance",
		"warning", "must pay", "pay now", "today itself",
	}
)

func stemScore(text string, stems []string) int {
	n := 0
	for _, s := range stems {
		if strings.Contains(text, s) {
			n++
		}
	}
	return n
}

// ClassifyTone labels one utterance. Priority: angry, fearful, urgent,
// positive, neutral; anger needs at least as many hits as positivity.
func ClassifyTone(message string) string {
	text := strings.ToLower(message)

	angry := stemScore(text, angryStems)
	positive := stemScore(text, positiveStems)

	switch {
	case angry >= 1 && angry >= positive:
		return ToneAngry
	case stemScore(text, fearfulStems) >= 1:
		return ToneFearful
	case stemScore(text, urgentStems) >= 1:
		return ToneUrgent
	case positive >= 1:
		return TonePositive
	}
	return ToneNeutral
}
