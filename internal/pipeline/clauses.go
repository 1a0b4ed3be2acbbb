package pipeline

import (
	"fmt"
	"strings"
	"time"

	"vigilant-go/internal/config"
	"vigilant-go/internal/report"
	"vigilant-go/internal/types"
)

// SourceClientConfig marks clauses that came from the tenant's custom rules.
const SourceClientConfig = "client_config"

const (
	windowOpenHour  = 8
	windowCloseHour = 19
)

// DefaultUTCOffset is IST.
const DefaultUTCOffset = 5*time.Hour + 30*time.Minute

// ClauseSet is the deduplicated clause context handed to reasoning.
type ClauseSet struct {
	// All is catalogue, then retrieved, then tenant rules; first id wins.
	All []types.Clause
	// Relevant is the union of per-utterance retrievals in utterance order.
	Relevant []types.Clause
}

// MergeClauses folds the catalogue, per-query retrieval results and the
// tenant's custom rules into one ClauseSet. No id appears twice and every
// catalogue clause is kept.
func MergeClauses(catalogue []types.Clause, retrieved [][]types.Clause, custom []config.Rule) ClauseSet {
	var set ClauseSet

	seenRelevant := map[string]bool{}
	for _, batch := range retrieved {
		for _, c := range batch {
			if c.ID == "" || seenRelevant[c.ID] {
				continue
			}
			seenRelevant[c.ID] = true
			set.Relevant = append(set.Relevant, c)
		}
	}

	seen := map[string]bool{}
	add := func(c types.Clause) {
		if c.ID == "" || seen[c.ID] {
			return
		}
		seen[c.ID] = true
		set.All = append(set.All, c)
	}
	for _, c := range catalogue {
		add(c)
	}
	for _, c := range set.Relevant {
		add(c)
	}
	for _, r := range custom {
		add(types.Clause{
			ID:          r.RuleID,
			RuleName:    r.RuleName,
			Description: r.Description,
			Source:      SourceClientConfig,
		})
	}
	return set
}

// CheckTime flags calls placed outside [08:00, 19:00) local time, where
// local time is ts shifted by the fixed offset.
func CheckTime(ts time.Time, offset time.Duration) types.TimeCheck {
	local := ts.In(time.FixedZone("local", int(offset/time.Second)))
	hour := local.Hour()
	clock := local.Format("15:04")

	tc := types.TimeCheck{
		Violation: hour < windowOpenHour || hour >= windowCloseHour,
		LocalTime: clock,
		ClauseID:  report.TimeClauseID,
		RuleName:  report.TimeRuleName,
	}
	if !tc.Violation {
		tc.Description = fmt.Sprintf("Call placed within approved hours. Local time: %s.", clock)
		return tc
	}
	period := "evening (after 7 PM)"
	if hour < windowOpenHour {
		period = "morning (before 8 AM)"
	}
	tc.Description = fmt.Sprintf("Call placed outside approved hours (8 AM - 7 PM local). "+
		"Call was received at %s, which is in the %s.", clock, period)
	return tc
}

// retrievalQueries picks what to search the clause store with: the agent's
// utterances, or every utterance when the agent never spoke.
func retrievalQueries(us []types.Utterance) []string {
	var agent, all []string
	for _, u := range us {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		all = append(all, text)
		if u.Speaker == types.SpeakerAgent {
			agent = append(agent, text)
		}
	}
	if len(agent) > 0 {
		return agent
	}
	return all
}
