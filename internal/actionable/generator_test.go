package actionable

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vigilant-go/internal/aggregator"
)

func TestGenerate(t *testing.T) {
	cases := []struct {
		name string
		ins  aggregator.Insight
		want string
	}{
		{"too few calls", aggregator.Insight{TotalCalls: 2, ViolationRate: 1}, "Monitor and collect more data"},
		{"recurring clause", aggregator.Insight{TotalCalls: 10, ByClause: []aggregator.ClauseCount{{ClauseID: "RBI-2", Calls: 5, Rate: 0.5}}},
			"Targeted agent retraining on RBI-2; add it to QA call sampling"},
		{"calling hours", aggregator.Insight{TotalCalls: 10, ByClause: []aggregator.ClauseCount{{ClauseID: "INTERNAL-TIME-01", Calls: 4, Rate: 0.4}}},
			"Enforce dialer time windows per customer time zone"},
		{"spread out", aggregator.Insight{TotalCalls: 10, ViolationRate: 0.6, ByClause: []aggregator.ClauseCount{{ClauseID: "RBI-2", Calls: 2, Rate: 0.2}}},
			"Refresh the collections script and review escalation handling"},
		{"quiet", aggregator.Insight{TotalCalls: 10, ViolationRate: 0.1}, "Continue routine QA sampling"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Generate(tc.ins).Action)
		})
	}
}
