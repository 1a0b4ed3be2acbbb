// Package aggregator folds archived audits into portfolio-level counts.
package aggregator

import (
	"sort"

	"vigilant-go/internal/archive"
)

type ClauseCount struct {
	ClauseID string  `json:"clause_id"`
	Calls    int     `json:"calls"`
	Rate     float64 `json:"rate"`
}

type Insight struct {
	TotalCalls       int            `json:"total_calls"`
	CallsInViolation int            `json:"calls_in_violation"`
	ViolationRate    float64        `json:"violation_rate"`
	AverageRisk      float64        `json:"average_risk_escalation_score"`
	ByClause         []ClauseCount  `json:"by_clause"`
	ByFinalStatus    map[string]int `json:"by_final_status"`
}

// Aggregate counts each clause once per call. ByClause is ordered by call
// count, then clause id.
func Aggregate(reports []archive.Summary) Insight {
	ins := Insight{ByClause: []ClauseCount{}, ByFinalStatus: map[string]int{}}
	clauseCalls := map[string]int{}
	riskSum := 0.0
	for _, r := range reports {
		ins.TotalCalls++
		riskSum += r.RiskScore
		if r.FinalStatus != "" {
			ins.ByFinalStatus[r.FinalStatus]++
		}
		if r.Violations > 0 {
			ins.CallsInViolation++
		}
		seen := map[string]bool{}
		for _, id := range r.ClauseIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			clauseCalls[id]++
		}
	}
	if ins.TotalCalls == 0 {
		return ins
	}
	total := float64(ins.TotalCalls)
	ins.ViolationRate = float64(ins.CallsInViolation) / total
	ins.AverageRisk = riskSum / total
	for id, n := range clauseCalls {
		ins.ByClause = append(ins.ByClause, ClauseCount{ClauseID: id, Calls: n, Rate: float64(n) / total})
	}
	sort.Slice(ins.ByClause, func(i, j int) bool {
		a, b := ins.ByClause[i], ins.ByClause[j]
		if a.Calls != b.Calls {
			return a.Calls > b.Calls
		}
		return a.ClauseID < b.ClauseID
	})
	return ins
}
