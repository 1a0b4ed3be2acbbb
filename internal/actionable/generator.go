package actionable

import (
	"fmt"

	"vigilant-go/internal/aggregator"
	"vigilant-go/internal/report"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const (
	recurringClauseRate = 0.35
	minCalls            = 5
)

func Generate(ins aggregator.Insight) ActionCard {
	if ins.TotalCalls < minCalls {
		return ActionCard{
			Insight: fmt.Sprintf("Only %d audited calls on record", ins.TotalCalls),
			Action:  "Monitor and collect more data",
			Impact:  "Low immediate intervention",
		}
	}
	if len(ins.ByClause) > 0 && ins.ByClause[0].Rate >= recurringClauseRate {
		worst := ins.ByClause[0]
		if worst.ClauseID == report.TimeClauseID {
			return ActionCard{
				Insight: fmt.Sprintf("Calls outside approved hours in %.0f%% of audits", worst.Rate*100),
				Action:  "Enforce dialer time windows per customer time zone",
				Impact:  "Removes the most frequent regulatory breach",
			}
		}
		return ActionCard{
			Insight: fmt.Sprintf("Recurring breach of %s (%.0f%% of calls)", worst.ClauseID, worst.Rate*100),
			Action:  fmt.Sprintf("Targeted agent retraining on %s; add it to QA call sampling", worst.ClauseID),
			Impact:  "Reduce repeat violations and regulatory exposure",
		}
	}
	if ins.ViolationRate >= recurringClauseRate {
		return ActionCard{
			Insight: fmt.Sprintf("Violations spread across clauses in %.0f%% of calls", ins.ViolationRate*100),
			Action:  "Refresh the collections script and review escalation handling",
			Impact:  "Broad reduction in compliance risk",
		}
	}
	return ActionCard{
		Insight: "No strong violation pattern detected",
		Action:  "Continue routine QA sampling",
		Impact:  "Low immediate intervention",
	}
}
