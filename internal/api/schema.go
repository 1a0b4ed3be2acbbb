package api

import (
	"net/http"

	"vigilant-go/internal/pipeline"
	"vigilant-go/internal/types"
)

type fieldDoc struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Example     any    `json:"example"`
}

var configFields = map[string]fieldDoc{
	"business_domain": {
		Type:        "string",
		Description: "Industry or business vertical of the client",
		Example:     "Banking / Debt Recovery",
	},
	"monitored_products": {
		Type:        "array of strings",
		Description: "Products or services whose mentions should be tracked in calls",
		Example:     []string{"Credit Card", "Personal Loan", "Home Loan"},
	},
	"active_policy_set": {
		Type:        "string",
		Description: "Identifier for the policy ruleset to apply",
		Example:     "RBI_Compliance_v2.1",
	},
	"risk_triggers": {
		Type:        "array of strings",
		Description: "Keywords or phrases that flag a compliance risk when detected",
		Example:     []string{"Legal Threats", "Harassment", "Jail Mention", "Coercion"},
	},
	"custom_rules": {
		Type:        "array of objects {rule_id, rule_name, description}",
		Description: "Client-specific policy rules checked alongside the policy catalogue",
		Example: []map[string]string{{
			"rule_id":     "CUSTOM-01",
			"rule_name":   "No Script Deviation",
			"description": "Agent must follow approved call script at all times.",
		}},
	},
}

func (s *Server) configSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"description":       "Client configuration accepted as the client_config form field. Omitted fields fall back to GET /config.",
		"fields":            configFields,
		"supported_formats": pipeline.SupportedFormats,
	})
}

// completedReport extracts the report from the terminal complete event.
func completedReport(ev pipeline.StageEvent) (*types.AuditReport, bool) {
	if ev.Stage != pipeline.StageComplete || ev.Status != pipeline.StatusDone {
		return nil, false
	}
	rep, ok := ev.Result.(*types.AuditReport)
	return rep, ok
}
