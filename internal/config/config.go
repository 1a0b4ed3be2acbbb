// Package config resolves a tenant's client configuration against the
// process-wide default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is a tenant-specific policy rule checked alongside the catalogue.
type Rule struct {
	RuleID      string `json:"rule_id" yaml:"rule_id"`
	RuleName    string `json:"rule_name" yaml:"rule_name"`
	Description string `json:"description" yaml:"description"`
}

// Config is both the default document and the effective per-request result.
type Config struct {
	BusinessDomain    string   `json:"business_domain" yaml:"business_domain"`
	MonitoredProducts []string `json:"monitored_products" yaml:"monitored_products"`
	ActivePolicySet   string   `json:"active_policy_set" yaml:"active_policy_set"`
	RiskTriggers      []string `json:"risk_triggers" yaml:"risk_triggers"`
	CustomRules       []Rule   `json:"custom_rules" yaml:"custom_rules"`
}

// Override is a tenant's partial configuration. Empty scalars and nil lists
// mean "not set".
type Override struct {
	BusinessDomain    string   `json:"business_domain,omitempty"`
	MonitoredProducts []string `json:"monitored_products,omitempty"`
	ActivePolicySet   string   `json:"active_policy_set,omitempty"`
	RiskTriggers      []string `json:"risk_triggers,omitempty"`
	CustomRules       []Rule   `json:"custom_rules,omitempty"`
}

// Builtin is the default used when no document is configured.
func Builtin() Config {
	return Config{
		BusinessDomain:    "Banking / Debt Recovery",
		MonitoredProducts: []string{"Credit Card", "Personal Loan", "Home Loan"},
		ActivePolicySet:   "RBI_Compliance_v2.1",
		RiskTriggers:      []string{"Legal Threats", "Harassment", "Jail Mention", "Coercion"},
		CustomRules:       []Rule{},
	}
}

// LoadDefault reads the default document. YAML is chosen by extension,
// everything else is decoded as JSON.
func LoadDefault(path string) (Config, error) {
	if path == "" {
		return Builtin(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read default config: %w", err)
	}
	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &c)
	default:
		err = json.Unmarshal(raw, &c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("decode default config %s: %w", path, err)
	}
	if issues := checkRules("custom_rules", c.CustomRules); len(issues) > 0 {
		return Config{}, invalid("config.load_default", issues)
	}
	// normalise through the resolver so the default is already a fixed point
	return Resolve(c, nil)
}
