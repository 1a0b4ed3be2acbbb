package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vigilant-go/internal/apperr"
)

// ValidationError lists every offending field of a malformed override.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid client config: " + strings.Join(e.Issues, "; ")
}

func invalid(op string, issues []string) error {
	return apperr.Wrap(apperr.KindValidation, op, &ValidationError{Issues: issues})
}

// Resolve merges o onto def. Lists are unions (default order first, novel
// override entries appended); scalars take the override when non-empty.
// A malformed override is rejected whole.
func Resolve(def Config, o *Override) (Config, error) {
	if o == nil {
		o = &Override{}
	}
	if issues := checkOverride(o); len(issues) > 0 {
		return Config{}, invalid("config.resolve", issues)
	}
	return Config{
		BusinessDomain:    pick(def.BusinessDomain, o.BusinessDomain),
		MonitoredProducts: union(def.MonitoredProducts, o.MonitoredProducts),
		ActivePolicySet:   pick(def.ActivePolicySet, o.ActivePolicySet),
		RiskTriggers:      union(def.RiskTriggers, o.RiskTriggers),
		CustomRules:       unionRules(def.CustomRules, o.CustomRules),
	}, nil
}

func pick(def, over string) string {
	if s := strings.TrimSpace(over); s != "" {
		return s
	}
	return def
}

func union(def, over []string) []string {
	out := make([]string, 0, len(def)+len(over))
	seen := make(map[string]struct{}, len(def)+len(over))
	for _, list := range [][]string{def, over} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func unionRules(def, over []Rule) []Rule {
	out := make([]Rule, 0, len(def)+len(over))
	seen := make(map[string]struct{}, len(def)+len(over))
	for _, list := range [][]Rule{def, over} {
		for _, r := range list {
			if _, ok := seen[r.RuleID]; ok {
				continue
			}
			seen[r.RuleID] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func checkOverride(o *Override) []string {
	var issues []string
	issues = append(issues, checkList("monitored_products", o.MonitoredProducts)...)
	issues = append(issues, checkList("risk_triggers", o.RiskTriggers)...)
	issues = append(issues, checkRules("custom_rules", o.CustomRules)...)
	return issues
}

func checkList(field string, list []string) []string {
	var issues []string
	for i, v := range list {
		if strings.TrimSpace(v) == "" {
			issues = append(issues, fmt.Sprintf("'%s[%d]' must be a non-empty string.", field, i))
		}
	}
	return issues
}

func checkRules(field string, rules []Rule) []string {
	var issues []string
	for i, r := range rules {
		if strings.TrimSpace(r.RuleID) == "" || strings.TrimSpace(r.RuleName) == "" {
			issues = append(issues, fmt.Sprintf("'%s[%d]' must have 'rule_id' and 'rule_name'.", field, i))
		}
	}
	return issues
}

// ParseOverride decodes a raw client_config document. Blank input means no
// override. Type errors are collected per field rather than stopping at the
// first one.
func ParseOverride(raw []byte) (*Override, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, invalid("config.parse_override", []string{fmt.Sprintf("client_config must be a JSON object: %v", err)})
	}
	if doc == nil {
		return nil, invalid("config.parse_override", []string{"client_config must be a JSON object"})
	}

	var issues []string
	o := &Override{}
	if v, ok := doc["business_domain"]; ok {
		s, isStr := v.(string)
		if !isStr {
			issues = append(issues, "'business_domain' must be a string.")
		}
		o.BusinessDomain = s
	}
	if v, ok := doc["active_policy_set"]; ok {
		s, isStr := v.(string)
		if !isStr {
			issues = append(issues, "'active_policy_set' must be a string.")
		}
		o.ActivePolicySet = s
	}
	for _, f := range []struct {
		key string
		dst *[]string
	}{
		{"monitored_products", &o.MonitoredProducts},
		{"risk_triggers", &o.RiskTriggers},
	} {
		v, ok := doc[f.key]
		if !ok {
			continue
		}
		list, msg := stringList(f.key, v)
		if msg != "" {
			issues = append(issues, msg)
			continue
		}
		*f.dst = list
	}
	if v, ok := doc["custom_rules"]; ok {
		rules, msgs := ruleList(v)
		issues = append(issues, msgs...)
		o.CustomRules = rules
	}
	if len(issues) > 0 {
		return nil, invalid("config.parse_override", issues)
	}
	if issues := checkOverride(o); len(issues) > 0 {
		return nil, invalid("config.parse_override", issues)
	}
	return o, nil
}

func stringList(key string, v any) ([]string, string) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Sprintf("'%s' must be an array of strings.", key)
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Sprintf("'%s' must be an array of strings.", key)
		}
		out = append(out, s)
	}
	return out, ""
}

func ruleList(v any) ([]Rule, []string) {
	arr, ok := v.([]any)
	if !ok {
		return nil, []string{"'custom_rules' must be an array of objects."}
	}
	var issues []string
	rules := make([]Rule, 0, len(arr))
	for i, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			issues = append(issues, fmt.Sprintf("'custom_rules[%d]' must be an object.", i))
			continue
		}
		id, _ := m["rule_id"].(string)
		name, _ := m["rule_name"].(string)
		desc, _ := m["description"].(string)
		if id == "" || name == "" {
			issues = append(issues, fmt.Sprintf("'custom_rules[%d]' must have 'rule_id' and 'rule_name'.", i))
			continue
		}
		rules = append(rules, Rule{RuleID: id, RuleName: name, Description: desc})
	}
	return rules, issues
}

// Report is the answer of the config validation endpoint.
type Report struct {
	Valid           bool     `json:"valid"`
	Issues          []string `json:"issues"`
	EffectiveConfig *Config  `json:"effective_config"`
}

// Validate parses raw and, when it is well formed, resolves it against def.
func Validate(def Config, raw []byte) Report {
	o, err := ParseOverride(raw)
	if err == nil {
		var eff Config
		if eff, err = Resolve(def, o); err == nil {
			return Report{Valid: true, Issues: []string{}, EffectiveConfig: &eff}
		}
	}
	return Report{Valid: false, Issues: Issues(err)}
}

// Issues extracts the per-field messages from a validation error.
func Issues(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Issues
	}
	if err == nil {
		return []string{}
	}
	return []string{err.Error()}
}
