package rules

import (
	"fmt"
	"strings"
)

// FactKind identifies one of the four clinical-fact types.
type FactKind string

const (
	KindSymptom         FactKind = "symptom"
	KindPersonalHistory FactKind = "personal_history"
	KindVitalSign       FactKind = "vital_sign"
	KindTest            FactKind = "test"
)

var FactKinds = []FactKind{KindSymptom, KindPersonalHistory, KindVitalSign, KindTest}

// Thresholded reports whether rules for the kind compare a numeric value.
func (k FactKind) Thresholded() bool {
	return k == KindVitalSign || k == KindTest
}

// Feeds reports whether facts of kind k contribute keys to category c. Test
// results never produce tests-to-order suggestions.
func (k FactKind) Feeds(c Category) bool {
	return !(k == KindTest && c == TestsToOrder)
}

// ParseFactKind accepts the canonical name and the plural URL forms
// ("symptoms", "personal-history", "vital-signs", "tests").
func ParseFactKind(s string) (FactKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "symptom", "symptoms":
		return KindSymptom, nil
	case "personal_history", "personal-history", "personal-histories":
		return KindPersonalHistory, nil
	case "vital_sign", "vital-sign", "vital-signs", "vitals":
		return KindVitalSign, nil
	case "test", "tests":
		return KindTest, nil
	}
	return "", fmt.Errorf("unknown fact kind %q", s)
}

// Category is an output category of the decision rules.
type Category string

const (
	FollowUpActions         Category = "follow_up_actions"
	Recommendations         Category = "recommendations"
	Referrals               Category = "referrals"
	LifestyleAdviceCategory Category = "lifestyle_advice"
	PresumptiveDiagnoses    Category = "presumptive_diagnoses"
	TestsToOrder            Category = "tests_to_order"

	// Risks are evaluated on read and never persisted.
	Risks Category = "risks"
)

// Categories are the persisted, reconciled summary categories.
var Categories = []Category{
	FollowUpActions, Recommendations, Referrals, LifestyleAdviceCategory, PresumptiveDiagnoses, TestsToOrder,
}

var allCategories = append(append([]Category{}, Categories...), Risks)

func ParseCategory(s string) (Category, error) {
	norm := Category(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, c := range Categories {
		if c == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown summary category %q", s)
}

type Gender string

const (
	Male   Gender = "Male"
	Female Gender = "Female"
)

func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m":
		return Male, nil
	case "female", "f":
		return Female, nil
	}
	return "", fmt.Errorf("unknown gender %q", s)
}

// DecisionRule maps a fact code, optionally narrowed by age bracket and
// gender, to catalog keys. Threshold kinds also carry min/max expressions.
type DecisionRule struct {
	ID       int64               `json:"id"`
	Kind     FactKind            `json:"kind"`
	FactCode string              `json:"fact_code"`
	AgeGroup *AgeBracket         `json:"age_group,omitempty"`
	Gender   *Gender             `json:"gender,omitempty"`
	MinValue *string             `json:"min_value,omitempty"`
	MaxValue *string             `json:"max_value,omitempty"`
	Keys     map[Category]string `json:"keys"`
}

// Key returns the catalog key the rule assigns to c, if any.
func (r DecisionRule) Key(c Category) (string, bool) {
	k, ok := r.Keys[c]
	if !ok || strings.TrimSpace(k) == "" {
		return "", false
	}
	return k, true
}

// AppliesTo is the wildcard-or-exact match on age bracket and gender.
func (r DecisionRule) AppliesTo(s Stratum) bool {
	if r.AgeGroup != nil && *r.AgeGroup != s.Bracket {
		return false
	}
	if r.Gender != nil && *r.Gender != s.Gender {
		return false
	}
	return true
}

// DictionaryEntry is a reference definition a clinical fact points at.
type DictionaryEntry struct {
	Kind     FactKind `json:"kind" yaml:"-"`
	Code     string   `json:"code" yaml:"code"`
	Name     string   `json:"name" yaml:"name"`
	Category string   `json:"category,omitempty" yaml:"category"`
	Unit     string   `json:"unit,omitempty" yaml:"unit"`
}
