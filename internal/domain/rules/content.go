package rules

import "strings"

// Content is the payload of a catalog entry or summary item. Values compare
// equal after Normalize when they denote the same suggestion.
type Content[C any] interface {
	comparable
	Normalize() C
	Validate() error
}

type FollowUpAction struct {
	Action   string `json:"action" yaml:"action"`
	Interval string `json:"interval" yaml:"interval"`
}

func (c FollowUpAction) Normalize() FollowUpAction {
	return FollowUpAction{Action: strings.TrimSpace(c.Action), Interval: strings.TrimSpace(c.Interval)}
}

func (c FollowUpAction) Validate() error { return required("action", c.Action) }

type Recommendation struct {
	Text string `json:"recommendation" yaml:"recommendation"`
}

func (c Recommendation) Normalize() Recommendation {
	return Recommendation{Text: strings.TrimSpace(c.Text)}
}

func (c Recommendation) Validate() error { return required("recommendation", c.Text) }

type Referral struct {
	Specialist string `json:"specialist" yaml:"specialist"`
	Reason     string `json:"reason" yaml:"reason"`
}

func (c Referral) Normalize() Referral {
	return Referral{Specialist: strings.TrimSpace(c.Specialist), Reason: strings.TrimSpace(c.Reason)}
}

func (c Referral) Validate() error { return required("specialist", c.Specialist) }

type LifestyleAdvice struct {
	Advice string `json:"advice" yaml:"advice"`
}

func (c LifestyleAdvice) Normalize() LifestyleAdvice {
	return LifestyleAdvice{Advice: strings.TrimSpace(c.Advice)}
}

func (c LifestyleAdvice) Validate() error { return required("advice", c.Advice) }

type PresumptiveDiagnosis struct {
	Name       string `json:"diagnosis" yaml:"diagnosis"`
	Confidence string `json:"confidence_level" yaml:"confidence_level"`
}

func (c PresumptiveDiagnosis) Normalize() PresumptiveDiagnosis {
	return PresumptiveDiagnosis{Name: strings.TrimSpace(c.Name), Confidence: strings.TrimSpace(c.Confidence)}
}

func (c PresumptiveDiagnosis) Validate() error { return required("diagnosis", c.Name) }

type TestToOrder struct {
	Name string `json:"test" yaml:"test"`
}

func (c TestToOrder) Normalize() TestToOrder {
	return TestToOrder{Name: strings.TrimSpace(c.Name)}
}

func (c TestToOrder) Validate() error { return required("test", c.Name) }

type Risk struct {
	Level  string `json:"level" yaml:"level"`
	Reason string `json:"reason" yaml:"reason"`
}

func (c Risk) Normalize() Risk {
	return Risk{Level: strings.TrimSpace(c.Level), Reason: strings.TrimSpace(c.Reason)}
}

func (c Risk) Validate() error { return required("level", c.Level) }

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &ValidationError{Field: field}
	}
	return nil
}

// ValidationError reports a missing content field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string { return e.Field + " is required" }
