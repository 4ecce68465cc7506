package summary

import "github.com/ehr/cds/internal/domain/rules"

// Kind describes a summary category to the generic store and reconciler:
// where its items live, which columns hold content, and which catalog
// table suggests them.
type Kind[C rules.Content[C]] interface {
	Category() rules.Category
	Table() string
	Columns() []string
	// Fields returns pointers to the content fields in column order.
	Fields(c *C) []*string
	Catalog(cat *rules.Catalog) *rules.Table[C]
}

type kind[C rules.Content[C]] struct {
	category rules.Category
	table    string
	columns  []string
	fields   func(*C) []*string
	catalog  func(*rules.Catalog) *rules.Table[C]
}

func (k kind[C]) Category() rules.Category { return k.category }
func (k kind[C]) Table() string            { return k.table }
func (k kind[C]) Columns() []string        { return k.columns }
func (k kind[C]) Fields(c *C) []*string    { return k.fields(c) }

func (k kind[C]) Catalog(cat *rules.Catalog) *rules.Table[C] {
	if cat == nil {
		return nil
	}
	return k.catalog(cat)
}

var (
	FollowUpActionKind Kind[rules.FollowUpAction] = kind[rules.FollowUpAction]{
		category: rules.FollowUpActions,
		table:    "patient_follow_up_action",
		columns:  []string{"action", "repeat_interval"},
		fields:   func(c *rules.FollowUpAction) []*string { return []*string{&c.Action, &c.Interval} },
		catalog:  func(cat *rules.Catalog) *rules.Table[rules.FollowUpAction] { return cat.FollowUpActions },
	}

	RecommendationKind Kind[rules.Recommendation] = kind[rules.Recommendation]{
		category: rules.Recommendations,
		table:    "patient_recommendation",
		columns:  []string{"recommendation"},
		fields:   func(c *rules.Recommendation) []*string { return []*string{&c.Text} },
		catalog:  func(cat *rules.Catalog) *rules.Table[rules.Recommendation] { return cat.Recommendations },
	}

	ReferralKind Kind[rules.Referral] = kind[rules.Referral]{
		category: rules.Referrals,
		table:    "patient_referral",
		columns:  []string{"specialist", "reason"},
		fields:   func(c *rules.Referral) []*string { return []*string{&c.Specialist, &c.Reason} },
		catalog:  func(cat *rules.Catalog) *rules.Table[rules.Referral] { return cat.Referrals },
	}

	LifestyleAdviceKind Kind[rules.LifestyleAdvice] = kind[rules.LifestyleAdvice]{
		category: rules.LifestyleAdviceCategory,
		table:    "patient_lifestyle_advice",
		columns:  []string{"advice"},
		fields:   func(c *rules.LifestyleAdvice) []*string { return []*string{&c.Advice} },
		catalog:  func(cat *rules.Catalog) *rules.Table[rules.LifestyleAdvice] { return cat.LifestyleAdvice },
	}

	PresumptiveDiagnosisKind Kind[rules.PresumptiveDiagnosis] = kind[rules.PresumptiveDiagnosis]{
		category: rules.PresumptiveDiagnoses,
		table:    "patient_presumptive_diagnosis",
		columns:  []string{"diagnosis", "confidence_level"},
		fields:   func(c *rules.PresumptiveDiagnosis) []*string { return []*string{&c.Name, &c.Confidence} },
		catalog:  func(cat *rules.Catalog) *rules.Table[rules.PresumptiveDiagnosis] { return cat.PresumptiveDiagnoses },
	}

	TestToOrderKind Kind[rules.TestToOrder] = kind[rules.TestToOrder]{
		category: rules.TestsToOrder,
		table:    "patient_test_to_order",
		columns:  []string{"test"},
		fields:   func(c *rules.TestToOrder) []*string { return []*string{&c.Name} },
		catalog:  func(cat *rules.Catalog) *rules.Table[rules.TestToOrder] { return cat.TestsToOrder },
	}
)
