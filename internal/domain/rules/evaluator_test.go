package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFacts struct {
	profiles map[uuid.UUID]*Profile
	facts    map[uuid.UUID][]ActiveFact
	err      error
}

func (f *fakeFacts) Profile(_ context.Context, id uuid.UUID) (*Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (f *fakeFacts) ActiveFacts(_ context.Context, id uuid.UUID) ([]ActiveFact, error) {
	return f.facts[id], nil
}

var evalNow = time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(t *testing.T, src *fakeFacts) *Evaluator {
	t.Helper()
	return NewEvaluator(loadFixture(t), src, zerolog.Nop()).WithClock(func() time.Time { return evalNow })
}

func patient(gender Gender, age int) (*Profile, uuid.UUID) {
	id := uuid.New()
	return &Profile{PatientID: id, BirthDate: evalNow.AddDate(-age, -1, 0), Gender: gender}, id
}

func TestEvaluate_Scenario(t *testing.T) {
	p, id := patient(Female, 50)
	src := &fakeFacts{
		profiles: map[uuid.UUID]*Profile{id: p},
		facts: map[uuid.UUID][]ActiveFact{id: {
			{Kind: KindTest, Code: "BP_TEST", Value: sp("145")},
			{Kind: KindSymptom, Code: "CHEST_PAIN"},
			{Kind: KindSymptom, Code: "FATIGUE"},
			{Kind: KindVitalSign, Code: "SYSTOLIC_BP", Value: sp("not recorded")},
			{Kind: KindVitalSign, Code: "HEART_RATE", Value: sp("100")},
		}},
	}

	out, err := newTestEvaluator(t, src).Evaluate(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, out.Stratum)
	assert.Equal(t, Stratum{Bracket: Age45To60, Gender: Female}, *out.Stratum)

	assert.Equal(t, []string{"HYPERTENSION_RISK"}, out.Keys(Recommendations))
	assert.Equal(t, []string{"HYPERTENSION_RISK"}, out.Keys(Risks))
	assert.Equal(t, []string{"CARDIOLOGY"}, out.Keys(Referrals))
	assert.Equal(t, []string{"ANGINA"}, out.Keys(PresumptiveDiagnoses))
	// ECG arrives from the symptom and the heart-rate rules, never from the test rule.
	assert.Equal(t, []string{"ECG"}, out.Keys(TestsToOrder))
	// SYSTOLIC_BP was not numeric.
	assert.Empty(t, out.Keys(FollowUpActions))
	assert.False(t, out.Has(Recommendations, "MISSING_KEY"))
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	p, id := patient(Female, 50)
	src := &fakeFacts{
		profiles: map[uuid.UUID]*Profile{id: p},
		facts: map[uuid.UUID][]ActiveFact{id: {
			{Kind: KindTest, Code: "BP_TEST", Value: sp("130")},
		}},
	}

	out, err := newTestEvaluator(t, src).Evaluate(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, out.Empty())
}

func TestEvaluate_TestResultsDoNotOrderTests(t *testing.T) {
	p, id := patient(Male, 30)
	src := &fakeFacts{
		profiles: map[uuid.UUID]*Profile{id: p},
		facts: map[uuid.UUID][]ActiveFact{id: {
			{Kind: KindTest, Code: "BP_TEST", Value: sp("150")},
		}},
	}

	out, err := newTestEvaluator(t, src).Evaluate(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, out.Keys(TestsToOrder))
	assert.True(t, out.Has(Recommendations, "HYPERTENSION_RISK"))
}

func TestEvaluate_Stratification(t *testing.T) {
	p, id := patient(Male, 30)
	src := &fakeFacts{
		profiles: map[uuid.UUID]*Profile{id: p},
		facts: map[uuid.UUID][]ActiveFact{id: {
			{Kind: KindSymptom, Code: "CHEST_PAIN"},
		}},
	}

	out, err := newTestEvaluator(t, src).Evaluate(context.Background(), id)
	require.NoError(t, err)
	// The 45-60 rule is out of bracket; the male-only rule applies.
	assert.Empty(t, out.Keys(Referrals))
	assert.Equal(t, []string{"LIPID_PANEL"}, out.Keys(TestsToOrder))
}

func TestEvaluate_CategoricalRules(t *testing.T) {
	p, id := patient(Female, 70)
	src := &fakeFacts{
		profiles: map[uuid.UUID]*Profile{id: p},
		facts: map[uuid.UUID][]ActiveFact{id: {
			{Kind: KindPersonalHistory, Code: "SMOKER"},
			{Kind: KindVitalSign, Code: "SYSTOLIC_BP", Value: sp("130")},
		}},
	}

	out, err := newTestEvaluator(t, src).Evaluate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"SMOKING_CESSATION"}, out.Keys(Recommendations))
	assert.Equal(t, []string{"LOW_SALT"}, out.Keys(LifestyleAdviceCategory))
	assert.Equal(t, []string{"BP_RECHECK"}, out.Keys(FollowUpActions))
}

func TestEvaluate_UnknownPatient(t *testing.T) {
	out, err := newTestEvaluator(t, &fakeFacts{}).Evaluate(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, out.Empty())
	assert.Nil(t, out.Stratum)
}

func TestEvaluate_SourceError(t *testing.T) {
	src := &fakeFacts{err: errors.New("connection reset")}
	_, err := newTestEvaluator(t, src).Evaluate(context.Background(), uuid.New())
	assert.Error(t, err)
}
