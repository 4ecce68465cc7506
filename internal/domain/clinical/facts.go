package clinical

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/rules"
)

// ProfileSource supplies patient demographics.
type ProfileSource interface {
	Profile(ctx context.Context, patientID uuid.UUID) (*rules.Profile, error)
}

// FactSource feeds the rule evaluator from the fact tables.
type FactSource struct {
	profiles ProfileSource
	repo     Repository
}

func NewFactSource(profiles ProfileSource, repo Repository) *FactSource {
	return &FactSource{profiles: profiles, repo: repo}
}

func (s *FactSource) Profile(ctx context.Context, patientID uuid.UUID) (*rules.Profile, error) {
	return s.profiles.Profile(ctx, patientID)
}

func (s *FactSource) ActiveFacts(ctx context.Context, patientID uuid.UUID) ([]rules.ActiveFact, error) {
	facts, err := s.repo.Active(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]rules.ActiveFact, 0, len(facts))
	for _, f := range facts {
		out = append(out, rules.ActiveFact{Kind: f.Kind, Code: f.Code, Value: f.Value})
	}
	return out, nil
}
