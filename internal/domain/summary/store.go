package summary

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cds/internal/domain/rules"
)

// Store persists the items of one category.
type Store[C any] interface {
	List(ctx context.Context, sc Scope) ([]Item[C], error)
	Get(ctx context.Context, sc Scope, id uuid.UUID) (Item[C], error)
	// Insert reports false without error when an item with the same content
	// already exists in the scope.
	Insert(ctx context.Context, it *Item[C]) (bool, error)
	// Update writes content and ownership. A content clash returns
	// ErrDuplicateContent.
	Update(ctx context.Context, it *Item[C]) error
	Delete(ctx context.Context, sc Scope, id uuid.UUID) error
}

// Stores groups the per-category stores.
type Stores struct {
	FollowUpActions      Store[rules.FollowUpAction]
	Recommendations      Store[rules.Recommendation]
	Referrals            Store[rules.Referral]
	LifestyleAdvice      Store[rules.LifestyleAdvice]
	PresumptiveDiagnoses Store[rules.PresumptiveDiagnosis]
	TestsToOrder         Store[rules.TestToOrder]
}

func NewPGStores(pool *pgxpool.Pool) Stores {
	return Stores{
		FollowUpActions:      NewPGStore(pool, FollowUpActionKind),
		Recommendations:      NewPGStore(pool, RecommendationKind),
		Referrals:            NewPGStore(pool, ReferralKind),
		LifestyleAdvice:      NewPGStore(pool, LifestyleAdviceKind),
		PresumptiveDiagnoses: NewPGStore(pool, PresumptiveDiagnosisKind),
		TestsToOrder:         NewPGStore(pool, TestToOrderKind),
	}
}
