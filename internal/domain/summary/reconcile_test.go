package summary

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/cds/internal/domain/rules"
)

func adviceTable(t *testing.T) *rules.Table[rules.LifestyleAdvice] {
	t.Helper()
	tbl, err := rules.NewTable([]rules.Entry[rules.LifestyleAdvice]{
		{ID: 1, Key: "LOW_SALT", Content: rules.LifestyleAdvice{Advice: "Reduce dietary salt"}},
		{ID: 2, Key: "WALK", Content: rules.LifestyleAdvice{Advice: "Walk 30 minutes a day"}},
		{ID: 3, Key: "SALT_ALIAS", Content: rules.LifestyleAdvice{Advice: "Reduce dietary salt "}},
	})
	require.NoError(t, err)
	return tbl
}

func TestReconcileCategory(t *testing.T) {
	sc := Scope{PatientID: uuid.New(), DoctorID: uuid.New()}
	salt := rules.LifestyleAdvice{Advice: "Reduce dietary salt"}
	walk := rules.LifestyleAdvice{Advice: "Walk 30 minutes a day"}

	tests := []struct {
		name    string
		seed    []Item[rules.LifestyleAdvice]
		desired []string
		ignored map[string]bool
		want    CategoryReport
		content []rules.LifestyleAdvice
	}{
		{
			name:    "inserts desired entries",
			desired: []string{"LOW_SALT", "WALK"},
			want:    CategoryReport{Inserted: 2},
			content: []rules.LifestyleAdvice{salt, walk},
		},
		{
			name:    "keys sharing content insert once",
			desired: []string{"LOW_SALT", "SALT_ALIAS"},
			want:    CategoryReport{Inserted: 1},
			content: []rules.LifestyleAdvice{salt},
		},
		{
			name:    "unknown keys are skipped",
			desired: []string{"NOPE"},
			want:    CategoryReport{},
		},
		{
			name:    "ignored keys are suppressed",
			desired: []string{"LOW_SALT", "WALK"},
			ignored: map[string]bool{"WALK": true},
			want:    CategoryReport{Inserted: 1, Suppressed: 1},
			content: []rules.LifestyleAdvice{salt},
		},
		{
			name:    "auto items without a rule are pruned",
			seed:    []Item[rules.LifestyleAdvice]{{Content: walk, AutoGenerated: true}},
			desired: []string{"LOW_SALT"},
			want:    CategoryReport{Inserted: 1, Pruned: 1},
			content: []rules.LifestyleAdvice{salt},
		},
		{
			name:    "manual items survive",
			seed:    []Item[rules.LifestyleAdvice]{{Content: walk}},
			want:    CategoryReport{},
			content: []rules.LifestyleAdvice{walk},
		},
		{
			name:    "auto copy of a manual item is removed",
			seed:    []Item[rules.LifestyleAdvice]{{Content: salt, AutoGenerated: true}, {Content: salt}},
			desired: []string{"LOW_SALT"},
			want:    CategoryReport{Deduplicated: 1},
			content: []rules.LifestyleAdvice{salt},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore[rules.LifestyleAdvice]{}
			for _, it := range tt.seed {
				store.seed(sc, it.Content, it.AutoGenerated)
			}
			got, err := reconcileCategory[rules.LifestyleAdvice](context.Background(), store, adviceTable(t), sc, tt.desired, tt.ignored)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			var content []rules.LifestyleAdvice
			for _, it := range store.all() {
				content = append(content, it.Content)
			}
			assert.ElementsMatch(t, tt.content, content)
		})
	}
}

func TestReconcileCategory_ToleratesConcurrentDelete(t *testing.T) {
	sc := Scope{PatientID: uuid.New(), DoctorID: uuid.New()}
	store := &vanishingStore{memStore: &memStore[rules.LifestyleAdvice]{}}
	store.seed(sc, rules.LifestyleAdvice{Advice: "Walk 30 minutes a day"}, true)

	got, err := reconcileCategory[rules.LifestyleAdvice](context.Background(), store, adviceTable(t), sc, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Pruned)
}

// vanishingStore behaves as if another pass deleted every row first.
type vanishingStore struct {
	*memStore[rules.LifestyleAdvice]
}

func (v *vanishingStore) Delete(context.Context, Scope, uuid.UUID) error {
	return ErrNotFound
}
