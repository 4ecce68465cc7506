package rules

import (
	"fmt"
	"sort"
)

// Entry is one catalog row.
type Entry[C any] struct {
	ID      int64  `json:"id"`
	Key     string `json:"key"`
	Content C      `json:"content"`
}

// Table is an immutable catalog for one category, indexed by key and row id.
type Table[C any] struct {
	entries []Entry[C]
	byKey   map[string]int
	byID    map[int64]int
}

// NewTable indexes entries. Later duplicates of a key or id are rejected.
func NewTable[C any](entries []Entry[C]) (*Table[C], error) {
	t := &Table[C]{
		entries: make([]Entry[C], 0, len(entries)),
		byKey:   make(map[string]int, len(entries)),
		byID:    make(map[int64]int, len(entries)),
	}
	for _, e := range entries {
		if e.Key == "" {
			return nil, fmt.Errorf("catalog entry %d has no key", e.ID)
		}
		if _, dup := t.byKey[e.Key]; dup {
			return nil, fmt.Errorf("duplicate catalog key %q", e.Key)
		}
		if _, dup := t.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog id %d", e.ID)
		}
		t.byKey[e.Key] = len(t.entries)
		t.byID[e.ID] = len(t.entries)
		t.entries = append(t.entries, e)
	}
	sort.SliceStable(t.entries, func(i, j int) bool { return t.entries[i].ID < t.entries[j].ID })
	for i, e := range t.entries {
		t.byKey[e.Key] = i
		t.byID[e.ID] = i
	}
	return t, nil
}

func (t *Table[C]) Get(key string) (Entry[C], bool) {
	if t == nil {
		return Entry[C]{}, false
	}
	i, ok := t.byKey[key]
	if !ok {
		return Entry[C]{}, false
	}
	return t.entries[i], true
}

func (t *Table[C]) ByID(id int64) (Entry[C], bool) {
	if t == nil {
		return Entry[C]{}, false
	}
	i, ok := t.byID[id]
	if !ok {
		return Entry[C]{}, false
	}
	return t.entries[i], true
}

func (t *Table[C]) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

// Entries returns the rows ordered by id. The slice must not be modified.
func (t *Table[C]) Entries() []Entry[C] {
	if t == nil {
		return nil
	}
	return t.entries
}

func (t *Table[C]) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Catalog holds one table per output category. It is built once at startup
// and shared read-only.
type Catalog struct {
	FollowUpActions      *Table[FollowUpAction]
	Recommendations      *Table[Recommendation]
	Referrals            *Table[Referral]
	LifestyleAdvice      *Table[LifestyleAdvice]
	PresumptiveDiagnoses *Table[PresumptiveDiagnosis]
	TestsToOrder         *Table[TestToOrder]
	Risks                *Table[Risk]
}

// Has reports whether key resolves in the table for c.
func (c *Catalog) Has(cat Category, key string) bool {
	switch cat {
	case FollowUpActions:
		return c.FollowUpActions.Has(key)
	case Recommendations:
		return c.Recommendations.Has(key)
	case Referrals:
		return c.Referrals.Has(key)
	case LifestyleAdviceCategory:
		return c.LifestyleAdvice.Has(key)
	case PresumptiveDiagnoses:
		return c.PresumptiveDiagnoses.Has(key)
	case TestsToOrder:
		return c.TestsToOrder.Has(key)
	case Risks:
		return c.Risks.Has(key)
	}
	return false
}

// Sizes reports the number of entries per category.
func (c *Catalog) Sizes() map[Category]int {
	return map[Category]int{
		FollowUpActions:         c.FollowUpActions.Len(),
		Recommendations:         c.Recommendations.Len(),
		Referrals:               c.Referrals.Len(),
		LifestyleAdviceCategory: c.LifestyleAdvice.Len(),
		PresumptiveDiagnoses:    c.PresumptiveDiagnoses.Len(),
		TestsToOrder:            c.TestsToOrder.Len(),
		Risks:                   c.Risks.Len(),
	}
}
