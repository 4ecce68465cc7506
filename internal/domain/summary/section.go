package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/rules"
)

// section is the type-erased view of one category used by the engine and
// the service.
type section interface {
	Category() rules.Category
	reconcile(ctx context.Context, sc Scope, desired []string, ignored map[string]bool) (CategoryReport, error)
	list(ctx context.Context, sc Scope) (any, error)
	create(ctx context.Context, sc Scope, raw json.RawMessage) (any, error)
	// update returns the catalog key the edit superseded, if any.
	update(ctx context.Context, sc Scope, ref ItemRef, raw json.RawMessage) (any, string, error)
	// remove returns the catalog key of a deleted auto-generated item.
	remove(ctx context.Context, sc Scope, id uuid.UUID) (string, error)
	suggestions(ctx context.Context, sc Scope, keys []string, ignored map[string]bool) ([]Suggestion, error)
	hasKey(key string) bool
}

type category[C rules.Content[C]] struct {
	kind    Kind[C]
	store   Store[C]
	catalog *rules.Table[C]
}

func newCategory[C rules.Content[C]](k Kind[C], store Store[C], cat *rules.Catalog) *category[C] {
	return &category[C]{kind: k, store: store, catalog: k.Catalog(cat)}
}

func buildSections(cat *rules.Catalog, st Stores) []section {
	return []section{
		newCategory(FollowUpActionKind, st.FollowUpActions, cat),
		newCategory(RecommendationKind, st.Recommendations, cat),
		newCategory(ReferralKind, st.Referrals, cat),
		newCategory(LifestyleAdviceKind, st.LifestyleAdvice, cat),
		newCategory(PresumptiveDiagnosisKind, st.PresumptiveDiagnoses, cat),
		newCategory(TestToOrderKind, st.TestsToOrder, cat),
	}
}

func (s *category[C]) Category() rules.Category { return s.kind.Category() }

func (s *category[C]) reconcile(ctx context.Context, sc Scope, desired []string, ignored map[string]bool) (CategoryReport, error) {
	return reconcileCategory(ctx, s.store, s.catalog, sc, desired, ignored)
}

func (s *category[C]) list(ctx context.Context, sc Scope) (any, error) {
	items, err := s.store.List(ctx, sc)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Item[C]{}
	}
	return items, nil
}

// decode reads strict JSON content and returns it validated and normalized.
func (s *category[C]) decode(raw json.RawMessage) (C, error) {
	var c C
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return c.Normalize(), nil
}

func (s *category[C]) create(ctx context.Context, sc Scope, raw json.RawMessage) (any, error) {
	c, err := s.decode(raw)
	if err != nil {
		return nil, err
	}
	it := &Item[C]{PatientID: sc.PatientID, DoctorID: sc.DoctorID, Content: c}
	inserted, err := s.store.Insert(ctx, it)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrDuplicateContent
	}
	return it, nil
}

func (s *category[C]) update(ctx context.Context, sc Scope, ref ItemRef, raw json.RawMessage) (any, string, error) {
	if err := ref.Validate(); err != nil {
		return nil, "", err
	}
	next, err := s.decode(raw)
	if err != nil {
		return nil, "", err
	}
	if ref.Kind == RefCatalog {
		return s.bridge(ctx, sc, ref.CatalogID, next)
	}

	it, err := s.store.Get(ctx, sc, ref.ItemID)
	if err != nil {
		return nil, "", err
	}
	prev := it.Content.Normalize()
	if next == prev {
		return &it, "", nil
	}
	var superseded string
	if it.AutoGenerated {
		it.AutoGenerated = false
		superseded, _ = s.keyFor(prev)
	}
	it.Content = next
	if err := s.store.Update(ctx, &it); err != nil {
		return nil, "", err
	}
	return &it, superseded, nil
}

// bridge turns a suggested catalog entry into a clinician-owned item. The
// auto-generated row holding the entry's content is claimed in place when
// it exists; otherwise a new owned row is inserted.
func (s *category[C]) bridge(ctx context.Context, sc Scope, catalogID int64, next C) (any, string, error) {
	e, ok := s.catalog.ByID(catalogID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s %d", ErrCatalogEntryNotFound, s.Category(), catalogID)
	}
	target := e.Content.Normalize()
	var superseded string
	if next != target {
		superseded = e.Key
	}

	items, err := s.store.List(ctx, sc)
	if err != nil {
		return nil, "", err
	}
	for _, it := range items {
		if !it.AutoGenerated || it.Content.Normalize() != target {
			continue
		}
		it.Content = next
		it.AutoGenerated = false
		if err := s.store.Update(ctx, &it); err != nil {
			return nil, "", err
		}
		return &it, superseded, nil
	}

	it := &Item[C]{PatientID: sc.PatientID, DoctorID: sc.DoctorID, Content: next}
	inserted, err := s.store.Insert(ctx, it)
	if err != nil {
		return nil, "", err
	}
	if !inserted {
		return nil, "", ErrDuplicateContent
	}
	return it, superseded, nil
}

func (s *category[C]) remove(ctx context.Context, sc Scope, id uuid.UUID) (string, error) {
	it, err := s.store.Get(ctx, sc, id)
	if err != nil {
		return "", err
	}
	if err := s.store.Delete(ctx, sc, id); err != nil {
		return "", err
	}
	if !it.AutoGenerated {
		return "", nil
	}
	key, _ := s.keyFor(it.Content.Normalize())
	return key, nil
}

func (s *category[C]) suggestions(ctx context.Context, sc Scope, keys []string, ignored map[string]bool) ([]Suggestion, error) {
	items, err := s.store.List(ctx, sc)
	if err != nil {
		return nil, err
	}
	present := make(map[C]bool, len(items))
	for _, it := range items {
		present[it.Content.Normalize()] = true
	}
	out := make([]Suggestion, 0, len(keys))
	for _, key := range keys {
		e, ok := s.catalog.Get(key)
		if !ok {
			continue
		}
		out = append(out, Suggestion{
			Ref:     CatalogItem(e.ID),
			Key:     e.Key,
			Content: e.Content,
			Ignored: ignored[key],
			Present: present[e.Content.Normalize()],
		})
	}
	return out, nil
}

func (s *category[C]) hasKey(key string) bool { return s.catalog.Has(key) }

// keyFor finds the catalog entry with the given normalized content.
func (s *category[C]) keyFor(c C) (string, bool) {
	for _, e := range s.catalog.Entries() {
		if e.Content.Normalize() == c {
			return e.Key, true
		}
	}
	return "", false
}
