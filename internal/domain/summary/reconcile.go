package summary

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/cds/internal/domain/rules"
)

// reconcileCategory converges the auto-generated items of one category on
// the catalog entries named by desired.
//
// Content is compared after Normalize. Clinician-owned items are never
// touched. An auto-generated item is removed when no desired entry has its
// content, or when an earlier item already holds the same content. A desired
// entry is inserted unless its content is present or its key is ignored.
func reconcileCategory[C rules.Content[C]](
	ctx context.Context,
	store Store[C],
	catalog *rules.Table[C],
	sc Scope,
	desired []string,
	ignored map[string]bool,
) (CategoryReport, error) {
	var report CategoryReport

	type want struct {
		key     string
		content C
	}
	wanted := make([]want, 0, len(desired))
	wantedContent := make(map[C]bool, len(desired))
	for _, key := range desired {
		e, ok := catalog.Get(key)
		if !ok {
			continue
		}
		c := e.Content.Normalize()
		wanted = append(wanted, want{key: key, content: c})
		wantedContent[c] = true
	}

	persisted, err := store.List(ctx, sc)
	if err != nil {
		return report, fmt.Errorf("list items: %w", err)
	}

	present := make(map[C]bool, len(persisted))
	for _, it := range persisted {
		if !it.AutoGenerated {
			present[it.Content.Normalize()] = true
		}
	}
	for _, it := range persisted {
		if !it.AutoGenerated {
			continue
		}
		c := it.Content.Normalize()
		switch {
		case !wantedContent[c]:
			report.Pruned++
		case present[c]:
			report.Deduplicated++
		default:
			present[c] = true
			continue
		}
		// A concurrent pass may have removed the row already.
		if err := store.Delete(ctx, sc, it.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return report, fmt.Errorf("delete item %s: %w", it.ID, err)
		}
	}

	for _, w := range wanted {
		if present[w.content] {
			continue
		}
		if ignored[w.key] {
			report.Suppressed++
			continue
		}
		it := &Item[C]{
			PatientID:     sc.PatientID,
			DoctorID:      sc.DoctorID,
			Content:       w.content,
			AutoGenerated: true,
		}
		inserted, err := store.Insert(ctx, it)
		if err != nil {
			return report, fmt.Errorf("insert %s: %w", w.key, err)
		}
		present[w.content] = true
		if inserted {
			report.Inserted++
		}
	}
	return report, nil
}
