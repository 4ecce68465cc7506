package rules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cds/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Repository persists reference data.
type Repository interface {
	Load(ctx context.Context) (*ReferenceData, error)
	Import(ctx context.Context, ref *ReferenceData) error
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

var ruleTables = map[FactKind]string{
	KindSymptom:         "symptom_rule",
	KindPersonalHistory: "personal_history_rule",
	KindVitalSign:       "vital_sign_rule",
	KindTest:            "test_rule",
}

var dictionaryTables = map[FactKind]string{
	KindSymptom:         "symptom_dictionary",
	KindPersonalHistory: "personal_history_dictionary",
	KindVitalSign:       "vital_sign_dictionary",
	KindTest:            "test_dictionary",
}

// DictionaryTable names the dictionary table of a fact kind.
func DictionaryTable(kind FactKind) string { return dictionaryTables[kind] }

var keyColumns = []struct {
	cat Category
	col string
}{
	{FollowUpActions, "follow_up_action_key"},
	{Recommendations, "recommendation_key"},
	{Referrals, "referral_key"},
	{LifestyleAdviceCategory, "lifestyle_advice_key"},
	{PresumptiveDiagnoses, "presumptive_diagnosis_key"},
	{TestsToOrder, "test_to_order_key"},
	{Risks, "risk_key"},
}

func keyColumnList() string {
	s := ""
	for i, kc := range keyColumns {
		if i > 0 {
			s += ", "
		}
		s += kc.col
	}
	return s
}

func (r *repoPG) Load(ctx context.Context) (*ReferenceData, error) {
	q := r.conn(ctx)

	var (
		cat Catalog
		err error
	)
	if cat.FollowUpActions, err = loadTable(ctx, q, `SELECT id, key, action, repeat_interval FROM follow_up_action_catalog`,
		func(row pgx.Rows, e *Entry[FollowUpAction]) error {
			return row.Scan(&e.ID, &e.Key, &e.Content.Action, &e.Content.Interval)
		}); err != nil {
		return nil, err
	}
	if cat.Recommendations, err = loadTable(ctx, q, `SELECT id, key, recommendation FROM recommendation_catalog`,
		func(row pgx.Rows, e *Entry[Recommendation]) error {
			return row.Scan(&e.ID, &e.Key, &e.Content.Text)
		}); err != nil {
		return nil, err
	}
	if cat.Referrals, err = loadTable(ctx, q, `SELECT id, key, specialist, reason FROM referral_catalog`,
		func(row pgx.Rows, e *Entry[Referral]) error {
			return row.Scan(&e.ID, &e.Key, &e.Content.Specialist, &e.Content.Reason)
		}); err != nil {
		return nil, err
	}
	if cat.LifestyleAdvice, err = loadTable(ctx, q, `SELECT id, key, advice FROM lifestyle_advice_catalog`,
		func(row pgx.Rows, e *Entry[LifestyleAdvice]) error {
			return row.Scan(&e.ID, &e.Key, &e.Content.Advice)
		}); err != nil {
		return nil, err
	}
	if cat.PresumptiveDiagnoses, err = loadTable(ctx, q, `SELECT id, key, diagnosis, confidence_level FROM presumptive_diagnosis_catalog`,
		func(row pgx.Rows, e *Entry[PresumptiveDiagnosis]) error {
			return row.Scan(&e.ID, &e.Key, &e.Content.Name, &e.Content.Confidence)
		}); err != nil {
		return nil, err
	}
	if cat.TestsToOrder, err = loadTable(ctx, q, `SELECT id, key, test FROM test_to_order_catalog`,
		func(row pgx.Rows, e *Entry[TestToOrder]) error {
			return row.Scan(&e.ID, &e.Key, &e.Content.Name)
		}); err != nil {
		return nil, err
	}
	if cat.Risks, err = loadTable(ctx, q, `SELECT id, key, level, reason FROM risk_catalog`,
		func(row pgx.Rows, e *Entry[Risk]) error {
			return row.Scan(&e.ID, &e.Key, &e.Content.Level, &e.Content.Reason)
		}); err != nil {
		return nil, err
	}

	dicts := make(map[FactKind][]DictionaryEntry, len(FactKinds))
	for _, kind := range FactKinds {
		d, err := r.loadDictionary(ctx, q, kind)
		if err != nil {
			return nil, err
		}
		dicts[kind] = d
	}

	var rules []DecisionRule
	for _, kind := range FactKinds {
		rs, err := r.loadRules(ctx, q, kind)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rs...)
	}

	return NewReferenceData(&cat, rules, dicts)
}

func loadTable[C any](ctx context.Context, q queryable, query string, scan func(pgx.Rows, *Entry[C]) error) (*Table[C], error) {
	rows, err := q.Query(ctx, query+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	var entries []Entry[C]
	for rows.Next() {
		var e Entry[C]
		if err := scan(rows, &e); err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewTable(entries)
}

func (r *repoPG) loadDictionary(ctx context.Context, q queryable, kind FactKind) ([]DictionaryEntry, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(
		`SELECT code, name, COALESCE(category, ''), COALESCE(unit, '') FROM %s ORDER BY code`, dictionaryTables[kind]))
	if err != nil {
		return nil, fmt.Errorf("load %s dictionary: %w", kind, err)
	}
	defer rows.Close()

	var out []DictionaryEntry
	for rows.Next() {
		d := DictionaryEntry{Kind: kind}
		if err := rows.Scan(&d.Code, &d.Name, &d.Category, &d.Unit); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repoPG) loadRules(ctx context.Context, q queryable, kind FactKind) ([]DecisionRule, error) {
	threshold := `NULL::text, NULL::text`
	if kind.Thresholded() {
		threshold = `min_value, max_value`
	}
	rows, err := q.Query(ctx, fmt.Sprintf(
		`SELECT id, fact_code, age_group, gender, %s, %s FROM %s ORDER BY id`,
		threshold, keyColumnList(), ruleTables[kind]))
	if err != nil {
		return nil, fmt.Errorf("load %s rules: %w", kind, err)
	}
	defer rows.Close()

	var out []DecisionRule
	for rows.Next() {
		rule := DecisionRule{Kind: kind, Keys: make(map[Category]string)}
		var ageGroup, gender *string
		keys := make([]*string, len(keyColumns))
		dest := []any{&rule.ID, &rule.FactCode, &ageGroup, &gender, &rule.MinValue, &rule.MaxValue}
		for i := range keys {
			dest = append(dest, &keys[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s rule: %w", kind, err)
		}
		if ageGroup != nil {
			b, ok := ParseAgeBracket(*ageGroup)
			if !ok {
				return nil, fmt.Errorf("%s rule %d: unknown age_group %q", kind, rule.ID, *ageGroup)
			}
			rule.AgeGroup = &b
		}
		if gender != nil {
			g, err := ParseGender(*gender)
			if err != nil {
				return nil, fmt.Errorf("%s rule %d: %w", kind, rule.ID, err)
			}
			rule.Gender = &g
		}
		for i, kc := range keyColumns {
			if keys[i] != nil && *keys[i] != "" {
				rule.Keys[kc.cat] = *keys[i]
			}
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Import upserts catalogs and dictionaries by key and replaces every rule
// table, all in one transaction.
func (r *repoPG) Import(ctx context.Context, ref *ReferenceData) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		for kind, entries := range ref.Dictionaries {
			for _, d := range entries {
				if _, err := q.Exec(ctx, fmt.Sprintf(`
					INSERT INTO %s (code, name, category, unit) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
					ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category, unit = EXCLUDED.unit`,
					dictionaryTables[kind]), d.Code, d.Name, d.Category, d.Unit); err != nil {
					return fmt.Errorf("import %s dictionary %q: %w", kind, d.Code, err)
				}
			}
		}

		c := ref.Catalog
		if err := upsertTable(ctx, q, c.FollowUpActions, `
			INSERT INTO follow_up_action_catalog (key, action, repeat_interval) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET action = EXCLUDED.action, repeat_interval = EXCLUDED.repeat_interval`,
			func(v FollowUpAction) []any { return []any{v.Action, v.Interval} }); err != nil {
			return err
		}
		if err := upsertTable(ctx, q, c.Recommendations, `
			INSERT INTO recommendation_catalog (key, recommendation) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET recommendation = EXCLUDED.recommendation`,
			func(v Recommendation) []any { return []any{v.Text} }); err != nil {
			return err
		}
		if err := upsertTable(ctx, q, c.Referrals, `
			INSERT INTO referral_catalog (key, specialist, reason) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET specialist = EXCLUDED.specialist, reason = EXCLUDED.reason`,
			func(v Referral) []any { return []any{v.Specialist, v.Reason} }); err != nil {
			return err
		}
		if err := upsertTable(ctx, q, c.LifestyleAdvice, `
			INSERT INTO lifestyle_advice_catalog (key, advice) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET advice = EXCLUDED.advice`,
			func(v LifestyleAdvice) []any { return []any{v.Advice} }); err != nil {
			return err
		}
		if err := upsertTable(ctx, q, c.PresumptiveDiagnoses, `
			INSERT INTO presumptive_diagnosis_catalog (key, diagnosis, confidence_level) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET diagnosis = EXCLUDED.diagnosis, confidence_level = EXCLUDED.confidence_level`,
			func(v PresumptiveDiagnosis) []any { return []any{v.Name, v.Confidence} }); err != nil {
			return err
		}
		if err := upsertTable(ctx, q, c.TestsToOrder, `
			INSERT INTO test_to_order_catalog (key, test) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET test = EXCLUDED.test`,
			func(v TestToOrder) []any { return []any{v.Name} }); err != nil {
			return err
		}
		if err := upsertTable(ctx, q, c.Risks, `
			INSERT INTO risk_catalog (key, level, reason) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET level = EXCLUDED.level, reason = EXCLUDED.reason`,
			func(v Risk) []any { return []any{v.Level, v.Reason} }); err != nil {
			return err
		}

		for _, kind := range FactKinds {
			if _, err := q.Exec(ctx, `DELETE FROM `+ruleTables[kind]); err != nil {
				return fmt.Errorf("clear %s rules: %w", kind, err)
			}
		}
		for _, rule := range ref.Rules {
			if err := insertRule(ctx, q, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertTable[C any](ctx context.Context, q queryable, t *Table[C], query string, values func(C) []any) error {
	for _, e := range t.Entries() {
		args := append([]any{e.Key}, values(e.Content)...)
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("import catalog key %q: %w", e.Key, err)
		}
	}
	return nil
}

func insertRule(ctx context.Context, q queryable, rule DecisionRule) error {
	cols := "fact_code, age_group, gender"
	args := []any{rule.FactCode, (*string)(rule.AgeGroup), (*string)(rule.Gender)}
	if rule.Kind.Thresholded() {
		cols += ", min_value, max_value"
		args = append(args, rule.MinValue, rule.MaxValue)
	}
	for _, kc := range keyColumns {
		cols += ", " + kc.col
		var key *string
		if k, ok := rule.Key(kc.cat); ok {
			key = &k
		}
		args = append(args, key)
	}
	placeholders := ""
	for i := range args {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
	}
	if _, err := q.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, ruleTables[rule.Kind], cols, placeholders), args...); err != nil {
		return fmt.Errorf("import %s rule for %q: %w", rule.Kind, rule.FactCode, err)
	}
	return nil
}
