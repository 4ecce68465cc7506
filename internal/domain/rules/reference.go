package rules

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// ReferenceData is the immutable rule set the engine runs on.
type ReferenceData struct {
	Catalog      *Catalog
	Book         *Book
	Rules        []DecisionRule
	Dictionaries map[FactKind][]DictionaryEntry
}

// Stats summarises the loaded reference data for logging.
func (r *ReferenceData) Stats() map[string]int {
	stats := map[string]int{"rules": len(r.Rules)}
	for c, n := range r.Catalog.Sizes() {
		stats["catalog_"+string(c)] = n
	}
	for k, d := range r.Dictionaries {
		stats["dictionary_"+string(k)] = len(d)
	}
	return stats
}

// DictionaryEntry looks up a dictionary code of the given kind.
func (r *ReferenceData) DictionaryEntry(kind FactKind, code string) (DictionaryEntry, bool) {
	for _, d := range r.Dictionaries[kind] {
		if d.Code == code {
			return d, true
		}
	}
	return DictionaryEntry{}, false
}

// Dictionary lists the entries of one kind in load order.
func (r *ReferenceData) Dictionary(kind FactKind) []DictionaryEntry {
	return r.Dictionaries[kind]
}

type yamlEntry[C any] struct {
	ID      int64  `yaml:"id"`
	Key     string `yaml:"key"`
	Content C      `yaml:",inline"`
}

type yamlRule struct {
	ID       int64             `yaml:"id"`
	Fact     string            `yaml:"fact"`
	AgeGroup *string           `yaml:"age_group"`
	Gender   *string           `yaml:"gender"`
	MinValue *string           `yaml:"min_value"`
	MaxValue *string           `yaml:"max_value"`
	Keys     map[string]string `yaml:"keys"`
}

type yamlDocument struct {
	Dictionaries map[string][]DictionaryEntry `yaml:"dictionaries"`
	Catalogs     struct {
		FollowUpActions      []yamlEntry[FollowUpAction]       `yaml:"follow_up_actions"`
		Recommendations      []yamlEntry[Recommendation]       `yaml:"recommendations"`
		Referrals            []yamlEntry[Referral]             `yaml:"referrals"`
		LifestyleAdvice      []yamlEntry[LifestyleAdvice]      `yaml:"lifestyle_advice"`
		PresumptiveDiagnoses []yamlEntry[PresumptiveDiagnosis] `yaml:"presumptive_diagnoses"`
		TestsToOrder         []yamlEntry[TestToOrder]          `yaml:"tests_to_order"`
		Risks                []yamlEntry[Risk]                 `yaml:"risks"`
	} `yaml:"catalogs"`
	Rules map[string][]yamlRule `yaml:"rules"`
}

// LoadYAML parses a reference-data document. Catalog entries without an id
// are numbered by position.
func LoadYAML(r io.Reader) (*ReferenceData, error) {
	var doc yamlDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode reference data: %w", err)
	}

	dicts := make(map[FactKind][]DictionaryEntry)
	for name, entries := range doc.Dictionaries {
		kind, err := ParseFactKind(name)
		if err != nil {
			return nil, fmt.Errorf("dictionaries: %w", err)
		}
		for i := range entries {
			entries[i].Kind = kind
		}
		dicts[kind] = entries
	}

	var (
		cat Catalog
		err error
	)
	if cat.FollowUpActions, err = yamlTable(doc.Catalogs.FollowUpActions); err != nil {
		return nil, fmt.Errorf("follow_up_actions: %w", err)
	}
	if cat.Recommendations, err = yamlTable(doc.Catalogs.Recommendations); err != nil {
		return nil, fmt.Errorf("recommendations: %w", err)
	}
	if cat.Referrals, err = yamlTable(doc.Catalogs.Referrals); err != nil {
		return nil, fmt.Errorf("referrals: %w", err)
	}
	if cat.LifestyleAdvice, err = yamlTable(doc.Catalogs.LifestyleAdvice); err != nil {
		return nil, fmt.Errorf("lifestyle_advice: %w", err)
	}
	if cat.PresumptiveDiagnoses, err = yamlTable(doc.Catalogs.PresumptiveDiagnoses); err != nil {
		return nil, fmt.Errorf("presumptive_diagnoses: %w", err)
	}
	if cat.TestsToOrder, err = yamlTable(doc.Catalogs.TestsToOrder); err != nil {
		return nil, fmt.Errorf("tests_to_order: %w", err)
	}
	if cat.Risks, err = yamlTable(doc.Catalogs.Risks); err != nil {
		return nil, fmt.Errorf("risks: %w", err)
	}

	var rules []DecisionRule
	kinds := make([]string, 0, len(doc.Rules))
	for name := range doc.Rules {
		kinds = append(kinds, name)
	}
	sort.Strings(kinds)
	for _, name := range kinds {
		kind, err := ParseFactKind(name)
		if err != nil {
			return nil, fmt.Errorf("rules: %w", err)
		}
		for i, yr := range doc.Rules[name] {
			rule, err := yr.toRule(kind)
			if err != nil {
				return nil, fmt.Errorf("rules.%s[%d]: %w", name, i, err)
			}
			rules = append(rules, rule)
		}
	}
	if err := assignRuleIDs(rules); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}

	return NewReferenceData(&cat, rules, dicts)
}

// assignRuleIDs rejects repeated explicit ids and numbers the remaining
// rules after the highest explicit one.
func assignRuleIDs(rules []DecisionRule) error {
	seen := make(map[int64]bool, len(rules))
	var next int64
	for _, r := range rules {
		if r.ID == 0 {
			continue
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %d", r.ID)
		}
		seen[r.ID] = true
		next = max(next, r.ID)
	}
	for i := range rules {
		if rules[i].ID == 0 {
			next++
			rules[i].ID = next
		}
	}
	return nil
}

func yamlTable[C Content[C]](in []yamlEntry[C]) (*Table[C], error) {
	var next int64
	for _, e := range in {
		next = max(next, e.ID)
	}
	entries := make([]Entry[C], 0, len(in))
	for _, e := range in {
		if err := e.Content.Validate(); err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.Key, err)
		}
		id := e.ID
		if id == 0 {
			next++
			id = next
		}
		entries = append(entries, Entry[C]{ID: id, Key: e.Key, Content: e.Content.Normalize()})
	}
	return NewTable(entries)
}

func (yr yamlRule) toRule(kind FactKind) (DecisionRule, error) {
	rule := DecisionRule{
		ID:       yr.ID,
		Kind:     kind,
		FactCode: yr.Fact,
		MinValue: yr.MinValue,
		MaxValue: yr.MaxValue,
		Keys:     make(map[Category]string, len(yr.Keys)),
	}
	if yr.AgeGroup != nil {
		b, ok := ParseAgeBracket(*yr.AgeGroup)
		if !ok {
			return rule, fmt.Errorf("unknown age_group %q", *yr.AgeGroup)
		}
		rule.AgeGroup = &b
	}
	if yr.Gender != nil {
		g, err := ParseGender(*yr.Gender)
		if err != nil {
			return rule, err
		}
		rule.Gender = &g
	}
	for name, key := range yr.Keys {
		c, err := parseRuleCategory(name)
		if err != nil {
			return rule, err
		}
		rule.Keys[c] = key
	}
	return rule, nil
}

func parseRuleCategory(name string) (Category, error) {
	if Category(name) == Risks {
		return Risks, nil
	}
	return ParseCategory(name)
}

// NewReferenceData validates rules against the dictionaries and builds the
// rule index. Keys that miss the catalog are kept; the evaluator reports
// them when they fire.
func NewReferenceData(cat *Catalog, rules []DecisionRule, dicts map[FactKind][]DictionaryEntry) (*ReferenceData, error) {
	known := make(map[FactKind]map[string]bool)
	for kind, entries := range dicts {
		known[kind] = make(map[string]bool, len(entries))
		for _, d := range entries {
			if d.Code == "" {
				return nil, fmt.Errorf("%s dictionary entry without code", kind)
			}
			known[kind][d.Code] = true
		}
	}
	for _, r := range rules {
		if r.FactCode == "" {
			return nil, fmt.Errorf("%s rule %d has no fact code", r.Kind, r.ID)
		}
		if !known[r.Kind][r.FactCode] {
			return nil, fmt.Errorf("%s rule %d references unknown fact %q", r.Kind, r.ID, r.FactCode)
		}
		if !r.Kind.Thresholded() && (r.MinValue != nil || r.MaxValue != nil) {
			return nil, fmt.Errorf("%s rule %d carries a threshold", r.Kind, r.ID)
		}
	}
	return &ReferenceData{
		Catalog:      cat,
		Book:         NewBook(rules),
		Rules:        rules,
		Dictionaries: dicts,
	}, nil
}
