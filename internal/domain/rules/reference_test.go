package rules

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) *ReferenceData {
	t.Helper()
	f, err := os.Open("testdata/reference.yaml")
	require.NoError(t, err)
	defer f.Close()

	ref, err := LoadYAML(f)
	require.NoError(t, err)
	return ref
}

func TestLoadYAML_Fixture(t *testing.T) {
	ref := loadFixture(t)

	assert.Equal(t, 7, len(ref.Rules))
	assert.Equal(t, 7, ref.Book.Len())
	assert.Len(t, ref.Dictionaries[KindVitalSign], 2)
	assert.Equal(t, KindTest, ref.Dictionaries[KindTest][0].Kind)

	e, ok := ref.Catalog.Recommendations.Get("HYPERTENSION_RISK")
	require.True(t, ok)
	assert.Equal(t, int64(1), e.ID)
	assert.Equal(t, "Start home blood pressure monitoring", e.Content.Text)

	byID, ok := ref.Catalog.TestsToOrder.ByID(2)
	require.True(t, ok)
	assert.Equal(t, "LIPID_PANEL", byID.Key)

	assert.True(t, ref.Catalog.Has(Risks, "HYPERTENSION_RISK"))
	assert.False(t, ref.Catalog.Has(Recommendations, "MISSING_KEY"))

	stats := ref.Stats()
	assert.Equal(t, 7, stats["rules"])
	assert.Equal(t, 2, stats["catalog_tests_to_order"])
}

func TestLoadYAML_RuleFields(t *testing.T) {
	ref := loadFixture(t)

	var bp *DecisionRule
	for i := range ref.Rules {
		if ref.Rules[i].FactCode == "BP_TEST" {
			bp = &ref.Rules[i]
		}
	}
	require.NotNil(t, bp)
	require.NotNil(t, bp.MinValue)
	assert.Equal(t, ">140", *bp.MinValue)
	assert.Nil(t, bp.MaxValue)

	k, ok := bp.Key(Risks)
	assert.True(t, ok)
	assert.Equal(t, "HYPERTENSION_RISK", k)
}

func TestLoadYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown top-level field",
			doc:  "catalog: {}\n",
			want: "decode reference data",
		},
		{
			name: "duplicate catalog key",
			doc: `
catalogs:
  recommendations:
    - {key: A, recommendation: one}
    - {key: A, recommendation: two}
`,
			want: "duplicate catalog key",
		},
		{
			name: "empty content",
			doc: `
catalogs:
  tests_to_order:
    - {key: A, test: "  "}
`,
			want: "test is required",
		},
		{
			name: "rule for unknown fact",
			doc: `
rules:
  symptom:
    - {fact: NOPE, keys: {recommendations: A}}
`,
			want: "unknown fact",
		},
		{
			name: "threshold on categorical rule",
			doc: `
dictionaries:
  symptom: [{code: COUGH, name: Cough}]
rules:
  symptom:
    - {fact: COUGH, min_value: "1", keys: {recommendations: A}}
`,
			want: "carries a threshold",
		},
		{
			name: "bad age group",
			doc: `
dictionaries:
  symptom: [{code: COUGH, name: Cough}]
rules:
  symptom:
    - {fact: COUGH, age_group: "0_to_17", keys: {}}
`,
			want: "unknown age_group",
		},
		{
			name: "bad category",
			doc: `
dictionaries:
  symptom: [{code: COUGH, name: Cough}]
rules:
  symptom:
    - {fact: COUGH, keys: {prescriptions: A}}
`,
			want: "unknown summary category",
		},
		{
			name: "duplicate rule id",
			doc: `
dictionaries:
  symptom: [{code: COUGH, name: Cough}, {code: FEVER, name: Fever}]
rules:
  symptom:
    - {id: 4, fact: COUGH, keys: {recommendations: A}}
    - {id: 4, fact: FEVER, keys: {recommendations: A}}
`,
			want: "duplicate rule id 4",
		},
		{
			name: "bad kind",
			doc: `
dictionaries:
  allergy: [{code: X, name: X}]
`,
			want: "unknown fact kind",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadYAML_DefaultIDsFollowExplicitOnes(t *testing.T) {
	doc := `
catalogs:
  recommendations:
    - {key: A, recommendation: one}
    - {id: 1, key: B, recommendation: two}
dictionaries:
  symptom: [{code: COUGH, name: Cough}]
  test: [{code: BP_TEST, name: Blood pressure}]
rules:
  symptom:
    - {fact: COUGH, keys: {recommendations: A}}
  test:
    - {id: 1, fact: BP_TEST, min_value: ">140", keys: {recommendations: B}}
`
	ref, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)

	ids := map[string]int64{}
	for _, r := range ref.Rules {
		ids[r.FactCode] = r.ID
	}
	assert.Equal(t, map[string]int64{"BP_TEST": 1, "COUGH": 2}, ids)

	a, ok := ref.Catalog.Recommendations.Get("A")
	require.True(t, ok)
	assert.Equal(t, int64(2), a.ID)
}

func TestNewTable_SortsByID(t *testing.T) {
	tbl, err := NewTable([]Entry[Recommendation]{
		{ID: 3, Key: "C", Content: Recommendation{Text: "c"}},
		{ID: 1, Key: "A", Content: Recommendation{Text: "a"}},
	})
	require.NoError(t, err)

	entries := tbl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].Key)

	e, ok := tbl.Get("C")
	require.True(t, ok)
	assert.Equal(t, int64(3), e.ID)

	var nilTable *Table[Recommendation]
	assert.False(t, nilTable.Has("A"))
	assert.Equal(t, 0, nilTable.Len())
}

func TestNewTable_DuplicateID(t *testing.T) {
	_, err := NewTable([]Entry[Recommendation]{
		{ID: 1, Key: "A"},
		{ID: 1, Key: "B"},
	})
	assert.Error(t, err)
}

func TestReferenceData_DictionaryEntry(t *testing.T) {
	ref := loadFixture(t)

	d, ok := ref.DictionaryEntry(KindVitalSign, "HEART_RATE")
	require.True(t, ok)
	assert.Equal(t, "bpm", d.Unit)

	_, ok = ref.DictionaryEntry(KindSymptom, "HEART_RATE")
	assert.False(t, ok, "codes are scoped to their kind")
	assert.Len(t, ref.Dictionary(KindSymptom), 2)
}
