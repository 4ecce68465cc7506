package rules

type factRef struct {
	kind FactKind
	code string
}

// Book indexes decision rules by fact kind and code. It is immutable once
// built.
type Book struct {
	rules map[factRef][]DecisionRule
	size  int
}

func NewBook(rules []DecisionRule) *Book {
	b := &Book{rules: make(map[factRef][]DecisionRule)}
	for _, r := range rules {
		ref := factRef{kind: r.Kind, code: r.FactCode}
		b.rules[ref] = append(b.rules[ref], r)
		b.size++
	}
	return b
}

// Candidates returns the rules for a fact that apply to the stratum.
func (b *Book) Candidates(kind FactKind, code string, s Stratum) []DecisionRule {
	var out []DecisionRule
	for _, r := range b.rules[factRef{kind: kind, code: code}] {
		if r.AppliesTo(s) {
			out = append(out, r)
		}
	}
	return out
}

func (b *Book) Len() int { return b.size }
