package qdrant

// Filter is the typed subset of the Qdrant filter DSL the backend uses:
// must (AND), should (OR), must_not, with exact match, match-any, full-text
// match and integer ranges.
type Filter struct {
	Must    []Condition
	Should  []Condition
	MustNot []Condition
}

type Condition struct {
	Field    string
	Match    any
	MatchAny []any
	Text     string
	Range    *RangeSpec
}

type RangeSpec struct {
	GTE *int64
	LTE *int64
	GT  *int64
	LT  *int64
}

func Match(field string, value any) Condition {
	return Condition{Field: field, Match: value}
}

func MatchAny(field string, values ...any) Condition {
	return Condition{Field: field, MatchAny: values}
}

func MatchText(field, text string) Condition {
	return Condition{Field: field, Text: text}
}

func RangeInt(field string, spec RangeSpec) Condition {
	return Condition{Field: field, Range: &spec}
}

func Int64Ptr(v int64) *int64 { return &v }

// And appends a must condition and returns the filter for chaining.
func (f *Filter) And(conds ...Condition) *Filter {
	f.Must = append(f.Must, conds...)
	return f
}

// Or appends a should condition and returns the filter for chaining.
func (f *Filter) Or(conds ...Condition) *Filter {
	f.Should = append(f.Should, conds...)
	return f
}

func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0)
}

// Clone returns a shallow copy so callers can branch a base filter per search leg.
func (f *Filter) Clone() *Filter {
	if f == nil {
		return &Filter{}
	}
	out := &Filter{
		Must:    make([]Condition, len(f.Must)),
		Should:  make([]Condition, len(f.Should)),
		MustNot: make([]Condition, len(f.MustNot)),
	}
	copy(out.Must, f.Must)
	copy(out.Should, f.Should)
	copy(out.MustNot, f.MustNot)
	return out
}

func (f *Filter) asMap() map[string]any {
	if f.IsEmpty() {
		return nil
	}
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = conditionsAsList(f.Must)
	}
	if len(f.Should) > 0 {
		out["should"] = conditionsAsList(f.Should)
	}
	if len(f.MustNot) > 0 {
		out["must_not"] = conditionsAsList(f.MustNot)
	}
	return out
}

func conditionsAsList(conds []Condition) []any {
	out := make([]any, 0, len(conds))
	for _, c := range conds {
		out = append(out, c.asMap())
	}
	return out
}

func (c Condition) asMap() map[string]any {
	switch {
	case c.Range != nil:
		rng := map[string]any{}
		if c.Range.GTE != nil {
			rng["gte"] = *c.Range.GTE
		}
		if c.Range.LTE != nil {
			rng["lte"] = *c.Range.LTE
		}
		if c.Range.GT != nil {
			rng["gt"] = *c.Range.GT
		}
		if c.Range.LT != nil {
			rng["lt"] = *c.Range.LT
		}
		return map[string]any{"key": c.Field, "range": rng}
	case c.Text != "":
		return map[string]any{"key": c.Field, "match": map[string]any{"text": c.Text}}
	case len(c.MatchAny) > 0:
		return map[string]any{"key": c.Field, "match": map[string]any{"any": c.MatchAny}}
	default:
		return map[string]any{"key": c.Field, "match": map[string]any{"value": c.Match}}
	}
}
