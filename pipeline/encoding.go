package pipeline

import (
	"sort"
	"strings"
)

// CategoryMap is the label encoding of one column: Categories[i] has code i.
// Fallback is the code used for values never seen during training.
type CategoryMap struct {
	Categories []string `json:"categories"`
	Fallback   int      `json:"fallback"`
}

// Code returns the code for value and whether value was recognised. Exact
// matches win; otherwise a single case-insensitive match is accepted; anything
// else maps to Fallback.
func (m CategoryMap) Code(value string) (float64, bool) {
	i := sort.SearchStrings(m.Categories, value)
	if i < len(m.Categories) && m.Categories[i] == value {
		return float64(i), true
	}

	match := -1
	for i, c := range m.Categories {
		if strings.EqualFold(c, strings.TrimSpace(value)) {
			if match >= 0 {
				match = -1
				break
			}
			match = i
		}
	}
	if match >= 0 {
		return float64(match), true
	}
	return float64(m.Fallback), false
}

// EncodingPolicy holds the category maps of every encoded column. It is
// persisted with the model so prediction encodes exactly like training.
type EncodingPolicy map[string]CategoryMap

// Encode label-encodes every categorical column of t in place. Codes follow
// the sorted (byte-wise, case-sensitive) order of the distinct values.
func Encode(t *Table) EncodingPolicy {
	policy := make(EncodingPolicy)
	for _, col := range t.ColumnsOf(Categorical) {
		if col.Encoded {
			continue
		}
		policy[col.Name] = encodeColumn(col)
	}
	return policy
}

func encodeColumn(col *Column) CategoryMap {
	seen := make(map[string]struct{})
	for _, v := range col.Strings {
		seen[v] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for v := range seen {
		categories = append(categories, v)
	}
	sort.Strings(categories)

	codes := make(map[string]int, len(categories))
	for i, v := range categories {
		codes[v] = i
	}
	col.Numbers = make([]float64, len(col.Strings))
	for i, v := range col.Strings {
		col.Numbers[i] = float64(codes[v])
	}
	col.Encoded = true

	fallback := 0
	if mode, ok := Mode(col.Strings); ok {
		fallback = codes[mode]
	}
	return CategoryMap{Categories: categories, Fallback: fallback}
}
