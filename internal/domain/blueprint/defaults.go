package blueprint

import "sort"

// DefaultColor is used for categories without a configured colour.
const DefaultColor = "#6c757d"

// DefaultRatios are the target weekly shares used when a document has no
// ratios section.
func DefaultRatios() map[string]float64 {
	return map[string]float64{
		"Class 11":        40,
		"Certifications":  20,
		"Freelancing":     20,
		"AI Tools":        10,
		"Career Planning": 10,
	}
}

// DefaultColors is the dashboard palette for the default categories.
func DefaultColors() map[string]string {
	return map[string]string{
		"Class 11":        "#4285F4",
		"AI Tools":        "#0F9D58",
		"Freelancing":     "#F4B400",
		"Certifications":  "#DB4437",
		"Career Planning": "#9C27B0",
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
