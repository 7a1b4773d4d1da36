package blueprint

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mentora/engine/internal/domain/resolver"
	"github.com/mentora/engine/internal/shared/calendar"
	"github.com/mentora/engine/internal/shared/utils"
)

// Reserved top-level keys; every other key is a category.
const (
	keyRatios = "ratios"
	keyColors = "colors"
)

const maxDuration = 24 * 60

var templateFields = map[string]bool{
	"id":             true,
	"name":           true,
	"description":    true,
	"duration":       true,
	"preferred_time": true,
	"days":           true,
	"importance":     true,
	"depends_on":     true,
}

var hasher = utils.DefaultHasher()

// Parse decodes and validates a blueprint document. The returned blueprint
// has no version; the Store assigns one when it is accepted.
func Parse(data []byte, format Format) (*Blueprint, error) {
	if err := utils.ValidateSize(data, utils.MaxBlueprintSize); err != nil {
		return nil, parseErrorf("", "", "%v", err)
	}
	doc, err := decode(data, format)
	if err != nil {
		return nil, err
	}
	return build(doc)
}

type rawTemplate struct {
	tpl  Template
	deps []string
}

func build(doc map[string]any) (*Blueprint, error) {
	ratios, err := parseRatios(doc[keyRatios])
	if err != nil {
		return nil, err
	}
	colors, err := parseColors(doc[keyColors])
	if err != nil {
		return nil, err
	}

	var raws []rawTemplate
	for _, category := range sortedKeys(doc) {
		if category == keyRatios || category == keyColors {
			continue
		}
		if err := utils.ValidateCategory(category); err != nil {
			return nil, parseErrorf(category, "", "%v", err)
		}
		if _, ok := ratios[category]; !ok {
			return nil, parseErrorf(category, "", "unknown category (not in ratios: %s)", strings.Join(sortedKeys(ratios), ", "))
		}
		items, ok := doc[category].([]any)
		if !ok {
			return nil, parseErrorf(category, "", "expected a list of templates")
		}
		for i, item := range items {
			raw, err := parseTemplate(category, i, item)
			if err != nil {
				return nil, err
			}
			raws = append(raws, raw)
		}
	}
	if len(raws) == 0 {
		return nil, parseErrorf("", "", "blueprint defines no templates")
	}

	if err := resolveDependencies(raws); err != nil {
		return nil, err
	}

	bp := &Blueprint{
		Templates: make([]Template, len(raws)),
		Ratios:    ratios,
		Colors:    colors,
		byID:      make(map[string]int, len(raws)),
	}
	nodes := make([]resolver.Node, len(raws))
	for i, raw := range raws {
		bp.Templates[i] = raw.tpl
		bp.byID[raw.tpl.ID] = i
		nodes[i] = resolver.Node{ID: raw.tpl.ID, DependsOn: raw.tpl.DependsOn}
	}

	graph, err := resolver.Resolve(nodes)
	if err != nil {
		var cyc *resolver.CyclicDependencyError
		if errors.As(err, &cyc) {
			return nil, err
		}
		return nil, parseErrorf("", "depends_on", "%v", err)
	}
	bp.graph = graph

	digest, err := hasher.HashJSON(struct {
		Templates []Template         `json:"templates"`
		Ratios    map[string]float64 `json:"ratios"`
		Colors    map[string]string  `json:"colors"`
	}{bp.Templates, bp.Ratios, bp.Colors})
	if err != nil {
		return nil, fmt.Errorf("digest blueprint: %w", err)
	}
	bp.Digest = digest

	return bp, nil
}

func parseRatios(v any) (map[string]float64, error) {
	if v == nil {
		return DefaultRatios(), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, parseErrorf("", keyRatios, "expected a mapping of category to percentage")
	}

	ratios := make(map[string]float64, len(m))
	total := 0.0
	for category, raw := range m {
		pct, ok := toFloat(raw)
		if !ok || pct < 0 || math.IsNaN(pct) {
			return nil, parseErrorf(category, keyRatios, "percentage must be a non-negative number")
		}
		ratios[category] = pct
		total += pct
	}
	if math.Abs(total-100) > 1e-6 {
		return nil, &RatioSumError{Total: total}
	}
	return ratios, nil
}

func parseColors(v any) (map[string]string, error) {
	colors := DefaultColors()
	if v == nil {
		return colors, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, parseErrorf("", keyColors, "expected a mapping of category to #hex colour")
	}
	for category, raw := range m {
		s, ok := raw.(string)
		if !ok {
			return nil, parseErrorf(category, keyColors, "colour must be a string")
		}
		if err := utils.ValidateColor(s); err != nil {
			return nil, parseErrorf(category, keyColors, "%v", err)
		}
		colors[category] = s
	}
	return colors, nil
}

func parseTemplate(category string, index int, item any) (rawTemplate, error) {
	label := fmt.Sprintf("%s[%d]", category, index)

	m, ok := item.(map[string]any)
	if !ok {
		return rawTemplate{}, parseErrorf(label, "", "expected a template object")
	}
	for _, k := range sortedKeys(m) {
		if !templateFields[k] {
			return rawTemplate{}, parseErrorf(label, k, "unknown field")
		}
	}

	name, _ := m["name"].(string)
	name = strings.TrimSpace(name)
	if err := utils.ValidateName(name, "name"); err != nil {
		return rawTemplate{}, parseErrorf(label, "name", "%v", err)
	}
	label = name

	tpl := Template{Category: category, Name: name}

	if raw, ok := m["id"]; ok && raw != nil {
		id, ok := raw.(string)
		if !ok {
			return rawTemplate{}, parseErrorf(label, "id", "must be a string")
		}
		if err := utils.ValidateID(id, "id", true); err != nil {
			return rawTemplate{}, parseErrorf(label, "id", "%v", err)
		}
		tpl.ID = id
	} else {
		cat, nm := utils.Slug(category), utils.Slug(name)
		if cat == "" || nm == "" {
			return rawTemplate{}, parseErrorf(label, "id", "cannot derive an id; set one explicitly")
		}
		tpl.ID = cat + "." + nm
	}

	if raw, ok := m["description"]; ok && raw != nil {
		desc, ok := raw.(string)
		if !ok {
			return rawTemplate{}, parseErrorf(label, "description", "must be a string")
		}
		tpl.Description = desc
	}

	duration, ok := toInt(m["duration"])
	if !ok || duration <= 0 {
		return rawTemplate{}, parseErrorf(label, "duration", "must be a positive whole number of minutes")
	}
	if duration > maxDuration {
		return rawTemplate{}, parseErrorf(label, "duration", "must not exceed %d minutes", maxDuration)
	}
	tpl.Duration = duration

	block, _ := m["preferred_time"].(string)
	pref, err := ParseTimeBlock(block)
	if err != nil {
		return rawTemplate{}, parseErrorf(label, "preferred_time", "%v", err)
	}
	tpl.Preferred = pref

	days, err := parseDays(m["days"])
	if err != nil {
		return rawTemplate{}, parseErrorf(label, "days", "%v", err)
	}
	tpl.Days = days

	imp, _ := m["importance"].(string)
	importance, err := ParseImportance(imp)
	if err != nil {
		return rawTemplate{}, parseErrorf(label, "importance", "%v", err)
	}
	tpl.Importance = importance

	deps, err := stringList(m["depends_on"])
	if err != nil {
		return rawTemplate{}, parseErrorf(label, "depends_on", "%v", err)
	}

	return rawTemplate{tpl: tpl, deps: deps}, nil
}

func parseDays(v any) (calendar.WeekdaySet, error) {
	var tags []string
	switch t := v.(type) {
	case string:
		tags = []string{t}
	default:
		list, err := stringList(v)
		if err != nil {
			return 0, err
		}
		tags = list
	}

	var set calendar.WeekdaySet
	for _, tag := range tags {
		days, err := calendar.ParseWeekday(tag)
		if err != nil {
			return 0, err
		}
		set |= days
	}
	if set.Empty() {
		return 0, fmt.Errorf("at least one day is required")
	}
	return set, nil
}

// resolveDependencies rewrites depends_on references to template ids.
// A reference matches an id first, then a unique template name.
func resolveDependencies(raws []rawTemplate) error {
	byID := make(map[string]bool, len(raws))
	byName := make(map[string][]string, len(raws))
	for _, r := range raws {
		if byID[r.tpl.ID] {
			return parseErrorf(r.tpl.Name, "id", "duplicate template id %q", r.tpl.ID)
		}
		byID[r.tpl.ID] = true
		byName[r.tpl.Name] = append(byName[r.tpl.Name], r.tpl.ID)
	}

	for i := range raws {
		r := &raws[i]
		seen := make(map[string]bool, len(r.deps))
		for _, ref := range r.deps {
			var id string
			switch {
			case byID[ref]:
				id = ref
			case len(byName[ref]) == 1:
				id = byName[ref][0]
			case len(byName[ref]) > 1:
				return parseErrorf(r.tpl.Name, "depends_on", "%q is ambiguous (%s)", ref, strings.Join(byName[ref], ", "))
			default:
				return parseErrorf(r.tpl.Name, "depends_on", "unknown template %q", ref)
			}
			if !seen[id] {
				seen[id] = true
				r.tpl.DependsOn = append(r.tpl.DependsOn, id)
			}
		}
		sort.Strings(r.tpl.DependsOn)
	}
	return nil
}

func stringList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a list of strings")
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
