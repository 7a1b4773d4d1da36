// Package balance steers placement toward the blueprint's category ratios.
//
// Shares are measured over a calendar week of scheduled minutes. A
// category that is behind its target share gets a positive boost, one
// that is ahead gets a negative one. The allocator only compares boosts
// between candidates of the same importance.
package balance

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mentora/engine/internal/shared/calendar"
)

// WeekState accumulates scheduled minutes per category for one week.
type WeekState struct {
	WeekStart calendar.Date
	Minutes   map[string]int
}

// NewWeekState returns an empty state for the week containing d.
func NewWeekState(d calendar.Date) *WeekState {
	return &WeekState{WeekStart: d.WeekStart(), Minutes: make(map[string]int)}
}

// Add records minutes for a category.
func (w *WeekState) Add(category string, minutes int) {
	w.Minutes[category] += minutes
}

// AddAll merges a per-category minute map.
func (w *WeekState) AddAll(m map[string]int) {
	for cat, n := range m {
		w.Minutes[cat] += n
	}
}

// Total returns the scheduled minutes across all categories.
func (w *WeekState) Total() int {
	total := 0
	for _, n := range w.Minutes {
		total += n
	}
	return total
}

// Clone returns an independent copy.
func (w *WeekState) Clone() *WeekState {
	cp := NewWeekState(w.WeekStart)
	cp.AddAll(w.Minutes)
	return cp
}

// Balancer turns share deficits into placement boosts.
type Balancer struct {
	MaxBoost float64
	Scale    float64
}

// New returns a Balancer.
func New(maxBoost, scale float64) Balancer {
	return Balancer{MaxBoost: maxBoost, Scale: scale}
}

// Default returns a Balancer with a 0.5 clamp and a 2.5 scale.
func Default() Balancer { return New(0.5, 2.5) }

// Weights returns the boost for every category in ratios, given the week so
// far. Ratios are percentages. With nothing scheduled yet every boost is
// proportional to the category's target alone.
func (b Balancer) Weights(ratios map[string]float64, week *WeekState) map[string]float64 {
	cats := categories(ratios)
	target := targetVector(cats, ratios)
	share := shareVector(cats, week)

	out := make(map[string]float64, len(cats))
	for i, c := range cats {
		out[c] = b.clamp(b.Scale * (target[i] - share[i]))
	}
	return out
}

func (b Balancer) clamp(v float64) float64 {
	return math.Max(-b.MaxBoost, math.Min(b.MaxBoost, v))
}

// Shares returns each category's fraction of the week's minutes, in
// percent. Categories absent from ratios are still reported.
func Shares(week *WeekState) map[string]float64 {
	out := make(map[string]float64, len(week.Minutes))
	total := float64(week.Total())
	for c, n := range week.Minutes {
		if total == 0 {
			out[c] = 0
			continue
		}
		out[c] = 100 * float64(n) / total
	}
	return out
}

// Drift summarizes how far a week is from its targets.
type Drift struct {
	// Max is the largest absolute gap in percentage points.
	Max float64 `json:"max_pp"`
	// L2 is the euclidean distance between share and target vectors,
	// in percentage points.
	L2 float64 `json:"l2_pp"`
	// Spread is the population standard deviation of the per-category
	// gaps.
	Spread float64 `json:"spread_pp"`
}

// Measure compares a week's shares to ratios.
func Measure(ratios map[string]float64, week *WeekState) Drift {
	cats := categories(ratios)
	target := targetVector(cats, ratios)
	share := shareVector(cats, week)
	floats.Scale(100, target)
	floats.Scale(100, share)
	gaps := make([]float64, len(cats))
	floats.SubTo(gaps, share, target)
	return Drift{
		Max:    floats.Distance(target, share, math.Inf(1)),
		L2:     floats.Distance(target, share, 2),
		Spread: stat.PopStdDev(gaps, nil),
	}
}

func categories(ratios map[string]float64) []string {
	cats := make([]string, 0, len(ratios))
	for c := range ratios {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

func targetVector(cats []string, ratios map[string]float64) []float64 {
	v := make([]float64, len(cats))
	for i, c := range cats {
		v[i] = ratios[c] / 100
	}
	return v
}

func shareVector(cats []string, week *WeekState) []float64 {
	v := make([]float64, len(cats))
	if week == nil {
		return v
	}
	for i, c := range cats {
		v[i] = float64(week.Minutes[c])
	}
	if sum := floats.Sum(v); sum > 0 {
		floats.Scale(1/sum, v)
	}
	return v
}
