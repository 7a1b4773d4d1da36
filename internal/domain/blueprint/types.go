package blueprint

import (
	"fmt"
	"strings"
	"time"

	"github.com/mentora/engine/internal/domain/resolver"
	"github.com/mentora/engine/internal/shared/calendar"
)

// Importance ranks templates for placement. Higher is more important.
type Importance int

const (
	Low    Importance = 1
	Medium Importance = 2
	High   Importance = 3
)

// ParseImportance parses "high", "medium" or "low" (case-insensitive).
func ParseImportance(s string) (Importance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	}
	return 0, fmt.Errorf("unknown importance %q (want high, medium or low)", s)
}

func (i Importance) String() string {
	switch i {
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	}
	return fmt.Sprintf("importance(%d)", int(i))
}

func (i Importance) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *Importance) UnmarshalText(b []byte) error {
	v, err := ParseImportance(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// TimeBlock is one of the fixed daily windows a template prefers.
type TimeBlock int

const (
	Morning TimeBlock = iota
	Afternoon
	Evening
)

// TimeBlocks lists the windows in day order.
var TimeBlocks = []TimeBlock{Morning, Afternoon, Evening}

// ParseTimeBlock parses "morning", "afternoon" or "evening" (case-insensitive).
func ParseTimeBlock(s string) (TimeBlock, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "morning":
		return Morning, nil
	case "afternoon":
		return Afternoon, nil
	case "evening":
		return Evening, nil
	}
	return 0, fmt.Errorf("unknown time block %q (want morning, afternoon or evening)", s)
}

func (b TimeBlock) String() string {
	switch b {
	case Morning:
		return "morning"
	case Afternoon:
		return "afternoon"
	case Evening:
		return "evening"
	}
	return fmt.Sprintf("timeblock(%d)", int(b))
}

func (b TimeBlock) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *TimeBlock) UnmarshalText(text []byte) error {
	v, err := ParseTimeBlock(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Template is an immutable recurring task definition.
type Template struct {
	ID          string              `json:"id"`
	Category    string              `json:"category"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Duration    int                 `json:"duration_minutes"`
	Preferred   TimeBlock           `json:"preferred_time"`
	Days        calendar.WeekdaySet `json:"days"`
	Importance  Importance          `json:"importance"`
	DependsOn   []string            `json:"depends_on,omitempty"`
}

// AllowedOn reports whether the template may be scheduled on d.
func (t *Template) AllowedOn(d calendar.Date) bool {
	return t.Days.Has(d.Weekday())
}

// Blueprint is one accepted, versioned template set. Never mutated after
// the store publishes it.
type Blueprint struct {
	Version   uint64             `json:"version"`
	Digest    string             `json:"digest"`
	LoadedAt  time.Time          `json:"loaded_at"`
	Templates []Template         `json:"templates"`
	Ratios    map[string]float64 `json:"ratios"`
	Colors    map[string]string  `json:"colors"`

	byID  map[string]int
	graph *resolver.Graph
}

// Template looks up a template by id.
func (b *Blueprint) Template(id string) (*Template, bool) {
	i, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	return &b.Templates[i], true
}

// Graph returns the validated dependency graph.
func (b *Blueprint) Graph() *resolver.Graph {
	return b.graph
}

// Categories returns the ratio categories in name order.
func (b *Blueprint) Categories() []string {
	return sortedKeys(b.Ratios)
}

// Color returns the display colour of a category.
func (b *Blueprint) Color(category string) string {
	if c, ok := b.Colors[category]; ok {
		return c
	}
	return DefaultColor
}

// Eligible returns the templates allowed on d, in id order.
func (b *Blueprint) Eligible(d calendar.Date) []*Template {
	var out []*Template
	for i := range b.Templates {
		if b.Templates[i].AllowedOn(d) {
			out = append(out, &b.Templates[i])
		}
	}
	return out
}

// withVersion returns a copy stamped with version and load time.
func (b *Blueprint) withVersion(v uint64, at time.Time) *Blueprint {
	cp := *b
	cp.Version = v
	cp.LoadedAt = at
	return &cp
}
