package blueprint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora/engine/internal/domain/resolver"
	"github.com/mentora/engine/internal/shared/calendar"
)

const physicsTrig = `{
  "Class 11": [
    {"name": "Physics", "duration": 50, "preferred_time": "morning",
     "days": ["Mon", "Wed", "Fri"], "importance": "high", "depends_on": []},
    {"name": "Trig", "duration": 60, "preferred_time": "afternoon",
     "days": ["Tue", "Thu"], "importance": "medium"}
  ],
  "ratios": {"Class 11": 100}
}`

func TestParseValidDocument(t *testing.T) {
	bp, err := Parse([]byte(physicsTrig), FormatJSON)
	require.NoError(t, err)

	require.Len(t, bp.Templates, 2)
	physics, ok := bp.Template("class-11.physics")
	require.True(t, ok)
	assert.Equal(t, 50, physics.Duration)
	assert.Equal(t, Morning, physics.Preferred)
	assert.Equal(t, High, physics.Importance)
	assert.Equal(t, calendar.WeekdaysOf(time.Monday, time.Wednesday, time.Friday), physics.Days)
	assert.NotEmpty(t, bp.Digest)
	assert.Equal(t, "#4285F4", bp.Color("Class 11"))
	assert.Equal(t, DefaultColor, bp.Color("Unknown"))
}

func TestParseFieldErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"zero duration", `{"A":[{"name":"x","duration":0,"preferred_time":"morning","days":["Mon"],"importance":"high"}],"ratios":{"A":100}}`, "duration"},
		{"negative duration", `{"A":[{"name":"x","duration":-5,"preferred_time":"morning","days":["Mon"],"importance":"high"}],"ratios":{"A":100}}`, "duration"},
		{"fractional duration", `{"A":[{"name":"x","duration":12.5,"preferred_time":"morning","days":["Mon"],"importance":"high"}],"ratios":{"A":100}}`, "duration"},
		{"empty days", `{"A":[{"name":"x","duration":10,"preferred_time":"morning","days":[],"importance":"high"}],"ratios":{"A":100}}`, "days"},
		{"bad day", `{"A":[{"name":"x","duration":10,"preferred_time":"morning","days":["Funday"],"importance":"high"}],"ratios":{"A":100}}`, "days"},
		{"bad block", `{"A":[{"name":"x","duration":10,"preferred_time":"night","days":["Mon"],"importance":"high"}],"ratios":{"A":100}}`, "preferred_time"},
		{"bad importance", `{"A":[{"name":"x","duration":10,"preferred_time":"morning","days":["Mon"],"importance":"urgent"}],"ratios":{"A":100}}`, "importance"},
		{"unknown dependency", `{"A":[{"name":"x","duration":10,"preferred_time":"morning","days":["Mon"],"importance":"high","depends_on":["ghost"]}],"ratios":{"A":100}}`, "depends_on"},
		{"unknown field", `{"A":[{"name":"x","duration":10,"preferred_time":"morning","days":["Mon"],"importance":"high","colour":"red"}],"ratios":{"A":100}}`, "colour"},
		{"missing name", `{"A":[{"duration":10,"preferred_time":"morning","days":["Mon"],"importance":"high"}],"ratios":{"A":100}}`, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatJSON)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParse)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}

func TestParseUnknownCategory(t *testing.T) {
	doc := `{"Gardening":[{"name":"x","duration":10,"preferred_time":"morning","days":["Mon"],"importance":"high"}]}`
	_, err := Parse([]byte(doc), FormatJSON)
	assert.ErrorIs(t, err, ErrParse)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestParseRatioSum(t *testing.T) {
	doc := `{"A":[{"name":"x","duration":10,"preferred_time":"morning","days":["Mon"],"importance":"high"}],"ratios":{"A":60,"B":30}}`
	_, err := Parse([]byte(doc), FormatJSON)
	require.Error(t, err)

	var rse *RatioSumError
	require.ErrorAs(t, err, &rse)
	assert.InDelta(t, 90, rse.Total, 1e-9)
	assert.True(t, errors.Is(err, ErrRatioSum))
}

func TestParseDependenciesByName(t *testing.T) {
	bp, err := Parse(mustSample(t), FormatJSON)
	require.NoError(t, err)

	update, ok := bp.Template("career-planning.update-5-year-plan-document")
	require.True(t, ok)
	assert.Equal(t, []string{"career-planning.research-university-options"}, update.DependsOn)
	assert.True(t, bp.Graph().Blocking("career-planning.research-university-options"))
}

func TestParseAmbiguousDependency(t *testing.T) {
	doc := `{
	  "A":[{"name":"dup","duration":10,"preferred_time":"morning","days":["Mon"],"importance":"high"},
	       {"name":"y","duration":10,"preferred_time":"morning","days":["Mon"],"importance":"high","depends_on":["dup"]}],
	  "B":[{"name":"dup","duration":10,"preferred_time":"morning","days":["Mon"],"importance":"high"}],
	  "ratios":{"A":50,"B":50}}`
	_, err := Parse([]byte(doc), FormatJSON)
	assert.ErrorIs(t, err, ErrParse)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestParseDayShortcuts(t *testing.T) {
	doc := `{"A":[{"name":"x","duration":10,"preferred_time":"morning","days":"weekdays","importance":"low"},
	              {"name":"y","duration":10,"preferred_time":"evening","days":["saturday","SUN"],"importance":"low"}],
	         "ratios":{"A":100}}`
	bp, err := Parse([]byte(doc), FormatJSON)
	require.NoError(t, err)

	x, _ := bp.Template("a.x")
	assert.Len(t, x.Days.Days(), 5)
	y, _ := bp.Template("a.y")
	assert.True(t, y.Days.Has(time.Saturday))
	assert.True(t, y.Days.Has(time.Sunday))
}

func TestParseYAMLAndTOML(t *testing.T) {
	yamlDoc := `
Class 11:
  - name: Physics
    duration: 50
    preferred_time: morning
    days: [Mon, Wed, Fri]
    importance: high
ratios:
  Class 11: 100
`
	bp, err := Parse([]byte(yamlDoc), FormatYAML)
	require.NoError(t, err)
	assert.Len(t, bp.Templates, 1)

	tomlDoc := `
[ratios]
"Class 11" = 100

[["Class 11"]]
name = "Physics"
duration = 50
preferred_time = "morning"
days = ["Mon", "Wed", "Fri"]
importance = "high"
`
	bp2, err := Parse([]byte(tomlDoc), FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, bp.Digest, bp2.Digest)
}

func TestParseInvalidSyntax(t *testing.T) {
	_, err := Parse([]byte(`{"A": [`), FormatJSON)
	assert.ErrorIs(t, err, ErrParse)
}

func TestStoreLoadBumpsVersionAndNotifies(t *testing.T) {
	store := NewStore(nil)
	var seen []uint64
	store.OnChange(func(bp *Blueprint) { seen = append(seen, bp.Version) })

	bp1, err := store.Load([]byte(physicsTrig), FormatJSON)
	require.NoError(t, err)
	bp2, err := store.Load([]byte(physicsTrig), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), bp1.Version)
	assert.Equal(t, uint64(2), bp2.Version)
	assert.Equal(t, []uint64{1, 2}, seen)

	cur, ok := store.Current()
	require.True(t, ok)
	assert.Same(t, bp2, cur)
}

func TestStoreRejectsCycleAndKeepsPrevious(t *testing.T) {
	store := NewStore(nil)
	_, err := store.Load([]byte(physicsTrig), FormatJSON)
	require.NoError(t, err)

	notified := 0
	store.OnChange(func(*Blueprint) { notified++ })

	cyclic := `{"A":[
	  {"name":"Task A","duration":30,"preferred_time":"morning","days":["Mon"],"importance":"high","depends_on":["Task B"]},
	  {"name":"Task B","duration":30,"preferred_time":"morning","days":["Mon"],"importance":"high","depends_on":["Task A"]}],
	  "ratios":{"A":100}}`
	_, err = store.Load([]byte(cyclic), FormatJSON)
	require.Error(t, err)

	var cyc *resolver.CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.ElementsMatch(t, []string{"a.task-a", "a.task-b"}, cyc.Cycle[:2])
	assert.Equal(t, "cyclic_dependency", ErrorKind(err))

	cur, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(1), cur.Version)
	_, stillThere := cur.Template("class-11.physics")
	assert.True(t, stillThere)
	assert.Zero(t, notified)
	assert.ErrorIs(t, store.LastError(), resolver.ErrCyclicDependency)

	_, err = store.Load([]byte(physicsTrig), FormatJSON)
	require.NoError(t, err)
	assert.NoError(t, store.LastError())
}

func TestStoreEnsureFileWritesSample(t *testing.T) {
	for _, name := range []string{"blueprint.json", "blueprint.yaml", "blueprint.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "blueprints", name)
			store := NewStore(nil)

			bp, err := store.EnsureFile(path)
			require.NoError(t, err)
			assert.Len(t, bp.Templates, 10)

			_, err = os.Stat(path)
			assert.NoError(t, err)
		})
	}
}

func TestStoreLoadFileMissing(t *testing.T) {
	store := NewStore(nil)
	_, err := store.LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, ErrNoFile)
	_, ok := store.Current()
	assert.False(t, ok)
}

func TestStoreVersionFloor(t *testing.T) {
	store := NewStore(nil)
	store.SetVersionFloor(41)

	bp, err := store.Load([]byte(physicsTrig), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), bp.Version)
}

func TestFormatDetection(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("x.YML"))
	assert.Equal(t, FormatTOML, FormatFromPath("x.toml"))
	assert.Equal(t, FormatJSON, FormatFromPath("x"))
	assert.Equal(t, FormatYAML, FormatFromContentType("application/yaml; charset=utf-8"))
	assert.Equal(t, FormatTOML, FormatFromContentType("application/toml"))
	assert.Equal(t, FormatJSON, FormatFromContentType(""))
}

func mustSample(t *testing.T) []byte {
	t.Helper()
	data, err := Encode(Sample(), FormatJSON)
	require.NoError(t, err)
	return data
}
