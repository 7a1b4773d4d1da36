// Package blueprint parses and holds the declarative task blueprint.
//
// A blueprint document maps each category to an ordered list of task
// templates, plus optional "ratios" (target weekly share per category,
// summing to 100) and "colors" sections:
//
//	{
//	  "Class 11": [
//	    {"name": "Physics", "duration": 50, "preferred_time": "morning",
//	     "days": ["Mon", "Wed", "Fri"], "importance": "high", "depends_on": []}
//	  ],
//	  "ratios": {"Class 11": 100}
//	}
//
// Documents may be JSON, YAML or TOML. Template ids default to
// "<category-slug>.<name-slug>"; depends_on entries may name a template by
// id or by its (unique) name. Cycles are rejected with
// resolver.CyclicDependencyError.
//
// Store applies replace-or-reject semantics: a rejected document never
// disturbs the active blueprint.
package blueprint
