package blueprint

// SampleTemplate is the document shape of one template.
type SampleTemplate struct {
	Name          string   `json:"name" yaml:"name" toml:"name"`
	Duration      int      `json:"duration" yaml:"duration" toml:"duration"`
	PreferredTime string   `json:"preferred_time" yaml:"preferred_time" toml:"preferred_time"`
	Days          []string `json:"days" yaml:"days" toml:"days"`
	Importance    string   `json:"importance" yaml:"importance" toml:"importance"`
	DependsOn     []string `json:"depends_on" yaml:"depends_on" toml:"depends_on"`
}

// Sample returns the starter blueprint written when no file exists.
func Sample() map[string][]SampleTemplate {
	return map[string][]SampleTemplate{
		"Class 11": {
			{Name: "Physics Ch1 - Laws of Motion", Duration: 50, PreferredTime: "morning", Days: []string{"Mon", "Wed", "Fri"}, Importance: "high", DependsOn: []string{}},
			{Name: "Maths - Trigonometry", Duration: 60, PreferredTime: "afternoon", Days: []string{"Tue", "Thu"}, Importance: "medium", DependsOn: []string{}},
			{Name: "Chemistry - Periodic Table", Duration: 45, PreferredTime: "morning", Days: []string{"Mon", "Thu"}, Importance: "high", DependsOn: []string{}},
		},
		"AI Tools": {
			{Name: "Explore Replit Agents", Duration: 45, PreferredTime: "evening", Days: []string{"Mon", "Thu"}, Importance: "medium", DependsOn: []string{}},
			{Name: "Learn Cursor AI Features", Duration: 60, PreferredTime: "morning", Days: []string{"Tue", "Fri"}, Importance: "medium", DependsOn: []string{}},
		},
		"Freelancing": {
			{Name: "Portfolio Website Update", Duration: 90, PreferredTime: "afternoon", Days: []string{"Wed", "Sat"}, Importance: "high", DependsOn: []string{}},
			{Name: "Client Meeting Prep", Duration: 30, PreferredTime: "evening", Days: []string{"Tue"}, Importance: "high", DependsOn: []string{}},
		},
		"Certifications": {
			{Name: "AWS Cloud Practitioner Study", Duration: 60, PreferredTime: "afternoon", Days: []string{"Mon", "Wed", "Fri"}, Importance: "medium", DependsOn: []string{}},
		},
		"Career Planning": {
			{Name: "Research University Options", Duration: 45, PreferredTime: "evening", Days: []string{"Sun"}, Importance: "medium", DependsOn: []string{}},
			{Name: "Update 5-Year Plan Document", Duration: 60, PreferredTime: "evening", Days: []string{"Sat"}, Importance: "low", DependsOn: []string{"Research University Options"}},
		},
	}
}
