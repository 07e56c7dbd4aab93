// Package registry is the read-mostly discovery facade over the catalog,
// usage statistics, and session table. HTTP handlers and the CLI talk to
// this package instead of reaching into the underlying stores.
package registry

import (
	"sort"
	"strings"
	"time"

	"vita/internal/session"
	"vita/internal/stats"
	"vita/internal/tool"
)

// Summary is the listing view of a tool: enough to discover it without the
// full parameter schema.
type Summary struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    tool.Category `json:"category"`
	Version     string        `json:"version,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	HasHandler  bool          `json:"has_handler"`
}

// Detail is the full view of a single tool: its complete spec plus the
// usage record accumulated so far.
type Detail struct {
	Tool  *tool.Tool       `json:"tool"`
	Usage *stats.ToolUsage `json:"usage,omitempty"`
}

// Filter narrows List and Search results. Zero values match everything;
// Limit <= 0 means unlimited.
type Filter struct {
	Query    string
	Category tool.Category
	Tag      string
	Limit    int
}

// Statistics is the aggregate registry report.
type Statistics struct {
	TotalTools      int                        `json:"total_tools"`
	HandlerCoverage float64                    `json:"handler_coverage"`
	ByCategory      map[tool.Category]int      `json:"by_category"`
	ByTag           map[string]int             `json:"by_tag"`
	TotalCalls      int64                      `json:"total_calls"`
	SuccessRate     float64                    `json:"success_rate"`
	Health          string                     `json:"health"`
	DegradedTools   []string                   `json:"degraded_tools,omitempty"`
	Usage           map[string]stats.ToolUsage `json:"usage"`
	ActiveSessions  int                        `json:"active_sessions"`
	Uptime          time.Duration              `json:"uptime_ns"`
}

// Facade bundles the stores behind one discovery surface.
type Facade struct {
	catalog  *tool.Catalog
	stats    *stats.Collector
	sessions *session.Tracker
}

// New builds the facade. sessions may be nil when session reporting is not
// wanted (the CLI export path).
func New(catalog *tool.Catalog, collector *stats.Collector, sessions *session.Tracker) *Facade {
	return &Facade{catalog: catalog, stats: collector, sessions: sessions}
}

// List returns tool summaries matching the filter, sorted by name.
func (f *Facade) List(filter Filter) []Summary {
	var tools []*tool.Tool
	if strings.TrimSpace(filter.Query) != "" {
		tools = f.catalog.Search(filter.Query)
	} else {
		tools = f.catalog.List(filter.Category)
	}

	out := make([]Summary, 0, len(tools))
	for _, t := range tools {
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if filter.Tag != "" && !hasTag(t, filter.Tag) {
			continue
		}
		out = append(out, Summary{
			Name:        t.Name,
			Description: t.Description,
			Category:    t.Category,
			Version:     t.Version,
			Tags:        t.Tags,
			HasHandler:  f.catalog.HasHandler(t.Name),
		})
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// Get returns the full detail for one tool, usage included when any calls
// have been recorded.
func (f *Facade) Get(name string) (*Detail, error) {
	t, err := f.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	detail := &Detail{Tool: t}
	if usage, ok := f.stats.Get(name); ok {
		detail.Usage = &usage
	}
	return detail, nil
}

// Categories returns the categories that currently hold at least one tool.
func (f *Facade) Categories() []tool.Category {
	return f.catalog.ActiveCategories()
}

// Statistics assembles the aggregate report across catalog, usage, and
// sessions.
func (f *Facade) Statistics() Statistics {
	report := Statistics{
		TotalTools:      f.catalog.Len(),
		HandlerCoverage: f.catalog.HandlerCoverage(),
		ByCategory:      make(map[tool.Category]int),
		ByTag:           make(map[string]int),
		TotalCalls:      f.stats.TotalCalls(),
		SuccessRate:     f.stats.SuccessRate(),
		Health:          f.stats.Health(),
		DegradedTools:   f.stats.DegradedTools(),
		Usage:           f.stats.Snapshot(),
		Uptime:          f.stats.Uptime(),
	}
	for _, t := range f.catalog.List("") {
		report.ByCategory[t.Category]++
		for _, tag := range t.Tags {
			report.ByTag[strings.ToLower(tag)]++
		}
	}
	if f.sessions != nil {
		report.ActiveSessions = f.sessions.ActiveCount()
	}
	sort.Strings(report.DegradedTools)
	return report
}

func hasTag(t *tool.Tool, tag string) bool {
	for _, candidate := range t.Tags {
		if strings.EqualFold(candidate, tag) {
			return true
		}
	}
	return false
}
