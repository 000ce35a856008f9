package coherence

import (
	"github.com/gaborage/go-coherence/cache"
	"github.com/gaborage/go-coherence/store"
)

// Planner computes the cache groups a write makes stale.
type Planner struct {
	system string
	entity string
	specs  []CacheSpec
}

// NewPlanner builds the planner of an entity. cfg is expected to be valid.
func NewPlanner(cfg EntityConfig) *Planner {
	return &Planner{
		system: cfg.System,
		entity: cfg.Name,
		specs:  cfg.Caches.Specs(),
	}
}

// Namespace returns the entity namespace of dimension.
func (p *Planner) Namespace(dimension string, qualifier ...string) string {
	return cache.Namespace(p.system, p.entity, dimension, qualifier...)
}

// Specs returns the secondary dimensions.
func (p *Planner) Specs() []CacheSpec {
	return p.specs
}

// HasSecondary reports whether any index or count dimension is configured.
func (p *Planner) HasSecondary() bool {
	return len(p.specs) > 0
}

// Touches reports whether data sets any field a secondary dimension is keyed on.
func (p *Planner) Touches(data store.Record) bool {
	for _, s := range p.specs {
		if _, ok := data[s.Field]; ok {
			return true
		}
	}
	return false
}

// Plan returns the groups to delete after a write to ids. rows holds every known version
// of the affected rows (pre-write snapshot and payload) so that both the old and the new
// value of a secondary field are invalidated.
//
// The data bucket is always dropped whole: which cached lists contain a row cannot be
// known without re-running their queries.
func (p *Planner) Plan(ids []string, rows []store.Record) []cache.KeyGroup {
	groups := make([]cache.KeyGroup, 0, 2+len(p.specs))
	if g, ok := cache.Group(p.Namespace(cache.DimensionID), ids); ok {
		groups = append(groups, g)
	}
	groups = append(groups, cache.Bucket(p.Namespace(cache.DimensionData)))

	for _, s := range p.specs {
		members := make([]string, 0, len(rows)+len(s.Qualifiers))
		for _, row := range rows {
			if v := store.KeyString(row[s.Field]); v != "" {
				members = append(members, v)
			}
		}
		members = append(members, s.Qualifiers...)
		if g, ok := cache.Group(p.Namespace(s.Dimension, s.Field), members); ok {
			groups = append(groups, g)
		}
	}
	return groups
}

// PlanAll drops every namespace of the entity. Used when the whole table changes.
func (p *Planner) PlanAll() []cache.KeyGroup {
	groups := []cache.KeyGroup{
		cache.Bucket(p.Namespace(cache.DimensionID)),
		cache.Bucket(p.Namespace(cache.DimensionData)),
	}
	seen := make(map[string]struct{}, len(p.specs))
	for _, s := range p.specs {
		ns := p.Namespace(s.Dimension, s.Field)
		if _, dup := seen[ns]; dup {
			continue
		}
		seen[ns] = struct{}{}
		groups = append(groups, cache.Bucket(ns))
	}
	return groups
}
