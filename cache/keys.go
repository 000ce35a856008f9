package cache

import "strings"

// Cache dimensions of an entity.
const (
	DimensionID    = "id"
	DimensionIndex = "index"
	DimensionCount = "count"
	DimensionData  = "data"
)

const separator = ":"

// Namespace builds `{system}:{entity}:{dimension}[:{qualifier}...]`. Empty qualifiers are
// skipped, so Namespace(s, e, "id") and Namespace(s, e, "id", "") are equal.
func Namespace(system, entity, dimension string, qualifier ...string) string {
	parts := make([]string, 0, 3+len(qualifier))
	parts = append(parts, system, entity, dimension)
	for _, q := range qualifier {
		if q != "" {
			parts = append(parts, q)
		}
	}
	return strings.Join(parts, separator)
}

// KeyGroup is one unit of a multi-key delete: the members of Namespace, or the whole
// namespace when All is set.
type KeyGroup struct {
	Namespace string
	Members   []string
	All       bool
}

// Empty reports whether deleting g would be a no-op.
func (g KeyGroup) Empty() bool {
	return !g.All && len(g.Members) == 0
}

// Group returns the deduplicated, non-empty members of namespace as a group.
// ok is false when nothing is left to delete.
func Group(namespace string, members []string) (group KeyGroup, ok bool) {
	group = KeyGroup{Namespace: namespace, Members: unique(members)}
	return group, len(group.Members) > 0
}

// Bucket returns a group that drops the whole namespace.
func Bucket(namespace string) KeyGroup {
	return KeyGroup{Namespace: namespace, All: true}
}

// MergeGroups folds groups sharing a namespace together, keeping first-seen order, and
// drops empty ones. A whole-namespace group absorbs any member list for the same namespace.
func MergeGroups(groups []KeyGroup) []KeyGroup {
	merged := make([]KeyGroup, 0, len(groups))
	index := make(map[string]int, len(groups))

	for _, g := range groups {
		if g.Empty() {
			continue
		}
		i, seen := index[g.Namespace]
		if !seen {
			index[g.Namespace] = len(merged)
			merged = append(merged, KeyGroup{Namespace: g.Namespace, All: g.All, Members: append([]string(nil), g.Members...)})
			continue
		}
		if merged[i].All || g.All {
			merged[i].All = true
			merged[i].Members = nil
			continue
		}
		merged[i].Members = append(merged[i].Members, g.Members...)
	}

	for i := range merged {
		if !merged[i].All {
			merged[i].Members = unique(merged[i].Members)
		}
	}
	return merged
}

func unique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
