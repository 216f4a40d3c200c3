package kerchunk

import "strings"

// DropAllKeep removes every variable from the set except the listed
// ones. Store-level metadata documents (.zgroup, .zattrs at the root)
// always survive.
func DropAllKeep(rs *ReferenceSet, keep ...string) {
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[strings.Trim(k, "/")] = true
	}

	for key := range rs.Refs {
		if !strings.Contains(key, "/") {
			// Root-level documents (.zgroup, .zattrs, .zmetadata).
			continue
		}
		if !kept[variableOf(key)] {
			delete(rs.Refs, key)
		}
	}
}

// FilterUnusedReferences drops chunk references belonging to variables
// that have no .zarray document left, cleaning up after partial
// filtering.
func FilterUnusedReferences(rs *ReferenceSet) {
	live := make(map[string]bool)
	for key := range rs.Refs {
		if strings.HasSuffix(key, "/.zarray") {
			live[strings.TrimSuffix(key, "/.zarray")] = true
		}
	}

	for key := range rs.Refs {
		if !strings.Contains(key, "/") {
			continue
		}
		if !live[variableOf(key)] {
			delete(rs.Refs, key)
		}
	}
}

// variableOf returns the variable path owning a store key, the part
// before the final component.
func variableOf(key string) string {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i]
}
