package retrieval

import "medrag/internal/vector"

// Fuse merges per-field result lists, orders them by distance and keeps the
// closest hit per article url. At most limit hits are returned; limit <= 0
// keeps all.
func Fuse(limit int, lists ...[]vector.Hit) []vector.Hit {
	var all []vector.Hit
	for _, l := range lists {
		all = append(all, l...)
	}
	vector.SortByDistance(all)

	seen := make(map[string]struct{}, len(all))
	out := make([]vector.Hit, 0, len(all))
	for _, h := range all {
		if _, ok := seen[h.URL]; ok {
			continue
		}
		seen[h.URL] = struct{}{}
		out = append(out, h)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
