package nostr

// Filter is the NIP-01 REQ filter shape. It is defined locally rather than
// imported from a relay library so its wire encoding (tag-prefixed `#e`,
// `#p`, ... keys) is under this repository's direct control; see
// DESIGN.md.
type Filter struct {
	IDs     []string            `json:"ids,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Tags    map[string][]string `json:"-"`
	Since   *int64              `json:"since,omitempty"`
	Until   *int64              `json:"until,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Search  string              `json:"search,omitempty"`
}

// Filters is an OR'd set of Filter, matching a single REQ's filter list.
type Filters []Filter

// Matches reports whether an event satisfies every clause of the filter.
func (f Filter) Matches(e *Event) bool {
	if len(f.IDs) > 0 && !containsStr(f.IDs, e.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !containsStr(f.Authors, e.PubKey) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		ok := false
		for _, tag := range e.Tags.GetAll(name) {
			if len(tag) > 1 && containsStr(values, tag[1]) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Matches reports whether an event satisfies at least one of the filters
// (NIP-01 filter lists are OR'd).
func (fs Filters) Matches(e *Event) bool {
	for _, f := range fs {
		if f.Matches(e) {
			return true
		}
	}
	return false
}

func containsStr(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
