package nostr

import (
	"encoding/json"
	"strings"
)

// MarshalJSON emits the NIP-01 wire shape, where each Tags entry becomes a
// top-level `#<name>` key.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if f.Search != "" {
		m["search"] = f.Search
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	return json.Marshal(m)
}

// UnmarshalJSON parses the NIP-01 wire shape back into a Filter, recovering
// `#<name>` keys into Tags.
func (f *Filter) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*f = Filter{}
	for k, v := range raw {
		switch {
		case k == "ids":
			_ = json.Unmarshal(v, &f.IDs)
		case k == "kinds":
			_ = json.Unmarshal(v, &f.Kinds)
		case k == "authors":
			_ = json.Unmarshal(v, &f.Authors)
		case k == "since":
			var ts int64
			if err := json.Unmarshal(v, &ts); err == nil {
				f.Since = &ts
			}
		case k == "until":
			var ts int64
			if err := json.Unmarshal(v, &ts); err == nil {
				f.Until = &ts
			}
		case k == "limit":
			_ = json.Unmarshal(v, &f.Limit)
		case k == "search":
			_ = json.Unmarshal(v, &f.Search)
		case strings.HasPrefix(k, "#"):
			var values []string
			if err := json.Unmarshal(v, &values); err == nil {
				if f.Tags == nil {
					f.Tags = map[string][]string{}
				}
				f.Tags[strings.TrimPrefix(k, "#")] = values
			}
		}
	}
	return nil
}
