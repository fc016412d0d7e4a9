// Package announcement extracts the parts of a repository announcement
// (kind 30617) that more than one caller needs: the gateway package's
// post-receive fan-out reads the clone tags for mirroring, and a future
// repository-creation path would read the same clone/source tags when first
// recording a repo.
package announcement

import (
	"strings"

	"github.com/nostr-git/gitrepublic/nostr"
)

// Latest returns the most recently created event among events, or nil.
func Latest(events []*nostr.Event) *nostr.Event {
	var latest *nostr.Event
	for _, e := range events {
		if latest == nil || e.CreatedAt > latest.CreatedAt {
			latest = e
		}
	}
	return latest
}

// CloneTargets extracts the "clone" tag values from a repository
// announcement, excluding any URL containing excludeHost (normally the
// gateway's own domain, so a mirror fan-out never pushes back to itself).
func CloneTargets(e *nostr.Event, excludeHost string) []string {
	if e == nil {
		return nil
	}
	var out []string
	for _, tag := range e.Tags.GetAll("clone") {
		if len(tag) < 2 || tag[1] == "" {
			continue
		}
		if excludeHost != "" && strings.Contains(tag[1], excludeHost) {
			continue
		}
		out = append(out, tag[1])
	}
	return out
}

// SourceURL extracts the "source" tag value, or "" if absent.
func SourceURL(e *nostr.Event) string {
	if e == nil {
		return ""
	}
	tag := e.Tags.GetFirst("source")
	if len(tag) < 2 {
		return ""
	}
	return tag[1]
}
