package policy

import (
	"encoding/json"
	"fmt"

	"github.com/nostr-git/gitrepublic/nostr"
)

// AnnouncementFromFile parses and validates a repository announcement read
// from the repository's own working tree (spec.md §4.4's filesystem
// fallback for when relays are unreachable). A validation failure is "no
// signal", not "not owner" — callers must not treat an error here as proof
// of non-ownership.
func AnnouncementFromFile(raw []byte, repoName string) (owner string, ok bool, err error) {
	var e nostr.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", false, fmt.Errorf("policy: parse announcement file: %w", err)
	}
	if e.Kind != nostr.KindRepoAnnouncement {
		return "", false, nil
	}
	valid, err := e.CheckSignature()
	if err != nil || !valid {
		return "", false, nil
	}
	dTag := e.Tags.GetFirst("d")
	if len(dTag) < 2 || dTag[1] != repoName {
		return "", false, nil
	}
	return e.PubKey, true, nil
}
