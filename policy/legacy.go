package policy

import (
	"encoding/json"

	"github.com/nostr-git/gitrepublic/nostr"
)

// legacyKindRepository is the teacher's pre-NIP-34 repository-announcement
// kind (protocol.KindRepository = 51 in git-nostr-bridge/repo.go). Its
// payload lives entirely in event.Content rather than tags, so repositories
// migrated from a teacher-style bridge keep resolving here.
const legacyKindRepository = 51

// announcementKinds is the set of kinds the resolver treats as repository
// announcements: the NIP-34 kind spec.md names plus the teacher's legacy
// kind alongside it.
var announcementKinds = []int{nostr.KindRepoAnnouncement, legacyKindRepository}

// legacyRepository mirrors the JSON shape git-nostr-bridge/repo.go unmarshals
// a kind-51 event's content into.
type legacyRepository struct {
	RepositoryName string `json:"RepositoryName"`
	PublicRead     bool   `json:"PublicRead"`
	PublicWrite    bool   `json:"PublicWrite"`
	Deleted        bool   `json:"Deleted"`
	Archived       bool   `json:"Archived"`
}

// matchesAnnouncement reports whether e announces repoName, handling both
// the NIP-34 d-tag grammar and the legacy content-JSON grammar.
func matchesAnnouncement(e *nostr.Event, repoName string) bool {
	if e.Kind == legacyKindRepository {
		var repo legacyRepository
		if err := json.Unmarshal([]byte(e.Content), &repo); err != nil {
			return false
		}
		return repo.RepositoryName == repoName
	}
	dTag := e.Tags.GetFirst("d")
	return len(dTag) >= 2 && dTag[1] == repoName
}

// legacyIsPrivate reports whether a legacy kind-51 announcement marks the
// repository private; spec.md has no notion of PublicWrite, so that field is
// ignored here (write access still flows through CanPushToBranch).
func legacyIsPrivate(e *nostr.Event) bool {
	var repo legacyRepository
	if err := json.Unmarshal([]byte(e.Content), &repo); err != nil {
		return false
	}
	return !repo.PublicRead
}
