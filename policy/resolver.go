// Package policy implements the Policy Resolver of spec.md §4.4: given an
// actor, an owner npub, and a repository name, determine the current
// owner, the maintainer set, privacy, and branch-protection decisions by
// composing relay-cache queries over the event kinds of §3.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nostr-git/gitrepublic/nostr"
)

// EventSource is the narrow capability the resolver needs: resolve a filter
// set to events, wherever they came from (cache, relay, or both). Keeping
// this narrow — rather than depending on *cache.Cache and *relay.Client
// directly — breaks the import cycle described in spec.md §9.
type EventSource interface {
	Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error)
}

const ownerMemoTTL = 5 * time.Minute

type ownerMemoEntry struct {
	owner    string
	cachedAt time.Time
}

// Resolver answers ownership, maintainer, privacy, and branch-protection
// questions for a repository.
type Resolver struct {
	source    EventSource
	sshLookup SSHAttestationLookup

	mu        sync.Mutex
	ownerMemo map[string]ownerMemoEntry
}

// New builds a Resolver over source.
func New(source EventSource) *Resolver {
	return &Resolver{source: source, ownerMemo: map[string]ownerMemoEntry{}}
}

// WithSSHAttestation attaches an SSH-attestation lookup, consulted by
// CanView for a non-member of a private repository and by CanPushToBranch
// for a non-maintainer on an unlisted branch.
func (r *Resolver) WithSSHAttestation(lookup SSHAttestationLookup) *Resolver {
	r.sshLookup = lookup
	return r
}

func announcementRef(originalOwner, repoName string) string {
	return fmt.Sprintf("%d:%s:%s", nostr.KindRepoAnnouncement, originalOwner, repoName)
}

// CurrentOwner evaluates the ownership-transfer chain for (originalOwner,
// repoName), memoizing the result for ownerMemoTTL.
func (r *Resolver) CurrentOwner(ctx context.Context, originalOwner, repoName string) (string, error) {
	memoKey := originalOwner + "/" + repoName

	r.mu.Lock()
	if entry, ok := r.ownerMemo[memoKey]; ok && time.Since(entry.cachedAt) < ownerMemoTTL {
		r.mu.Unlock()
		return entry.owner, nil
	}
	r.mu.Unlock()

	ref := announcementRef(originalOwner, repoName)
	events, err := r.source.Query(ctx, nostr.Filters{{
		Kinds: []int{nostr.KindOwnershipTransfer},
		Tags:  map[string][]string{"a": {ref}},
	}})
	if err != nil {
		return "", fmt.Errorf("policy: query ownership transfers: %w", err)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt < events[j].CreatedAt })

	owner := originalOwner
	for _, e := range events {
		valid, err := e.CheckSignature()
		if err != nil || !valid {
			continue
		}
		if e.PubKey != owner {
			continue
		}
		pTag := e.Tags.GetFirst("p")
		if len(pTag) < 2 {
			continue
		}
		newOwner := pTag[1]
		if newOwner == e.PubKey {
			// self-transfer: proves initial ownership, does not change owner
			continue
		}
		owner = newOwner
	}

	r.mu.Lock()
	r.ownerMemo[memoKey] = ownerMemoEntry{owner: owner, cachedAt: time.Now()}
	r.mu.Unlock()

	return owner, nil
}

// IsMaintainer reports whether actor appears in the latest maintainer-set
// event authored by currentOwner.
func (r *Resolver) IsMaintainer(ctx context.Context, actor, currentOwner, repoName string) (bool, error) {
	ref := announcementRef(currentOwner, repoName)
	events, err := r.source.Query(ctx, nostr.Filters{{
		Kinds:   []int{nostr.KindMaintainers},
		Authors: []string{currentOwner},
		Tags:    map[string][]string{"a": {ref}},
	}})
	if err != nil {
		return false, fmt.Errorf("policy: query maintainers: %w", err)
	}
	latest := latestEvent(events)
	if latest == nil {
		return false, nil
	}
	for _, tag := range latest.Tags.GetAll("p") {
		if len(tag) > 1 && tag[1] == actor {
			return true, nil
		}
	}
	return false, nil
}

// IsPrivate reports whether the latest announcement for (originalOwner,
// repoName) is marked private.
func (r *Resolver) IsPrivate(ctx context.Context, originalOwner, repoName string) (bool, error) {
	events, err := r.source.Query(ctx, nostr.Filters{{
		Kinds:   announcementKinds,
		Authors: []string{originalOwner},
	}})
	if err != nil {
		return false, fmt.Errorf("policy: query announcement: %w", err)
	}
	var matching []*nostr.Event
	for _, e := range events {
		if matchesAnnouncement(e, repoName) {
			matching = append(matching, e)
		}
	}
	latest := latestEvent(matching)
	if latest == nil {
		return false, nil
	}
	if latest.Kind == legacyKindRepository {
		return legacyIsPrivate(latest), nil
	}
	return announcementIsPrivate(latest), nil
}

func announcementIsPrivate(e *nostr.Event) bool {
	for _, tag := range e.Tags {
		if len(tag) == 0 {
			continue
		}
		switch {
		case tag[0] == "private" && (len(tag) == 1 || tag[1] == "true"):
			return true
		case tag[0] == "t" && len(tag) > 1 && tag[1] == "private":
			return true
		}
	}
	return false
}

// CanView reports whether actor may read the repository.
func (r *Resolver) CanView(ctx context.Context, actor, owner, repoName string) (bool, error) {
	private, err := r.IsPrivate(ctx, owner, repoName)
	if err != nil {
		return false, err
	}
	if !private {
		return true, nil
	}
	if actor == owner {
		return true, nil
	}
	if ok, err := r.IsMaintainer(ctx, actor, owner, repoName); err != nil || ok {
		return ok, err
	}
	return r.sshAttestationAllows(ctx, actor, owner, repoName, readAllowed)
}

// sshAttestationAllows consults the optional SSH-attestation lookup,
// returning (false, nil) when none is configured or none is found.
func (r *Resolver) sshAttestationAllows(ctx context.Context, actor, owner, repoName string, allowed func(string) bool) (bool, error) {
	if r.sshLookup == nil {
		return false, nil
	}
	rights, found, err := r.sshLookup.Rights(ctx, actor, owner, repoName)
	if err != nil || !found {
		return false, err
	}
	return allowed(rights), nil
}

// BranchPolicy is one branch's protection policy, per spec.md §3.
type BranchPolicy struct {
	RequireMaintainer bool `json:"require-maintainer"`
	AllowForcePush    bool `json:"allow-force-push"`
	AllowDelete       bool `json:"allow-delete"`
}

// defaultBranchPolicy applies spec.md §3's rule for an unlisted branch:
// permissive for owner and maintainers, restrictive for others. Callers
// apply this only once they already know whether the actor qualifies.
var defaultBranchPolicy = BranchPolicy{RequireMaintainer: false, AllowForcePush: true, AllowDelete: true}

// branchProtectionSet parses the per-branch policy tags of a branch-
// protection event into a name->policy map.
func branchProtectionSet(e *nostr.Event) map[string]BranchPolicy {
	out := map[string]BranchPolicy{}
	for _, tag := range e.Tags.GetAll("branch") {
		if len(tag) < 3 {
			continue
		}
		var policy BranchPolicy
		if err := json.Unmarshal([]byte(tag[2]), &policy); err != nil {
			continue
		}
		out[tag[1]] = policy
	}
	return out
}

// CanPushToBranch reports whether actor may push to branch, per spec.md
// §4.4: the owner is always allowed; maintainers are allowed unless policy
// withholds (require-maintainer alone never blocks a maintainer); everyone
// else is denied on a listed branch whose policy sets require-maintainer,
// allowed on a listed branch whose policy does not, and denied on an
// unlisted branch unless an SSH attestation grants write rights. forcePush and deleteRef report
// whether this particular update is a non-fast-forward rewrite or a
// branch deletion; either is denied outright when the applicable policy
// (the branch's own, or the default policy on an unlisted branch) sets
// AllowForcePush/AllowDelete false, even for a maintainer.
func (r *Resolver) CanPushToBranch(ctx context.Context, actor, owner, repoName, branch string, isMaintainer, forcePush, deleteRef bool) (bool, error) {
	if actor == owner {
		return true, nil
	}

	ref := announcementRef(owner, repoName)
	events, err := r.source.Query(ctx, nostr.Filters{{
		Kinds:   []int{nostr.KindBranchProtection},
		Authors: []string{owner},
		Tags:    map[string][]string{"a": {ref}},
	}})
	if err != nil {
		return false, fmt.Errorf("policy: query branch protection: %w", err)
	}
	latest := latestEvent(events)

	var policy BranchPolicy
	listed := false
	if latest != nil {
		set := branchProtectionSet(latest)
		if p, ok := set[branch]; ok {
			policy, listed = p, true
		}
	}
	if !listed {
		policy = defaultBranchPolicy
	}

	if deleteRef && !policy.AllowDelete {
		return false, nil
	}
	if forcePush && !policy.AllowForcePush {
		return false, nil
	}

	if isMaintainer {
		return true, nil
	}
	if listed && policy.RequireMaintainer {
		return false, nil
	}
	if listed {
		return true, nil
	}
	// unlisted branch, non-maintainer, non-owner: restrictive default,
	// unless an SSH attestation grants write rights directly.
	return r.sshAttestationAllows(ctx, actor, owner, repoName, writeAllowed)
}

func latestEvent(events []*nostr.Event) *nostr.Event {
	var latest *nostr.Event
	for _, e := range events {
		if latest == nil || e.CreatedAt > latest.CreatedAt {
			latest = e
		}
	}
	return latest
}
