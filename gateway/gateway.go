// Package gateway implements the Git-HTTP Gateway of spec.md §4.8: a
// smart-HTTP frontend over git-http-backend that authenticates pushes with
// NIP-98, enforces ownership and branch protection, and mirrors successful
// pushes out to a repository's other announced clone URLs.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"

	"github.com/nostr-git/gitrepublic/announcement"
	"github.com/nostr-git/gitrepublic/internal/apperror"
	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/nip98"
	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/nostr-git/gitrepublic/repo"
)

// Resolver is the narrow policy capability the gateway needs.
type Resolver interface {
	CurrentOwner(ctx context.Context, originalOwner, repoName string) (string, error)
	IsMaintainer(ctx context.Context, actor, currentOwner, repoName string) (bool, error)
	CanView(ctx context.Context, actor, owner, repoName string) (bool, error)
	CanPushToBranch(ctx context.Context, actor, owner, repoName, branch string, isMaintainer, forcePush, deleteRef bool) (bool, error)
}

// AnnouncementSource resolves a repository's announcement event, the
// narrow capability the post-receive fan-out needs to find mirror URLs.
type AnnouncementSource interface {
	Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error)
}

// Gateway serves the Git smart-HTTP protocol for repositories under a repo
// root, gated by NIP-98 auth and policy decisions.
type Gateway struct {
	locator  *repo.Locator
	resolver Resolver
	source   AnnouncementSource
	domain   string
	log      logging.Logger
}

// New builds a Gateway. domain is this instance's own hostname, subtracted
// from post-receive mirror fan-out targets so a repo never pushes to
// itself.
func New(locator *repo.Locator, resolver Resolver, source AnnouncementSource, domain string, log logging.Logger) *Gateway {
	return &Gateway{locator: locator, resolver: resolver, source: source, domain: domain, log: log}
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, err := parsePath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ownerHex, err := repo.ValidateOwner(p.ownerNpub)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := repo.ValidateRepoName(p.repoName); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	barePath, err := g.locator.BarePath(p.ownerNpub, p.repoName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		g.handleGet(w, r, p, ownerHex, barePath)
	case http.MethodPost:
		g.handlePost(w, r, p, ownerHex, barePath)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request, p parsedPath, ownerHex, barePath string) {
	ctx := r.Context()

	canView, err := g.resolver.CanView(ctx, "", ownerHex, p.repoName)
	if err != nil {
		http.Error(w, "policy lookup failed", http.StatusInternalServerError)
		return
	}
	if !canView {
		actor, authErr := g.authenticate(r, nil)
		if authErr != nil {
			g.writeAuthChallenge(w, authErr)
			return
		}
		canView, err = g.resolver.CanView(ctx, actor, ownerHex, p.repoName)
		if err != nil || !canView {
			http.Error(w, "repository is private", http.StatusForbidden)
			return
		}
	}

	g.serveCGI(w, r, p, barePath, nil)
}

func (g *Gateway) handlePost(w http.ResponseWriter, r *http.Request, p parsedPath, ownerHex, barePath string) {
	ctx := r.Context()

	body, err := readAllLimited(r)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	service := r.URL.Query().Get("service")
	if !isReceivePack(p.gitPath, service) {
		g.serveCGI(w, r, p, barePath, body)
		return
	}

	if r.Header.Get("Authorization") == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="GitRepublic"`)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, "authentication required: install the GitRepublic git credential helper to push")
		return
	}

	actor, err := g.authenticate(r, body)
	if err != nil {
		g.writeAuthChallenge(w, err)
		return
	}

	owner, err := g.resolver.CurrentOwner(ctx, ownerHex, p.repoName)
	if err != nil {
		http.Error(w, "policy lookup failed", http.StatusInternalServerError)
		return
	}
	isMaintainer, err := g.resolver.IsMaintainer(ctx, actor, owner, p.repoName)
	if err != nil {
		http.Error(w, "policy lookup failed", http.StatusInternalServerError)
		return
	}
	if actor != owner && !isMaintainer {
		http.Error(w, fmt.Sprintf("push denied: owner is %s; maintainers must be explicitly listed; contact the owner for access", owner), http.StatusForbidden)
		return
	}

	refs, err := parseReceivePackRefs(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Stage the incoming pack's objects before checking ancestry below: the
	// new commits a force-push check needs to walk don't exist in the bare
	// repo's object store until something unpacks them, and that normally
	// only happens later when git-http-backend itself runs receive-pack.
	// git-http-backend's subsequent receive-pack re-indexes the same pack
	// redundantly but harmlessly, since pack objects are content-addressed.
	if err := stageIncomingPack(ctx, barePath, body); err != nil {
		http.Error(w, "backend configuration failed", http.StatusInternalServerError)
		return
	}

	for _, ref := range refs {
		deleteRef := isZeroOID(ref.newOID)
		forcePush := false
		if !deleteRef && !isZeroOID(ref.oldOID) {
			ff, err := isFastForward(ctx, barePath, ref.oldOID, ref.newOID)
			if err != nil {
				http.Error(w, "backend configuration failed", http.StatusInternalServerError)
				return
			}
			forcePush = !ff
		}
		allowed, err := g.resolver.CanPushToBranch(ctx, actor, owner, p.repoName, ref.branch, isMaintainer, forcePush, deleteRef)
		if err != nil {
			http.Error(w, "policy lookup failed", http.StatusInternalServerError)
			return
		}
		if !allowed {
			http.Error(w, fmt.Sprintf("push to branch %q denied by branch protection", ref.branch), http.StatusForbidden)
			return
		}
	}

	if err := ensureReceivePackEnabled(ctx, barePath); err != nil {
		http.Error(w, "backend configuration failed", http.StatusInternalServerError)
		return
	}

	if !g.serveCGI(w, r, p, barePath, body) {
		return
	}

	if len(refs) > 0 {
		go g.postReceiveFanOut(context.Background(), ownerHex, p.repoName, barePath)
	}
}

// authenticate verifies the request's Authorization header against the
// repository's own URL and method, returning the actor's hex pubkey.
func (g *Gateway) authenticate(r *http.Request, body []byte) (string, *apperror.Error) {
	expectedURL := (&url.URL{Scheme: "https", Host: g.domain, Path: r.URL.Path, RawQuery: r.URL.RawQuery}).String()
	result := nip98.Verify(r.Header.Get("Authorization"), expectedURL, r.Method, body)
	if result.Reason != "" {
		return "", apperror.Auth(string(result.Reason), fmt.Errorf("nip98 verification failed: %s", result.Reason))
	}
	return result.PubKey, nil
}

func (g *Gateway) writeAuthChallenge(w http.ResponseWriter, err *apperror.Error) {
	w.Header().Set("WWW-Authenticate", `Basic realm="GitRepublic"`)
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintln(w, apperror.Sanitize(err.Error()))
}

// serveCGI runs the backend and writes its payload, reporting whether the
// backend ran successfully.
func (g *Gateway) serveCGI(w http.ResponseWriter, r *http.Request, p parsedPath, barePath string, body []byte) bool {
	projectRoot := strings.TrimSuffix(barePath, "/"+p.repoName+".git")

	result, err := runCGI(r.Context(), projectRoot, p.repoName, r, p.gitPath, body)
	if err != nil {
		if err == errTimeout {
			http.Error(w, "backend timed out", http.StatusGatewayTimeout)
			return false
		}
		http.Error(w, "backend operation failed", http.StatusInternalServerError)
		return false
	}

	contentType, noCache := contentTypeFor(r.Method, p.gitPath, r.URL.Query().Get("service"))
	w.Header().Set("Content-Type", contentType)
	if noCache {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(result.payload)
	return true
}

func readAllLimited(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// postReceiveFanOut pushes the updated bare repo to every clone URL the
// announcement lists besides this gateway's own domain, per spec.md §4.8.
// Failures are logged, never surfaced to the original pusher.
func (g *Gateway) postReceiveFanOut(ctx context.Context, ownerHex, repoName, barePath string) {
	events, err := g.source.Query(ctx, nostr.Filters{{
		Kinds:   []int{nostr.KindRepoAnnouncement},
		Authors: []string{ownerHex},
		Tags:    map[string][]string{"d": {repoName}},
	}})
	if err != nil {
		g.log.Warn().Err(err).Str("repo", repoName).Msg("post-receive: failed to fetch announcement")
		return
	}

	latest := announcement.Latest(events)
	for _, cloneURL := range announcement.CloneTargets(latest, g.domain) {
		go g.mirrorPush(ctx, barePath, cloneURL)
	}
}

// stageIncomingPack pre-populates barePath's object store with the pack data
// trailing a receive-pack request body, without moving any refs, so ancestry
// checks against the pushed commits can run before git-http-backend's own
// receive-pack would otherwise unpack them. A body with no pack data (e.g. a
// delete-only push) is a no-op.
func stageIncomingPack(ctx context.Context, barePath string, body []byte) error {
	idx := bytes.Index(body, []byte("PACK"))
	if idx < 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, "git", "--git-dir", barePath, "index-pack", "--stdin", "--fix-thin")
	cmd.Stdin = bytes.NewReader(body[idx:])
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("gateway: stage incoming pack: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// isFastForward reports whether newOID's history contains oldOID, i.e. the
// update is a fast-forward rather than a force-push, per spec.md §3's
// branch-protection data model.
func isFastForward(ctx context.Context, barePath, oldOID, newOID string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "--git-dir", barePath, "merge-base", "--is-ancestor", oldOID, newOID)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("gateway: check fast-forward: %w", err)
}

func (g *Gateway) mirrorPush(ctx context.Context, barePath, remoteURL string) {
	cmd := exec.CommandContext(ctx, "git", "--git-dir", barePath, "push", "--mirror", remoteURL)
	if out, err := cmd.CombinedOutput(); err != nil {
		g.log.Warn().Err(err).Str("remote", remoteURL).Str("output", string(out)).Msg("post-receive: mirror push failed")
	}
}
