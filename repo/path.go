// Package repo validates and resolves repository filesystem paths, per
// spec.md §3: a bare repository lives at
// <repo-root>/<owner-npub>/<repo-name>.git, and every resolved path must
// stay strictly below repo-root.
package repo

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nostr-git/gitrepublic/nostr"
)

var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// Locator resolves validated paths under a fixed repo root.
type Locator struct {
	Root string
}

// NewLocator builds a Locator rooted at root (spec.md §6's GIT_REPO_ROOT).
func NewLocator(root string) *Locator {
	return &Locator{Root: filepath.Clean(root)}
}

// ValidateOwner bech32-decodes npub into a hex pubkey, per spec.md §3's
// "owner-npub directory segment must bech32-decode to a valid public key".
func ValidateOwner(npub string) (pubkeyHex string, err error) {
	pubkeyHex, err = nostr.DecodeNpub(npub)
	if err != nil {
		return "", fmt.Errorf("repo: invalid owner npub: %w", err)
	}
	return pubkeyHex, nil
}

// ValidateRepoName checks the repo-name grammar of spec.md §3.
func ValidateRepoName(name string) error {
	if !repoNamePattern.MatchString(name) {
		return fmt.Errorf("repo: invalid repository name %q", name)
	}
	if strings.Contains(name, "/") || strings.Contains(name, `\`) {
		return fmt.Errorf("repo: repository name must not contain path separators")
	}
	return nil
}

// BarePath returns the validated, contained path to the bare repository for
// (ownerNpub, repoName), or an error if either component fails validation
// or the resolved path would escape the repo root.
func (l *Locator) BarePath(ownerNpub, repoName string) (string, error) {
	if _, err := ValidateOwner(ownerNpub); err != nil {
		return "", err
	}
	if err := ValidateRepoName(repoName); err != nil {
		return "", err
	}
	path := filepath.Join(l.Root, ownerNpub, repoName+".git")
	if err := l.assertContained(path); err != nil {
		return "", err
	}
	return path, nil
}

// WorktreesRoot returns the owner-contained worktrees directory for a repo,
// e.g. <root>/<owner>/<repo>.worktrees.
func (l *Locator) WorktreesRoot(ownerNpub, repoName string) (string, error) {
	if _, err := ValidateOwner(ownerNpub); err != nil {
		return "", err
	}
	if err := ValidateRepoName(repoName); err != nil {
		return "", err
	}
	path := filepath.Join(l.Root, ownerNpub, repoName+".worktrees")
	if err := l.assertContained(path); err != nil {
		return "", err
	}
	return path, nil
}

// WorktreePath returns the validated, contained path for a single branch's
// worktree, per spec.md §4.5: the resolved path must be strictly below the
// worktree root, which must itself be strictly below the owner directory.
func (l *Locator) WorktreePath(ownerNpub, repoName, branch string) (string, error) {
	worktreesRoot, err := l.WorktreesRoot(ownerNpub, repoName)
	if err != nil {
		return "", err
	}
	path := filepath.Join(worktreesRoot, branch)
	rel, err := filepath.Rel(worktreesRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("repo: worktree path escapes worktrees root")
	}
	return path, nil
}

// assertContained verifies path is strictly below l.Root.
func (l *Locator) assertContained(path string) error {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return fmt.Errorf("repo: resolve path: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("repo: resolved path escapes repo root")
	}
	return nil
}
