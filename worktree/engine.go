// Package worktree implements the Worktree Engine of spec.md §4.5: an
// isolated checkout for a single (repo, branch) mutation over a shared bare
// repository, without cloning and without disturbing any other caller's
// index.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/repo"
)

// Engine acquires and releases worktrees for bare repositories under a
// Locator, serializing concurrent callers per (repo, branch).
type Engine struct {
	locator *repo.Locator
	log     logging.Logger

	keyMu sync.Mutex
	keys  map[string]*sync.Mutex
}

// New builds an Engine over locator.
func New(locator *repo.Locator, log logging.Logger) *Engine {
	return &Engine{locator: locator, log: log, keys: map[string]*sync.Mutex{}}
}

func (e *Engine) lockFor(key string) *sync.Mutex {
	e.keyMu.Lock()
	defer e.keyMu.Unlock()
	m, ok := e.keys[key]
	if !ok {
		m = &sync.Mutex{}
		e.keys[key] = m
	}
	return m
}

// Handle is an acquired worktree; callers must call Release when done.
type Handle struct {
	Path     string
	barePath string
	engine   *Engine
	lock     *sync.Mutex
}

// Acquire resolves, validates, and checks out a worktree for branch in
// (ownerNpub, repoName), per spec.md §4.5's acquire algorithm.
func (e *Engine) Acquire(ctx context.Context, ownerNpub, repoName, branch string) (*Handle, error) {
	if err := repo.ValidateBranch(branch); err != nil {
		return nil, err
	}

	barePath, err := e.locator.BarePath(ownerNpub, repoName)
	if err != nil {
		return nil, err
	}
	worktreePath, err := e.locator.WorktreePath(ownerNpub, repoName, branch)
	if err != nil {
		return nil, err
	}

	key := barePath + "#" + branch
	lock := e.lockFor(key)
	lock.Lock()

	if err := e.acquireLocked(ctx, barePath, worktreePath, branch); err != nil {
		lock.Unlock()
		return nil, err
	}

	return &Handle{Path: worktreePath, barePath: barePath, engine: e, lock: lock}, nil
}

// Release removes the worktree and unlocks the (repo, branch) key, per
// spec.md §4.5's release algorithm: worktree remove, then --force, then
// recursive directory removal.
func (h *Handle) Release(ctx context.Context) error {
	defer h.lock.Unlock()

	if _, err := runGit(ctx, "", "--git-dir", h.barePath, "worktree", "remove", h.Path); err == nil {
		return nil
	}
	if _, err := runGit(ctx, "", "--git-dir", h.barePath, "worktree", "remove", "--force", h.Path); err == nil {
		return nil
	}
	if err := os.RemoveAll(h.Path); err != nil {
		return fmt.Errorf("worktree: release: remove %s: %w", h.Path, err)
	}
	return nil
}

func (e *Engine) acquireLocked(ctx context.Context, barePath, worktreePath, branch string) error {
	existing, err := listWorktrees(ctx, barePath)
	if err != nil {
		return fmt.Errorf("worktree: list: %w", err)
	}

	if p, ok := existing[branch]; ok && p != worktreePath {
		e.log.Debug().Str("branch", branch).Str("old_path", p).Msg("removing stale worktree at different path")
		if _, err := runGit(ctx, "", "--git-dir", barePath, "worktree", "remove", "--force", p); err != nil {
			_ = os.RemoveAll(p)
		}
	}

	if _, err := os.Stat(worktreePath); err == nil {
		if _, err := runGit(ctx, worktreePath, "status"); err == nil {
			return nil // existing worktree passes sanity check; reuse
		}
		_ = os.RemoveAll(worktreePath)
	}

	if _, err := runGit(ctx, "", "--git-dir", barePath, "worktree", "add", worktreePath, branch); err == nil {
		return nil
	}

	branches, err := listBranches(ctx, barePath)
	if err != nil {
		return fmt.Errorf("worktree: list branches: %w", err)
	}
	if len(branches) == 0 {
		return e.bootstrapOrphan(ctx, barePath, worktreePath, branch)
	}

	source, err := chooseSourceRef(ctx, barePath, branches)
	if err != nil {
		return err
	}
	if _, err := runGit(ctx, "", "--git-dir", barePath, "branch", branch, source); err != nil {
		return fmt.Errorf("worktree: create branch %s at %s: %w", branch, source, err)
	}
	if _, err := runGit(ctx, "", "--git-dir", barePath, "worktree", "add", worktreePath, branch); err != nil {
		return fmt.Errorf("worktree: add after branch creation: %w", err)
	}
	return nil
}

// bootstrapOrphan handles the first-branch-on-an-empty-repo case: an orphan
// worktree add, followed by pointing the bare repo's HEAD at the new branch.
func (e *Engine) bootstrapOrphan(ctx context.Context, barePath, worktreePath, branch string) error {
	if _, err := runGit(ctx, "", "--git-dir", barePath, "worktree", "add", "--orphan", "-b", branch, worktreePath); err != nil {
		return fmt.Errorf("worktree: orphan bootstrap: %w", err)
	}
	if _, err := runGit(ctx, "", "--git-dir", barePath, "symbolic-ref", "HEAD", "refs/heads/"+branch); err != nil {
		e.log.Debug().Err(err).Str("branch", branch).Msg("failed to update bare repo HEAD after orphan bootstrap")
	}
	return nil
}

// chooseSourceRef picks the ref spec.md §4.5 wants a new branch created
// from: HEAD, then main, then master, then the first enumerated non-HEAD
// branch.
func chooseSourceRef(ctx context.Context, barePath string, branches []string) (string, error) {
	if _, err := runGit(ctx, "", "--git-dir", barePath, "rev-parse", "--verify", "HEAD"); err == nil {
		return "HEAD", nil
	}
	for _, candidate := range []string{"main", "master"} {
		for _, b := range branches {
			if b == candidate {
				return candidate, nil
			}
		}
	}
	if len(branches) > 0 {
		return branches[0], nil
	}
	return "", fmt.Errorf("worktree: no source ref available to branch from")
}

func listWorktrees(ctx context.Context, barePath string) (map[string]string, error) {
	out, err := runGit(ctx, "", "--git-dir", barePath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	result := map[string]string{}
	var currentPath string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			currentPath = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			branch := strings.TrimPrefix(ref, "refs/heads/")
			result[branch] = currentPath
		}
	}
	return result, nil
}

func listBranches(ctx context.Context, barePath string) ([]string, error) {
	out, err := runGit(ctx, "", "--git-dir", barePath, "for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
