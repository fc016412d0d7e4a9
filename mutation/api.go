// Package mutation implements the Mutation API of spec.md §4.7:
// writeFile, deleteFile, createBranch, and deleteBranch, each acquiring an
// isolated worktree, validating its inputs, and committing directly against
// the shared bare repository's object database.
package mutation

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/nostr-git/gitrepublic/repo"
	"github.com/nostr-git/gitrepublic/signer"
	"github.com/nostr-git/gitrepublic/worktree"
)

// Acquirer is the narrow worktree capability the API needs, matching
// *worktree.Engine.
type Acquirer interface {
	Acquire(ctx context.Context, ownerNpub, repoName, branch string) (*worktree.Handle, error)
}

// Signer is the narrow signing capability the API needs, so callers that
// don't sign commits (or test fixtures) don't have to wire a relay client.
type Signer interface {
	PublishIfPublic(ctx context.Context, ownerPubkey string, isPublic bool, e *nostr.Event) error
}

// API is the application-facing Mutation API.
type API struct {
	locator  *repo.Locator
	acquirer Acquirer
	branches *BranchCache
	log      logging.Logger
}

// New builds an API over a worktree engine and repo locator.
func New(locator *repo.Locator, acquirer Acquirer, log logging.Logger) *API {
	return &API{locator: locator, acquirer: acquirer, branches: NewBranchCache(), log: log}
}

// SigningOptions carries the signer options for one mutation, plus whether
// the signature (if any) should be published once the commit exists.
type SigningOptions struct {
	signer.Options
	OwnerPubkeyForPublish string
	IsPublic              bool
	Publish               Signer
}

// Result is the outcome of a committing mutation.
type Result struct {
	CommitHash     string
	SignatureEvent *nostr.Event
}

func (a *API) validateCommon(ownerNpub, repoName, branch, authorEmail, message string) error {
	if _, err := repo.ValidateOwner(ownerNpub); err != nil {
		return err
	}
	if err := repo.ValidateRepoName(repoName); err != nil {
		return err
	}
	if err := repo.ValidateBranch(branch); err != nil {
		return err
	}
	if err := validateEmail(authorEmail); err != nil {
		return err
	}
	return validateCommitMessage(message)
}

// WriteFile creates or overwrites filePath with content, per spec.md §4.7's
// writeFile/createFile algorithm.
func (a *API) WriteFile(ctx context.Context, ownerNpub, repoName, branch, authorName, authorEmail, message, filePath string, content []byte, signing *SigningOptions) (*Result, error) {
	if err := a.validateCommon(ownerNpub, repoName, branch, authorEmail, message); err != nil {
		return nil, err
	}
	if err := validateFilePath(filePath); err != nil {
		return nil, err
	}
	if err := validateFileContent(content); err != nil {
		return nil, err
	}

	h, err := a.acquirer.Acquire(ctx, ownerNpub, repoName, branch)
	if err != nil {
		return nil, err
	}
	defer h.Release(ctx)

	targetPath, err := containedJoin(h.Path, filePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return nil, fmt.Errorf("mutation: create parent directories: %w", err)
	}
	if err := os.WriteFile(targetPath, content, 0o644); err != nil {
		return nil, fmt.Errorf("mutation: write file: %w", err)
	}
	if _, err := runGit(ctx, h.Path, "add", "--", filePath); err != nil {
		return nil, err
	}

	return a.commit(ctx, h, authorName, authorEmail, message, signing)
}

// DeleteFile removes filePath and commits the removal, per spec.md §4.7's
// deleteFile algorithm ("same as above, substituting removal and git rm").
func (a *API) DeleteFile(ctx context.Context, ownerNpub, repoName, branch, authorName, authorEmail, message, filePath string, signing *SigningOptions) (*Result, error) {
	if err := a.validateCommon(ownerNpub, repoName, branch, authorEmail, message); err != nil {
		return nil, err
	}
	if err := validateFilePath(filePath); err != nil {
		return nil, err
	}

	h, err := a.acquirer.Acquire(ctx, ownerNpub, repoName, branch)
	if err != nil {
		return nil, err
	}
	defer h.Release(ctx)

	if _, err := containedJoin(h.Path, filePath); err != nil {
		return nil, err
	}
	if _, err := runGit(ctx, h.Path, "rm", "--", filePath); err != nil {
		return nil, fmt.Errorf("mutation: git rm: %w", err)
	}

	return a.commit(ctx, h, authorName, authorEmail, message, signing)
}

// commit stages the optional signature log, commits with --author, folds
// in the resulting commit hash, and optionally publishes the signature.
func (a *API) commit(ctx context.Context, h *worktree.Handle, authorName, authorEmail, message string, signing *SigningOptions) (*Result, error) {
	commitMessage := message
	var preCommitEvent *nostr.Event

	if signing != nil {
		e, err := signer.Build(authorName, authorEmail, message, signing.Options)
		if err != nil {
			return nil, fmt.Errorf("mutation: build commit signature: %w", err)
		}
		preCommitEvent = e
		commitMessage = signer.Trailer(message, e)

		if err := signer.Persist(h.Path, e); err != nil {
			return nil, err
		}
		if _, err := runGit(ctx, h.Path, "add", "--", "nostr/commit-signatures.jsonl"); err != nil {
			return nil, err
		}
	}

	author := fmt.Sprintf("%s <%s>", authorName, authorEmail)
	if _, err := runGit(ctx, h.Path, "-c", "user.name="+authorName, "-c", "user.email="+authorEmail,
		"commit", "--author", author, "-m", commitMessage); err != nil {
		return nil, fmt.Errorf("mutation: commit: %w", err)
	}

	hash, err := runGit(ctx, h.Path, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("mutation: resolve commit hash: %w", err)
	}
	hash = strings.TrimSpace(hash)

	result := &Result{CommitHash: hash}
	if preCommitEvent == nil {
		return result, nil
	}

	finalEvent, err := signer.WithCommitHash(preCommitEvent, hash, signing.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	if err := signer.Persist(h.Path, finalEvent); err != nil {
		return nil, err
	}
	result.SignatureEvent = finalEvent

	if signing.Publish != nil {
		if err := signing.Publish.PublishIfPublic(ctx, signing.OwnerPubkeyForPublish, signing.IsPublic, finalEvent); err != nil {
			a.log.Warn().Err(err).Msg("failed to publish commit signature event")
		}
	}

	return result, nil
}

// CreateBranch creates branch, per spec.md §4.7: from the orphan path if
// the repository has no branches yet, otherwise from fromBranch.
func (a *API) CreateBranch(ctx context.Context, ownerNpub, repoName, branch, fromBranch string) error {
	if err := repo.ValidateBranch(branch); err != nil {
		return err
	}
	if fromBranch != "" {
		if err := repo.ValidateBranch(fromBranch); err != nil {
			return err
		}
	}

	barePath, err := a.locator.BarePath(ownerNpub, repoName)
	if err != nil {
		return err
	}

	branches, err := listBranches(ctx, barePath)
	if err != nil {
		return err
	}

	if len(branches) == 0 {
		h, err := a.acquirer.Acquire(ctx, ownerNpub, repoName, branch)
		if err != nil {
			return err
		}
		defer h.Release(ctx)
		a.branches.Invalidate(branchCacheKey(ownerNpub, repoName))
		return nil
	}

	source := fromBranch
	if source == "" {
		source = branches[0]
	}
	if _, err := runGit(ctx, "", "--git-dir", barePath, "branch", branch, source); err != nil {
		return fmt.Errorf("mutation: create branch %s from %s: %w", branch, source, err)
	}
	a.branches.Invalidate(branchCacheKey(ownerNpub, repoName))
	return nil
}

// DeleteBranch removes branch, refusing to remove defaultBranch, per
// spec.md §4.7.
func (a *API) DeleteBranch(ctx context.Context, ownerNpub, repoName, branch, defaultBranch string) error {
	if err := repo.ValidateBranch(branch); err != nil {
		return err
	}
	if branch == defaultBranch {
		return fmt.Errorf("mutation: refusing to delete the default branch %q", branch)
	}

	barePath, err := a.locator.BarePath(ownerNpub, repoName)
	if err != nil {
		return err
	}

	if _, err := runGit(ctx, "", "--git-dir", barePath, "branch", "-D", branch); err != nil {
		if _, err := runGit(ctx, "", "--git-dir", barePath, "update-ref", "-d", "refs/heads/"+branch); err != nil {
			return fmt.Errorf("mutation: delete branch %s: %w", branch, err)
		}
	}
	a.branches.Invalidate(branchCacheKey(ownerNpub, repoName))
	return nil
}

func branchCacheKey(ownerNpub, repoName string) string {
	return ownerNpub + "/" + repoName
}

// containedJoin joins root and rel, asserting the result stays strictly
// below root, per spec.md §4.7's "resolved write path is strictly below
// the worktree root".
func containedJoin(root, rel string) (string, error) {
	path := filepath.Join(root, rel)
	relBack, err := filepath.Rel(root, path)
	if err != nil || relBack == ".." || strings.HasPrefix(relBack, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("mutation: path %q escapes worktree root", rel)
	}
	return path, nil
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
