package mutation

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/nostr-git/gitrepublic/repo"
	"github.com/nostr-git/gitrepublic/signer"
	"github.com/nostr-git/gitrepublic/worktree"
	"github.com/stretchr/testify/require"
)

func testLogger() logging.Logger {
	return logging.New(&bytes.Buffer{}, "mutation-test")
}

func randomKey(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

func testNpub(t *testing.T) string {
	t.Helper()
	npub, err := nostr.EncodeNpub("aa" + strings.Repeat("00", 31))
	require.NoError(t, err)
	return npub
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func newBareRepo(t *testing.T, root, npub, repoName string) string {
	t.Helper()
	ownerDir := filepath.Join(root, npub)
	require.NoError(t, os.MkdirAll(ownerDir, 0o755))
	barePath := filepath.Join(ownerDir, repoName+".git")
	git(t, ownerDir, "init", "--bare", barePath)
	return barePath
}

func newAPI(t *testing.T, root string) *API {
	locator := repo.NewLocator(root)
	engine := worktree.New(locator, testLogger())
	return New(locator, engine, testLogger())
}

func TestWriteFileCommitsNewFile(t *testing.T) {
	root := t.TempDir()
	npub := testNpub(t)
	newBareRepo(t, root, npub, "myrepo")
	api := newAPI(t, root)

	result, err := api.WriteFile(context.Background(), npub, "myrepo", "main", "Jane Doe", "jane@example.com",
		"add readme", "README.md", []byte("hello\n"), nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.CommitHash)
}

func TestWriteFileRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	npub := testNpub(t)
	newBareRepo(t, root, npub, "myrepo")
	api := newAPI(t, root)

	_, err := api.WriteFile(context.Background(), npub, "myrepo", "main", "Jane Doe", "jane@example.com",
		"add readme", "../../etc/passwd", []byte("x"), nil)
	require.Error(t, err)
}

func TestWriteFileRejectsInvalidEmail(t *testing.T) {
	root := t.TempDir()
	npub := testNpub(t)
	newBareRepo(t, root, npub, "myrepo")
	api := newAPI(t, root)

	_, err := api.WriteFile(context.Background(), npub, "myrepo", "main", "Jane Doe", "not-an-email",
		"add readme", "README.md", []byte("x"), nil)
	require.Error(t, err)
}

func TestWriteFileWithSigningPersistsSignature(t *testing.T) {
	root := t.TempDir()
	npub := testNpub(t)
	barePath := newBareRepo(t, root, npub, "myrepo")
	api := newAPI(t, root)

	key := randomKey(t)
	result, err := api.WriteFile(context.Background(), npub, "myrepo", "main", "Jane Doe", "jane@example.com",
		"add readme", "README.md", []byte("hello\n"), &SigningOptions{
			Options: signer.Options{PrivateKeyHex: key},
		})
	require.NoError(t, err)
	require.NotNil(t, result.SignatureEvent)
	require.NotEmpty(t, result.SignatureEvent.Sig)

	log := git(t, barePath, "log", "-1", "--format=%B", "main")
	require.Contains(t, log, "Nostr-Signature:")
}

func TestDeleteFileCommitsRemoval(t *testing.T) {
	root := t.TempDir()
	npub := testNpub(t)
	barePath := newBareRepo(t, root, npub, "myrepo")
	api := newAPI(t, root)

	_, err := api.WriteFile(context.Background(), npub, "myrepo", "main", "Jane Doe", "jane@example.com",
		"add readme", "README.md", []byte("hello\n"), nil)
	require.NoError(t, err)

	_, err = api.DeleteFile(context.Background(), npub, "myrepo", "main", "Jane Doe", "jane@example.com",
		"remove readme", "README.md", nil)
	require.NoError(t, err)

	tree := git(t, barePath, "ls-tree", "main", "--", "README.md")
	require.Empty(t, tree)
}

func TestCreateBranchBootstrapsOrphanOnEmptyRepo(t *testing.T) {
	root := t.TempDir()
	npub := testNpub(t)
	newBareRepo(t, root, npub, "myrepo")
	api := newAPI(t, root)

	require.NoError(t, api.CreateBranch(context.Background(), npub, "myrepo", "main", ""))
}

func TestCreateBranchFromExistingBranch(t *testing.T) {
	root := t.TempDir()
	npub := testNpub(t)
	newBareRepo(t, root, npub, "myrepo")
	api := newAPI(t, root)

	_, err := api.WriteFile(context.Background(), npub, "myrepo", "main", "Jane Doe", "jane@example.com",
		"add readme", "README.md", []byte("hello\n"), nil)
	require.NoError(t, err)

	require.NoError(t, api.CreateBranch(context.Background(), npub, "myrepo", "feature", "main"))
}

func TestDeleteBranchRefusesDefaultBranch(t *testing.T) {
	root := t.TempDir()
	npub := testNpub(t)
	newBareRepo(t, root, npub, "myrepo")
	api := newAPI(t, root)

	require.Error(t, api.DeleteBranch(context.Background(), npub, "myrepo", "main", "main"))
}

func TestDeleteBranchRemovesNonDefaultBranch(t *testing.T) {
	root := t.TempDir()
	npub := testNpub(t)
	newBareRepo(t, root, npub, "myrepo")
	api := newAPI(t, root)

	_, err := api.WriteFile(context.Background(), npub, "myrepo", "main", "Jane Doe", "jane@example.com",
		"add readme", "README.md", []byte("hello\n"), nil)
	require.NoError(t, err)
	require.NoError(t, api.CreateBranch(context.Background(), npub, "myrepo", "feature", "main"))

	require.NoError(t, api.DeleteBranch(context.Background(), npub, "myrepo", "feature", "main"))
}
