package repo

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNpub(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	npub, err := nostr.EncodeNpub(hex.EncodeToString(b))
	require.NoError(t, err)
	return npub
}

func TestValidateOwnerDecodesNpub(t *testing.T) {
	npub := sampleNpub(t)
	hexKey, err := ValidateOwner(npub)
	require.NoError(t, err)
	assert.Len(t, hexKey, 64)
}

func TestValidateOwnerRejectsGarbage(t *testing.T) {
	_, err := ValidateOwner("not-an-npub")
	assert.Error(t, err)
}

func TestValidateRepoNameAcceptsGrammar(t *testing.T) {
	assert.NoError(t, ValidateRepoName("my-repo_1.2"))
}

func TestValidateRepoNameRejectsPathSeparator(t *testing.T) {
	assert.Error(t, ValidateRepoName("a/b"))
}

func TestValidateRepoNameRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidateRepoName(""))
}

func TestValidateRepoNameRejectsOverlong(t *testing.T) {
	long := ""
	for i := 0; i < 101; i++ {
		long += "a"
	}
	assert.Error(t, ValidateRepoName(long))
}

func TestBarePathResolvesUnderRoot(t *testing.T) {
	npub := sampleNpub(t)
	l := NewLocator("/repos")
	path, err := l.BarePath(npub, "myrepo")
	require.NoError(t, err)
	assert.Equal(t, "/repos/"+npub+"/myrepo.git", path)
}

func TestBarePathRejectsInvalidRepoName(t *testing.T) {
	npub := sampleNpub(t)
	l := NewLocator("/repos")
	_, err := l.BarePath(npub, "../escape")
	assert.Error(t, err)
}

func TestWorktreePathStaysUnderWorktreesRoot(t *testing.T) {
	npub := sampleNpub(t)
	l := NewLocator("/repos")
	path, err := l.WorktreePath(npub, "myrepo", "main")
	require.NoError(t, err)
	assert.Equal(t, "/repos/"+npub+"/myrepo.worktrees/main", path)
}

func TestWorktreePathRejectsEscape(t *testing.T) {
	npub := sampleNpub(t)
	l := NewLocator("/repos")
	_, err := l.WorktreePath(npub, "myrepo", "../../etc")
	assert.Error(t, err)
}
