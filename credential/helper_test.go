package credential

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestHelperGetEmitsSignedPassword(t *testing.T) {
	key := randomKey(t)
	h := &Helper{Lookup: envLookup(map[string]string{"NOSTR_PRIVATE_KEY": key})}

	stdin := strings.NewReader("protocol=https\nhost=example.com\npath=npub1abc/myrepo.git/git-upload-pack\n\n")
	var stdout bytes.Buffer
	require.NoError(t, h.Run("get", stdin, &stdout))

	assert.Contains(t, stdout.String(), "username=nostr\n")

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	password := strings.TrimPrefix(lines[1], "password=")

	raw, err := base64.StdEncoding.DecodeString(password)
	require.NoError(t, err)
	var e nostr.Event
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, nostr.KindHTTPAuth, e.Kind)

	ok, err := e.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHelperGetFailsWithoutSecretKey(t *testing.T) {
	h := &Helper{Lookup: envLookup(map[string]string{})}
	stdin := strings.NewReader("protocol=https\nhost=example.com\npath=repo.git\n\n")
	var stdout bytes.Buffer
	err := h.Run("get", stdin, &stdout)
	assert.Error(t, err)
}

func TestHelperStoreAndEraseAreNoops(t *testing.T) {
	h := &Helper{Lookup: envLookup(map[string]string{})}
	var stdout bytes.Buffer
	assert.NoError(t, h.Run("store", strings.NewReader("protocol=https\n\n"), &stdout))
	assert.NoError(t, h.Run("erase", strings.NewReader("protocol=https\n\n"), &stdout))
	assert.Empty(t, stdout.String())
}

func TestResolveURLPrefersExplicitURL(t *testing.T) {
	h := &Helper{}
	targetURL, method, err := h.resolveURLAndMethod(map[string]string{"url": "https://example.com/npub1/repo.git/git-receive-pack"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/npub1/repo.git/git-receive-pack", targetURL)
	assert.Equal(t, "POST", method)
}

func TestResolveURLSelectsGetForUploadPack(t *testing.T) {
	h := &Helper{}
	_, method, err := h.resolveURLAndMethod(map[string]string{
		"protocol": "https", "host": "example.com", "path": "npub1/repo.git/git-upload-pack",
	})
	require.NoError(t, err)
	assert.Equal(t, "GET", method)
}

func TestResolveURLRewritesReceivePackAdvertisement(t *testing.T) {
	h := &Helper{}
	targetURL, method, err := h.resolveURLAndMethod(map[string]string{
		"url": "https://example.com/npub1/repo.git/info/refs?service=git-receive-pack",
	})
	require.NoError(t, err)
	assert.Equal(t, "POST", method)
	assert.True(t, strings.HasSuffix(targetURL, "/git-receive-pack"))
	assert.NotContains(t, targetURL, "info/refs")
}

func TestResolveURLRecoversPathFromRemoteWhenMissing(t *testing.T) {
	h := &Helper{
		RemoteConfiguredURL: func() (string, error) {
			return "https://example.com/npub1/repo.git", nil
		},
	}
	targetURL, _, err := h.resolveURLAndMethod(map[string]string{
		"protocol": "https", "host": "example.com", "wwwauth[]": "Basic",
	})
	require.NoError(t, err)
	assert.Contains(t, targetURL, "npub1/repo.git")
}
