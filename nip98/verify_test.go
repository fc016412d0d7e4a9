package nip98

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/stretchr/testify/require"
)

func genPrivKeyHex(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

func signedHeader(t *testing.T, sk string, e *nostr.Event) string {
	t.Helper()
	require.NoError(t, e.Sign(sk))
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	return "Nostr " + base64.StdEncoding.EncodeToString(raw)
}

func TestVerifySucceedsWithValidNostrHeader(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := BuildEvent("https://git.example.test/alice/repo.git/info/refs", "GET", nil)
	header := signedHeader(t, sk, e)

	result := Verify(header, "https://git.example.test/alice/repo.git/info/refs", "GET", nil)
	require.Equal(t, ReasonNone, result.Reason)
	require.NotEmpty(t, result.PubKey)
}

func TestVerifySucceedsThroughBasicTranslation(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := BuildEvent("https://git.example.test/alice/repo.git/git-upload-pack", "POST", nil)
	require.NoError(t, e.Sign(sk))
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	b64 := base64.StdEncoding.EncodeToString(raw)

	basicCreds := base64.StdEncoding.EncodeToString([]byte("nostr:" + b64))
	header := "Basic " + basicCreds

	result := Verify(header, "https://git.example.test/alice/repo.git/git-upload-pack", "POST", nil)
	require.Equal(t, ReasonNone, result.Reason)
}

func TestVerifyMissingAuthOnUnknownScheme(t *testing.T) {
	result := Verify("Bearer abc", "https://x/y", "GET", nil)
	require.Equal(t, ReasonMissingAuth, result.Reason)
}

func TestVerifyWrongKind(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := &nostr.Event{Kind: 1, Tags: nostr.Tags{{"u", "https://x/y"}, {"method", "GET"}}}
	header := signedHeader(t, sk, e)
	result := Verify(header, "https://x/y", "GET", nil)
	require.Equal(t, ReasonWrongKind, result.Reason)
}

func TestVerifyNonEmptyContent(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := &nostr.Event{Kind: nostr.KindHTTPAuth, Content: "hi", Tags: nostr.Tags{{"u", "https://x/y"}, {"method", "GET"}}}
	header := signedHeader(t, sk, e)
	result := Verify(header, "https://x/y", "GET", nil)
	require.Equal(t, ReasonNonEmptyContent, result.Reason)
}

func TestVerifyUrlMismatchIgnoresTrailingSlash(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := BuildEvent("https://x/y/", "GET", nil)
	header := signedHeader(t, sk, e)
	result := Verify(header, "https://x/y", "GET", nil)
	require.Equal(t, ReasonNone, result.Reason)
}

func TestVerifyUrlMismatchDifferentPath(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := BuildEvent("https://x/y", "GET", nil)
	header := signedHeader(t, sk, e)
	result := Verify(header, "https://x/z", "GET", nil)
	require.Equal(t, ReasonUrlMismatch, result.Reason)
}

func TestVerifyMethodMismatch(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := BuildEvent("https://x/y", "GET", nil)
	header := signedHeader(t, sk, e)
	result := Verify(header, "https://x/y", "POST", nil)
	require.Equal(t, ReasonMethodMismatch, result.Reason)
}

func TestVerifyExpired(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := BuildEvent("https://x/y", "GET", nil)
	e.CreatedAt = time.Now().Add(-2 * time.Minute).Unix()
	header := signedHeader(t, sk, e)
	result := Verify(header, "https://x/y", "GET", nil)
	require.Equal(t, ReasonExpired, result.Reason)
}

func TestVerifyFutureTimestamp(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := BuildEvent("https://x/y", "GET", nil)
	e.CreatedAt = time.Now().Add(2 * time.Minute).Unix()
	header := signedHeader(t, sk, e)
	result := Verify(header, "https://x/y", "GET", nil)
	require.Equal(t, ReasonFutureTimestamp, result.Reason)
}

func TestVerifyBodyHashMismatch(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := BuildEvent("https://x/y", "POST", []byte("original body"))
	header := signedHeader(t, sk, e)
	result := Verify(header, "https://x/y", "POST", []byte("tampered body"))
	require.Equal(t, ReasonBodyHashMismatch, result.Reason)
}

func TestVerifyBodyHashMatches(t *testing.T) {
	sk := genPrivKeyHex(t)
	body := []byte("push payload bytes")
	e := BuildEvent("https://x/y", "POST", body)
	header := signedHeader(t, sk, e)
	result := Verify(header, "https://x/y", "POST", body)
	require.Equal(t, ReasonNone, result.Reason)
}

func TestVerifyMalformedBase64(t *testing.T) {
	result := Verify("Nostr not-valid-base64!!!", "https://x/y", "GET", nil)
	require.Equal(t, ReasonMalformed, result.Reason)
}

func TestVerifyBadSignatureAfterTamper(t *testing.T) {
	sk := genPrivKeyHex(t)
	e := BuildEvent("https://x/y", "GET", nil)
	require.NoError(t, e.Sign(sk))
	e.Tags = append(e.Tags, nostr.Tag{"extra", "tag"})
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	header := "Nostr " + base64.StdEncoding.EncodeToString(raw)

	result := Verify(header, "https://x/y", "GET", nil)
	require.Equal(t, ReasonBadSignature, result.Reason)
}
