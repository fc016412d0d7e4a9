package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/mutation"
	"github.com/nostr-git/gitrepublic/nip98"
	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/nostr-git/gitrepublic/repo"
	"github.com/nostr-git/gitrepublic/worktree"
	"github.com/stretchr/testify/require"
)

func testGatewayLogger() logging.Logger {
	return logging.New(&bytes.Buffer{}, "gateway-test")
}

func newTestKey(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

type fakeMutationResolver struct {
	owner        string
	isMaintainer bool
	canPush      bool
}

func (f *fakeMutationResolver) CurrentOwner(ctx context.Context, originalOwner, repoName string) (string, error) {
	return f.owner, nil
}
func (f *fakeMutationResolver) IsMaintainer(ctx context.Context, actor, currentOwner, repoName string) (bool, error) {
	return f.isMaintainer, nil
}
func (f *fakeMutationResolver) CanPushToBranch(ctx context.Context, actor, owner, repoName, branch string, isMaintainer, forcePush, deleteRef bool) (bool, error) {
	return f.canPush, nil
}

func signedAuthHeader(t *testing.T, sk, url, method string, body []byte) string {
	t.Helper()
	e := nip98.BuildEvent(url, method, body)
	require.NoError(t, e.Sign(sk))
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	return "Nostr " + base64.StdEncoding.EncodeToString(raw)
}

func TestHandleWriteFileRejectsUnauthenticatedRequest(t *testing.T) {
	locator := repo.NewLocator(t.TempDir())
	engine := worktree.New(locator, testGatewayLogger())
	api := mutation.New(locator, engine, testGatewayLogger())
	h := &mutationHandler{api: api, resolver: &fakeMutationResolver{}, domain: "example.com", log: testGatewayLogger()}

	body, _ := json.Marshal(writeFileRequest{OwnerNpub: "npub1x", RepoName: "repo", Branch: "main"})
	req := httptest.NewRequest(http.MethodPost, "https://example.com/api/write-file", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleWriteFile(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWriteFileRejectsNonOwnerNonMaintainer(t *testing.T) {
	sk := newTestKey(t)
	e := &nostr.Event{Kind: nostr.KindHTTPAuth}
	require.NoError(t, e.Sign(sk))

	npub, err := nostr.EncodeNpub("aa" + strings.Repeat("00", 31))
	require.NoError(t, err)
	ownerHex, err := repo.ValidateOwner(npub)
	require.NoError(t, err)

	locator := repo.NewLocator(t.TempDir())
	engine := worktree.New(locator, testGatewayLogger())
	api := mutation.New(locator, engine, testGatewayLogger())
	h := &mutationHandler{
		api:      api,
		resolver: &fakeMutationResolver{owner: ownerHex, isMaintainer: false},
		domain:   "example.com",
		log:      testGatewayLogger(),
	}

	reqBody, err := json.Marshal(writeFileRequest{OwnerNpub: npub, RepoName: "repo", Branch: "main"})
	require.NoError(t, err)

	url := "https://example.com/api/write-file"
	auth := signedAuthHeader(t, sk, url, http.MethodPost, reqBody)

	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(reqBody))
	req.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	h.handleWriteFile(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
