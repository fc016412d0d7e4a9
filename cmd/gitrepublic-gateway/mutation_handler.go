package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/nostr-git/gitrepublic/internal/apperror"
	"github.com/nostr-git/gitrepublic/internal/config"
	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/mutation"
	"github.com/nostr-git/gitrepublic/nip98"
	"github.com/nostr-git/gitrepublic/repo"
	"github.com/nostr-git/gitrepublic/signer"
)

// mutationResolver is the narrow policy capability the write API needs,
// matching *policy.Resolver.
type mutationResolver interface {
	CurrentOwner(ctx context.Context, originalOwner, repoName string) (string, error)
	IsMaintainer(ctx context.Context, actor, currentOwner, repoName string) (bool, error)
	CanPushToBranch(ctx context.Context, actor, owner, repoName, branch string, isMaintainer, forcePush, deleteRef bool) (bool, error)
}

// mutationHandler exposes the Mutation API over HTTP for the "UI-initiated
// write" data flow of spec.md §3: a caller with a NIP-98-signed request body
// writes, deletes, or branches directly against a repository's bare object
// database, the same way git-nostr-bridge's own `/api/event` endpoint takes
// plain JSON POSTs rather than a full git client.
type mutationHandler struct {
	api       *mutation.API
	resolver  mutationResolver
	publisher *signer.Publisher
	domain    string
	log       logging.Logger
}

type writeFileRequest struct {
	OwnerNpub   string `json:"owner_npub"`
	RepoName    string `json:"repo_name"`
	Branch      string `json:"branch"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
	Message     string `json:"message"`
	FilePath    string `json:"file_path"`
	Content     []byte `json:"content"`
	Sign        bool   `json:"sign"`
	IsPublic    bool   `json:"is_public"`
}

type deleteFileRequest struct {
	OwnerNpub   string `json:"owner_npub"`
	RepoName    string `json:"repo_name"`
	Branch      string `json:"branch"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
	Message     string `json:"message"`
	FilePath    string `json:"file_path"`
	Sign        bool   `json:"sign"`
	IsPublic    bool   `json:"is_public"`
}

type branchRequest struct {
	OwnerNpub     string `json:"owner_npub"`
	RepoName      string `json:"repo_name"`
	Branch        string `json:"branch"`
	FromBranch    string `json:"from_branch"`
	DefaultBranch string `json:"default_branch"`
}

func (h *mutationHandler) authenticate(r *http.Request, body []byte) (string, *apperror.Error) {
	expectedURL := (&url.URL{Scheme: "https", Host: h.domain, Path: r.URL.Path, RawQuery: r.URL.RawQuery}).String()
	result := nip98.Verify(r.Header.Get("Authorization"), expectedURL, r.Method, body)
	if result.Reason != "" {
		return "", apperror.Auth(string(result.Reason), fmt.Errorf("nip98 verification failed: %s", result.Reason))
	}
	return result.PubKey, nil
}

// authorizeWrite checks that actor may push to branch, resolving ownership
// and branch protection the same way the Git-HTTP Gateway does for a push.
// deleteRef reports whether this operation deletes the branch outright
// (the Mutation API's DeleteBranch), so branch-protection policies that
// disallow deletion are enforced here too, not just on a raw git push.
func (h *mutationHandler) authorizeWrite(ctx context.Context, actor, ownerHex, repoName, branch string, deleteRef bool) error {
	owner, err := h.resolver.CurrentOwner(ctx, ownerHex, repoName)
	if err != nil {
		return err
	}
	isMaintainer, err := h.resolver.IsMaintainer(ctx, actor, owner, repoName)
	if err != nil {
		return err
	}
	if actor != owner && !isMaintainer {
		return apperror.Permission("not owner or maintainer", fmt.Errorf("actor %s denied", actor))
	}
	allowed, err := h.resolver.CanPushToBranch(ctx, actor, owner, repoName, branch, isMaintainer, false, deleteRef)
	if err != nil {
		return err
	}
	if !allowed {
		return apperror.Permission("branch protected", fmt.Errorf("push to %s denied", branch))
	}
	return nil
}

type signingRequest struct {
	sign     bool
	isPublic bool
	ownerHex string
}

func (h *mutationHandler) signingOptions(req signingRequest) *mutation.SigningOptions {
	if !req.sign {
		return nil
	}
	secretKeyHex, _, found := config.ResolveSecretKey(os.LookupEnv)
	if !found {
		return nil
	}
	return &mutation.SigningOptions{
		Options:               signer.Options{PrivateKeyHex: secretKeyHex},
		OwnerPubkeyForPublish: req.ownerHex,
		IsPublic:              req.isPublic,
		Publish:               h.publisher,
	}
}

func (h *mutationHandler) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var req writeFileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}

	actor, authErr := h.authenticate(r, body)
	if authErr != nil {
		http.Error(w, authErr.Error(), http.StatusUnauthorized)
		return
	}

	ownerHex, err := repo.ValidateOwner(req.OwnerNpub)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.authorizeWrite(r.Context(), actor, ownerHex, req.RepoName, req.Branch, false); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	signing := h.signingOptions(signingRequest{req.Sign, req.IsPublic, ownerHex})

	result, err := h.api.WriteFile(r.Context(), req.OwnerNpub, req.RepoName, req.Branch,
		req.AuthorName, req.AuthorEmail, req.Message, req.FilePath, req.Content, signing)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, result)
}

func (h *mutationHandler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var req deleteFileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}

	actor, authErr := h.authenticate(r, body)
	if authErr != nil {
		http.Error(w, authErr.Error(), http.StatusUnauthorized)
		return
	}

	ownerHex, err := repo.ValidateOwner(req.OwnerNpub)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.authorizeWrite(r.Context(), actor, ownerHex, req.RepoName, req.Branch, false); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	signing := h.signingOptions(signingRequest{req.Sign, req.IsPublic, ownerHex})

	result, err := h.api.DeleteFile(r.Context(), req.OwnerNpub, req.RepoName, req.Branch,
		req.AuthorName, req.AuthorEmail, req.Message, req.FilePath, signing)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, result)
}

func (h *mutationHandler) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var req branchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	actor, authErr := h.authenticate(r, body)
	if authErr != nil {
		http.Error(w, authErr.Error(), http.StatusUnauthorized)
		return
	}
	ownerHex, err := repo.ValidateOwner(req.OwnerNpub)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.authorizeWrite(r.Context(), actor, ownerHex, req.RepoName, req.Branch, false); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if err := h.api.CreateBranch(r.Context(), req.OwnerNpub, req.RepoName, req.Branch, req.FromBranch); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *mutationHandler) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var req branchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	actor, authErr := h.authenticate(r, body)
	if authErr != nil {
		http.Error(w, authErr.Error(), http.StatusUnauthorized)
		return
	}
	ownerHex, err := repo.ValidateOwner(req.OwnerNpub)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.authorizeWrite(r.Context(), actor, ownerHex, req.RepoName, req.Branch, true); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if err := h.api.DeleteBranch(r.Context(), req.OwnerNpub, req.RepoName, req.Branch, req.DefaultBranch); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
