// Command gitrepublic-gateway is the Git-HTTP Gateway process of spec.md
// §4.8: it serves smart-HTTP git over a Nostr-authenticated, npub-scoped
// URL grammar, wiring together every other package in this module.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nostr-git/gitrepublic/cache"
	"github.com/nostr-git/gitrepublic/gateway"
	"github.com/nostr-git/gitrepublic/internal/config"
	"github.com/nostr-git/gitrepublic/internal/eventsource"
	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/mutation"
	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/nostr-git/gitrepublic/policy"
	"github.com/nostr-git/gitrepublic/relay"
	"github.com/nostr-git/gitrepublic/repo"
	"github.com/nostr-git/gitrepublic/signer"
	"github.com/nostr-git/gitrepublic/worktree"
)

func main() {
	log := logging.Default("gateway")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("load configuration")
		os.Exit(1)
	}
	if cfg.Domain == "" {
		log.Error().Msg("GIT_DOMAIN is required")
		os.Exit(1)
	}

	secretKeyHex, secretSource, haveSecretKey := config.ResolveSecretKey(os.LookupEnv)
	if haveSecretKey {
		log.Info().Str("source", secretSource).Msg("resolved gateway signing key")
	} else {
		log.Warn().Msg("no gateway signing key configured; relay auth and server-side commit signing are disabled")
	}

	if err := os.MkdirAll(cfg.RepoRoot, 0o755); err != nil {
		log.Error().Err(err).Msg("create repo root")
		os.Exit(1)
	}

	var authSigner relay.Signer
	if haveSecretKey {
		authSigner = gatewaySigner{secretKeyHex: secretKeyHex}
	}

	// The cache depends on the relay client to revalidate stale entries; the
	// relay client depends on the cache only to drop deleted events. Tie the
	// knot through the EventSink/RelayFetch capability interfaces rather
	// than a direct two-way struct reference (spec.md §9).
	dbPath := filepath.Join(cfg.RepoRoot, "gitrepublic-cache.db")
	var eventCache *cache.Cache
	relayClient := relay.NewClient(cfg.Relays, authSigner, sinkFunc(func(id string) {
		if eventCache != nil {
			eventCache.DeleteEvent(id)
		}
	}))
	defer relayClient.Close()

	eventCache, err = cache.New(dbPath, relayClient, log.With("component", "cache"))
	if err != nil {
		log.Error().Err(err).Msg("open event cache")
		os.Exit(1)
	}
	defer eventCache.Close()

	source := eventsource.New(eventCache, relayClient)
	resolver := policy.New(source)
	locator := repo.NewLocator(cfg.RepoRoot)
	engine := worktree.New(locator, log.With("component", "worktree"))
	mutationAPI := mutation.New(locator, engine, log.With("component", "mutation"))
	publisher := &signer.Publisher{Client: relayClient, Source: source, Defaults: cfg.Relays}

	gw := gateway.New(locator, resolver, source, cfg.Domain, log.With("component", "gateway"))

	mh := &mutationHandler{
		api:       mutationAPI,
		resolver:  resolver,
		publisher: publisher,
		domain:    cfg.Domain,
		log:       log.With("component", "mutation-api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/write-file", mh.handleWriteFile)
	mux.HandleFunc("/api/delete-file", mh.handleDeleteFile)
	mux.HandleFunc("/api/create-branch", mh.handleCreateBranch)
	mux.HandleFunc("/api/delete-branch", mh.handleDeleteBranch)
	mux.Handle("/", gw)

	server := &http.Server{
		Addr:         ":8080",
		Handler:      mux,
		ReadTimeout:  0, // git pushes can be large and slow; bounded instead by the CGI subprocess timeout
		WriteTimeout: 0,
	}

	log.Info().Str("addr", server.Addr).Str("domain", cfg.Domain).Msg("gitrepublic-gateway listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

// sinkFunc adapts a plain function to relay.EventSink.
type sinkFunc func(id string)

func (f sinkFunc) DeleteEvent(id string) { f(id) }

// gatewaySigner answers relay NIP-42 AUTH challenges with the gateway's own
// configured key, so the gateway can authenticate to relays that require it
// in order to read/write events on its own behalf (not on behalf of a user).
type gatewaySigner struct {
	secretKeyHex string
}

func (s gatewaySigner) SignRelayAuth(ctx context.Context, relayURL, challenge string) (*nostr.Event, error) {
	e := &nostr.Event{
		Kind:      nostr.KindRelayAuth,
		CreatedAt: time.Now().Unix(),
		Tags: nostr.Tags{
			{"relay", relayURL},
			{"challenge", challenge},
		},
	}
	if err := e.Sign(s.secretKeyHex); err != nil {
		return nil, fmt.Errorf("gateway: sign relay auth: %w", err)
	}
	return e, nil
}
