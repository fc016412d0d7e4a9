// Package signer implements the Commit Signer of spec.md §4.6: attach a
// Nostr-backed signature to a commit, in the trailer format git expects and
// as a standalone kind-1640 event.
package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/nostr-git/gitrepublic/relay"
)

// signatureLogPath is the path, relative to a worktree root, commit
// signatures are appended to before the commit itself is made.
const signatureLogPath = "nostr/commit-signatures.jsonl"

// Options selects one of the three ways spec.md §4.6 allows a commit
// signature to be produced.
type Options struct {
	// PrivateKeyHex signs the event directly; set when the gateway holds
	// the author's key (e.g. the credential-helper-issued NIP-98 flow
	// configured a server-side signing key).
	PrivateKeyHex string

	// ExternalEvent is an already-signed kind-1640 event the caller
	// obtained elsewhere (e.g. from a richer git client). Used as-is; its
	// signature cannot be refreshed once the commit hash is folded in,
	// since the signer has no private key to re-sign with.
	ExternalEvent *nostr.Event

	// NIP98EventID and NIP98Pubkey identify the NIP-98 proof backing this
	// commit when neither a private key nor an externally-signed event is
	// available. The resulting event carries an unsigned reference to the
	// proof rather than a Schnorr signature of its own.
	NIP98EventID string
	NIP98Pubkey  string
}

// Build produces the unsigned-or-signed kind-1640 event for a commit, before
// the commit hash is known.
func Build(authorName, authorEmail, subject string, opts Options) (*nostr.Event, error) {
	if opts.ExternalEvent != nil {
		cloned := *opts.ExternalEvent
		cloned.Tags = append(nostr.Tags{}, opts.ExternalEvent.Tags...)
		return &cloned, nil
	}

	tags := nostr.Tags{
		{"author", authorName, authorEmail},
		{"message", subject},
	}
	if opts.NIP98EventID != "" {
		tags = append(tags, nostr.Tag{"e", opts.NIP98EventID, "", "nip98-auth"})
	}

	e := &nostr.Event{
		Kind: nostr.KindCommitSignature,
		Tags: tags,
	}

	switch {
	case opts.PrivateKeyHex != "":
		if err := e.Sign(opts.PrivateKeyHex); err != nil {
			return nil, fmt.Errorf("signer: sign commit event: %w", err)
		}
	case opts.NIP98Pubkey != "":
		e.PubKey = opts.NIP98Pubkey
		if err := e.SetID(); err != nil {
			return nil, fmt.Errorf("signer: compute unsigned id: %w", err)
		}
	default:
		return nil, fmt.Errorf("signer: no signing material supplied")
	}

	return e, nil
}

// WithCommitHash folds the now-known commit hash into e's tags and
// recomputes its id. If privateKeyHex is non-empty the event is re-signed;
// otherwise the previous signature is left in place even though it no
// longer matches the recomputed id, per spec.md §4.6 ("re-signing is not
// attempted if the signer is not available").
func WithCommitHash(e *nostr.Event, commitHash, privateKeyHex string) (*nostr.Event, error) {
	updated := *e
	updated.Tags = append(nostr.Tags{}, e.Tags...)
	updated.Tags = append(updated.Tags, nostr.Tag{"commit", commitHash})

	if privateKeyHex != "" {
		if err := updated.Sign(privateKeyHex); err != nil {
			return nil, fmt.Errorf("signer: re-sign after commit hash: %w", err)
		}
		return &updated, nil
	}

	if err := updated.SetID(); err != nil {
		return nil, fmt.Errorf("signer: recompute id after commit hash: %w", err)
	}
	return &updated, nil
}

// Trailer formats the bit-exact git trailer of spec.md §4.6: the original
// commit message, a blank line, then the Nostr-Signature line with three
// lowercase-hex fields.
func Trailer(originalMessage string, e *nostr.Event) string {
	return fmt.Sprintf("%s\n\nNostr-Signature: %s %s %s",
		originalMessage,
		strings.ToLower(e.ID),
		strings.ToLower(e.PubKey),
		strings.ToLower(e.Sig),
	)
}

// Persist appends e as one JSON line to nostr/commit-signatures.jsonl
// inside worktreePath, creating the parent directory if needed.
func Persist(worktreePath string, e *nostr.Event) error {
	path := filepath.Join(worktreePath, signatureLogPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("signer: persist: mkdir: %w", err)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("signer: persist: marshal: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("signer: persist: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("signer: persist: write: %w", err)
	}
	return nil
}

// RelayListSource resolves an owner's kind-10002 relay list, the narrow
// capability PublishIfPublic needs to merge outbox relays with the default
// set, per spec.md §4.6.
type RelayListSource interface {
	Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error)
}

// OutboxRelays returns pubkey's outbox relay URLs from its most recent
// kind-10002 event, merged with defaults (outbox relays first, de-duped).
func OutboxRelays(ctx context.Context, source RelayListSource, pubkey string, defaults []string) ([]string, error) {
	events, err := source.Query(ctx, nostr.Filters{{
		Kinds:   []int{nostr.KindRelayList},
		Authors: []string{pubkey},
	}})
	if err != nil {
		return nil, fmt.Errorf("signer: query relay list: %w", err)
	}

	var latest *nostr.Event
	for _, e := range events {
		if latest == nil || e.CreatedAt > latest.CreatedAt {
			latest = e
		}
	}

	seen := map[string]bool{}
	var merged []string
	if latest != nil {
		for _, tag := range latest.Tags.GetAll("r") {
			if len(tag) < 2 {
				continue
			}
			if len(tag) >= 3 && tag[2] == "read" {
				continue // read-only relay, not an outbox target
			}
			if !seen[tag[1]] {
				seen[tag[1]] = true
				merged = append(merged, tag[1])
			}
		}
	}
	for _, url := range defaults {
		if !seen[url] {
			seen[url] = true
			merged = append(merged, url)
		}
	}
	return merged, nil
}

// Publisher adapts a relay client and a relay-list source into the mutation
// API's narrow Signer capability.
type Publisher struct {
	Client   *relay.Client
	Source   RelayListSource
	Defaults []string
}

// PublishIfPublic publishes e to ownerPubkey's outbox relays (merged with
// p.Defaults) when isPublic is true. Callers should invoke this after
// Persist, per spec.md §4.6's "always persist locally" ordering.
func (p *Publisher) PublishIfPublic(ctx context.Context, ownerPubkey string, isPublic bool, e *nostr.Event) error {
	return PublishIfPublic(ctx, p.Client, p.Source, ownerPubkey, p.Defaults, isPublic, e)
}

// PublishIfPublic publishes e to the owner's outbox relays (merged with
// defaults) when isPublic is true. Callers should invoke this after
// Persist, per spec.md §4.6's "always persist locally" ordering.
func PublishIfPublic(ctx context.Context, client *relay.Client, source RelayListSource, ownerPubkey string, defaults []string, isPublic bool, e *nostr.Event) error {
	if !isPublic {
		return nil
	}
	relays, err := OutboxRelays(ctx, source, ownerPubkey, defaults)
	if err != nil {
		return err
	}
	if _, err := client.Publish(ctx, e, relays...); err != nil {
		return fmt.Errorf("signer: publish commit signature: %w", err)
	}
	return nil
}
