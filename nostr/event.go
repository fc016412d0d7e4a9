// Package nostr implements the slice of the Nostr protocol this gateway
// needs directly: the event data model, canonical id hashing, Schnorr
// signing/verification, and the filter shape used to talk to relays. See
// DESIGN.md for why this is hand-rolled instead of built on go-nostr.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Tag is an ordered sequence of strings; tag semantics are positional.
type Tag []string

// Tags is an ordered sequence of Tag.
type Tags []Tag

// GetFirst returns the first tag whose name matches, or nil.
func (t Tags) GetFirst(name string) Tag {
	for _, tag := range t {
		if len(tag) > 0 && tag[0] == name {
			return tag
		}
	}
	return nil
}

// GetAll returns every tag whose name matches.
func (t Tags) GetAll(name string) Tags {
	var out Tags
	for _, tag := range t {
		if len(tag) > 0 && tag[0] == name {
			out = append(out, tag)
		}
	}
	return out
}

// Event is the immutable Nostr event tuple (id, pubkey, created_at, kind,
// tags, content, sig) of spec.md §3.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// canonicalArray is the NIP-01 `[0, pubkey, created_at, kind, tags, content]`
// serialization whose sha256 is the event id.
func (e *Event) canonicalArray() []interface{} {
	tags := e.Tags
	if tags == nil {
		tags = Tags{}
	}
	return []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}
}

// Serialize returns the canonical JSON byte serialization used for hashing.
// encoding/json runs with HTML escaping turned off, so `<`, `>` and `&` stay
// literal; `"`, `\` and control characters are escaped. encoding/json also
// escapes U+2028/U+2029 and writes \b and \f as \u0008 and \u000c, which
// NIP-01 does not.
func (e *Event) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e.canonicalArray()); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ComputeID returns the sha256 of the canonical serialization, hex-encoded.
func (e *Event) ComputeID() (string, error) {
	b, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SetID recomputes and stores e.ID. Callers that mutate tags after signing
// (e.g. the commit signer embedding a commit hash, spec.md §4.6/§9) must call
// this and understand the resulting id no longer matches e.Sig.
func (e *Event) SetID() error {
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// Sign computes the event id and produces a BIP-340 Schnorr signature over it
// using the given hex private key, then fills in PubKey, ID, and Sig.
func (e *Event) Sign(privateKeyHex string) error {
	skBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return fmt.Errorf("sign: invalid private key: %w", err)
	}
	if len(skBytes) != 32 {
		return fmt.Errorf("sign: private key must be 32 bytes")
	}
	priv, pub := btcec.PrivKeyFromBytes(skBytes)
	e.PubKey = hex.EncodeToString(schnorrPubKeyBytes(pub))

	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}

	if err := e.SetID(); err != nil {
		return err
	}

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("sign: bad id: %w", err)
	}

	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// schnorrPubKeyBytes returns the 32-byte x-only public key Nostr uses.
func schnorrPubKeyBytes(pub *btcec.PublicKey) []byte {
	return schnorr.SerializePubKey(pub)
}

// CheckSignature verifies that e.Sig is a valid BIP-340 signature over
// sha256(canonical(e)) by the x-only public key e.PubKey, and that e.ID
// matches that hash. Both checks are required: an id that was recomputed
// after the fact (spec.md §9, updateCommitSignatureWithHash) passes the
// hash-match half but fails the signature half, since the old signature
// covers the previous id; a tampered event with a stale id fails the
// hash-match half with an error.
func (e *Event) CheckSignature() (bool, error) {
	computedID, err := e.ComputeID()
	if err != nil {
		return false, err
	}
	if computedID != e.ID {
		return false, fmt.Errorf("event id mismatch: computed %s, have %s", computedID, e.ID)
	}

	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return false, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("invalid pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("invalid signature: %w", err)
	}

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return false, err
	}
	return sig.Verify(idBytes, pub), nil
}

// DedupKind classifies an event's dedup semantics, spec.md §3.
type DedupKind int

const (
	DedupRegular DedupKind = iota
	DedupReplaceable
	DedupParameterizedReplaceable
	DedupWriteProof
)

// WriteProofMarker is the well-known marker identifying a kind-24 public
// message as a write-proof, treated as replaceable by (24, pubkey,
// "write-proof") per spec.md §3.
const WriteProofMarker = "nostr-git-write-proof"

// DedupKey returns the cache dedup key and classification for an event.
func (e *Event) DedupKey() (kind DedupKind, key string) {
	switch {
	case e.Kind == KindPublicMessage && containsMarker(e.Content, WriteProofMarker):
		return DedupWriteProof, fmt.Sprintf("%d:%s:write-proof", e.Kind, e.PubKey)
	case e.Kind == KindDeletion || e.Kind == KindProfile || e.Kind == KindContacts ||
		e.Kind == KindRelayList || (e.Kind >= 10000 && e.Kind < 20000):
		return DedupReplaceable, fmt.Sprintf("%d:%s", e.Kind, e.PubKey)
	case e.Kind >= 30000 && e.Kind < 40000:
		d := ""
		if tag := e.Tags.GetFirst("d"); len(tag) > 1 {
			d = tag[1]
		}
		return DedupParameterizedReplaceable, fmt.Sprintf("%d:%s:%s", e.Kind, e.PubKey, d)
	default:
		return DedupRegular, e.ID
	}
}

func containsMarker(content, marker string) bool {
	return strings.Contains(content, marker)
}
