// Package nip98 verifies HTTP-bound Nostr auth events (NIP-98) carried in
// an Authorization header, either natively as `Nostr <b64 event>` or via a
// git credential helper's translated `Basic nostr:<b64 event>` form.
package nip98

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/nostr-git/gitrepublic/nostr"
)

// Reason is a distinct, independently-checkable verification failure code.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonMissingAuth      Reason = "MissingAuth"
	ReasonMalformed        Reason = "Malformed"
	ReasonBadSignature     Reason = "BadSignature"
	ReasonWrongKind        Reason = "WrongKind"
	ReasonNonEmptyContent  Reason = "NonEmptyContent"
	ReasonUrlMismatch      Reason = "UrlMismatch"
	ReasonMethodMismatch   Reason = "MethodMismatch"
	ReasonExpired          Reason = "Expired"
	ReasonFutureTimestamp  Reason = "FutureTimestamp"
	ReasonBodyHashMismatch Reason = "BodyHashMismatch"
)

const clockSkewTolerance = 60 * time.Second

// Result is the outcome of Verify: exactly one of PubKey or Reason is set.
type Result struct {
	PubKey string
	Reason Reason
}

func fail(reason Reason) Result { return Result{Reason: reason} }

// Verify checks an Authorization header against the expected URL, method,
// and (if present) request body, per spec.md §4.3.
func Verify(authHeader, expectedURL, expectedMethod string, body []byte) Result {
	b64Event, ok := normalize(authHeader)
	if !ok {
		return fail(ReasonMissingAuth)
	}

	raw, err := base64.StdEncoding.DecodeString(b64Event)
	if err != nil {
		return fail(ReasonMalformed)
	}
	var e nostr.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return fail(ReasonMalformed)
	}

	if e.Kind != nostr.KindHTTPAuth {
		return fail(ReasonWrongKind)
	}
	if e.Content != "" {
		return fail(ReasonNonEmptyContent)
	}

	ok, err = e.CheckSignature()
	if err != nil || !ok {
		return fail(ReasonBadSignature)
	}

	uTag := e.Tags.GetFirst("u")
	if len(uTag) < 2 || normalizeURL(uTag[1]) != normalizeURL(expectedURL) {
		return fail(ReasonUrlMismatch)
	}

	methodTag := e.Tags.GetFirst("method")
	if len(methodTag) < 2 || !strings.EqualFold(methodTag[1], expectedMethod) {
		return fail(ReasonMethodMismatch)
	}

	now := time.Now()
	delta := now.Sub(time.Unix(e.CreatedAt, 0))
	if delta > clockSkewTolerance {
		return fail(ReasonExpired)
	}
	if delta < -clockSkewTolerance {
		return fail(ReasonFutureTimestamp)
	}

	if len(body) > 0 {
		payloadTag := e.Tags.GetFirst("payload")
		sum := sha256.Sum256(body)
		want := hex.EncodeToString(sum[:])
		if len(payloadTag) < 2 || payloadTag[1] != want {
			return fail(ReasonBodyHashMismatch)
		}
	}

	return Result{PubKey: e.PubKey}
}

// normalize extracts the base64 event payload from either a native `Nostr `
// header or a `Basic nostr:<b64>` translation, per spec.md §4.3.
func normalize(header string) (string, bool) {
	if strings.HasPrefix(header, "Nostr ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Nostr ")), true
	}
	if strings.HasPrefix(header, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(header, "Basic ")))
		if err != nil {
			return "", false
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 || parts[0] != "nostr" {
			return "", false
		}
		password := strings.NewReplacer("\r", "", "\n", "", "\t", "", "\x00", "").Replace(parts[1])
		return password, true
	}
	return "", false
}

// normalizeURL strips a single trailing slash from the path portion, so
// `.../repo.git/` and `.../repo.git` compare equal.
func normalizeURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return strings.TrimSuffix(u, "/")
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String()
}

// BuildEvent constructs (unsigned) the NIP-98 event for a client request,
// for use by the credential helper (spec.md §4.7).
func BuildEvent(url, method string, body []byte) *nostr.Event {
	tags := nostr.Tags{
		{"u", url},
		{"method", strings.ToUpper(method)},
	}
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		tags = append(tags, nostr.Tag{"payload", hex.EncodeToString(sum[:])})
	}
	return &nostr.Event{
		Kind:      nostr.KindHTTPAuth,
		CreatedAt: time.Now().Unix(),
		Tags:      tags,
		Content:   "",
	}
}
