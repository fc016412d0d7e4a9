package apperror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForKnownKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{Validation("bad path", nil), http.StatusBadRequest},
		{Auth("missing header", nil), http.StatusUnauthorized},
		{Permission("not a maintainer", nil), http.StatusForbidden},
		{NotFound("repo"), http.StatusNotFound},
		{Backend(errors.New("exit 1")), http.StatusInternalServerError},
		{Timeout(errors.New("deadline")), http.StatusGatewayTimeout},
		{Relay(errors.New("no relays")), http.StatusInternalServerError},
		{Cache(errors.New("disk full")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, StatusFor(tc.err))
	}
}

func TestStatusForUnclassifiedErrorDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Backend(cause)
	assert.ErrorIs(t, err, cause)
}

func TestErrorMessageIncludesRemediationAndCause(t *testing.T) {
	err := Validation("malformed repo path", errors.New("contains .."))
	assert.Contains(t, err.Error(), "malformed repo path")
	assert.Contains(t, err.Error(), "contains ..")
}

func TestNotFoundHasNoCause(t *testing.T) {
	err := NotFound("owner/repo")
	assert.Equal(t, "owner/repo not found", err.Error())
}

func TestSanitizeRedactsHex64(t *testing.T) {
	id := "3b1c2a7e4d5f60718293a4b5c6d7e8f90123456789abcdef0123456789abcdef"
	msg := "event " + id + " failed verification"
	got := Sanitize(msg)
	assert.NotContains(t, got, id)
	assert.Contains(t, got, "<redacted-hex64>")
}

func TestSanitizeRedactsNsec(t *testing.T) {
	msg := "invalid key nsec1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq supplied"
	got := Sanitize(msg)
	assert.NotContains(t, got, "nsec1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq")
	assert.Contains(t, got, "<redacted-nsec>")
}

func TestSanitizeLeavesOrdinaryTextAlone(t *testing.T) {
	msg := "repository not found"
	assert.Equal(t, msg, Sanitize(msg))
}
