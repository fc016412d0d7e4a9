package nostr

import (
	"encoding/hex"
	"fmt"

	"github.com/nostr-git/gitrepublic/internal/bech32"
)

// EncodeNpub bech32-encodes a hex public key as an npub per NIP-19.
func EncodeNpub(pubkeyHex string) (string, error) {
	return encodeHex("npub", pubkeyHex)
}

// EncodeNsec bech32-encodes a hex private key as an nsec per NIP-19.
func EncodeNsec(privkeyHex string) (string, error) {
	return encodeHex("nsec", privkeyHex)
}

func encodeHex(hrp, keyHex string) (string, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", fmt.Errorf("%s: invalid hex: %w", hrp, err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("%s: key must be 32 bytes, got %d", hrp, len(raw))
	}
	return bech32.Encode(hrp, raw)
}

// DecodeNpub recovers the hex public key from an npub string.
func DecodeNpub(npub string) (string, error) {
	return decodeHex("npub", npub)
}

// DecodeNsec recovers the hex private key from an nsec string.
func DecodeNsec(nsec string) (string, error) {
	return decodeHex("nsec", nsec)
}

func decodeHex(wantHRP, s string) (string, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%s: %w", wantHRP, err)
	}
	if hrp != wantHRP {
		return "", fmt.Errorf("%s: unexpected prefix %q", wantHRP, hrp)
	}
	if len(data) != 32 {
		return "", fmt.Errorf("%s: decoded payload must be 32 bytes, got %d", wantHRP, len(data))
	}
	return hex.EncodeToString(data), nil
}

// ResolveHexPubKey accepts either a raw 64-char hex pubkey or an npub and
// always returns hex, mirroring the teacher's ResolveHexPubKey helper.
func ResolveHexPubKey(s string) (string, error) {
	if len(s) == 64 {
		if _, err := hex.DecodeString(s); err == nil {
			return s, nil
		}
	}
	return DecodeNpub(s)
}
