// Package bech32 implements the BIP-173 bech32 codec used by Nostr's NIP-19
// npub/nsec/note identifiers. It exists because this repository deliberately
// does not depend on go-nostr (see DESIGN.md), so the small, fixed algorithm
// is implemented directly rather than guessed against an unverified library
// surface.
package bech32

import (
	"fmt"
	"strings"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var charsetIndex = func() map[byte]int {
	m := make(map[byte]int, len(charset))
	for i := 0; i < len(charset); i++ {
		m[charset[i]] = i
	}
	return m
}()

func polymod(values []int) int {
	gen := []int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		b := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (b>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []int {
	out := make([]int, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, int(hrp[i])>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, int(hrp[i])&31)
	}
	return out
}

func createChecksum(hrp string, data []int) []int {
	values := append(hrpExpand(hrp), data...)
	values = append(values, []int{0, 0, 0, 0, 0, 0}...)
	mod := polymod(values) ^ 1
	checksum := make([]int, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = (mod >> uint(5*(5-i))) & 31
	}
	return checksum
}

func verifyChecksum(hrp string, data []int) bool {
	return polymod(append(hrpExpand(hrp), data...)) == 1
}

// Encode produces a bech32 string with the given human-readable part and
// raw (8-bit) data, performing the 8-to-5 bit regrouping itself.
func Encode(hrp string, data []byte) (string, error) {
	five, err := convertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	combined := append(five, createChecksum(hrp, five)...)
	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, v := range combined {
		if v < 0 || v >= len(charset) {
			return "", fmt.Errorf("bech32: invalid 5-bit value %d", v)
		}
		sb.WriteByte(charset[v])
	}
	return sb.String(), nil
}

// Decode parses a bech32 string into its human-readable part and raw (8-bit)
// data, undoing the 5-to-8 bit regrouping.
func Decode(s string) (hrp string, data []byte, err error) {
	if len(s) < 8 || len(s) > 5000 {
		return "", nil, fmt.Errorf("bech32: invalid length %d", len(s))
	}
	lower := strings.ToLower(s)
	upper := strings.ToUpper(s)
	if s != lower && s != upper {
		return "", nil, fmt.Errorf("bech32: mixed case string")
	}
	s = lower
	sep := strings.LastIndexByte(s, '1')
	if sep < 1 || sep+7 > len(s) {
		return "", nil, fmt.Errorf("bech32: missing or misplaced separator")
	}
	hrp = s[:sep]
	for i := 0; i < len(hrp); i++ {
		if hrp[i] < 33 || hrp[i] > 126 {
			return "", nil, fmt.Errorf("bech32: invalid hrp byte")
		}
	}
	fiveBitData := make([]int, 0, len(s)-sep-1)
	for i := sep + 1; i < len(s); i++ {
		idx, ok := charsetIndex[s[i]]
		if !ok {
			return "", nil, fmt.Errorf("bech32: invalid character %q", s[i])
		}
		fiveBitData = append(fiveBitData, idx)
	}
	if !verifyChecksum(hrp, fiveBitData) {
		return "", nil, fmt.Errorf("bech32: invalid checksum")
	}
	payload := fiveBitData[:len(fiveBitData)-6]
	regrouped, err := convertBits(intsToBytes(payload), 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, intsToBytes(regrouped), nil
}

func intsToBytes(in []int) []byte {
	out := make([]byte, len(in))
	for i, v := range in {
		out[i] = byte(v)
	}
	return out
}

// convertBits regroups a bit stream from one word size to another, as used
// to move between 8-bit raw bytes and bech32's 5-bit alphabet.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]int, error) {
	acc := 0
	bits := uint(0)
	out := make([]int, 0, len(data)*int(fromBits)/int(toBits)+1)
	maxv := (1 << toBits) - 1
	maxAcc := (1 << (fromBits + toBits - 1)) - 1
	for _, b := range data {
		value := int(b)
		if value < 0 || value>>fromBits != 0 {
			return nil, fmt.Errorf("bech32: invalid data byte")
		}
		acc = ((acc << fromBits) | value) & maxAcc
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, (acc>>bits)&maxv)
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, (acc<<(toBits-bits))&maxv)
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, fmt.Errorf("bech32: invalid padding")
	}
	return out, nil
}
