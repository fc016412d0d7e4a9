package gateway

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// pushedRef is one ref line from a receive-pack preamble.
type pushedRef struct {
	oldOID string
	newOID string
	branch string
}

var refLinePattern = regexp.MustCompile(`^([0-9a-f]{40,64}) ([0-9a-f]{40,64}) refs/heads/(.+)$`)

// isZeroOID reports whether oid is git's all-zero "absent object" OID, used
// on a ref-update line to mean "branch created" (old) or "branch deleted"
// (new).
func isZeroOID(oid string) bool {
	if oid == "" {
		return false
	}
	for _, r := range oid {
		if r != '0' {
			return false
		}
	}
	return true
}

// parseReceivePackRefs parses every ref-update pkt-line in a receive-pack
// preamble: "<old> <new> refs/heads/<branch>", each line carrying its own
// 4-hex pkt-line length prefix, the first also carrying a NUL-separated
// capabilities list, per spec.md §4.8. Parsing stops at the flush-pkt
// ("0000") or pack-signature ("PACK") boundary, since everything after that
// is pack object data, not ref-update text.
func parseReceivePackRefs(body []byte) ([]pushedRef, error) {
	var refs []pushedRef
	for _, rawLine := range strings.Split(string(body), "\n") {
		line := stripPktLineLength(rawLine)
		line = strings.TrimRight(line, "\r")
		if strings.TrimRight(rawLine, "\r") == "0000" || line == "0000" || strings.HasPrefix(line, "PACK") {
			break
		}
		if line == "" {
			continue
		}
		// The capability list is NUL-separated and belongs only to the
		// first ref-update line; strip it from this line alone so later
		// ref-update lines are not discarded along with it.
		if idx := strings.IndexByte(line, 0); idx >= 0 {
			line = line[:idx]
		}
		for _, r := range line {
			if unicode.IsControl(r) {
				return nil, fmt.Errorf("gateway: control character in receive-pack ref line")
			}
		}
		m := refLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		refs = append(refs, pushedRef{oldOID: m[1], newOID: m[2], branch: m[3]})
	}
	return refs, nil
}

// stripPktLineLength removes a leading 4-hex-digit pkt-line length header,
// if present.
func stripPktLineLength(line string) string {
	if len(line) < 4 {
		return line
	}
	for _, r := range line[:4] {
		if !isHexDigit(r) {
			return line
		}
	}
	return line[4:]
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
