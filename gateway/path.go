package gateway

import (
	"fmt"
	"regexp"
	"strings"
)

var pathPattern = regexp.MustCompile(`^/([^/]+)/([^/]+)\.git(?:/(.*))?$`)

// parsedPath is a decomposed Git-HTTP request path, per spec.md §4.8's
// grammar: <owner-npub>/<repo-name>.git[/<git-path>].
type parsedPath struct {
	ownerNpub string
	repoName  string
	gitPath   string
}

// parsePath decomposes the request path, rejecting anything that doesn't
// match the grammar or that smuggles a directory traversal into gitPath.
func parsePath(urlPath string) (parsedPath, error) {
	m := pathPattern.FindStringSubmatch(urlPath)
	if m == nil {
		return parsedPath{}, fmt.Errorf("gateway: path %q does not match <owner>/<repo>.git[/<path>]", urlPath)
	}
	gitPath := m[3]
	if strings.Contains(gitPath, "..") {
		return parsedPath{}, fmt.Errorf("gateway: path must not contain '..'")
	}
	return parsedPath{ownerNpub: m[1], repoName: m[2], gitPath: gitPath}, nil
}

func isReceivePack(gitPath, service string) bool {
	return strings.HasSuffix(gitPath, "git-receive-pack") || service == "git-receive-pack"
}

func isUploadPack(gitPath, service string) bool {
	return strings.HasSuffix(gitPath, "git-upload-pack") || service == "git-upload-pack"
}

// contentTypeFor chooses the outbound Content-Type per spec.md §4.8's
// table, and reports whether Cache-Control: no-cache applies.
func contentTypeFor(method, gitPath, service string) (contentType string, noCache bool) {
	if strings.HasSuffix(gitPath, "info/refs") {
		switch service {
		case "git-upload-pack":
			return "application/x-git-upload-pack-advertisement", true
		case "git-receive-pack":
			return "application/x-git-receive-pack-advertisement", true
		default:
			return "text/plain; charset=utf-8", false
		}
	}
	if method == "POST" {
		switch {
		case strings.HasSuffix(gitPath, "git-upload-pack"):
			return "application/x-git-upload-pack-result", false
		case strings.HasSuffix(gitPath, "git-receive-pack"):
			return "application/x-git-receive-pack-result", false
		}
	}
	return "application/octet-stream", false
}
