// Package credential implements git's credential-helper wire protocol
// (spec.md §4.9): read key=value attributes from stdin, and for the `get`
// sub-command, emit a NIP-98-signed password so git's HTTP client can
// authenticate against the gateway without ever holding a conventional
// password.
package credential

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/nostr-git/gitrepublic/internal/config"
	"github.com/nostr-git/gitrepublic/nip98"
)

// Helper runs the three git-credential sub-commands against an injected
// environment lookup and remote-URL resolver, so tests don't touch the
// real process environment or a real git checkout.
type Helper struct {
	// Lookup resolves an environment variable; normally os.LookupEnv.
	Lookup func(string) (string, bool)

	// RemoteConfiguredURL returns the local repository's configured
	// remote URL (e.g. `git config --get remote.origin.url`), used to
	// recover path= when git omits it alongside a wwwauth[] attribute.
	RemoteConfiguredURL func() (string, error)
}

// Run dispatches sub-command cmd (one of "get", "store", "erase") reading
// attributes from stdin and, for "get", writing the credential reply to
// stdout.
func (h *Helper) Run(cmd string, stdin io.Reader, stdout io.Writer) error {
	attrs, err := parseAttrs(stdin)
	if err != nil {
		return fmt.Errorf("credential: parse attributes: %w", err)
	}

	switch cmd {
	case "get":
		return h.get(attrs, stdout)
	case "store", "erase":
		return nil // credentials are per-request; nothing to persist or drop
	default:
		return fmt.Errorf("credential: unknown sub-command %q", cmd)
	}
}

// parseAttrs reads git's key=value, blank-line-terminated credential
// protocol from r.
func parseAttrs(r io.Reader) (map[string]string, error) {
	attrs := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		attrs[parts[0]] = parts[1]
	}
	return attrs, scanner.Err()
}

func (h *Helper) get(attrs map[string]string, stdout io.Writer) error {
	secretKeyHex, _, found := config.ResolveSecretKey(h.Lookup)
	if !found {
		return fmt.Errorf("credential: no Nostr private key configured in the environment")
	}

	targetURL, method, err := h.resolveURLAndMethod(attrs)
	if err != nil {
		return err
	}

	event := nip98.BuildEvent(targetURL, method, nil)
	if err := event.Sign(secretKeyHex); err != nil {
		return fmt.Errorf("credential: sign auth event: %w", err)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("credential: marshal auth event: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	fmt.Fprintf(stdout, "username=nostr\npassword=%s\n", encoded)
	return nil
}

// resolveURLAndMethod reconstructs the target URL and HTTP method from
// git's credential attributes, per spec.md §4.9.
func (h *Helper) resolveURLAndMethod(attrs map[string]string) (targetURL, method string, err error) {
	if u, ok := attrs["url"]; ok && u != "" {
		targetURL = u
	} else {
		path := attrs["path"]
		if path == "" {
			if _, ok := attrs["wwwauth[]"]; ok && h.RemoteConfiguredURL != nil {
				remote, err := h.RemoteConfiguredURL()
				if err != nil {
					return "", "", fmt.Errorf("credential: recover path from remote: %w", err)
				}
				if parsed, err := url.Parse(remote); err == nil {
					path = strings.TrimPrefix(parsed.Path, "/")
				}
			}
		}
		targetURL = (&url.URL{
			Scheme:   attrs["protocol"],
			Host:     attrs["host"],
			Path:     "/" + path,
			RawQuery: attrs["query"],
		}).String()
	}

	switch {
	case strings.Contains(targetURL, "info/refs") && strings.Contains(targetURL, "service=git-receive-pack"):
		targetURL = rewriteToReceivePackEndpoint(targetURL)
		method = "POST"
	case strings.Contains(targetURL, "git-receive-pack"):
		method = "POST"
	case strings.Contains(targetURL, "git-upload-pack"):
		method = "GET"
	default:
		method = "GET"
	}
	return targetURL, method, nil
}

// rewriteToReceivePackEndpoint turns an advertisement URL
// (.../info/refs?service=git-receive-pack) into the eventual POST endpoint
// (.../git-receive-pack), since git does not re-invoke the credential
// helper between the advertisement and the push itself.
func rewriteToReceivePackEndpoint(advertisementURL string) string {
	u, err := url.Parse(advertisementURL)
	if err != nil {
		return advertisementURL
	}
	u.Path = strings.TrimSuffix(u.Path, "info/refs") + "git-receive-pack"
	u.RawQuery = ""
	return u.String()
}
